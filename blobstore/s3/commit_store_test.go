package s3

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/sketchgo/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDDBClient is an in-memory DynamoDB commit log for testing.
type mockDDBClient struct {
	mu    sync.RWMutex
	items map[string]map[string]types.AttributeValue
}

func newMockDDBClient() *mockDDBClient {
	return &mockDDBClient{
		items: make(map[string]map[string]types.AttributeValue),
	}
}

func (m *mockDDBClient) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	baseURI := params.Item["base_uri"].(*types.AttributeValueMemberS).Value
	version := params.Item["version"].(*types.AttributeValueMemberN).Value
	key := baseURI + ":" + version

	if params.ConditionExpression != nil && *params.ConditionExpression == "attribute_not_exists(version)" {
		if _, exists := m.items[key]; exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
		}
	}

	m.items[key] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDDBClient) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	baseURI := params.ExpressionAttributeValues[":uri"].(*types.AttributeValueMemberS).Value

	var items []map[string]types.AttributeValue
	for _, item := range m.items {
		if item["base_uri"].(*types.AttributeValueMemberS).Value == baseURI {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		vi := items[i]["version"].(*types.AttributeValueMemberN).Value
		vj := items[j]["version"].(*types.AttributeValueMemberN).Value
		if len(vi) != len(vj) {
			return len(vi) > len(vj)
		}
		return vi > vj
	})
	if params.Limit != nil && int(*params.Limit) < len(items) {
		items = items[:*params.Limit]
	}
	return &dynamodb.QueryOutput{Items: items}, nil
}

func newTestCommitStore(ddb *mockDDBClient) *DDBCommitStore {
	// The S3 side is irrelevant for pointer tests; it is never reached.
	s3Store := NewStore(new(MockS3Client), "bucket", "prefix")
	return NewDDBCommitStore(s3Store, ddb, "sketchgo-commits", "s3://bucket/prefix")
}

func TestDDBCommitStore_CurrentPointer(t *testing.T) {
	ctx := context.Background()
	store := newTestCommitStore(newMockDDBClient())

	// No commits yet.
	_, err := store.Open(ctx, CurrentPointer)
	require.ErrorIs(t, err, blobstore.ErrNotFound)

	require.NoError(t, store.Put(ctx, CurrentPointer, []byte("manifest-1")))

	blob, err := store.Open(ctx, CurrentPointer)
	require.NoError(t, err)
	defer blob.Close()

	buf := make([]byte, blob.Size())
	_, err = blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "manifest-1", string(buf))

	// A second commit supersedes the first.
	require.NoError(t, store.Put(ctx, CurrentPointer, []byte("manifest-2")))
	blob2, err := store.Open(ctx, CurrentPointer)
	require.NoError(t, err)
	defer blob2.Close()

	buf = make([]byte, blob2.Size())
	_, err = blob2.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "manifest-2", string(buf))
}

func TestDDBCommitStore_ConcurrentCommit(t *testing.T) {
	ctx := context.Background()
	ddb := newMockDDBClient()

	// Two writers that both observed version 0 race: exactly one wins.
	a := newTestCommitStore(ddb)
	b := newTestCommitStore(ddb)

	require.NoError(t, a.Put(ctx, CurrentPointer, []byte("from-a")))

	// b read version 0 before a committed; replaying its stale commit must
	// collide with a's version 1 row.
	_, err := ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(b.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri":      &types.AttributeValueMemberS{Value: b.baseURI},
			"version":       &types.AttributeValueMemberN{Value: "1"},
			"manifest_path": &types.AttributeValueMemberS{Value: "from-b"},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	var condErr *types.ConditionalCheckFailedException
	assert.ErrorAs(t, err, &condErr)

	// The pointer still resolves to a's manifest.
	blob, err := b.Open(ctx, CurrentPointer)
	require.NoError(t, err)
	defer blob.Close()
	buf := make([]byte, blob.Size())
	_, err = blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "from-a", string(buf))
}
