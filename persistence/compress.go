package persistence

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec selects the block compression applied to snapshot payloads.
type Codec uint8

const (
	// CodecNone stores payloads uncompressed.
	CodecNone Codec = 0
	// CodecLZ4 uses LZ4 block compression (fast, good for hot snapshots).
	CodecLZ4 Codec = 1
	// CodecZstd uses zstd block compression (better ratio for cold storage).
	CodecZstd Codec = 2
)

// Pooled zstd coders: construction is expensive relative to a snapshot block.
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

const blockHeaderSize = 8

// CompressBlock compresses data with the given codec and prefixes the result
// with an 8-byte header: [uncompressedSize uint32][compressedSize uint32],
// compressedSize 0 meaning the block is stored raw. Incompressible blocks
// (ratio above 0.9) are stored raw.
func CompressBlock(data []byte, codec Codec) ([]byte, error) {
	var compressed []byte

	switch codec {
	case CodecNone:
	case CodecLZ4:
		bound := lz4.CompressBlockBound(len(data))
		buf := make([]byte, bound)
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n] // n == 0 means incompressible
	case CodecZstd:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("persistence: unknown codec %d", codec)
	}

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		out := make([]byte, blockHeaderSize+len(data))
		binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
		binary.LittleEndian.PutUint32(out[4:], 0)
		copy(out[blockHeaderSize:], data)
		return out, nil
	}

	out := make([]byte, blockHeaderSize+len(compressed))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
	copy(out[blockHeaderSize:], compressed)
	return out, nil
}

// DecompressBlock reverses CompressBlock. The codec must match the one used
// to compress; raw-stored blocks decode under any codec.
func DecompressBlock(block []byte, codec Codec) ([]byte, error) {
	if len(block) < blockHeaderSize {
		return nil, fmt.Errorf("%w: short block header", ErrCorrupted)
	}
	uncompressedSize := binary.LittleEndian.Uint32(block[0:])
	compressedSize := binary.LittleEndian.Uint32(block[4:])
	body := block[blockHeaderSize:]

	if compressedSize == 0 {
		if uint32(len(body)) != uncompressedSize {
			return nil, fmt.Errorf("%w: raw block size mismatch", ErrCorrupted)
		}
		out := make([]byte, len(body))
		copy(out, body)
		return out, nil
	}
	if uint32(len(body)) != compressedSize {
		return nil, fmt.Errorf("%w: compressed block size mismatch", ErrCorrupted)
	}

	switch codec {
	case CodecLZ4:
		out := make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
		if uint32(n) != uncompressedSize {
			return nil, fmt.Errorf("%w: lz4 size mismatch", ErrCorrupted)
		}
		return out, nil
	case CodecZstd:
		dec := getZstdDecoder()
		out, err := dec.DecodeAll(body, nil)
		zstdDecoderPool.Put(dec)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
		if uint32(len(out)) != uncompressedSize {
			return nil, fmt.Errorf("%w: zstd size mismatch", ErrCorrupted)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: compressed block with codec %d", ErrCorrupted, codec)
	}
}
