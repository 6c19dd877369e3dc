package persistence

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// MagicNumber identifies sketch snapshot containers (ASCII: "SKG0").
	MagicNumber = 0x534B4730
	// Version is the current container format version (v1.0).
	Version = 0x00010000

	// Sketch types stored in containers.
	SketchTypeCountMin    = 1
	SketchTypeHyperLogLog = 2
)

var (
	ErrInvalidMagic   = errors.New("persistence: invalid magic number")
	ErrInvalidVersion = errors.New("persistence: unsupported version")
	ErrCorrupted      = errors.New("persistence: corrupted snapshot")
)

// containerHeader is the fixed 12-byte header at the start of every snapshot.
type containerHeader struct {
	Magic      uint32
	Version    uint32
	SketchType uint8
	Codec      uint8
	Padding    [2]byte
}

// WriteContainer frames payload into a snapshot container: header, optionally
// compressed block, trailing CRC32 over everything before it.
func WriteContainer(w io.Writer, sketchType uint8, codec Codec, payload []byte) error {
	block, err := CompressBlock(payload, codec)
	if err != nil {
		return err
	}

	cw := NewChecksumWriter(w)
	header := containerHeader{
		Magic:      MagicNumber,
		Version:    Version,
		SketchType: sketchType,
		Codec:      uint8(codec),
	}
	if err := binary.Write(cw, binary.LittleEndian, &header); err != nil {
		return err
	}
	if err := binary.Write(cw, binary.LittleEndian, uint32(len(block))); err != nil {
		return err
	}
	if _, err := cw.Write(block); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, cw.Sum())
}

// ReadContainer decodes a snapshot container and returns the sketch type and
// decompressed payload. Corruption of any kind (bad magic, bad version, bad
// checksum, truncation) is reported as a typed error and the snapshot must be
// considered unusable.
func ReadContainer(r io.Reader) (uint8, []byte, error) {
	cr := NewChecksumReader(r)

	var header containerHeader
	if err := binary.Read(cr, binary.LittleEndian, &header); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if header.Magic != MagicNumber {
		return 0, nil, fmt.Errorf("%w: got 0x%08x", ErrInvalidMagic, header.Magic)
	}
	if header.Version != Version {
		return 0, nil, fmt.Errorf("%w: got 0x%08x", ErrInvalidVersion, header.Version)
	}

	var blockLen uint32
	if err := binary.Read(cr, binary.LittleEndian, &blockLen); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	block := make([]byte, blockLen)
	if _, err := io.ReadFull(cr, block); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}

	var expected uint32
	if err := binary.Read(r, binary.LittleEndian, &expected); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if err := cr.Verify(expected); err != nil {
		return 0, nil, err
	}

	payload, err := DecompressBlock(block, Codec(header.Codec))
	if err != nil {
		return 0, nil, err
	}
	return header.SketchType, payload, nil
}

// EncodeContainer is a convenience wrapper returning the container as bytes.
func EncodeContainer(sketchType uint8, codec Codec, payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteContainer(&buf, sketchType, codec, payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
