package persistence

import (
	"bufio"
	"encoding/binary"
	"io"
)

// StreamWriter writes the primitives the sketch encodings are defined in
// terms of: unsigned varints and raw bytes.
type StreamWriter struct {
	w   io.Writer
	buf [binary.MaxVarintLen64]byte
}

// NewStreamWriter creates a new stream writer.
func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{w: w}
}

// WriteUvarint writes v in LEB128 varint encoding.
func (sw *StreamWriter) WriteUvarint(v uint64) error {
	n := binary.PutUvarint(sw.buf[:], v)
	_, err := sw.w.Write(sw.buf[:n])
	return err
}

// WriteByte writes a single byte.
func (sw *StreamWriter) WriteByte(b byte) error {
	sw.buf[0] = b
	_, err := sw.w.Write(sw.buf[:1])
	return err
}

// WriteBytes writes p verbatim.
func (sw *StreamWriter) WriteBytes(p []byte) error {
	_, err := sw.w.Write(p)
	return err
}

// StreamReader reads what StreamWriter writes. Reads are buffered; do not mix
// reads through the underlying reader with reads through the StreamReader.
type StreamReader struct {
	r *bufio.Reader
}

// NewStreamReader creates a new stream reader.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{r: bufio.NewReader(r)}
}

// ReadUvarint reads a LEB128 varint. A truncated stream surfaces as
// io.ErrUnexpectedEOF.
func (sr *StreamReader) ReadUvarint() (uint64, error) {
	v, err := binary.ReadUvarint(sr.r)
	if err == io.EOF {
		return 0, io.ErrUnexpectedEOF
	}
	return v, err
}

// ReadByte reads a single byte.
func (sr *StreamReader) ReadByte() (byte, error) {
	b, err := sr.r.ReadByte()
	if err == io.EOF {
		return 0, io.ErrUnexpectedEOF
	}
	return b, err
}

// ReadFull fills p or fails with io.ErrUnexpectedEOF.
func (sr *StreamReader) ReadFull(p []byte) error {
	_, err := io.ReadFull(sr.r, p)
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
