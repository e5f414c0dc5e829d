package persistence

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Writer writes primitive values in little-endian byte order.
type Writer struct {
	w   io.Writer
	buf [8]byte
	n   int64
}

// NewWriter creates a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// BytesWritten returns the number of bytes written so far.
func (bw *Writer) BytesWritten() int64 { return bw.n }

func (bw *Writer) write(p []byte) error {
	n, err := bw.w.Write(p)
	bw.n += int64(n)
	return err
}

// WriteUint32 writes a little-endian uint32.
func (bw *Writer) WriteUint32(v uint32) error {
	binary.LittleEndian.PutUint32(bw.buf[:4], v)
	return bw.write(bw.buf[:4])
}

// WriteInt writes v as a little-endian uint32.
func (bw *Writer) WriteInt(v int) error {
	return bw.WriteUint32(uint32(v))
}

// WriteFloat32 writes a little-endian IEEE-754 float32.
func (bw *Writer) WriteFloat32(v float32) error {
	return bw.WriteUint32(math.Float32bits(v))
}

// WriteBytes writes raw bytes.
func (bw *Writer) WriteBytes(p []byte) error {
	return bw.write(p)
}

// WriteFloat32Slice writes the elements of vec back to back.
func (bw *Writer) WriteFloat32Slice(vec []float32) error {
	for _, v := range vec {
		if err := bw.WriteFloat32(v); err != nil {
			return err
		}
	}
	return nil
}

// Reader reads primitive values in little-endian byte order.
type Reader struct {
	r   io.Reader
	buf [8]byte
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadUint32 reads a little-endian uint32.
func (br *Reader) ReadUint32() (uint32, error) {
	if _, err := io.ReadFull(br.r, br.buf[:4]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(br.buf[:4]), nil
}

// ReadInt reads a little-endian uint32 as an int.
func (br *Reader) ReadInt() (int, error) {
	v, err := br.ReadUint32()
	return int(v), err
}

// ReadFloat32 reads a little-endian IEEE-754 float32.
func (br *Reader) ReadFloat32() (float32, error) {
	v, err := br.ReadUint32()
	return math.Float32frombits(v), err
}

// ReadBytes reads exactly len(p) bytes into p.
func (br *Reader) ReadBytes(p []byte) error {
	_, err := io.ReadFull(br.r, p)
	return err
}

// ReadFloat32Slice reads len(dst) float32 values into dst.
func (br *Reader) ReadFloat32Slice(dst []float32) error {
	for i := range dst {
		v, err := br.ReadFloat32()
		if err != nil {
			return fmt.Errorf("persistence: short float32 slice at %d: %w", i, err)
		}
		dst[i] = v
	}
	return nil
}
