package binfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Reader decodes big-endian primitives. The first failure sticks: later
// calls return zero values and Err reports the original cause.
type Reader struct {
	r   io.Reader
	off int64
	err error
	buf [8]byte
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Offset is the number of bytes consumed so far.
func (r *Reader) Offset() int64 { return r.off }

// Err returns the first error, mapping a short read to ErrFormat.
func (r *Reader) Err() error {
	if r.err == nil {
		return nil
	}
	if errors.Is(r.err, io.EOF) || errors.Is(r.err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated at offset %d: %w", ErrFormat, r.off, io.ErrUnexpectedEOF)
	}
	return r.err
}

// Fail records err unless an earlier error is already recorded.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) fill(n int) []byte {
	if r.err != nil {
		return nil
	}
	b := r.buf[:n]
	if _, err := io.ReadFull(r.r, b); err != nil {
		r.err = err
		return nil
	}
	r.off += int64(n)
	return b
}

func (r *Reader) Uint8() uint8 {
	b := r.fill(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Int16() int16 {
	b := r.fill(2)
	if b == nil {
		return 0
	}
	return int16(binary.BigEndian.Uint16(b))
}

func (r *Reader) Uint16() uint16 {
	b := r.fill(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *Reader) Int32() int32 {
	b := r.fill(4)
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

func (r *Reader) Int64() int64 {
	b := r.fill(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func (r *Reader) Float32() float32 {
	b := r.fill(4)
	if b == nil {
		return 0
	}
	return math.Float32frombits(binary.BigEndian.Uint32(b))
}

// Bytes reads exactly n bytes into a fresh slice.
func (r *Reader) Bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 {
		r.err = fmt.Errorf("%w: negative length %d", ErrFormat, n)
		return nil
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r.r, out); err != nil {
		r.err = err
		return nil
	}
	r.off += int64(n)
	return out
}

// Skip discards n bytes.
func (r *Reader) Skip(n int64) {
	if r.err != nil {
		return
	}
	m, err := io.CopyN(io.Discard, r.r, n)
	r.off += m
	if err != nil {
		r.err = err
	}
}

// UTF reads a string in DataOutput.writeUTF framing.
func (r *Reader) UTF() string {
	n := r.Uint16()
	b := r.Bytes(int(n))
	if b == nil {
		return ""
	}
	s, err := decodeModifiedUTF8(b)
	if err != nil {
		r.err = err
		return ""
	}
	return s
}

// Writer encodes big-endian primitives with the same sticky-error contract
// as Reader.
type Writer struct {
	w   io.Writer
	off int64
	err error
	buf [8]byte
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) Offset() int64 { return w.off }

func (w *Writer) Err() error { return w.err }

func (w *Writer) write(b []byte) {
	if w.err != nil {
		return
	}
	n, err := w.w.Write(b)
	w.off += int64(n)
	if err != nil {
		w.err = err
	}
}

func (w *Writer) Uint8(v uint8) {
	w.buf[0] = v
	w.write(w.buf[:1])
}

func (w *Writer) Int16(v int16) {
	binary.BigEndian.PutUint16(w.buf[:2], uint16(v))
	w.write(w.buf[:2])
}

func (w *Writer) Uint16(v uint16) {
	binary.BigEndian.PutUint16(w.buf[:2], v)
	w.write(w.buf[:2])
}

func (w *Writer) Int32(v int32) {
	binary.BigEndian.PutUint32(w.buf[:4], uint32(v))
	w.write(w.buf[:4])
}

func (w *Writer) Int64(v int64) {
	binary.BigEndian.PutUint64(w.buf[:8], uint64(v))
	w.write(w.buf[:8])
}

func (w *Writer) Float32(v float32) {
	binary.BigEndian.PutUint32(w.buf[:4], math.Float32bits(v))
	w.write(w.buf[:4])
}

func (w *Writer) Bytes(b []byte) {
	w.write(b)
}

// UTF writes s in DataOutput.writeUTF framing.
func (w *Writer) UTF(s string) {
	b := encodeModifiedUTF8(s)
	if len(b) > math.MaxUint16 {
		if w.err == nil {
			w.err = fmt.Errorf("%w: string of %d encoded bytes exceeds %d", ErrFormat, len(b), math.MaxUint16)
		}
		return
	}
	w.Uint16(uint16(len(b)))
	w.write(b)
}
