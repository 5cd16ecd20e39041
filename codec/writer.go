package codec

import (
	"encoding/binary"
	"math"
)

// Writer appends wire-encoded values to a growable buffer.
// Append-only writes cannot fail, so the methods return nothing;
// MarshalWire implementations report their own validation errors.
type Writer struct {
	buf []byte
}

func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

// Bytes returns the encoded buffer. The slice aliases the Writer's
// storage and is invalidated by further writes or Reset.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Reset clears the buffer for reuse.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) WriteI8(v int8) {
	w.buf = append(w.buf, byte(v))
}

func (w *Writer) WriteI16(v int16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(v))
}

func (w *Writer) WriteI32(v int32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v))
}

func (w *Writer) WriteI64(v int64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
}

func (w *Writer) WriteDouble(v float64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, math.Float64bits(v))
}

func (w *Writer) WriteString(v string) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(len(v)))
	w.buf = append(w.buf, v...)
}

func (w *Writer) WriteBinary(v []byte) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(len(v)))
	w.buf = append(w.buf, v...)
}

// WriteFieldBegin starts a struct field: one tag byte, then the field id.
func (w *Writer) WriteFieldBegin(id uint16, t Type) {
	w.buf = append(w.buf, byte(t))
	w.buf = binary.BigEndian.AppendUint16(w.buf, id)
}

// WriteFieldStop terminates a struct's field list.
func (w *Writer) WriteFieldStop() {
	w.buf = append(w.buf, byte(TypeStop))
}

// WriteListBegin starts a list: element tag, then element count.
// The n elements must follow, each encoded as elem dictates.
func (w *Writer) WriteListBegin(elem Type, n int) {
	w.buf = append(w.buf, byte(elem))
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(n))
}

// WriteMapBegin starts a map: key tag, value tag, then pair count.
// The n key/value pairs must follow, keys and values alternating.
func (w *Writer) WriteMapBegin(key, value Type, n int) {
	w.buf = append(w.buf, byte(key), byte(value))
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(n))
}
