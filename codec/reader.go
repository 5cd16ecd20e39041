package codec

import (
	"encoding/binary"
	"math"
)

// maxSkipDepth bounds recursion in Skip so a malicious buffer full of
// nested container headers cannot blow the stack.
const maxSkipDepth = 64

// Reader decodes wire-encoded values from a byte slice. Every read is
// bounds-checked: a truncated or mismatched buffer yields a *DecodeError,
// never a panic or an out-of-range access.
type Reader struct {
	buf []byte
	off int
}

func NewReader(data []byte) *Reader {
	return &Reader{buf: data}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

// take reserves n bytes and returns them, or fails if the buffer is short.
func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, decodeErrorf("truncated buffer: need %d bytes, have %d", n, r.Remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.take(1)
	if err != nil {
		return false, err
	}
	switch b[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, decodeErrorf("invalid bool byte %#x", b[0])
}

func (r *Reader) ReadI8() (int8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return int8(b[0]), nil
}

func (r *Reader) ReadI16() (int16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(b)), nil
}

func (r *Reader) ReadI32() (int32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (r *Reader) ReadI64() (int64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (r *Reader) ReadDouble() (float64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}

// readLength reads a u32 length prefix and validates it against the bytes
// actually left, so a corrupt length cannot drive a huge allocation.
func (r *Reader) readLength() (int, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	n := binary.BigEndian.Uint32(b)
	if int(n) > r.Remaining() {
		return 0, decodeErrorf("declared length %d exceeds remaining %d bytes", n, r.Remaining())
	}
	return int(n), nil
}

func (r *Reader) ReadString() (string, error) {
	n, err := r.readLength()
	if err != nil {
		return "", err
	}
	b, err := r.take(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) ReadBinary() ([]byte, error) {
	n, err := r.readLength()
	if err != nil {
		return nil, err
	}
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// ReadFieldBegin reads the next field header. A TypeStop tag carries no
// field id and marks the end of the enclosing struct.
func (r *Reader) ReadFieldBegin() (id uint16, t Type, err error) {
	b, err := r.take(1)
	if err != nil {
		return 0, TypeStop, err
	}
	t = Type(b[0])
	if t == TypeStop {
		return 0, TypeStop, nil
	}
	if !t.valid() {
		return 0, TypeStop, decodeErrorf("unknown field type tag %d", b[0])
	}
	ib, err := r.take(2)
	if err != nil {
		return 0, TypeStop, err
	}
	return binary.BigEndian.Uint16(ib), t, nil
}

func (r *Reader) ReadListBegin() (elem Type, n int, err error) {
	b, err := r.take(1)
	if err != nil {
		return TypeStop, 0, err
	}
	elem = Type(b[0])
	if !elem.valid() {
		return TypeStop, 0, decodeErrorf("unknown list element tag %d", b[0])
	}
	size, err := r.readLength()
	if err != nil {
		return TypeStop, 0, err
	}
	return elem, size, nil
}

func (r *Reader) ReadMapBegin() (key, value Type, n int, err error) {
	b, err := r.take(2)
	if err != nil {
		return TypeStop, TypeStop, 0, err
	}
	key, value = Type(b[0]), Type(b[1])
	if !key.valid() || !value.valid() {
		return TypeStop, TypeStop, 0, decodeErrorf("unknown map tags key=%d value=%d", b[0], b[1])
	}
	size, err := r.readLength()
	if err != nil {
		return TypeStop, TypeStop, 0, err
	}
	return key, value, size, nil
}

// Skip consumes one value of type t without interpreting it. Decoders call
// it for struct fields whose ids they do not recognize, which is what makes
// adding fields forward compatible.
func (r *Reader) Skip(t Type) error {
	return r.skip(t, 0)
}

func (r *Reader) skip(t Type, depth int) error {
	if depth > maxSkipDepth {
		return decodeErrorf("nesting deeper than %d levels", maxSkipDepth)
	}
	switch t {
	case TypeBool, TypeI8:
		_, err := r.take(1)
		return err
	case TypeI16:
		_, err := r.take(2)
		return err
	case TypeI32:
		_, err := r.take(4)
		return err
	case TypeI64, TypeDouble:
		_, err := r.take(8)
		return err
	case TypeString, TypeBinary:
		n, err := r.readLength()
		if err != nil {
			return err
		}
		_, err = r.take(n)
		return err
	case TypeStruct:
		for {
			_, ft, err := r.ReadFieldBegin()
			if err != nil {
				return err
			}
			if ft == TypeStop {
				return nil
			}
			if err := r.skip(ft, depth+1); err != nil {
				return err
			}
		}
	case TypeList:
		elem, n, err := r.ReadListBegin()
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if err := r.skip(elem, depth+1); err != nil {
				return err
			}
		}
		return nil
	case TypeMap:
		key, value, n, err := r.ReadMapBegin()
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if err := r.skip(key, depth+1); err != nil {
				return err
			}
			if err := r.skip(value, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return decodeErrorf("cannot skip type %s", t)
}
