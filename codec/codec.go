// Package codec implements the compact binary wire format used for every
// request, response, and exception payload.
//
// The format is a tagged, fixed-width, big-endian encoding in the style of
// Thrift's binary protocol. A struct is a sequence of fields, each prefixed
// with a one-byte type tag and a two-byte field id, terminated by TypeStop.
// Readers skip fields they do not recognize, so adding fields to a struct
// never breaks older peers.
//
// Generated types implement Message; Writer and Reader are the primitives
// those implementations are built from.
package codec

import "fmt"

// Type tags a value on the wire. Container values carry the tags of their
// elements so a Reader can skip them without schema knowledge.
type Type byte

const (
	TypeStop   Type = 0  // Terminates a struct's field list
	TypeBool   Type = 2  // 1 byte, 0 or 1
	TypeI8     Type = 3  // 1 byte
	TypeDouble Type = 4  // 8 bytes, IEEE 754 big-endian
	TypeI16    Type = 6  // 2 bytes big-endian
	TypeI32    Type = 8  // 4 bytes big-endian
	TypeI64    Type = 10 // 8 bytes big-endian
	TypeString Type = 11 // u32 byte length + UTF-8 bytes
	TypeStruct Type = 12 // fields until TypeStop
	TypeMap    Type = 13 // key tag + value tag + u32 count + pairs
	TypeList   Type = 15 // element tag + u32 count + elements
	TypeBinary Type = 16 // u32 byte length + raw bytes
)

func (t Type) String() string {
	switch t {
	case TypeStop:
		return "stop"
	case TypeBool:
		return "bool"
	case TypeI8:
		return "i8"
	case TypeDouble:
		return "double"
	case TypeI16:
		return "i16"
	case TypeI32:
		return "i32"
	case TypeI64:
		return "i64"
	case TypeString:
		return "string"
	case TypeStruct:
		return "struct"
	case TypeMap:
		return "map"
	case TypeList:
		return "list"
	case TypeBinary:
		return "binary"
	}
	return fmt.Sprintf("type(%d)", byte(t))
}

// valid reports whether t is a tag this codec can decode or skip.
func (t Type) valid() bool {
	switch t {
	case TypeBool, TypeI8, TypeDouble, TypeI16, TypeI32, TypeI64,
		TypeString, TypeStruct, TypeMap, TypeList, TypeBinary:
		return true
	}
	return false
}

// Message is the boundary between the transport core and generated code.
// Request, response, and declared-exception types produced by the stub
// generator implement it; the core never reflects over payload types.
type Message interface {
	MarshalWire(w *Writer) error
	UnmarshalWire(r *Reader) error
}

// Marshal encodes msg into a fresh buffer.
func Marshal(msg Message) ([]byte, error) {
	w := NewWriter()
	if err := msg.MarshalWire(w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// Unmarshal decodes data into msg.
func Unmarshal(data []byte, msg Message) error {
	return msg.UnmarshalWire(NewReader(data))
}

// DecodeError reports malformed or truncated wire data. It is fatal to the
// value being decoded, never to the process: Reader methods return it
// instead of panicking or reading out of bounds.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "codec: " + e.Reason
}

func decodeErrorf(format string, args ...any) *DecodeError {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}
