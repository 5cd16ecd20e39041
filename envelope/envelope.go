// Package envelope defines the routing wrapper around one call's payload.
//
// Every frame on the wire carries exactly one envelope. The envelope is what
// lets a single connection multiplex many calls: the sequence id matches a
// reply to the caller that issued the request, the kind byte tells the peer
// how to treat the payload, and the method name routes the request to a
// handler on the server.
//
// Wire layout, field order fixed:
//
//	0        4     5       7        7+m        11+m
//	┌────────┬─────┬───────┬─────────┬──────────┬─────────────┐
//	│  seq   │kind │ m len │ method  │ body len │   body ...  │
//	│ uint32 │byte │uint16 │ m bytes │  uint32  │ body bytes  │
//	└────────┴─────┴───────┴─────────┴──────────┴─────────────┘
//
// The body is a codec-encoded struct: the request or response message for
// Call/Oneway/Reply, or the exception union for Exception (see fault.go).
package envelope

import (
	"encoding/binary"
	"fmt"
	"math"

	"muxrpc/codec"
)

// Kind is the message kind tag. The values follow Thrift's message types.
type Kind byte

const (
	KindCall      Kind = 1 // Request expecting a reply
	KindReply     Kind = 2 // Successful response
	KindException Kind = 3 // Declared exception or framework fault
	KindOneway    Kind = 4 // Request expecting no reply, ever
)

func (k Kind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindReply:
		return "reply"
	case KindException:
		return "exception"
	case KindOneway:
		return "oneway"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

func (k Kind) valid() bool {
	return k >= KindCall && k <= KindOneway
}

// Envelope carries one call or one response. It is created when a call is
// issued or a frame arrives, and discarded once matched and consumed.
type Envelope struct {
	Seq     uint32 // Unique per connection while the call is outstanding
	Kind    Kind
	Method  string
	Payload []byte // codec-encoded body, opaque at this layer
}

// Marshal encodes the envelope for framing.
func (e *Envelope) Marshal() ([]byte, error) {
	if !e.Kind.valid() {
		return nil, fmt.Errorf("envelope: cannot marshal kind %d", byte(e.Kind))
	}
	if len(e.Method) > math.MaxUint16 {
		return nil, fmt.Errorf("envelope: method name of %d bytes too long", len(e.Method))
	}
	buf := make([]byte, 0, 11+len(e.Method)+len(e.Payload))
	buf = binary.BigEndian.AppendUint32(buf, e.Seq)
	buf = append(buf, byte(e.Kind))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(e.Method)))
	buf = append(buf, e.Method...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(e.Payload)))
	buf = append(buf, e.Payload...)
	return buf, nil
}

// Unmarshal decodes a frame payload in place. Malformed input yields a
// *codec.DecodeError; the frame itself was already complete, so the caller
// may drop just this envelope and keep the connection.
func (e *Envelope) Unmarshal(data []byte) error {
	off := 0
	need := func(n int) error {
		if len(data)-off < n {
			return &codec.DecodeError{Reason: fmt.Sprintf("truncated envelope: need %d bytes at offset %d, have %d", n, off, len(data)-off)}
		}
		return nil
	}

	if err := need(7); err != nil {
		return err
	}
	seq := binary.BigEndian.Uint32(data[off : off+4])
	off += 4
	kind := Kind(data[off])
	off++
	if !kind.valid() {
		return &codec.DecodeError{Reason: fmt.Sprintf("invalid message kind %d", byte(kind))}
	}
	methodLen := int(binary.BigEndian.Uint16(data[off : off+2]))
	off += 2

	if err := need(methodLen); err != nil {
		return err
	}
	method := string(data[off : off+methodLen])
	off += methodLen

	if err := need(4); err != nil {
		return err
	}
	payloadLen := int(binary.BigEndian.Uint32(data[off : off+4]))
	off += 4
	if err := need(payloadLen); err != nil {
		return err
	}
	payload := make([]byte, payloadLen)
	copy(payload, data[off:off+payloadLen])
	off += payloadLen

	if off != len(data) {
		return &codec.DecodeError{Reason: fmt.Sprintf("%d trailing bytes after envelope", len(data)-off)}
	}

	e.Seq = seq
	e.Kind = kind
	e.Method = method
	e.Payload = payload
	return nil
}
