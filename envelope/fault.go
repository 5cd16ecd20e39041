package envelope

import (
	"fmt"

	"muxrpc/codec"
)

// FaultCode classifies framework-level failures carried in exception
// envelopes, as opposed to exceptions an IDL method declares itself.
type FaultCode int32

const (
	FaultInternal         FaultCode = 1 // Handler failed without a declared exception
	FaultUnknownMethod    FaultCode = 2 // Method name not in the service descriptor
	FaultDecodeFailure    FaultCode = 3 // Request payload did not decode
	FaultRateLimited      FaultCode = 4 // Rejected by server-side rate limiting
	FaultDeadlineExceeded FaultCode = 5 // Server-side handler deadline expired
)

// Fault is the framework-defined error payload. It implements both error
// and codec.Message, so a client call can surface it directly.
type Fault struct {
	Code    FaultCode
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("rpc fault %d: %s", f.Code, f.Message)
}

func (f *Fault) MarshalWire(w *codec.Writer) error {
	w.WriteFieldBegin(1, codec.TypeI32)
	w.WriteI32(int32(f.Code))
	w.WriteFieldBegin(2, codec.TypeString)
	w.WriteString(f.Message)
	w.WriteFieldStop()
	return nil
}

func (f *Fault) UnmarshalWire(r *codec.Reader) error {
	for {
		id, ft, err := r.ReadFieldBegin()
		if err != nil {
			return err
		}
		if ft == codec.TypeStop {
			return nil
		}
		switch id {
		case 1:
			code, err := r.ReadI32()
			if err != nil {
				return err
			}
			f.Code = FaultCode(code)
		case 2:
			if f.Message, err = r.ReadString(); err != nil {
				return err
			}
		default:
			if err := r.Skip(ft); err != nil {
				return err
			}
		}
	}
}

// An exception envelope's payload is a two-armed union so the receiver can
// tell a framework fault from an exception the method declares:
//
//	field 1 (struct): Fault
//	field 2 (struct): declared exception, decoded with the method descriptor
//
// Exactly one arm is present.
const (
	exceptionFieldFault    uint16 = 1
	exceptionFieldDeclared uint16 = 2
)

// MarshalFault encodes the fault arm of the exception union.
func MarshalFault(f *Fault) ([]byte, error) {
	w := codec.NewWriter()
	w.WriteFieldBegin(exceptionFieldFault, codec.TypeStruct)
	if err := f.MarshalWire(w); err != nil {
		return nil, err
	}
	w.WriteFieldStop()
	return w.Bytes(), nil
}

// MarshalDeclared encodes the declared-exception arm of the union.
func MarshalDeclared(exc codec.Message) ([]byte, error) {
	w := codec.NewWriter()
	w.WriteFieldBegin(exceptionFieldDeclared, codec.TypeStruct)
	if err := exc.MarshalWire(w); err != nil {
		return nil, err
	}
	w.WriteFieldStop()
	return w.Bytes(), nil
}

// UnmarshalException decodes an exception payload. newDeclared constructs
// the method's declared exception type and may be nil when the method
// declares none; a declared arm is then reported as a decode failure, since
// the peer referenced a type this side has no descriptor for.
// Exactly one of the returned values is non-nil on success.
func UnmarshalException(payload []byte, newDeclared func() codec.Message) (codec.Message, *Fault, error) {
	r := codec.NewReader(payload)
	id, ft, err := r.ReadFieldBegin()
	if err != nil {
		return nil, nil, err
	}
	if ft != codec.TypeStruct {
		return nil, nil, &codec.DecodeError{Reason: fmt.Sprintf("exception union arm has type %s, want struct", ft)}
	}
	switch id {
	case exceptionFieldFault:
		f := &Fault{}
		if err := f.UnmarshalWire(r); err != nil {
			return nil, nil, err
		}
		return nil, f, nil
	case exceptionFieldDeclared:
		if newDeclared == nil {
			return nil, nil, &codec.DecodeError{Reason: "peer sent a declared exception for a method that declares none"}
		}
		exc := newDeclared()
		if err := exc.UnmarshalWire(r); err != nil {
			return nil, nil, err
		}
		return exc, nil, nil
	}
	return nil, nil, &codec.DecodeError{Reason: fmt.Sprintf("unknown exception union arm %d", id)}
}

// FaultReply builds the exception envelope answering req with a fault.
func FaultReply(req *Envelope, code FaultCode, message string) *Envelope {
	payload, _ := MarshalFault(&Fault{Code: code, Message: message})
	return &Envelope{
		Seq:     req.Seq,
		Kind:    KindException,
		Method:  req.Method,
		Payload: payload,
	}
}
