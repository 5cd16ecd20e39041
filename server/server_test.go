package server

import (
	"context"
	"net"
	"testing"
	"time"

	"muxrpc/codec"
	"muxrpc/descriptor"
	"muxrpc/envelope"
	"muxrpc/protocol"
)

type addArgs struct {
	A, B int64
}

func (a *addArgs) MarshalWire(w *codec.Writer) error {
	w.WriteFieldBegin(1, codec.TypeI64)
	w.WriteI64(a.A)
	w.WriteFieldBegin(2, codec.TypeI64)
	w.WriteI64(a.B)
	w.WriteFieldStop()
	return nil
}

func (a *addArgs) UnmarshalWire(r *codec.Reader) error {
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
			if a.A, err = r.ReadI64(); err != nil {
				return err
			}
		case 2:
			if a.B, err = r.ReadI64(); err != nil {
				return err
			}
		default:
			if err := r.Skip(ft); err != nil {
				return err
			}
		}
	}
}

type addReply struct {
	Sum int64
}

func (a *addReply) MarshalWire(w *codec.Writer) error {
	w.WriteFieldBegin(1, codec.TypeI64)
	w.WriteI64(a.Sum)
	w.WriteFieldStop()
	return nil
}

func (a *addReply) UnmarshalWire(r *codec.Reader) error {
	for {
		id, ft, err := r.ReadFieldBegin()
		if err != nil {
			return err
		}
		if ft == codec.TypeStop {
			return nil
		}
		if id == 1 {
			if a.Sum, err = r.ReadI64(); err != nil {
				return err
			}
			continue
		}
		if err := r.Skip(ft); err != nil {
			return err
		}
	}
}

// negative is the declared exception for Add.
type negative struct {
	Which string
}

func (e *negative) Error() string { return "negative operand: " + e.Which }

func (e *negative) MarshalWire(w *codec.Writer) error {
	w.WriteFieldBegin(1, codec.TypeString)
	w.WriteString(e.Which)
	w.WriteFieldStop()
	return nil
}

func (e *negative) UnmarshalWire(r *codec.Reader) error {
	for {
		id, ft, err := r.ReadFieldBegin()
		if err != nil {
			return err
		}
		if ft == codec.TypeStop {
			return nil
		}
		if id == 1 {
			if e.Which, err = r.ReadString(); err != nil {
				return err
			}
			continue
		}
		if err := r.Skip(ft); err != nil {
			return err
		}
	}
}

var arithDesc = descriptor.MustNewService("Arith",
	&descriptor.Method{
		Name:         "Add",
		NewRequest:   func() codec.Message { return &addArgs{} },
		NewResponse:  func() codec.Message { return &addReply{} },
		NewException: func() codec.Message { return &negative{} },
	},
	&descriptor.Method{
		Name:       "Record",
		NewRequest: func() codec.Message { return &addArgs{} },
		OneWay:     true,
	},
)

func newArithServer(t *testing.T, recorded chan<- int64) *Server {
	t.Helper()
	srv := New(arithDesc, nil)
	if err := srv.Handle("Add", func(ctx context.Context, req codec.Message) (codec.Message, error) {
		args := req.(*addArgs)
		if args.A < 0 {
			return nil, &negative{Which: "a"}
		}
		return &addReply{Sum: args.A + args.B}, nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := srv.Handle("Record", func(ctx context.Context, req codec.Message) (codec.Message, error) {
		if recorded != nil {
			recorded <- req.(*addArgs).A
		}
		return nil, nil
	}); err != nil {
		t.Fatal(err)
	}
	return srv
}

// sendCall writes a call envelope as a raw frame, the way a client
// transport would.
func sendCall(t *testing.T, framer *protocol.Framer, seq uint32, kind envelope.Kind, method string, msg codec.Message) {
	t.Helper()
	payload, err := codec.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	env := envelope.Envelope{Seq: seq, Kind: kind, Method: method, Payload: payload}
	frame, err := env.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if err := framer.WriteFrame(frame); err != nil {
		t.Fatal(err)
	}
}

func readEnvelope(t *testing.T, framer *protocol.Framer) *envelope.Envelope {
	t.Helper()
	frame, err := framer.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	var env envelope.Envelope
	if err := env.Unmarshal(frame); err != nil {
		t.Fatal(err)
	}
	return &env
}

func dialArith(t *testing.T, addr string) *protocol.Framer {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return protocol.NewFramer(conn, 0)
}

func TestServerReply(t *testing.T) {
	srv := newArithServer(t, nil)
	go srv.Serve("tcp", ":8801", "", nil)
	t.Cleanup(func() { srv.Shutdown(time.Second) })
	time.Sleep(100 * time.Millisecond)

	framer := dialArith(t, ":8801")
	sendCall(t, framer, 123, envelope.KindCall, "Add", &addArgs{A: 1, B: 2})

	env := readEnvelope(t, framer)
	if env.Seq != 123 {
		t.Fatalf("expect seq 123, got %d", env.Seq)
	}
	if env.Kind != envelope.KindReply {
		t.Fatalf("expect reply, got %s", env.Kind)
	}
	var reply addReply
	if err := codec.Unmarshal(env.Payload, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Sum != 3 {
		t.Fatalf("expect 3, got %d", reply.Sum)
	}
}

func TestServerDeclaredException(t *testing.T) {
	srv := newArithServer(t, nil)
	go srv.Serve("tcp", ":8802", "", nil)
	t.Cleanup(func() { srv.Shutdown(time.Second) })
	time.Sleep(100 * time.Millisecond)

	framer := dialArith(t, ":8802")
	sendCall(t, framer, 7, envelope.KindCall, "Add", &addArgs{A: -1, B: 2})

	env := readEnvelope(t, framer)
	if env.Kind != envelope.KindException {
		t.Fatalf("expect exception, got %s", env.Kind)
	}
	declared, fault, err := envelope.UnmarshalException(env.Payload, func() codec.Message { return &negative{} })
	if err != nil {
		t.Fatal(err)
	}
	if fault != nil {
		t.Fatalf("expect declared exception, got fault %+v", fault)
	}
	exc, ok := declared.(*negative)
	if !ok || exc.Which != "a" {
		t.Fatalf("expect negative{a}, got %#v", declared)
	}
}

// An unknown method answers with a protocol-level fault and the connection
// keeps serving.
func TestServerUnknownMethodKeepsConnection(t *testing.T) {
	srv := newArithServer(t, nil)
	go srv.Serve("tcp", ":8803", "", nil)
	t.Cleanup(func() { srv.Shutdown(time.Second) })
	time.Sleep(100 * time.Millisecond)

	framer := dialArith(t, ":8803")
	sendCall(t, framer, 1, envelope.KindCall, "Subtract", &addArgs{A: 1, B: 2})

	env := readEnvelope(t, framer)
	if env.Kind != envelope.KindException {
		t.Fatalf("expect exception, got %s", env.Kind)
	}
	_, fault, err := envelope.UnmarshalException(env.Payload, nil)
	if err != nil {
		t.Fatal(err)
	}
	if fault == nil || fault.Code != envelope.FaultUnknownMethod {
		t.Fatalf("expect unknown-method fault, got %+v", fault)
	}

	// Same connection, valid call.
	sendCall(t, framer, 2, envelope.KindCall, "Add", &addArgs{A: 2, B: 2})
	env = readEnvelope(t, framer)
	if env.Seq != 2 || env.Kind != envelope.KindReply {
		t.Fatalf("connection unusable after unknown method: %+v", env)
	}
}

func TestServerOnewayProducesNoReply(t *testing.T) {
	recorded := make(chan int64, 1)
	srv := newArithServer(t, recorded)
	go srv.Serve("tcp", ":8804", "", nil)
	t.Cleanup(func() { srv.Shutdown(time.Second) })
	time.Sleep(100 * time.Millisecond)

	framer := dialArith(t, ":8804")
	sendCall(t, framer, 9, envelope.KindOneway, "Record", &addArgs{A: 42})

	select {
	case got := <-recorded:
		if got != 42 {
			t.Fatalf("expect 42, got %d", got)
		}
	case <-time.After(time.Second):
		t.Fatal("one-way request never reached the handler")
	}

	// A follow-up call must get the follow-up's reply, not anything for
	// the one-way request.
	sendCall(t, framer, 10, envelope.KindCall, "Add", &addArgs{A: 1, B: 1})
	env := readEnvelope(t, framer)
	if env.Seq != 10 {
		t.Fatalf("expect reply for seq 10, got seq %d kind %s", env.Seq, env.Kind)
	}
}

func TestServeRequiresAllHandlers(t *testing.T) {
	srv := New(arithDesc, nil)
	if err := srv.Serve("tcp", ":8805", "", nil); err == nil {
		t.Fatal("expect Serve to fail with no handlers attached")
	}
}

func TestHandleRejectsUndeclaredMethod(t *testing.T) {
	srv := New(arithDesc, nil)
	err := srv.Handle("Nope", func(ctx context.Context, req codec.Message) (codec.Message, error) {
		return nil, nil
	})
	if err == nil {
		t.Fatal("expect Handle to reject a method not in the descriptor")
	}
}

func TestServerShutdownDrainsInFlight(t *testing.T) {
	srv := newArithServer(t, nil)
	go srv.Serve("tcp", ":8806", "", nil)
	time.Sleep(100 * time.Millisecond)

	framer := dialArith(t, ":8806")
	sendCall(t, framer, 5, envelope.KindCall, "Add", &addArgs{A: 10, B: 20})
	env := readEnvelope(t, framer)
	if env.Kind != envelope.KindReply {
		t.Fatalf("expect reply, got %s", env.Kind)
	}

	if err := srv.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	// New connections must be refused after shutdown.
	if _, err := net.Dial("tcp", ":8806"); err == nil {
		t.Fatal("expect dial to fail after shutdown")
	}
}

// A handler returning a typed nil pointer with a nil error has produced no
// response; that degrades to an Internal fault instead of a marshal panic.
func TestServerTypedNilResponse(t *testing.T) {
	srv := New(arithDesc, nil)
	if err := srv.Handle("Add", func(ctx context.Context, req codec.Message) (codec.Message, error) {
		return (*addReply)(nil), nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := srv.Handle("Record", func(ctx context.Context, req codec.Message) (codec.Message, error) {
		return nil, nil
	}); err != nil {
		t.Fatal(err)
	}
	go srv.Serve("tcp", ":8807", "", nil)
	t.Cleanup(func() { srv.Shutdown(time.Second) })
	time.Sleep(100 * time.Millisecond)

	framer := dialArith(t, ":8807")
	sendCall(t, framer, 3, envelope.KindCall, "Add", &addArgs{A: 1, B: 2})

	env := readEnvelope(t, framer)
	if env.Kind != envelope.KindException {
		t.Fatalf("expect exception, got %s", env.Kind)
	}
	_, fault, err := envelope.UnmarshalException(env.Payload, func() codec.Message { return &negative{} })
	if err != nil {
		t.Fatal(err)
	}
	if fault == nil || fault.Code != envelope.FaultInternal {
		t.Fatalf("expect internal fault, got %+v", fault)
	}

	// The connection keeps serving afterwards.
	sendCall(t, framer, 4, envelope.KindCall, "Add", &addArgs{A: 5, B: 5})
	env = readEnvelope(t, framer)
	if env.Seq != 4 || env.Kind != envelope.KindException {
		t.Fatalf("expect another fault for seq 4, got %+v", env)
	}
}
