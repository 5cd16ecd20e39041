// Package server implements the dispatch loop: it accepts connections,
// decodes request envelopes, routes them through the middleware chain to the
// registered handler, and writes reply or exception envelopes back.
//
// Request pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → per request: go handleRequest (handlers run concurrently)
//	    → descriptor lookup → decode request → middleware chain → handler
//	    → encode reply/exception → write frame (per-conn write lock)
//
// Replies are written as handlers complete, not in request order; the client
// side matches them up by sequence id.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"muxrpc/codec"
	"muxrpc/descriptor"
	"muxrpc/envelope"
	"muxrpc/middleware"
	"muxrpc/protocol"
	"muxrpc/registry"
)

// Handler is the application boundary for one method: it receives the
// decoded request and returns the response message, a declared exception
// (an error that implements codec.Message), or a plain error. Handlers for
// distinct requests run concurrently, including on one connection.
type Handler func(ctx context.Context, req codec.Message) (codec.Message, error)

// Options configures a Server. The zero value is usable.
type Options struct {
	MaxFrameSize int
	Logger       *zap.Logger
	// RegistryTTL is the lease TTL for registry entries, in seconds.
	// 0 selects 10.
	RegistryTTL int64
}

// Server dispatches requests for one service descriptor.
type Server struct {
	desc     *descriptor.Service
	handlers map[string]Handler

	listener net.Listener
	wg       sync.WaitGroup // in-flight requests, drained on Shutdown
	serving  atomic.Bool
	shutdown atomic.Bool

	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	reg           registry.Registry
	advertiseAddr string
	registryTTL   int64

	log      *zap.Logger
	maxFrame int
}

// New creates a server for the given service descriptor. Handlers are
// attached with Handle before Serve.
func New(desc *descriptor.Service, opts *Options) *Server {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.RegistryTTL <= 0 {
		o.RegistryTTL = 10
	}
	return &Server{
		desc:        desc,
		handlers:    make(map[string]Handler),
		log:         o.Logger,
		maxFrame:    o.MaxFrameSize,
		registryTTL: o.RegistryTTL,
	}
}

// Handle attaches the handler for a declared method. All registration
// happens before Serve; the handler table is read-only afterwards and
// therefore shared across connections without locking.
func (s *Server) Handle(method string, h Handler) error {
	if s.serving.Load() {
		return errors.New("server: Handle after Serve")
	}
	if _, ok := s.desc.Lookup(method); !ok {
		return fmt.Errorf("server: method %s not in descriptor %s", method, s.desc.Name())
	}
	if h == nil {
		return fmt.Errorf("server: nil handler for %s", method)
	}
	s.handlers[method] = h
	return nil
}

// Use appends a middleware. Middlewares wrap dispatch in registration order,
// the first added being outermost.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Serve listens on address and accepts connections until Shutdown.
//
// advertiseAddr is the address registered in the registry; it differs from
// the listen address because ":9090" is not routable from other hosts. Pass
// a nil registry to skip registration.
func (s *Server) Serve(network, address, advertiseAddr string, reg registry.Registry) error {
	for _, m := range s.desc.Methods() {
		if _, ok := s.handlers[m.Name]; !ok {
			return fmt.Errorf("server: no handler for %s.%s", s.desc.Name(), m.Name)
		}
	}

	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	s.listener = listener
	s.serving.Store(true)

	// Build the middleware chain once, not per request.
	s.handler = middleware.Chain(s.middlewares...)(s.dispatch)

	s.advertiseAddr = advertiseAddr
	if reg != nil {
		s.reg = reg
		if err := reg.Register(context.Background(), s.desc.Name(), registry.Instance{Addr: advertiseAddr}, s.registryTTL); err != nil {
			listener.Close()
			return fmt.Errorf("server: register %s: %w", s.desc.Name(), err)
		}
	}

	s.log.Info("serving",
		zap.String("service", s.desc.Name()),
		zap.String("addr", listener.Addr().String()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			// Shutdown closes the listener; that Accept error is expected.
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// handleConn reads frames sequentially (frame boundaries demand a single
// reader) and hands each request to its own goroutine. The write mutex is
// shared by those goroutines so concurrently completing replies cannot
// interleave bytes on the wire.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	log := s.log.With(zap.String("remote", conn.RemoteAddr().String()))
	framer := protocol.NewFramer(conn, s.maxFrame)
	writeMu := &sync.Mutex{}

	for {
		frame, err := framer.ReadFrame()
		if err != nil {
			if errors.Is(err, protocol.ErrFrameTooLarge) {
				// Framing is desynchronized; nothing more can be read.
				log.Warn("closing connection", zap.Error(err))
			}
			return
		}

		s.wg.Add(1)
		go s.handleRequest(frame, framer, writeMu, log)
	}
}

// handleRequest processes one request end to end: unmarshal the envelope,
// run the middleware chain, write the reply under the connection's write
// lock. One-way requests produce no reply envelope at all.
func (s *Server) handleRequest(frame []byte, framer *protocol.Framer, writeMu *sync.Mutex, log *zap.Logger) {
	defer s.wg.Done()

	var req envelope.Envelope
	if err := req.Unmarshal(frame); err != nil {
		// Without a sequence id there is nothing to answer. The frame was
		// complete, so the connection itself is still usable.
		log.Warn("discarding malformed envelope", zap.Error(err))
		return
	}
	if req.Kind != envelope.KindCall && req.Kind != envelope.KindOneway {
		log.Warn("discarding unexpected envelope",
			zap.Stringer("kind", req.Kind),
			zap.Uint32("seq", req.Seq))
		return
	}

	resp := s.handler(context.Background(), &req)
	if resp == nil || req.Kind == envelope.KindOneway {
		return
	}

	frameOut, err := resp.Marshal()
	if err != nil {
		log.Error("failed to marshal response envelope", zap.Error(err))
		return
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	if err := framer.WriteFrame(frameOut); err != nil {
		log.Warn("failed to write response", zap.Error(err))
	}
}

// dispatch is the innermost HandlerFunc: descriptor lookup, request decode,
// handler invocation, response encode. Middleware wraps around it.
func (s *Server) dispatch(ctx context.Context, req *envelope.Envelope) *envelope.Envelope {
	m, ok := s.desc.Lookup(req.Method)
	if !ok {
		if req.Kind == envelope.KindOneway {
			return nil
		}
		return envelope.FaultReply(req, envelope.FaultUnknownMethod, "unknown method: "+req.Method)
	}

	msg := m.NewRequest()
	if err := codec.Unmarshal(req.Payload, msg); err != nil {
		if req.Kind == envelope.KindOneway {
			return nil
		}
		return envelope.FaultReply(req, envelope.FaultDecodeFailure, err.Error())
	}

	result, err := s.handlers[req.Method](ctx, msg)
	if req.Kind == envelope.KindOneway || m.OneWay {
		return nil
	}
	if err != nil {
		return s.exceptionReply(req, m, err)
	}
	if isNilMessage(result) {
		return envelope.FaultReply(req, envelope.FaultInternal, "handler returned no response")
	}

	payload, err := codec.Marshal(result)
	if err != nil {
		return envelope.FaultReply(req, envelope.FaultInternal, "encode response: "+err.Error())
	}
	return &envelope.Envelope{
		Seq:     req.Seq,
		Kind:    envelope.KindReply,
		Method:  req.Method,
		Payload: payload,
	}
}

// isNilMessage catches both a nil interface and a typed nil pointer inside
// one; handlers returning (*Resp)(nil) with a nil error would otherwise
// panic during marshalling.
func isNilMessage(m codec.Message) bool {
	if m == nil {
		return true
	}
	v := reflect.ValueOf(m)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// exceptionReply encodes a handler error. An error that implements
// codec.Message on a method declaring an exception travels as that declared
// exception; anything else degrades to a generic Internal fault, which is
// all an undeclared failure is entitled to.
func (s *Server) exceptionReply(req *envelope.Envelope, m *descriptor.Method, err error) *envelope.Envelope {
	if m.NewException != nil {
		if exc, ok := err.(codec.Message); ok {
			payload, mErr := envelope.MarshalDeclared(exc)
			if mErr == nil {
				return &envelope.Envelope{
					Seq:     req.Seq,
					Kind:    envelope.KindException,
					Method:  req.Method,
					Payload: payload,
				}
			}
			s.log.Error("failed to marshal declared exception", zap.Error(mErr))
		}
	}
	return envelope.FaultReply(req, envelope.FaultInternal, err.Error())
}

// Shutdown stops the server gracefully:
//  1. deregister, so clients stop routing new calls here
//  2. close the listener (the shutdown flag marks the Accept error benign)
//  3. wait for in-flight requests, bounded by timeout
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.reg != nil {
		if err := s.reg.Deregister(context.Background(), s.desc.Name(), s.advertiseAddr); err != nil {
			s.log.Warn("deregister failed", zap.Error(err))
		}
	}

	s.shutdown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.New("server: timeout waiting for in-flight requests")
	}
}
