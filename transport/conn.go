// Package transport implements the client side of a multiplexed connection.
//
// A Conn carries many in-flight calls over one network connection. Each call
// is assigned a sequence id at send time; a background goroutine (recvLoop)
// reads reply frames and routes each one to the caller waiting on that id.
//
//	goroutine-1 ──Send(seq=1)──┐
//	goroutine-2 ──Send(seq=2)──┼──→ single conn ──→ server
//	goroutine-3 ──Send(seq=3)──┘
//
//	recvLoop:  ←── reply(seq=2) → pending[2] chan ← reply → goroutine-2 wakes up
//
// Replies may arrive in any order relative to the requests that caused them;
// the sequence id, not arrival order, decides who wakes up.
package transport

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"muxrpc/envelope"
	"muxrpc/protocol"
)

// ErrConnectionClosed resolves every call still pending when the connection
// fails or is closed. Each pending call receives it exactly once.
var ErrConnectionClosed = errors.New("transport: connection closed")

// Result is what a pending call resolves to: a reply envelope, or the error
// that ended the connection. Exactly one field is set.
type Result struct {
	Env *envelope.Envelope
	Err error
}

// Options configures a Conn. The zero value is usable.
type Options struct {
	// MaxFrameSize caps frames in both directions; 0 means the protocol
	// package default.
	MaxFrameSize int
	// Logger receives connection-level events. nil means no logging.
	Logger *zap.Logger
}

func (o *Options) normalize() *Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	return &out
}

// Conn multiplexes calls over a single network connection.
type Conn struct {
	conn   net.Conn
	framer *protocol.Framer
	log    *zap.Logger

	// sending serializes frame writes and guards seq. Interleaved writes
	// from two calls would corrupt the byte stream at the peer.
	sending sync.Mutex
	seq     uint32

	// pending maps sequence id → chan Result (cap 1). Insertions happen on
	// the send path, removals on the read path, timeouts, and teardown, so
	// every removal goes through LoadAndDelete to keep resolution
	// exactly-once.
	pending sync.Map

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewConn wraps an established network connection and starts its read loop.
func NewConn(nc net.Conn, opts *Options) *Conn {
	opts = opts.normalize()
	c := &Conn{
		conn:   nc,
		framer: protocol.NewFramer(nc, opts.MaxFrameSize),
		log:    opts.Logger.With(zap.String("remote", nc.RemoteAddr().String())),
	}
	go c.recvLoop()
	return c
}

// Dial connects to address and returns a ready Conn.
func Dial(network, address string, opts *Options) (*Conn, error) {
	nc, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	return NewConn(nc, opts), nil
}

// Send writes env as one frame and, unless env is one-way, registers a
// pending call. It returns the allocated sequence id and, for two-way calls,
// the channel the reply will arrive on. One-way sends return a nil channel
// and complete as soon as the frame write succeeds.
//
// A write failure is fatal to the whole connection: the stream position is
// unknown afterwards, so the connection is torn down and all pending calls
// resolve with ErrConnectionClosed.
func (c *Conn) Send(env *envelope.Envelope) (uint32, <-chan Result, error) {
	if c.closed.Load() {
		return 0, nil, ErrConnectionClosed
	}

	c.sending.Lock()
	defer c.sending.Unlock()

	env.Seq = c.nextSeq()

	frame, err := env.Marshal()
	if err != nil {
		return 0, nil, err
	}

	// Register before writing so a reply racing the send always finds the
	// pending entry.
	var ch chan Result
	if env.Kind != envelope.KindOneway {
		ch = make(chan Result, 1) // buffered so recvLoop never blocks
		c.pending.Store(env.Seq, ch)
	}

	// Teardown may have run between the entry check and the Store above, in
	// which case it never saw our entry. Re-check so the call cannot hang.
	if c.closed.Load() {
		if ch != nil {
			c.pending.LoadAndDelete(env.Seq)
		}
		return 0, nil, ErrConnectionClosed
	}

	if err := c.framer.WriteFrame(frame); err != nil {
		if ch != nil {
			c.pending.Delete(env.Seq)
		}
		c.teardown(err)
		return 0, nil, err
	}
	return env.Seq, ch, nil
}

// nextSeq allocates the next sequence id, wrapping after the id space is
// exhausted and skipping ids that still have a pending call. Callers hold
// the sending mutex.
func (c *Conn) nextSeq() uint32 {
	for {
		c.seq++
		if _, inUse := c.pending.Load(c.seq); !inUse {
			return c.seq
		}
	}
}

// Forget drops the pending call for seq, if any. The timeout path uses it so
// a reply arriving later finds no entry and is discarded by recvLoop.
func (c *Conn) Forget(seq uint32) {
	c.pending.LoadAndDelete(seq)
}

// recvLoop is the single reader of the connection. Frame boundaries only
// make sense to one sequential reader, so all routing funnels through here.
func (c *Conn) recvLoop() {
	for {
		frame, err := c.framer.ReadFrame()
		if err != nil {
			c.teardown(err)
			return
		}

		var env envelope.Envelope
		if err := env.Unmarshal(frame); err != nil {
			// The frame was complete, so framing is still in sync. Drop
			// just this envelope and keep reading.
			c.log.Warn("discarding malformed envelope", zap.Error(err))
			continue
		}

		ch, ok := c.pending.LoadAndDelete(env.Seq)
		if !ok {
			// Late reply after a timeout, or a duplicate. Not fatal.
			c.log.Debug("discarding reply with no pending call",
				zap.Uint32("seq", env.Seq),
				zap.String("method", env.Method))
			continue
		}
		ch.(chan Result) <- Result{Env: &env}
	}
}

// teardown closes the connection once and resolves every pending call with
// ErrConnectionClosed. LoadAndDelete makes each resolution race-free against
// recvLoop and Forget, so no call resolves twice.
func (c *Conn) teardown(cause error) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.conn.Close()
		if cause != nil {
			c.log.Debug("connection torn down", zap.Error(cause))
		}
		c.pending.Range(func(key, _ any) bool {
			if ch, ok := c.pending.LoadAndDelete(key); ok {
				ch.(chan Result) <- Result{Err: ErrConnectionClosed}
			}
			return true
		})
	})
}

// Close tears the connection down. Pending calls resolve with
// ErrConnectionClosed.
func (c *Conn) Close() error {
	c.teardown(nil)
	return nil
}

// Closed reports whether the connection has been torn down.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
