// Package client implements the call dispatcher: it resolves a target
// instance, borrows a multiplexed connection, issues the call, and waits for
// the matching reply or a timeout, whichever comes first.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"muxrpc/codec"
	"muxrpc/descriptor"
	"muxrpc/envelope"
	"muxrpc/loadbalance"
	"muxrpc/registry"
	"muxrpc/transport"
)

// ErrTimeout resolves a call whose reply did not arrive in time. It is local
// to the one call: the connection and its other pending calls are untouched,
// and a reply arriving later is discarded by the connection's read loop.
var ErrTimeout = errors.New("client: call timed out")

// Options configures a Client. The zero value is usable.
type Options struct {
	// Balancer picks among discovered instances. nil selects RoundRobin.
	Balancer loadbalance.Balancer
	// PoolSize is the number of connections kept per instance. 0 selects 1.
	PoolSize int
	// CallTimeout bounds each two-way call. 0 selects 5s. A context with an
	// earlier deadline wins.
	CallTimeout time.Duration
	// MaxRetries re-issues a call after a timeout or connection failure,
	// with exponential backoff starting at RetryBackoff. 0 disables
	// retries; one-way calls are never retried.
	MaxRetries   int
	RetryBackoff time.Duration

	MaxFrameSize int
	Logger       *zap.Logger
}

// Client issues calls against one service descriptor.
type Client struct {
	desc *descriptor.Service
	reg  registry.Registry
	bal  loadbalance.Balancer

	mu    sync.Mutex
	pools map[string]*transport.Pool

	poolSize     int
	callTimeout  time.Duration
	maxRetries   int
	retryBackoff time.Duration
	connOpts     *transport.Options
	log          *zap.Logger
}

// New creates a client for desc, discovering instances through reg.
func New(desc *descriptor.Service, reg registry.Registry, opts *Options) *Client {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	if o.Balancer == nil {
		o.Balancer = &loadbalance.RoundRobin{}
	}
	if o.PoolSize <= 0 {
		o.PoolSize = 1
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 5 * time.Second
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 100 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return &Client{
		desc:         desc,
		reg:          reg,
		bal:          o.Balancer,
		pools:        make(map[string]*transport.Pool),
		poolSize:     o.PoolSize,
		callTimeout:  o.CallTimeout,
		maxRetries:   o.MaxRetries,
		retryBackoff: o.RetryBackoff,
		connOpts: &transport.Options{
			MaxFrameSize: o.MaxFrameSize,
			Logger:       o.Logger,
		},
		log: o.Logger,
	}
}

// Call invokes method with req and decodes the reply into resp. For one-way
// methods it returns as soon as the request frame is written; resp may then
// be nil.
//
// The outcome is exactly one of: resp populated, a declared exception or
// fault as the error, ErrTimeout, the context's error, or a connection
// error.
func (c *Client) Call(ctx context.Context, method string, req, resp codec.Message) error {
	m, ok := c.desc.Lookup(method)
	if !ok {
		return fmt.Errorf("client: method %s not in descriptor %s", method, c.desc.Name())
	}

	err := c.callOnce(ctx, m, req, resp)
	if m.OneWay {
		return err
	}
	for attempt := 0; attempt < c.maxRetries && retryable(err); attempt++ {
		backoff := c.retryBackoff * time.Duration(1<<attempt)
		c.log.Debug("retrying call",
			zap.String("method", method),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		err = c.callOnce(ctx, m, req, resp)
	}
	return err
}

// retryable reports whether a fresh attempt could succeed: timeouts and
// broken connections are worth a retry, decode errors and exceptions never
// are.
func retryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, transport.ErrConnectionClosed)
}

func (c *Client) callOnce(ctx context.Context, m *descriptor.Method, req, resp codec.Message) error {
	instances, err := c.reg.Discover(ctx, c.desc.Name())
	if err != nil {
		return fmt.Errorf("client: discover %s: %w", c.desc.Name(), err)
	}
	inst, err := c.bal.Pick(instances)
	if err != nil {
		return err
	}

	payload, err := codec.Marshal(req)
	if err != nil {
		return fmt.Errorf("client: encode request: %w", err)
	}

	kind := envelope.KindCall
	if m.OneWay {
		kind = envelope.KindOneway
	}

	pool := c.pool(inst.Addr)
	conn, err := pool.Get()
	if err != nil {
		return err
	}
	seq, ch, err := conn.Send(&envelope.Envelope{
		Kind:    kind,
		Method:  m.Name,
		Payload: payload,
	})
	// The Conn is multiplexed, so the borrow only needs to cover the send.
	// Returning it now lets other calls share the connection while this one
	// awaits its reply; ch and Forget stay valid on the shared Conn.
	pool.Put(conn)
	if err != nil {
		return err
	}
	if m.OneWay {
		// The frame is written; a one-way call has nothing to wait for.
		return nil
	}

	timer := time.NewTimer(c.callTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		return c.consumeReply(m, res.Env, resp)
	case <-timer.C:
		// Drop the pending entry so the late reply, if it ever comes, is
		// discarded instead of resolving a dead call.
		conn.Forget(seq)
		return ErrTimeout
	case <-ctx.Done():
		conn.Forget(seq)
		return ctx.Err()
	}
}

// consumeReply turns a reply envelope into the caller's outcome.
func (c *Client) consumeReply(m *descriptor.Method, env *envelope.Envelope, resp codec.Message) error {
	switch env.Kind {
	case envelope.KindReply:
		if resp == nil {
			return nil
		}
		if err := codec.Unmarshal(env.Payload, resp); err != nil {
			return fmt.Errorf("client: decode response: %w", err)
		}
		return nil
	case envelope.KindException:
		declared, fault, err := envelope.UnmarshalException(env.Payload, m.NewException)
		if err != nil {
			return fmt.Errorf("client: decode exception: %w", err)
		}
		if fault != nil {
			return fault
		}
		if excErr, ok := declared.(error); ok {
			return excErr
		}
		return fmt.Errorf("client: %s raised %T", m.Name, declared)
	}
	return fmt.Errorf("client: unexpected %s envelope for call %s", env.Kind, m.Name)
}

// pool returns the connection pool for addr, creating it on first use.
func (c *Client) pool(addr string) *transport.Pool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pools[addr]
	if !ok {
		p = transport.NewPool(addr, c.poolSize, c.connOpts)
		c.pools[addr] = p
	}
	return p
}

// Close shuts down all connection pools. In-flight calls resolve with
// ErrConnectionClosed.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pools {
		p.Close()
	}
	c.pools = make(map[string]*transport.Pool)
}
