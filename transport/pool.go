package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

// ErrPoolClosed rejects Get and fails borrowed Conns returned after Close.
var ErrPoolClosed = errors.New("transport: connection pool closed")

// Pool hands out Conns to a single address, up to a fixed number.
//
// Conns are multiplexed, so borrowing is cheap: a caller takes one, issues a
// send, and returns it immediately — many callers share the same Conn over
// time. A buffered channel holds idle Conns; it is goroutine-safe and blocks
// naturally when the pool is empty at capacity.
type Pool struct {
	mu     sync.Mutex
	conns  chan *Conn
	live   map[*Conn]struct{} // every Conn the pool created, idle or borrowed
	cur    int                // live Conns plus dials in progress
	closed bool
	addr   string
	size   int
	opts   *Options

	// dial is swappable for tests.
	dial func(addr string) (net.Conn, error)
}

// NewPool creates a pool of up to size Conns to addr. Connections are dialed
// lazily on first demand.
func NewPool(addr string, size int, opts *Options) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		conns: make(chan *Conn, size),
		live:  make(map[*Conn]struct{}),
		addr:  addr,
		size:  size,
		opts:  opts,
		dial: func(addr string) (net.Conn, error) {
			return net.Dial("tcp", addr)
		},
	}
}

// Get borrows a Conn:
//  1. take an idle one if available, replacing it when it has died
//  2. dial a new one while under the size limit
//  3. otherwise block until a Conn is returned
//
// After Close, Get fails with ErrPoolClosed, including Gets already blocked
// waiting for a Conn.
func (p *Pool) Get() (*Conn, error) {
	select {
	case c, ok := <-p.conns:
		if !ok {
			return nil, ErrPoolClosed
		}
		if c.Closed() {
			p.retire(c)
			return p.create()
		}
		return c, nil
	default:
		if conn, err := p.create(); err == nil {
			return conn, nil
		} else if !isPoolFull(err) {
			return nil, err
		}
		c, ok := <-p.conns
		if !ok {
			return nil, ErrPoolClosed
		}
		if c.Closed() {
			p.retire(c)
			return p.create()
		}
		return c, nil
	}
}

// Put returns a borrowed Conn. Dead Conns are dropped so the next Get dials
// a replacement; after Close the Conn is torn down instead of pooled.
func (p *Pool) Put(c *Conn) {
	if c.Closed() {
		p.retire(c)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		delete(p.live, c)
		p.cur--
		c.Close()
		return
	}
	// The send happens under the mutex so Close cannot close the channel
	// out from underneath it.
	select {
	case p.conns <- c:
	default:
		// More Puts than pool slots; excess Conns are simply closed.
		delete(p.live, c)
		p.cur--
		c.Close()
	}
}

// Close tears down every Conn the pool created, borrowed ones included, so
// calls still in flight on them resolve with ErrConnectionClosed. Blocked
// Gets wake with ErrPoolClosed.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.conns)
	for range p.conns {
		// Drain the idle buffer; every Conn here is in live too.
	}
	live := p.live
	p.live = make(map[*Conn]struct{})
	p.cur = 0
	p.mu.Unlock()

	for c := range live {
		c.Close()
	}
}

var errPoolFull = fmt.Errorf("transport: connection pool at capacity")

func isPoolFull(err error) bool {
	return err == errPoolFull
}

func (p *Pool) retire(c *Conn) {
	p.mu.Lock()
	if _, ok := p.live[c]; ok {
		delete(p.live, c)
		p.cur--
	}
	p.mu.Unlock()
}

func (p *Pool) create() (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if p.cur >= p.size {
		p.mu.Unlock()
		return nil, errPoolFull
	}
	p.cur++
	p.mu.Unlock()

	nc, err := p.dial(p.addr)
	if err != nil {
		p.mu.Lock()
		p.cur--
		p.mu.Unlock()
		return nil, err
	}
	c := NewConn(nc, p.opts)

	p.mu.Lock()
	if p.closed {
		p.cur--
		p.mu.Unlock()
		c.Close()
		return nil, ErrPoolClosed
	}
	p.live[c] = struct{}{}
	p.mu.Unlock()
	return c, nil
}
