package mock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/harunnryd/callscribe/pkg/frames"
	"github.com/harunnryd/callscribe/pkg/transports"
)

// Transport is an in-memory transport for local testing and integration.
// Each Connect call behaves like one accepted media-stream connection.
type Transport struct {
	ctx      context.Context
	acceptor transports.Acceptor
	closed   atomic.Bool

	mu    sync.Mutex
	conns map[*Conn]struct{}
	wg    sync.WaitGroup
}

func New() *Transport {
	return &Transport{conns: make(map[*Conn]struct{})}
}

func (t *Transport) Name() string { return "mock" }

func (t *Transport) Start(ctx context.Context, acceptor transports.Acceptor) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if acceptor == nil {
		return errors.New("acceptor required")
	}
	t.mu.Lock()
	t.ctx = ctx
	t.acceptor = acceptor
	t.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	return nil
}

// Stop hangs up every open connection and waits for their acceptors.
func (t *Transport) Stop() error {
	if t.closed.CompareAndSwap(false, true) {
		t.mu.Lock()
		conns := make([]*Conn, 0, len(t.conns))
		for c := range t.conns {
			conns = append(conns, c)
		}
		t.mu.Unlock()
		for _, c := range conns {
			c.Hangup()
		}
	}
	t.wg.Wait()
	return nil
}

// Connect opens a new connection and hands it to the acceptor.
func (t *Transport) Connect() (*Conn, error) {
	if t.closed.Load() {
		return nil, errors.New("transport stopped")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.acceptor == nil {
		return nil, errors.New("transport not started")
	}
	c := &Conn{events: make(chan frames.Frame, 256), done: make(chan struct{})}
	t.conns[c] = struct{}{}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer close(c.done)
		t.acceptor.Accept(t.ctx, c.events)
		t.mu.Lock()
		delete(t.conns, c)
		t.mu.Unlock()
	}()
	return c, nil
}

// Conn is one simulated call connection.
type Conn struct {
	mu     sync.Mutex
	events chan frames.Frame
	closed bool
	done   chan struct{}
}

// Push delivers a frame in order. Frames after Hangup are discarded.
func (c *Conn) Push(f frames.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- f
}

// Hangup closes the event stream as a disconnect would.
func (c *Conn) Hangup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.events)
}

// Done is closed once the acceptor returned.
func (c *Conn) Done() <-chan struct{} { return c.done }

var _ transports.Transport = (*Transport)(nil)
