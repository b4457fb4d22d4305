package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/callscribe/pkg/call"
)

// ActiveCall is one accepted connection and its controller.
type ActiveCall struct {
	ID         uint64
	Controller *call.Controller
	Cancel     context.CancelFunc
	Created    time.Time
}

// CallRegistry tracks the controllers of live connections.
type CallRegistry struct {
	calls    sync.Map
	next     atomic.Uint64
	count    atomic.Int64
	draining atomic.Bool
}

func NewCallRegistry() *CallRegistry {
	return &CallRegistry{}
}

// Add registers a controller and derives the context it runs under. It
// refuses new calls while draining.
func (r *CallRegistry) Add(ctx context.Context, ctrl *call.Controller) (*ActiveCall, context.Context, bool) {
	if r.draining.Load() {
		return nil, nil, false
	}
	callCtx, cancel := context.WithCancel(ctx)
	ac := &ActiveCall{
		ID:         r.next.Add(1),
		Controller: ctrl,
		Cancel:     cancel,
		Created:    time.Now(),
	}
	r.calls.Store(ac.ID, ac)
	r.count.Add(1)
	return ac, callCtx, true
}

func (r *CallRegistry) Remove(id uint64) {
	if v, ok := r.calls.LoadAndDelete(id); ok {
		v.(*ActiveCall).Cancel()
		r.count.Add(-1)
	}
}

// CloseAll cancels every live call; each controller then terminates with
// reason shutdown and its acceptor removes it.
func (r *CallRegistry) CloseAll() {
	r.calls.Range(func(_, value any) bool {
		value.(*ActiveCall).Cancel()
		return true
	})
}

// Calls returns the live calls in no particular order.
func (r *CallRegistry) Calls() []*ActiveCall {
	var out []*ActiveCall
	r.calls.Range(func(_, value any) bool {
		out = append(out, value.(*ActiveCall))
		return true
	})
	return out
}

func (r *CallRegistry) Count() int64 {
	return r.count.Load()
}

func (r *CallRegistry) SetDraining(v bool) {
	r.draining.Store(v)
}

func (r *CallRegistry) Draining() bool {
	return r.draining.Load()
}

func (r *CallRegistry) WaitForEmpty(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if r.Count() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
