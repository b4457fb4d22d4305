package transports

import (
	"context"
	"net/http"

	"github.com/harunnryd/callscribe/pkg/frames"
)

// Acceptor consumes the ordered event stream of one call connection. The
// transport closes events when the connection ends; Accept returns after
// it has drained them.
type Acceptor interface {
	Accept(ctx context.Context, events <-chan frames.Frame)
}

// AcceptorFunc adapts a function to Acceptor.
type AcceptorFunc func(ctx context.Context, events <-chan frames.Frame)

func (f AcceptorFunc) Accept(ctx context.Context, events <-chan frames.Frame) { f(ctx, events) }

// Transport delivers call connections to an Acceptor. Implementations are
// responsible for their own network lifecycle.
type Transport interface {
	Name() string
	Start(ctx context.Context, acceptor Acceptor) error
	Stop() error
}

// RouteRegistrar lets the engine mount extra HTTP handlers (metrics) on the
// transport's server.
type RouteRegistrar interface {
	Handle(pattern string, h http.Handler)
}

// OutboundDialer allows transports to initiate outbound calls.
type OutboundDialer interface {
	Dial(ctx context.Context, to, from, url string) (callSID string, err error)
}

// DialOptions carries optional outbound dial settings.
type DialOptions struct {
	SendDigits string
	// Parameters are passed to the voice webhook and end up as stream
	// custom parameters.
	Parameters map[string]string
}

// OutboundDialerWithOptions extends dialing with optional parameters.
type OutboundDialerWithOptions interface {
	DialWithOptions(ctx context.Context, to, from, url string, opts DialOptions) (callSID string, err error)
}

// ReadyReporter allows transports to expose readiness metadata (e.g., webhook URLs).
// Implementations are optional and used for informational logging only.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
