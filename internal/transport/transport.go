// Package transport carries released content (and sealed-content
// notifications) to recipients. The engine's dispatcher owns retry
// accounting; a transport just makes one attempt and reports the error.
package transport

import (
	"context"
	"fmt"

	"github.com/roach88/vigil/internal/domain"
)

// PayloadKind distinguishes a real content delivery from a notify-action
// notice that keeps the content sealed.
type PayloadKind string

const (
	KindContent PayloadKind = "content"
	KindNotice  PayloadKind = "notice"
)

// Payload is what gets delivered to one recipient.
type Payload struct {
	Kind      PayloadKind
	MessageID string
	Title     string
	Body      []byte
}

// Transport makes one delivery attempt. The context carries the per-attempt
// timeout; a timed-out attempt is a failure for retry accounting, not a
// crash.
type Transport interface {
	Deliver(ctx context.Context, r *domain.Recipient, p Payload) error
}

// Router selects a transport by the recipient's delivery method.
// A method with no registered transport fails the attempt, which the
// dispatcher counts against the recipient's retries like any other failure.
type Router struct {
	byMethod map[domain.DeliveryMethod]Transport
}

// NewRouter builds a router over the given method→transport bindings.
func NewRouter(bindings map[domain.DeliveryMethod]Transport) *Router {
	return &Router{byMethod: bindings}
}

// Deliver implements Transport.
func (rt *Router) Deliver(ctx context.Context, r *domain.Recipient, p Payload) error {
	t, ok := rt.byMethod[r.Method]
	if !ok {
		return fmt.Errorf("no transport configured for method %q", r.Method)
	}
	return t.Deliver(ctx, r, p)
}
