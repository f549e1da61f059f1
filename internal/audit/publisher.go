// Package audit publishes reconciliation outcome events.
//
// Publishing is fail-open: the reconciliation itself has already committed, so
// a lost audit event is logged and dropped rather than failing the request.
package audit

import (
	"context"
	"time"
)

// Publisher emits audit events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Noop discards events. Used when no broker is configured and in tests.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

func stamp(event Event) Event {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return event
}
