// Package notify delivers vault events to external observers.
// Delivery is best effort: the vault logs notifier errors and never rolls
// back committed state because of them.
package notify

import (
	"context"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/vault/internal/domain"
)

// Notifier delivers one event.
type Notifier interface {
	Notify(ctx context.Context, event domain.Event) error
}

// Nop discards every event.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, domain.Event) error { return nil }

// Fanout delivers every event to all sinks in order. A failing sink does not
// stop delivery to the rest.
type Fanout []Notifier

// Notify implements Notifier. The returned error carries the first failure;
// the count of failed sinks is part of its message.
func (f Fanout) Notify(ctx context.Context, event domain.Event) error {
	var (
		first  error
		failed int
	)
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, event); err != nil {
			failed++
			if first == nil {
				first = err
			}
		}
	}
	if first == nil {
		return nil
	}
	return errors.Wrapf(first, "%d of %d sinks failed for %s event", failed, len(f), event.Kind())
}
