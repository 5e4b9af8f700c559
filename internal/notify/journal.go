package notify

import (
	"context"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/vault/internal/domain"
)

type eventSaver interface {
	Save(event domain.Event) error
}

// Journal appends events to the durable event log and wakes stream readers.
type Journal struct {
	log    eventSaver
	wakeup *Broadcaster
}

// NewJournal creates a sink over log. wakeup may be nil.
func NewJournal(log eventSaver, wakeup *Broadcaster) *Journal {
	return &Journal{log: log, wakeup: wakeup}
}

// Notify implements Notifier.
func (j *Journal) Notify(_ context.Context, event domain.Event) error {
	if err := j.log.Save(event); err != nil {
		return errors.Wrapf(err, "journal %s event", event.Kind())
	}
	if j.wakeup != nil {
		j.wakeup.Publish(event)
	}
	return nil
}
