package vault

import (
	"context"
	"sync"
	"time"

	"github.com/vadiminshakov/vault/internal/domain"
	"github.com/vadiminshakov/vault/internal/metrics"
	"github.com/vadiminshakov/vault/internal/notify"
	"go.uber.org/zap"
)

const (
	defaultQueueSize = 1024
	deliveryTimeout  = 10 * time.Second
)

// dispatcher delivers events in commit order on a single goroutine.
type dispatcher struct {
	notifier notify.Notifier
	logger   *zap.Logger
	queue    chan domain.Event
	wg       sync.WaitGroup
}

func newDispatcher(n notify.Notifier, size int, logger *zap.Logger) *dispatcher {
	d := &dispatcher{
		notifier: n,
		logger:   logger,
		queue:    make(chan domain.Event, size),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer d.wg.Done()
	for event := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		if err := d.notifier.Notify(ctx, event); err != nil {
			metrics.NotifyFailed(string(event.Kind()))
			d.logger.Warn("event delivery failed",
				zap.String("kind", string(event.Kind())),
				zap.Error(err))
		}
		cancel()
	}
}

// enqueue must be called with the vault write lock held so events keep commit order.
func (d *dispatcher) enqueue(event domain.Event) {
	d.queue <- event
}

func (d *dispatcher) stop() {
	close(d.queue)
	d.wg.Wait()
}

// emit queues event for delivery. Callers hold the write lock.
func (v *Vault) emit(event domain.Event) {
	if v.closed {
		v.logger.Warn("vault closed, dropping event", zap.String("kind", string(event.Kind())))
		return
	}
	v.dispatcher.enqueue(event)
}
