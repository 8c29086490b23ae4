package events

import (
	"context"
	"log"
	"sync"
	"time"

	"ticketing/internal/domain/models"
	"ticketing/internal/metrics"
)

// Publisher delivers one lifecycle event to a downstream collaborator.
type Publisher interface {
	Publish(ctx context.Context, evt models.LifecycleEvent) error
	Close() error
}

// Dispatcher hands events to a Publisher on a background goroutine.
// Emit never blocks: when the buffer is full the event is dropped and
// counted. Delivery is at-most-once per Emit.
type Dispatcher struct {
	pub     Publisher
	queue   chan models.LifecycleEvent
	timeout time.Duration

	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func NewDispatcher(pub Publisher, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 1024
	}
	d := &Dispatcher{
		pub:     pub,
		queue:   make(chan models.LifecycleEvent, buffer),
		timeout: 5 * time.Second,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) Emit(evt models.LifecycleEvent) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		metrics.EventsDropped.Inc()
		return
	}
	select {
	case d.queue <- evt:
	default:
		metrics.EventsDropped.Inc()
		log.Printf("[EVENTS] buffer full, dropped %s %s->%s", evt.TicketID, evt.FromStatus, evt.ToStatus)
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for evt := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.pub.Publish(ctx, evt)
		cancel()
		if err != nil {
			metrics.EventsPublishErrors.Inc()
			log.Printf("[EVENTS] publish %s %s->%s failed: %v", evt.TicketID, evt.FromStatus, evt.ToStatus, err)
			continue
		}
		metrics.EventsPublished.Inc()
	}
}

// Close drains queued events and closes the publisher.
func (d *Dispatcher) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()

		d.wg.Wait()
		err = d.pub.Close()
	})
	return err
}

// LogPublisher writes events to the process log.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, evt models.LifecycleEvent) error {
	log.Printf("[EVENTS] ticket=%s trip=%s %s->%s at=%s", evt.TicketID, evt.TripID, evt.FromStatus, evt.ToStatus, evt.Timestamp.Format(time.RFC3339))
	return nil
}

func (LogPublisher) Close() error { return nil }
