/*
events.go - Domain events and the async dispatcher

PURPOSE:
  The engine and the dispute workflow emit domain events after commit
  (transaction.created, dispute.resolved). External notifiers subscribe;
  delivery is fire-and-forget. A failed or slow subscriber must never
  block or roll back a ledger operation, so Publish is non-blocking and
  drops on a full queue.
*/
package points

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// =============================================================================
// EVENTS
// =============================================================================

type EventType string

const (
	EventTransactionCreated EventType = "transaction.created"
	EventDisputeResolved    EventType = "dispute.resolved"
)

type Event struct {
	Type       EventType
	AccountID  AccountID
	Payload    map[string]any
	OccurredAt time.Time
}

// Publisher is what the engine and workflow hold. Publish must not block.
type Publisher interface {
	Publish(e Event)
}

// NopPublisher discards events. Useful in tests.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}

// =============================================================================
// DISPATCHER - Worker pool fanning events out to subscribers
// =============================================================================

type Dispatcher struct {
	queue   chan Event
	workers int
	quit    chan struct{}
	wg      sync.WaitGroup
	log     zerolog.Logger

	// OnDrop, when set, is called for every event lost to a full queue.
	OnDrop func()

	mu   sync.RWMutex
	subs []func(Event)
}

func NewDispatcher(workers, buffer int, log zerolog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if buffer < 1 {
		buffer = 256
	}
	d := &Dispatcher{
		queue:   make(chan Event, buffer),
		workers: workers,
		quit:    make(chan struct{}),
		log:     log,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	return d
}

// Subscribe registers a handler. Handlers run on dispatcher workers and
// must be safe for concurrent use.
func (d *Dispatcher) Subscribe(fn func(Event)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(d.subs, fn)
}

// Publish enqueues without blocking. When the queue is full the event is
// dropped and logged; ledger correctness never depends on delivery.
func (d *Dispatcher) Publish(e Event) {
	select {
	case d.queue <- e:
	default:
		if d.OnDrop != nil {
			d.OnDrop()
		}
		d.log.Warn().
			Str("event", string(e.Type)).
			Str("account_id", string(e.AccountID)).
			Msg("event queue full, dropping")
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for {
		select {
		case e := <-d.queue:
			d.dispatch(e, id)
		case <-d.quit:
			return
		}
	}
}

func (d *Dispatcher) dispatch(e Event, workerID int) {
	d.mu.RLock()
	subs := d.subs
	d.mu.RUnlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.log.Error().
						Str("event", string(e.Type)).
						Int("worker", workerID).
						Interface("panic", r).
						Msg("event subscriber panicked")
				}
			}()
			fn(e)
		}()
	}
}

// Shutdown stops the workers, waiting up to the context deadline.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	close(d.quit)
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
