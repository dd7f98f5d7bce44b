package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Lifecycle signals published by the engine.
const (
	EventProcessed   = "event.processed"
	EventRetry       = "event.retry"
	EventFailed      = "event.failed"
	EventSpawned     = "event.spawned"
	EventCreated     = "event.created"
	EventCancelled   = "event.cancelled"
	EventRescheduled = "event.rescheduled"
	BatchCompleted   = "batch.completed"
	ReminderDue      = "reminder.due"
	HandlerToggled   = "handler.toggled"
	ConfigReloaded   = "config.reloaded"
)

// Event is a small in-process signal. Data should be JSON-serializable.
//
// Publish never blocks: each subscriber owns a buffered channel and events
// are dropped for subscribers that fall behind.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

type Bus interface {
	Publish(e Event)
	// Subscribe receives every event. With types set, only those types are delivered.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() *MemBus {
	return &MemBus{subs: map[uint64]*sub{}, now: time.Now}
}

type sub struct {
	ch    chan Event
	types map[string]bool
}

func (s *sub) wants(typ string) bool {
	return len(s.types) == 0 || s.types[typ]
}

type MemBus struct {
	mu   sync.RWMutex
	subs map[uint64]*sub
	seq  atomic.Uint64
	now  func() time.Time

	published atomic.Uint64
	dropped   atomic.Uint64
}

func (b *MemBus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = b.now()
	}
	b.published.Add(1)

	b.mu.RLock()
	targets := make([]*sub, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(e.Type) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		// unsubscribe may close the channel between snapshot and send
		func() {
			defer func() { _ = recover() }()
			select {
			case s.ch <- e:
			default:
				b.dropped.Add(1)
			}
		}()
	}
}

func (b *MemBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	s := &sub{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		s.types = make(map[string]bool, len(types))
		for _, t := range types {
			s.types[t] = true
		}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

// Stats reports totals since creation.
type Stats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

func (b *MemBus) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return Stats{Subscribers: n, Published: b.published.Load(), Dropped: b.dropped.Load()}
}
