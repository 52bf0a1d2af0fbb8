// Package notify hands reconciliation outcomes to the live stream sessions waiting for them.
//
// The registry is keyed by correlation id: an outcome published for one id never reaches a
// subscriber registered for another. There is no queue and no replay; an outcome published
// while nobody listens for its id is dropped.
package notify

import (
	"context"
	"sync"
	"sync/atomic"
)

// Outcome is the result of one reconciliation run. It is never mutated after creation.
type Outcome struct {
	CorrelationID string `json:"correlation_id"`
	Succeeded     bool   `json:"succeeded"`
	Reason        string `json:"reason,omitempty"`
}

// ReasonPending marks an outcome for a verified notification that does not confirm payment
// yet. A later outcome for the same id is still expected.
const ReasonPending = "pending"

// Final reports whether no further outcome is expected for the correlation id.
func (o Outcome) Final() bool { return o.Reason != ReasonPending }

// Publisher hands an outcome to whoever listens for its correlation id. Implementations must
// not block on slow subscribers.
type Publisher interface {
	Publish(ctx context.Context, o Outcome) error
}

// Subscription is one listener for one correlation id. It is owned by a single stream session.
type Subscription struct {
	id            uint64
	CorrelationID string
	c             chan Outcome
	active        atomic.Bool
}

// C receives at most one pending outcome at a time.
func (s *Subscription) C() <-chan Outcome { return s.c }

func (s *Subscription) Active() bool { return s.active.Load() }

type Stats struct {
	CorrelationIDs int   `json:"correlation_ids"`
	Subscribers    int   `json:"subscribers"`
	Published      int64 `json:"published"`
	Delivered      int64 `json:"delivered"`
	Dropped        int64 `json:"dropped"`
}

type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[uint64]*Subscription

	nextID    atomic.Uint64
	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[uint64]*Subscription)}
}

func (b *Bus) Subscribe(correlationID string) *Subscription {
	s := &Subscription{
		id:            b.nextID.Add(1),
		CorrelationID: correlationID,
		c:             make(chan Outcome, 1),
	}
	s.active.Store(true)

	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subs[correlationID]
	if !ok {
		set = make(map[uint64]*Subscription)
		b.subs[correlationID] = set
	}
	set[s.id] = s
	return s
}

// Unsubscribe removes the subscription. Safe to call more than once.
func (b *Bus) Unsubscribe(s *Subscription) {
	if s == nil || !s.active.CompareAndSwap(true, false) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	set := b.subs[s.CorrelationID]
	delete(set, s.id)
	if len(set) == 0 {
		delete(b.subs, s.CorrelationID)
	}
}

// Deliver fans the outcome out to the local subscribers of its correlation id and returns how
// many of them accepted it. A subscriber that still holds an unread outcome is skipped.
func (b *Bus) Deliver(o Outcome) int {
	b.published.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, s := range b.subs[o.CorrelationID] {
		select {
		case s.c <- o:
			n++
		default:
			b.dropped.Add(1)
		}
	}
	b.delivered.Add(int64(n))
	return n
}

// Publish implements Publisher for a single process.
func (b *Bus) Publish(_ context.Context, o Outcome) error {
	b.Deliver(o)
	return nil
}

func (b *Bus) Stats() Stats {
	b.mu.RLock()
	ids := len(b.subs)
	subs := 0
	for _, set := range b.subs {
		subs += len(set)
	}
	b.mu.RUnlock()

	return Stats{
		CorrelationIDs: ids,
		Subscribers:    subs,
		Published:      b.published.Load(),
		Delivered:      b.delivered.Load(),
		Dropped:        b.dropped.Load(),
	}
}
