// Package events delivers table change notifications to in-process
// subscribers.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

type ChangeType int

const (
	Inserted ChangeType = iota + 1
	Updated
	Deleted
)

func (c ChangeType) String() string {
	switch c {
	case Inserted:
		return "Inserted"
	case Updated:
		return "Updated"
	case Deleted:
		return "Deleted"
	}
	return fmt.Sprintf("ChangeType(%d)", int(c))
}

// Event describes one committed change. Table is the external identifier of
// the table. Payload is the written types.Record for Inserted and Updated, and
// the []string of removed ids for Deleted.
type Event struct {
	Type     ChangeType
	Table    string
	Database string
	Payload  any
}

type Handler func(ctx context.Context, e Event) error

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	bus *Bus
	id  uint64
	fn  Handler
}

// Cancel stops delivery to the subscription. It is safe to call more than
// once and from inside a handler.
func (s *Subscription) Cancel() {
	s.bus.remove(s.id)
}

// Bus multicasts events synchronously to its subscribers in the order they
// subscribed. A failing subscriber is logged and does not stop delivery to
// the rest.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   []*Subscription
	nextID uint64
	closed bool
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers fn. Subscribing to a closed bus returns a subscription
// that never fires.
func (b *Bus) Subscribe(fn Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{bus: b, id: b.nextID, fn: fn}
	if !b.closed {
		b.subs = append(b.subs, sub)
	}
	return sub
}

// Publish delivers e to every current subscriber before returning. Handlers
// may publish again; they see the subscriber list as of their own delivery.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	subs := make([]*Subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		if !b.active(sub.id) {
			continue
		}
		b.deliver(ctx, sub, e)
	}
}

// Len reports the number of active subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close drops every subscriber. Later publishes are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
	b.closed = true
}

func (b *Bus) deliver(ctx context.Context, sub *Subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked", "table", e.Table, "type", e.Type, "panic", r)
		}
	}()

	if err := sub.fn(ctx, e); err != nil {
		b.logger.Error("event subscriber failed", "table", e.Table, "type", e.Type, "error", err)
	}
}

func (b *Bus) active(id uint64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.id == id {
			return true
		}
	}
	return false
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}
