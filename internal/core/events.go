package core

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"tomscore/internal/logging"
	"tomscore/pkg/domain"
)

// EventKind names a notification published on the EventBus.
type EventKind string

// Published events.
const (
	EventProposalCreated       EventKind = "proposal_created"
	EventProposalAccepted      EventKind = "proposal_accepted"
	EventProposalRejected      EventKind = "proposal_rejected"
	EventTransactionCompleted  EventKind = "transaction_completed"
	EventTransactionRolledBack EventKind = "transaction_rolled_back"
)

// Event is delivered to EventBus subscribers.
type Event struct {
	Kind       EventKind
	ProposalID domain.ProposalID
	Result     *CommitResult
}

// EventBus fans events out to an explicit list of handlers, in subscription
// order. A panicking handler is logged and does not affect the others.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[int]func(Event)
	next     int
	logger   logrus.FieldLogger
}

// NewEventBus constructs a bus. A nil logger discards handler panics.
func NewEventBus(logger logrus.FieldLogger) *EventBus {
	if logger == nil {
		logger = logging.Nop()
	}
	return &EventBus{handlers: make(map[int]func(Event)), logger: logger}
}

// Subscribe registers fn and returns its unsubscribe function.
func (b *EventBus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.handlers[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}
}

// Publish delivers ev synchronously on the caller's goroutine. A handler
// must not block on a lock the publisher holds; the Service publishes only
// after releasing its own.
func (b *EventBus) Publish(ev Event) {
	b.mu.RLock()
	ids := make([]int, 0, len(b.handlers))
	for id := range b.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		b.deliver(h, ev)
	}
}

func (b *EventBus) deliver(h func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(logrus.Fields{
				"event":       string(ev.Kind),
				"proposal_id": int64(ev.ProposalID),
				"panic":       r,
			}).Error("event handler panicked")
		}
	}()
	h(ev)
}
