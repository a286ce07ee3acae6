package events

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// EventType represents different types of ledger events
type EventType string

const (
	EventTypeBorrowerLimitSet EventType = "borrower_limit_set"
	EventTypeBorrowerSaved    EventType = "borrower_saved"
	EventTypeSharesBorrowed   EventType = "shares_borrowed"
	EventTypeSharesRepaid     EventType = "shares_repaid"
	EventTypeLedgerMigrated   EventType = "ledger_migrated"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
}

// Publisher delivers events somewhere outside the unit of work
type Publisher interface {
	Publish(event Event) error
}

// BorrowerLimitSetEvent is emitted when a borrower's limit is created or changed
type BorrowerLimitSetEvent struct {
	Borrower string `json:"borrower"`
	Limit    int64  `json:"limit"`
	Created  bool   `json:"created"`
}

func (e BorrowerLimitSetEvent) Type() EventType {
	return EventTypeBorrowerLimitSet
}

// BorrowerSavedEvent is emitted when a full borrower record is written
type BorrowerSavedEvent struct {
	Borrower string `json:"borrower"`
	Limit    int64  `json:"limit"`
	Shares   int64  `json:"shares"`
}

func (e BorrowerSavedEvent) Type() EventType {
	return EventTypeBorrowerSaved
}

// SharesBorrowedEvent is emitted after a successful borrow.
// Delegate is empty for direct borrowing.
type SharesBorrowedEvent struct {
	Borrower    string `json:"borrower"`
	Delegate    string `json:"delegate,omitempty"`
	Shares      int64  `json:"shares"`
	TotalShares int64  `json:"total_shares"`
}

func (e SharesBorrowedEvent) Type() EventType {
	return EventTypeSharesBorrowed
}

// SharesRepaidEvent is emitted after a repayment
type SharesRepaidEvent struct {
	Borrower    string `json:"borrower"`
	Delegate    string `json:"delegate,omitempty"`
	Requested   int64  `json:"requested"`
	Repaid      int64  `json:"repaid"`
	Residual    int64  `json:"residual"`
	TotalShares int64  `json:"total_shares"`
}

func (e SharesRepaidEvent) Type() EventType {
	return EventTypeSharesRepaid
}

// LedgerMigratedEvent is emitted once the legacy delegate migration commits
type LedgerMigratedEvent struct {
	DelegatesCopied  int `json:"delegates_copied"`
	BorrowersUpdated int `json:"borrowers_updated"`
	Discrepancies    int `json:"discrepancies"`
}

func (e LedgerMigratedEvent) Type() EventType {
	return EventTypeLedgerMigrated
}

// Handler is a function that handles events
type Handler func(ctx context.Context, event Event)

// Bus dispatches events to in-process subscribers. It is the publisher used
// when no NATS servers are configured.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)

	log.WithFields(log.Fields{
		"eventType":    eventType,
		"handlerCount": len(b.handlers[eventType]),
	}).Debug("Subscribed handler to event type")
}

// Publish emits the event to subscribers; it never fails
func (b *Bus) Publish(event Event) error {
	b.Emit(context.Background(), event)
	return nil
}

// Emit calls every handler registered for the event type, each on its own goroutine
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event.Type()]))
	copy(handlers, b.handlers[event.Type()])
	b.mu.RUnlock()

	log.WithFields(log.Fields{
		"eventType":    event.Type(),
		"handlerCount": len(handlers),
	}).Debug("Emitting event to handlers")

	for i, handler := range handlers {
		go func(h Handler, handlerIndex int) {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(log.Fields{
						"eventType":    event.Type(),
						"handlerIndex": handlerIndex,
						"panic":        r,
					}).Error("Event handler panicked")
				}
			}()
			h(ctx, event)
		}(handler, i)
	}
}

// TransactionalPublisher holds events raised inside a unit of work until the
// transaction commits. Flush hands them to the real publisher, Discard drops them.
type TransactionalPublisher struct {
	real    Publisher
	pending []Event
}

// NewTransactionalPublisher wraps real with a pending queue
func NewTransactionalPublisher(real Publisher) *TransactionalPublisher {
	return &TransactionalPublisher{real: real}
}

// Publish stages the event; nothing leaves the process until Flush
func (p *TransactionalPublisher) Publish(event Event) error {
	log.WithFields(log.Fields{
		"eventType":    event.Type(),
		"pendingCount": len(p.pending),
	}).Debug("Adding event to transactional publisher pending queue")

	p.pending = append(p.pending, event)
	return nil
}

// Pending returns the number of staged events
func (p *TransactionalPublisher) Pending() int {
	return len(p.pending)
}

// Flush publishes all staged events. Called after a successful commit, so
// publish failures are logged and the remaining events are still sent.
func (p *TransactionalPublisher) Flush(ctx context.Context) error {
	log.WithField("pendingEventCount", len(p.pending)).Debug("Flushing pending events")

	if p.real == nil {
		p.pending = nil
		return nil
	}

	for _, event := range p.pending {
		if err := p.real.Publish(event); err != nil {
			log.WithFields(log.Fields{
				"eventType": event.Type(),
				"error":     err,
			}).Error("Failed to publish event during flush")
		}
	}

	p.pending = nil
	return nil
}

// Discard drops all staged events; called on rollback
func (p *TransactionalPublisher) Discard() {
	if len(p.pending) > 0 {
		log.WithField("discardedEventCount", len(p.pending)).Debug("Discarding pending events")
	}
	p.pending = nil
}
