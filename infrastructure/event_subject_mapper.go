package infrastructure

import (
	"strings"

	"borrowledger/events"
)

// SubjectPrefix is the root of every subject the ledger publishes to
const SubjectPrefix = "ledger"

// LedgerStreamName is the JetStream stream holding ledger events
const LedgerStreamName = "ledger_events"

// EventSubjectMapper handles mapping between ledger events and NATS subjects
type EventSubjectMapper struct{}

// NewEventSubjectMapper creates a new event subject mapper
func NewEventSubjectMapper() *EventSubjectMapper {
	return &EventSubjectMapper{}
}

// MapEventToSubject converts a ledger event to its NATS subject
func (m *EventSubjectMapper) MapEventToSubject(event events.Event) string {
	return SubjectPrefix + "." + string(event.Type())
}

// MapSubjectToEventType converts a NATS subject back to an event type
func (m *EventSubjectMapper) MapSubjectToEventType(subject string) events.EventType {
	return events.EventType(strings.TrimPrefix(subject, SubjectPrefix+"."))
}

// GetAllSubjects returns all subjects that this service publishes to
func (m *EventSubjectMapper) GetAllSubjects() []string {
	types := []events.EventType{
		events.EventTypeBorrowerLimitSet,
		events.EventTypeBorrowerSaved,
		events.EventTypeSharesBorrowed,
		events.EventTypeSharesRepaid,
		events.EventTypeLedgerMigrated,
	}

	subjects := make([]string, 0, len(types))
	for _, t := range types {
		subjects = append(subjects, SubjectPrefix+"."+string(t))
	}
	return subjects
}
