package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"borrowledger/events"
	"borrowledger/infrastructure/observability"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// SourceService identifies this process in event envelopes
const SourceService = "borrowledger"

// EventEnvelope wraps every published event
type EventEnvelope struct {
	EventID       string                 `json:"event_id"`
	EventType     string                 `json:"event_type"`
	Timestamp     *timestamppb.Timestamp `json:"timestamp"`
	SourceService string                 `json:"source_service"`
	Payload       json.RawMessage        `json:"payload"`
}

// messagePublisher is the subset of NATSClient the event publisher needs
type messagePublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NATSEventPublisher implements events.Publisher using NATS
type NATSEventPublisher struct {
	client         messagePublisher
	subjectMapper  *EventSubjectMapper
	publishTimeout time.Duration
}

// NewNATSEventPublisher creates a new NATS event publisher
func NewNATSEventPublisher(client messagePublisher, subjectMapper *EventSubjectMapper) *NATSEventPublisher {
	return &NATSEventPublisher{
		client:         client,
		subjectMapper:  subjectMapper,
		publishTimeout: 5 * time.Second,
	}
}

// Publish wraps the event in an envelope and publishes it on its subject
func (p *NATSEventPublisher) Publish(event events.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.publishTimeout)
	defer cancel()

	subject := p.subjectMapper.MapEventToSubject(event)

	envelope, err := NewEventEnvelope(event)
	if err != nil {
		return err
	}

	envelopeData, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	if err := p.client.Publish(ctx, subject, envelopeData); err != nil {
		return fmt.Errorf("failed to publish event to NATS: %w", err)
	}

	observability.GetMetrics().RecordNATSMessagePublished(string(event.Type()))

	log.WithFields(log.Fields{
		"eventType": event.Type(),
		"eventId":   envelope.EventID,
		"subject":   subject,
	}).Debug("Successfully published event to NATS")

	return nil
}

// EnsureLedgerEventStream ensures the ledger_events stream exists with every ledger subject
func (p *NATSEventPublisher) EnsureLedgerEventStream(client *NATSClient) error {
	return client.EnsureStream(LedgerStreamName, p.subjectMapper.GetAllSubjects())
}

// NewEventEnvelope serializes the event payload into a fresh envelope
func NewEventEnvelope(event events.Event) (*EventEnvelope, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	return &EventEnvelope{
		EventID:       uuid.New().String(),
		EventType:     string(event.Type()),
		Timestamp:     timestamppb.Now(),
		SourceService: SourceService,
		Payload:       payload,
	}, nil
}
