package events

import (
	"context"
	"sync"
	"time"

	"crypto-settlement-go/internal/models"
)

const (
	InvoiceReceived   = "invoice.received"
	InvoiceConverting = "invoice.converting"
	InvoicePaid       = "invoice.paid"
	InvoiceFailed     = "invoice.failed"
	InvoiceExpired    = "invoice.expired"

	DepositConfirmed    = "deposit.confirmed"
	ConversionCompleted = "conversion.completed"
	PayoutInitiated     = "payout.initiated"
	PayoutCompleted     = "payout.completed"
	PayoutFailed        = "payout.failed"
	PayoutEscalated     = "payout.escalated"

	ReconciliationDiscrepancy = "reconciliation.discrepancy"
)

// Event is a domain fact emitted after a state change was applied.
type Event struct {
	Type       string            `json:"type"`
	InvoiceId  string            `json:"invoice_id"`
	EntityId   string            `json:"entity_id,omitempty"`
	Status     string            `json:"status,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Publisher delivers domain events. Publishing is best effort: a failed
// publish never rolls back the state change that produced the event.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// InvoiceEventType maps an invoice status to its event type.
func InvoiceEventType(status string) string {
	switch status {
	case models.InvoiceReceived:
		return InvoiceReceived
	case models.InvoiceConverting:
		return InvoiceConverting
	case models.InvoicePaid:
		return InvoicePaid
	case models.InvoiceFailed:
		return InvoiceFailed
	case models.InvoiceExpired:
		return InvoiceExpired
	}
	return "invoice." + status
}

// New returns a Kafka publisher when brokers are configured, otherwise a no-op.
func New(cfg models.EventsConfig) Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		return NoopPublisher{}
	}
	return NewKafkaPublisher(cfg.KafkaBrokers, cfg.Topic)
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) Close() error                         { return nil }

// MemoryPublisher keeps events in memory; used by tests and local runs.
type MemoryPublisher struct {
	mutex  sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (m *MemoryPublisher) Publish(_ context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryPublisher) Close() error { return nil }

// Events returns a copy of everything published so far.
func (m *MemoryPublisher) Events() []Event {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Types returns the published event types in order.
func (m *MemoryPublisher) Types() []string {
	events := m.Events()
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}
