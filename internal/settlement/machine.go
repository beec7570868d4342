package settlement

import (
	"context"
	"fmt"
	"time"

	"crypto-settlement-go/internal/events"
	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/store"

	"go.uber.org/zap"
)

// allowedFrom lists, per target status, the statuses an invoice may leave to reach it.
var allowedFrom = map[string][]string{
	models.InvoiceReceived:   {models.InvoicePending},
	models.InvoiceConverting: {models.InvoiceReceived},
	models.InvoicePaid:       {models.InvoiceConverting},
	models.InvoiceFailed:     {models.InvoicePending, models.InvoiceReceived, models.InvoiceConverting},
	models.InvoiceExpired:    {models.InvoicePending},
}

// CanTransition reports whether from -> to is an edge of the invoice lifecycle.
func CanTransition(from, to string) bool {
	for _, f := range allowedFrom[to] {
		if f == from {
			return true
		}
	}
	return false
}

// AllowedFrom returns the prior statuses accepted for a transition to status to.
func AllowedFrom(to string) []string {
	return allowedFrom[to]
}

// Machine drives invoices through their lifecycle. Every transition is a single
// conditional write; a transition that does not apply means another actor got
// there first and is reported back as CAS{Applied: false}.
type Machine struct {
	store     store.SettlementStore
	publisher events.Publisher
}

func NewMachine(s store.SettlementStore, publisher events.Publisher) *Machine {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Machine{store: s, publisher: publisher}
}

func (m *Machine) MarkReceived(ctx context.Context, invoiceId string) (store.CAS, error) {
	return m.transition(ctx, invoiceId, models.InvoiceReceived, nil)
}

func (m *Machine) MarkConverting(ctx context.Context, invoiceId string) (store.CAS, error) {
	return m.transition(ctx, invoiceId, models.InvoiceConverting, nil)
}

func (m *Machine) MarkPaid(ctx context.Context, invoiceId string) (store.CAS, error) {
	return m.transition(ctx, invoiceId, models.InvoicePaid, nil)
}

func (m *Machine) MarkFailed(ctx context.Context, invoiceId, reason string) (store.CAS, error) {
	return m.transition(ctx, invoiceId, models.InvoiceFailed, map[string]string{"reason": reason})
}

func (m *Machine) Expire(ctx context.Context, invoiceId string) (store.CAS, error) {
	return m.transition(ctx, invoiceId, models.InvoiceExpired, nil)
}

func (m *Machine) transition(ctx context.Context, invoiceId, to string, data map[string]string) (store.CAS, error) {
	from := AllowedFrom(to)
	if len(from) == 0 {
		return store.CAS{}, fmt.Errorf("no transition leads to invoice status %s", to)
	}

	result, err := m.store.TransitionInvoice(ctx, invoiceId, to, from...)
	if err != nil {
		return store.CAS{}, err
	}
	if !result.Applied {
		return result, nil
	}

	event := events.Event{
		Type:       events.InvoiceEventType(to),
		InvoiceId:  invoiceId,
		EntityId:   invoiceId,
		Status:     to,
		Data:       data,
		OccurredAt: time.Now().UTC(),
	}
	if err := m.publisher.Publish(ctx, event); err != nil {
		zap.L().Warn("Failed to publish invoice event",
			zap.String("invoice_id", invoiceId),
			zap.String("event_type", event.Type),
			zap.Error(err))
	}
	return result, nil
}

// ExpireOverdue moves every pending invoice past its expiry to expired. An invoice
// confirmed concurrently simply loses the race here and is skipped.
func (m *Machine) ExpireOverdue(ctx context.Context, at time.Time) (int, error) {
	overdue, err := m.store.ListOverdueInvoices(ctx, at, 0)
	if err != nil {
		return 0, fmt.Errorf("unable to list overdue invoices: %w", err)
	}

	expired := 0
	for _, invoice := range overdue {
		result, err := m.Expire(ctx, invoice.Id)
		if err != nil {
			zap.L().Error("Failed to expire invoice", zap.String("invoice_id", invoice.Id), zap.Error(err))
			continue
		}
		if result.Applied {
			expired++
		}
	}

	if expired > 0 {
		zap.L().Info("Expired overdue invoices", zap.Int("count", expired), zap.Int("candidates", len(overdue)))
	}
	return expired, nil
}
