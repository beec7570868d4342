package reconcile

import (
	"context"
	"fmt"
	"time"

	"crypto-settlement-go/internal/events"
	"crypto-settlement-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	KindMissingPayout  = "missing_payout"
	KindAmountMismatch = "amount_mismatch"
)

// Tolerance is the largest conversion/payout difference treated as equal.
var Tolerance = decimal.New(1, -2)

// Source is the read side of the store that reconciliation needs.
type Source interface {
	ListCompletedConversions(ctx context.Context) ([]models.Conversion, error)
	ListReconcilablePayouts(ctx context.Context) ([]models.Payout, error)
}

type Discrepancy struct {
	Kind         string          `json:"kind"`
	InvoiceId    string          `json:"invoice_id"`
	ConversionId string          `json:"conversion_id"`
	PayoutId     string          `json:"payout_id,omitempty"`
	Expected     decimal.Decimal `json:"expected"`
	Actual       decimal.Decimal `json:"actual"`
	Delta        decimal.Decimal `json:"delta"`
}

type Report struct {
	Conversions   int           `json:"conversions"`
	Payouts       int           `json:"payouts"`
	Matched       int           `json:"matched"`
	Discrepancies []Discrepancy `json:"discrepancies"`
	GeneratedAt   time.Time     `json:"generated_at"`
}

// Count returns the number of discrepancies of kind.
func (r *Report) Count(kind string) int {
	n := 0
	for _, d := range r.Discrepancies {
		if d.Kind == kind {
			n++
		}
	}
	return n
}

// Reconciler compares completed conversions to their payouts. It only reads.
type Reconciler struct {
	source    Source
	publisher events.Publisher
}

func New(source Source, publisher events.Publisher) *Reconciler {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Reconciler{source: source, publisher: publisher}
}

func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	conversions, err := r.source.ListCompletedConversions(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to list completed conversions: %w", err)
	}
	payouts, err := r.source.ListReconcilablePayouts(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to list payouts: %w", err)
	}

	report := Compare(conversions, payouts)

	for _, d := range report.Discrepancies {
		zap.L().Warn("Reconciliation discrepancy",
			zap.String("kind", d.Kind),
			zap.String("invoice_id", d.InvoiceId),
			zap.String("expected", d.Expected.String()),
			zap.String("actual", d.Actual.String()),
			zap.String("delta", d.Delta.String()))

		event := events.Event{
			Type:      events.ReconciliationDiscrepancy,
			InvoiceId: d.InvoiceId,
			EntityId:  d.ConversionId,
			Status:    d.Kind,
			Data: map[string]string{
				"expected": d.Expected.String(),
				"actual":   d.Actual.String(),
				"delta":    d.Delta.String(),
			},
		}
		if err := r.publisher.Publish(ctx, event); err != nil {
			zap.L().Warn("Failed to publish discrepancy", zap.String("invoice_id", d.InvoiceId), zap.Error(err))
		}
	}

	zap.L().Info("Reconciliation finished",
		zap.Int("conversions", report.Conversions),
		zap.Int("payouts", report.Payouts),
		zap.Int("matched", report.Matched),
		zap.Int("discrepancies", len(report.Discrepancies)))
	return report, nil
}

// Compare matches conversions to payouts by invoice id.
func Compare(conversions []models.Conversion, payouts []models.Payout) *Report {
	byInvoice := make(map[string]models.Payout, len(payouts))
	for _, p := range payouts {
		byInvoice[p.InvoiceId] = p
	}

	report := &Report{
		Conversions:   len(conversions),
		Payouts:       len(payouts),
		Discrepancies: []Discrepancy{},
		GeneratedAt:   time.Now().UTC(),
	}
	for _, c := range conversions {
		payout, ok := byInvoice[c.InvoiceId]
		if !ok {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				Kind:         KindMissingPayout,
				InvoiceId:    c.InvoiceId,
				ConversionId: c.Id,
				Expected:     c.AmountFiatNet,
				Actual:       decimal.Zero,
				Delta:        c.AmountFiatNet,
			})
			continue
		}

		delta := c.AmountFiatNet.Sub(payout.AmountFiat).Abs()
		if delta.GreaterThan(Tolerance) {
			report.Discrepancies = append(report.Discrepancies, Discrepancy{
				Kind:         KindAmountMismatch,
				InvoiceId:    c.InvoiceId,
				ConversionId: c.Id,
				PayoutId:     payout.Id,
				Expected:     c.AmountFiatNet,
				Actual:       payout.AmountFiat,
				Delta:        delta,
			})
			continue
		}
		report.Matched++
	}
	return report
}
