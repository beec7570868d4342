package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crypto-settlement-go/internal/events"
	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/queue"
	"crypto-settlement-go/internal/store"

	"go.uber.org/zap"
)

// PayoutWorkerConfig contains configuration for PayoutWorker
type PayoutWorkerConfig struct {
	Store           store.SettlementStore
	Provider        PayoutProvider
	Publisher       events.Publisher
	Mirror          LedgerMirror // optional
	RetryCeiling    int
	ProviderTimeout time.Duration
}

// PayoutWorker disburses a completed conversion's net amount to the freelancer.
type PayoutWorker struct {
	store     store.SettlementStore
	provider  PayoutProvider
	publisher events.Publisher
	mirror    LedgerMirror
	ceiling   int
	timeout   time.Duration
}

var _ queue.Handler = (*PayoutWorker)(nil)

func NewPayoutWorker(cfg PayoutWorkerConfig) *PayoutWorker {
	ceiling := cfg.RetryCeiling
	if ceiling <= 0 {
		ceiling = 3
	}
	timeout := cfg.ProviderTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &PayoutWorker{
		store:     cfg.Store,
		provider:  cfg.Provider,
		publisher: cfg.Publisher,
		mirror:    cfg.Mirror,
		ceiling:   ceiling,
		timeout:   timeout,
	}
}

// Handle processes one payout job. Payload: invoice id, conversion id.
func (w *PayoutWorker) Handle(ctx context.Context, job *models.Job) queue.Result {
	conversion, err := w.store.GetConversion(ctx, job.EntityId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return queue.Terminal(fmt.Errorf("%w: %s", ErrConversionNotCompleted, err))
		}
		return queue.Retry(err)
	}
	if conversion.Status != models.StatusCompleted || conversion.InvoiceId != job.InvoiceId {
		return queue.Terminal(fmt.Errorf("%w: conversion %s is %s", ErrConversionNotCompleted, conversion.Id, conversion.Status))
	}

	invoice, err := w.store.GetInvoice(ctx, conversion.InvoiceId)
	if err != nil {
		return queue.Retry(err)
	}
	freelancer, err := w.store.GetFreelancer(ctx, invoice.FreelancerId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return queue.Terminal(err)
		}
		return queue.Retry(err)
	}
	if !freelancer.HasPayoutMethod() {
		zap.L().Warn("Payout blocked on missing payout method",
			zap.String("invoice_id", invoice.Id),
			zap.String("freelancer_id", freelancer.Id))
		return queue.Terminal(fmt.Errorf("%w: freelancer %s", ErrNoPayoutMethod, freelancer.Id))
	}

	payout, err := w.preparePayout(ctx, invoice, conversion)
	if err != nil {
		return queue.Retry(err)
	}

	switch payout.Status {
	case models.StatusCompleted:
		if payout.ProviderTransferId == "" {
			return queue.Skipped("payout already completed")
		}
		return w.credit(ctx, invoice, payout)
	case models.StatusPending:
		if payout.ProviderTransferId != "" {
			return w.credit(ctx, invoice, payout)
		}
	case models.StatusFailed:
		if payout.Escalated {
			return queue.Skipped("payout escalated for operator review")
		}
	}
	if payout.Status != models.StatusProcessing {
		claimed, err := w.store.ClaimPayoutForTransfer(ctx, payout.Id, w.ceiling)
		if err != nil {
			return queue.Retry(err)
		}
		if !claimed.Applied {
			return queue.Skipped("payout not claimable")
		}
		payout.Status = models.StatusProcessing
	}

	transfer, err := w.transfer(ctx, invoice, freelancer, payout)
	if err != nil {
		return w.fail(ctx, invoice, payout, err)
	}

	initiated, err := w.store.MarkPayoutInitiated(ctx, payout.Id, transfer.TransferId)
	if err != nil {
		return queue.Retry(err)
	}
	if !initiated.Applied {
		return w.settledBeforeAck(ctx, invoice, payout, transfer)
	}
	payout.Status = models.StatusPending
	payout.ProviderTransferId = transfer.TransferId

	publish(ctx, w.publisher, events.Event{
		Type:      events.PayoutInitiated,
		InvoiceId: invoice.Id,
		EntityId:  payout.Id,
		Status:    models.StatusPending,
		Data: map[string]string{
			"transfer_id": transfer.TransferId,
			"amount":      payout.AmountFiat.String(),
			"currency":    invoice.FiatCurrency,
		},
	})
	return w.credit(ctx, invoice, payout)
}

// settledBeforeAck handles a provider callback that moved the payout past
// processing before the transfer was recorded here. The credit is still owed for
// a pending or completed payout of the same generation.
func (w *PayoutWorker) settledBeforeAck(ctx context.Context, invoice *models.Invoice, payout *models.Payout, transfer *models.TransferResult) queue.Result {
	current, err := w.store.GetPayout(ctx, payout.Id)
	if err != nil {
		return queue.Retry(err)
	}
	if current.TransferKey() != payout.TransferKey() {
		return queue.Skipped("payout reset to a new generation")
	}
	if current.Status != models.StatusPending && current.Status != models.StatusCompleted {
		return queue.Skipped("payout advanced elsewhere")
	}

	if current.ProviderTransferId == "" {
		if _, err := w.store.RecordPayoutTransfer(ctx, current.Id, current.Status, transfer.TransferId); err != nil {
			return queue.Retry(err)
		}
		current.ProviderTransferId = transfer.TransferId
	}
	zap.L().Info("Payout settled before transfer acknowledgement",
		zap.String("payout_id", current.Id),
		zap.String("status", current.Status),
		zap.String("transfer_id", transfer.TransferId))
	return w.credit(ctx, invoice, current)
}

// preparePayout returns the invoice's payout, creating it from the conversion's net
// amount on first run.
func (w *PayoutWorker) preparePayout(ctx context.Context, invoice *models.Invoice, conversion *models.Conversion) (*models.Payout, error) {
	payout, err := w.store.GetPayoutByInvoice(ctx, conversion.InvoiceId)
	if err == nil {
		return payout, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	payout, err = w.store.CreatePayout(ctx, store.CreatePayoutParams{
		InvoiceId:    conversion.InvoiceId,
		ConversionId: conversion.Id,
		FreelancerId: invoice.FreelancerId,
		AmountFiat:   conversion.AmountFiatNet,
		Provider:     w.provider.Name(),
	})
	if errors.Is(err, store.ErrDuplicatePayout) {
		return w.store.GetPayoutByInvoice(ctx, conversion.InvoiceId)
	}
	return payout, err
}

func (w *PayoutWorker) transfer(ctx context.Context, invoice *models.Invoice, freelancer *models.Freelancer, payout *models.Payout) (*models.TransferResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	beneficiaryId := BeneficiaryId(freelancer.Id)
	if _, err := w.provider.CreateBeneficiary(callCtx, beneficiaryId, freelancer); err != nil {
		return nil, fmt.Errorf("unable to ensure beneficiary %s: %w", beneficiaryId, err)
	}

	transferKey := payout.TransferKey()
	transfer, err := w.provider.InitiateTransfer(callCtx, transferKey, beneficiaryId, payout.AmountFiat, "Invoice "+invoice.Id)
	if err != nil {
		return nil, fmt.Errorf("unable to initiate transfer %s: %w", transferKey, err)
	}
	if transfer.TransferId == "" {
		transfer.TransferId = transferKey
	}

	zap.L().Info("Payout transfer accepted",
		zap.String("payout_id", payout.Id),
		zap.String("transfer_id", transfer.TransferId),
		zap.String("status", transfer.Status),
		zap.String("amount", payout.AmountFiat.String()))
	return transfer, nil
}

// credit writes the freelancer's ledger credit for an initiated transfer. The
// reference makes it write-once across retries.
func (w *PayoutWorker) credit(ctx context.Context, invoice *models.Invoice, payout *models.Payout) queue.Result {
	entry, err := w.store.AppendLedgerEntry(ctx, store.LedgerEntryParams{
		FreelancerId: invoice.FreelancerId,
		InvoiceId:    invoice.Id,
		Amount:       payout.AmountFiat,
		Currency:     invoice.FiatCurrency,
		EntryType:    models.EntryCredit,
		Reason:       "payout initiated",
		Reference:    CreditReference(payout.TransferKey()),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateLedgerEntry) {
			return queue.Skipped("transfer already initiated and credited")
		}
		return queue.Retry(fmt.Errorf("unable to write ledger credit: %w", err))
	}

	if w.mirror != nil {
		if err := w.mirror.RecordLedgerEntry(ctx, entry); err != nil {
			zap.L().Warn("Failed to mirror ledger credit",
				zap.String("reference", entry.Reference), zap.Error(err))
		}
	}
	return queue.Completed()
}

// fail records the attempt. Once retry_count reaches the ceiling the payout is
// escalated and the job stops.
func (w *PayoutWorker) fail(ctx context.Context, invoice *models.Invoice, payout *models.Payout, cause error) queue.Result {
	failure, err := w.store.FailPayout(ctx, payout.Id, cause.Error(), w.ceiling)
	if err != nil {
		zap.L().Error("Failed to record payout failure", zap.String("payout_id", payout.Id), zap.Error(err))
		return queue.Retry(cause)
	}
	if failure.Escalated {
		publish(ctx, w.publisher, events.Event{
			Type:      events.PayoutEscalated,
			InvoiceId: invoice.Id,
			EntityId:  payout.Id,
			Status:    models.StatusFailed,
			Data: map[string]string{
				"retry_count": fmt.Sprint(failure.RetryCount),
				"error":       cause.Error(),
			},
		})
		return queue.Terminal(fmt.Errorf("payout escalated after %d failures: %w", failure.RetryCount, cause))
	}
	return queue.Retry(cause)
}
