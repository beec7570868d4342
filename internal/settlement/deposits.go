package settlement

import (
	"context"
	"errors"
	"fmt"

	"crypto-settlement-go/internal/events"
	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/store"

	"go.uber.org/zap"
)

// Enqueuer schedules follow-up work. *queue.Queue satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, lane, invoiceId, entityId string) (*models.Job, bool, error)
}

// ConfirmationSource reports the chain's view of a transaction.
type ConfirmationSource interface {
	ConfirmationsFor(ctx context.Context, txHash string) (models.TxStatus, error)
}

// ConfirmResult describes what a confirmation pass did.
type ConfirmResult struct {
	Confirmed bool // deposit is confirmed after the call
	Received  bool // this call moved the invoice to received
	Enqueued  bool // this call scheduled the conversion
}

// DepositService bridges observed transfers into deposits and drives confirmed
// deposits into the conversion lane.
type DepositService struct {
	store     store.SettlementStore
	machine   *Machine
	enqueuer  Enqueuer
	publisher events.Publisher
	threshold int
}

func NewDepositService(s store.SettlementStore, machine *Machine, enqueuer Enqueuer, publisher events.Publisher, threshold int) *DepositService {
	if threshold <= 0 {
		threshold = 3
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &DepositService{
		store:     s,
		machine:   machine,
		enqueuer:  enqueuer,
		publisher: publisher,
		threshold: threshold,
	}
}

func (d *DepositService) Threshold() int {
	return d.threshold
}

// RecordTransfer stores a transfer into the invoice's address. A repeated sighting of
// the same hash returns the existing deposit with created=false. Transfers already
// past the threshold are confirmed immediately.
func (d *DepositService) RecordTransfer(ctx context.Context, invoice *models.Invoice, transfer models.ChainTransfer, confirmations int) (*models.Deposit, bool, error) {
	if transfer.Hash == "" {
		return nil, false, fmt.Errorf("transfer has no transaction hash")
	}

	deposit, err := d.store.CreateDeposit(ctx, store.CreateDepositParams{
		InvoiceId:     invoice.Id,
		TxHash:        transfer.Hash,
		FromAddress:   transfer.From,
		AmountToken:   transfer.Amount,
		Confirmations: confirmations,
	})
	created := true
	if err != nil {
		if !errors.Is(err, store.ErrDuplicateDeposit) {
			return nil, false, err
		}
		created = false
		deposit, err = d.store.GetDepositByTxHash(ctx, transfer.Hash)
		if err != nil {
			return nil, false, fmt.Errorf("unable to load existing deposit: %w", err)
		}
		zap.L().Debug("Transfer already recorded", zap.String("tx_hash", transfer.Hash))
		// re-driving a confirmed deposit is left to Recheck
		if deposit.Status == models.DepositConfirmed {
			return deposit, false, nil
		}
	}

	if created && transfer.Amount.LessThan(invoice.AmountToken) {
		zap.L().Warn("Deposit below invoiced token amount",
			zap.String("invoice_id", invoice.Id),
			zap.String("expected", invoice.AmountToken.String()),
			zap.String("received", transfer.Amount.String()))
	}

	if confirmations > deposit.Confirmations && deposit.Status == models.DepositPending {
		deposit.Confirmations = confirmations
	}
	if deposit.Confirmations >= d.threshold {
		if _, err := d.Confirm(ctx, deposit, deposit.Confirmations); err != nil {
			return deposit, created, err
		}
	}
	return deposit, created, nil
}

// Confirm marks the deposit confirmed, moves the invoice to received and enqueues the
// conversion. If the invoice is no longer pending the deposit still ends up confirmed
// and nothing is enqueued.
func (d *DepositService) Confirm(ctx context.Context, deposit *models.Deposit, confirmations int) (ConfirmResult, error) {
	var result ConfirmResult
	if confirmations < d.threshold {
		return result, fmt.Errorf("deposit %s has %d confirmations, needs %d", deposit.Id, confirmations, d.threshold)
	}

	cas, err := d.store.ConfirmDeposit(ctx, deposit.Id, confirmations)
	if err != nil {
		return result, err
	}
	if !cas.Applied {
		current, err := d.store.GetDeposit(ctx, deposit.Id)
		if err != nil {
			return result, err
		}
		if current.Status != models.DepositConfirmed {
			zap.L().Debug("Deposit not confirmable",
				zap.String("deposit_id", deposit.Id), zap.String("status", current.Status))
			return result, nil
		}
	} else {
		d.publish(ctx, events.Event{
			Type:      events.DepositConfirmed,
			InvoiceId: deposit.InvoiceId,
			EntityId:  deposit.Id,
			Status:    models.DepositConfirmed,
			Data:      map[string]string{"tx_hash": deposit.TxHash, "amount": deposit.AmountToken.String()},
		})
	}
	result.Confirmed = true
	deposit.Status = models.DepositConfirmed

	received, err := d.machine.MarkReceived(ctx, deposit.InvoiceId)
	if err != nil {
		return result, err
	}
	if !received.Applied {
		zap.L().Info("Invoice no longer pending, conversion not scheduled",
			zap.String("invoice_id", deposit.InvoiceId),
			zap.String("deposit_id", deposit.Id))
		return result, nil
	}
	result.Received = true

	_, added, err := d.enqueuer.Enqueue(ctx, models.LaneConversion, deposit.InvoiceId, deposit.Id)
	if err != nil {
		return result, err
	}
	result.Enqueued = added
	return result, nil
}

// CheckConfirmations walks every pending deposit and applies the chain's current view.
func (d *DepositService) CheckConfirmations(ctx context.Context, source ConfirmationSource) (int, error) {
	deposits, err := d.store.ListPendingDeposits(ctx)
	if err != nil {
		return 0, err
	}

	confirmed := 0
	for i := range deposits {
		ok, err := d.Recheck(ctx, source, &deposits[i])
		if err != nil {
			zap.L().Error("Failed to check deposit confirmations",
				zap.String("deposit_id", deposits[i].Id),
				zap.String("tx_hash", deposits[i].TxHash),
				zap.Error(err))
			continue
		}
		if ok {
			confirmed++
		}
	}
	return confirmed, nil
}

// Recheck refreshes one deposit against the chain. It reports whether the deposit is
// confirmed after the call.
func (d *DepositService) Recheck(ctx context.Context, source ConfirmationSource, deposit *models.Deposit) (bool, error) {
	if deposit.Status == models.DepositConfirmed {
		result, err := d.Confirm(ctx, deposit, max(deposit.Confirmations, d.threshold))
		return result.Confirmed, err
	}
	if deposit.Status != models.DepositPending {
		return false, nil
	}

	status, err := source.ConfirmationsFor(ctx, deposit.TxHash)
	if err != nil {
		return false, fmt.Errorf("unable to fetch confirmations: %w", err)
	}
	if !status.Found {
		return false, nil
	}
	if status.Reverted {
		if _, err := d.store.FailDeposit(ctx, deposit.Id); err != nil {
			return false, err
		}
		return false, nil
	}
	if status.Confirmations < d.threshold {
		if status.Confirmations != deposit.Confirmations {
			if err := d.store.UpdateDepositConfirmations(ctx, deposit.Id, status.Confirmations); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	result, err := d.Confirm(ctx, deposit, status.Confirmations)
	return result.Confirmed, err
}

func (d *DepositService) publish(ctx context.Context, event events.Event) {
	if err := d.publisher.Publish(ctx, event); err != nil {
		zap.L().Warn("Failed to publish event", zap.String("event_type", event.Type), zap.Error(err))
	}
}
