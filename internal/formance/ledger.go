package formance

import (
	"context"
	"fmt"
	"math/big"

	"crypto-settlement-go/internal/models"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// platformAccount funds payouts. It may run negative; the real float sits at the
// payout provider.
const platformAccount = "platform:payouts"

const numscriptCredit = `vars {
  asset $asset
  number $amount
  account $freelancer
  string $invoice_id
  string $reason
  string $local_entry_id
}

send [$asset $amount] (
  source = @platform:payouts allowing unbounded overdraft
  destination = $freelancer
)

set_tx_meta("entry_type", "credit")
set_tx_meta("invoice_id", $invoice_id)
set_tx_meta("reason", $reason)
set_tx_meta("local_entry_id", $local_entry_id)
`

const numscriptDebit = `vars {
  asset $asset
  number $amount
  account $freelancer
  string $invoice_id
  string $reason
  string $local_entry_id
}

send [$asset $amount] (
  source = $freelancer allowing unbounded overdraft
  destination = @platform:payouts
)

set_tx_meta("entry_type", "debit")
set_tx_meta("invoice_id", $invoice_id)
set_tx_meta("reason", $reason)
set_tx_meta("local_entry_id", $local_entry_id)
`

func freelancerAccount(freelancerId string) string {
	return "freelancers:" + freelancerId
}

// RecordLedgerEntry posts a local ledger entry. The entry reference is the
// Formance transaction reference, so a replay is a no-op.
func (s *Service) RecordLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error {
	script := numscriptCredit
	if entry.EntryType == models.EntryDebit {
		script = numscriptDebit
	}

	_, err := s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger: s.ledger,
		V2PostTransaction: shared.V2PostTransaction{
			Reference: v3.Pointer(entry.Reference),
			Script: &shared.V2PostTransactionScript{
				Plain: script,
				Vars: map[string]string{
					"asset":          umn(entry.Currency),
					"amount":         minorUnits(entry.Amount, entry.Currency),
					"freelancer":     freelancerAccount(entry.FreelancerId),
					"invoice_id":     entry.InvoiceId,
					"reason":         entry.Reason,
					"local_entry_id": entry.Id,
				},
			},
		},
	})
	if err != nil {
		if hasErrorCode(err, shared.V2ErrorsEnumConflict) {
			zap.L().Debug("Ledger entry already mirrored", zap.String("reference", entry.Reference))
			return nil
		}
		return fmt.Errorf("error mirroring ledger entry: %w", err)
	}

	zap.L().Info("Ledger entry mirrored to Formance",
		zap.String("reference", entry.Reference),
		zap.String("entry_type", entry.EntryType),
		zap.String("freelancer_id", entry.FreelancerId),
		zap.String("amount", entry.Amount.String()))
	return nil
}

// Balance returns the mirrored balance of a freelancer in one currency.
func (s *Service) Balance(ctx context.Context, freelancerId, currency string) (decimal.Decimal, error) {
	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: freelancerAccount(freelancerId),
		Expand:  v3.Pointer("volumes"),
	})
	if err != nil {
		if hasErrorCode(err, shared.V2ErrorsEnumNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("failed to get account: %w", err)
	}

	bal := volumeBalance(resp.V2AccountResponse.Data.Volumes, umn(currency))
	return fromMinorUnits(bal, currency), nil
}

// PlatformBalance returns the platform payout account balance per currency. It is
// the negative of everything credited to freelancers net of reversals.
func (s *Service) PlatformBalance(ctx context.Context) (map[string]decimal.Decimal, error) {
	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: platformAccount,
		Expand:  v3.Pointer("volumes"),
	})
	if err != nil {
		if hasErrorCode(err, shared.V2ErrorsEnumNotFound) {
			return map[string]decimal.Decimal{}, nil
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	balances := make(map[string]decimal.Decimal)
	volumes := resp.V2AccountResponse.Data.Volumes
	for asset := range volumes {
		currency := currencyOf(asset)
		balances[currency] = fromMinorUnits(volumeBalance(volumes, asset), currency)
	}
	return balances, nil
}

// volumeBalance extracts the balance for a specific asset from volumes.
func volumeBalance(vols map[string]shared.V2Volume, fAsset string) *big.Int {
	vol, ok := vols[fAsset]
	if !ok {
		return nil
	}
	if vol.Balance != nil {
		return vol.Balance
	}
	if vol.Input == nil {
		return nil
	}
	result := new(big.Int).Set(vol.Input)
	if vol.Output != nil {
		result.Sub(result, vol.Output)
	}
	return result
}
