package workers

import (
	"context"
	"errors"

	"crypto-settlement-go/internal/events"
	"crypto-settlement-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrNoPayoutMethod         = errors.New("freelancer has no payout method configured")
	ErrConversionNotCompleted = errors.New("conversion is not completed")
	ErrDepositNotConfirmed    = errors.New("deposit is not confirmed")
	ErrOrderNotFilled         = errors.New("exchange order not filled")
	ErrOrderRejected          = errors.New("exchange order rejected")
)

// Exchange sells deposited tokens for fiat.
type Exchange interface {
	Rate(ctx context.Context, tokenSymbol, fiatSymbol string) (decimal.Decimal, error)
	MarketSell(ctx context.Context, tokenSymbol string, amount decimal.Decimal, idempotencyKey string) (*models.OrderResult, error)
	GetOrder(ctx context.Context, orderId string) (*models.OrderResult, error)
}

// PayoutProvider disburses fiat to a beneficiary account.
type PayoutProvider interface {
	Name() string
	CreateBeneficiary(ctx context.Context, beneficiaryId string, freelancer *models.Freelancer) (*models.BeneficiaryResult, error)
	InitiateTransfer(ctx context.Context, transferId, beneficiaryId string, amount decimal.Decimal, remarks string) (*models.TransferResult, error)
}

// LedgerMirror receives every ledger entry after it is written locally.
type LedgerMirror interface {
	RecordLedgerEntry(ctx context.Context, entry *models.LedgerEntry) error
}

// IdempotencyKey is the client order id of a conversion's market sell.
func IdempotencyKey(conversionId string) string {
	return "conv_" + conversionId
}

// BeneficiaryId is the payout provider id of a freelancer.
func BeneficiaryId(freelancerId string) string {
	return "ben_" + freelancerId
}

// CreditReference is the ledger reference of the credit for a transfer.
func CreditReference(transferKey string) string {
	return "credit:" + transferKey
}

// ReversalReference is the ledger reference of the compensating debit for a transfer.
func ReversalReference(transferKey string) string {
	return "reversal:" + transferKey
}

var hundred = decimal.NewFromInt(100)

// ComputeAmounts returns gross = round_half_even(amount x rate, 2),
// fee = round_half_even(gross x pct / 100, 2) and net = gross - fee. All three are
// at two decimals so net is exactly what the payout provider moves.
func ComputeAmounts(amount, rate, feePercent decimal.Decimal) (gross, fee, net decimal.Decimal) {
	gross = amount.Mul(rate).RoundBank(2)
	fee = gross.Mul(feePercent).Div(hundred).RoundBank(2)
	net = gross.Sub(fee)
	return gross, fee, net
}

func publish(ctx context.Context, publisher events.Publisher, event events.Event) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, event); err != nil {
		zap.L().Warn("Failed to publish event",
			zap.String("event_type", event.Type),
			zap.String("invoice_id", event.InvoiceId),
			zap.Error(err))
	}
}
