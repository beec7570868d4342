/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package store

import (
	"context"
	"errors"
	"time"

	"crypto-settlement-go/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound               = errors.New("record not found")
	ErrDuplicateDeposit       = errors.New("deposit with this transaction hash already exists")
	ErrDuplicateConversion    = errors.New("conversion already exists for invoice")
	ErrDuplicatePayout        = errors.New("payout already exists for invoice")
	ErrDuplicateLedgerEntry   = errors.New("ledger entry with this reference already exists")
	ErrDuplicateFreelancer    = errors.New("freelancer with this email already exists")
	ErrPoolExhausted          = errors.New("no free custody address for network")
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// CAS is the result of a compare-and-swap status transition. Applied is false when
// the row was not in one of the expected prior states; callers treat that as
// "already handled", never as a retry trigger.
type CAS struct {
	Applied bool
	To      string
}

// Applied and NotApplied build CAS results for a target status.
func Applied(to string) CAS    { return CAS{Applied: true, To: to} }
func NotApplied(to string) CAS { return CAS{Applied: false, To: to} }

// CreateInvoiceParams contains the parameters for creating an invoice.
type CreateInvoiceParams struct {
	Id             string
	FreelancerId   string
	AmountFiat     decimal.Decimal
	FiatCurrency   string
	AmountToken    decimal.Decimal
	TokenSymbol    string
	TokenNetwork   string
	Memo           string
	DepositAddress string
	AddressSource  string
	PublicUrl      string
	ExpiresAt      time.Time
}

// ListInvoicesParams filters the joined invoice view.
type ListInvoicesParams struct {
	FreelancerId string
	Status       string
	Limit        int
	Offset       int
}

// CreateDepositParams describes a first sighting of a transfer.
type CreateDepositParams struct {
	InvoiceId     string
	TxHash        string
	FromAddress   string
	AmountToken   decimal.Decimal
	Confirmations int
}

// CreateConversionParams captures the locked rate and computed amounts.
type CreateConversionParams struct {
	InvoiceId       string
	DepositId       string
	Rate            decimal.Decimal
	AmountToken     decimal.Decimal
	AmountFiatGross decimal.Decimal
	PlatformFee     decimal.Decimal
	AmountFiatNet   decimal.Decimal
}

// CreatePayoutParams describes a new disbursement.
type CreatePayoutParams struct {
	InvoiceId    string
	ConversionId string
	FreelancerId string
	AmountFiat   decimal.Decimal
	Provider     string
}

// PayoutFailure is the outcome of recording a failed payout attempt.
type PayoutFailure struct {
	CAS
	RetryCount int
	Escalated  bool
}

// WebhookEventParams contains the audit fields of an inbound callback.
type WebhookEventParams struct {
	Provider       string
	EventType      string
	Payload        string
	SignatureValid bool
}

// LedgerEntryParams contains the fields of an append-only ledger entry.
type LedgerEntryParams struct {
	FreelancerId string
	InvoiceId    string
	Amount       decimal.Decimal
	Currency     string
	EntryType    string
	Reason       string
	Reference    string
}

// CreateFreelancerParams contains the fields of a new freelancer.
type CreateFreelancerParams struct {
	Name              string
	Email             string
	Phone             string
	PayoutMethod      string
	BankAccountNumber string
	BankIfsc          string
	UpiId             string
}

// SettlementStore is the persistence contract of the settlement pipeline. Every status
// change is a conditional write returning CAS; inserts into webhook_events and
// ledger_entries are append-only.
type SettlementStore interface {
	// --- Invoices ---
	CreateInvoice(ctx context.Context, params CreateInvoiceParams) (*models.Invoice, error)
	GetInvoice(ctx context.Context, invoiceId string) (*models.Invoice, error)
	FindPendingInvoiceByAddress(ctx context.Context, address string) (*models.Invoice, error)
	ListPendingAddresses(ctx context.Context) ([]models.PendingAddress, error)
	ListOverdueInvoices(ctx context.Context, now time.Time, limit int) ([]models.Invoice, error)
	TransitionInvoice(ctx context.Context, invoiceId, to string, from ...string) (CAS, error)
	GetInvoiceSummary(ctx context.Context, invoiceId string) (*models.InvoiceSummary, error)
	ListInvoiceSummaries(ctx context.Context, params ListInvoicesParams) ([]models.InvoiceSummary, error)

	// --- Deposits ---
	CreateDeposit(ctx context.Context, params CreateDepositParams) (*models.Deposit, error)
	GetDeposit(ctx context.Context, depositId string) (*models.Deposit, error)
	GetDepositByTxHash(ctx context.Context, txHash string) (*models.Deposit, error)
	ListPendingDeposits(ctx context.Context) ([]models.Deposit, error)
	UpdateDepositConfirmations(ctx context.Context, depositId string, confirmations int) error
	ConfirmDeposit(ctx context.Context, depositId string, confirmations int) (CAS, error)
	FailDeposit(ctx context.Context, depositId string) (CAS, error)

	// --- Conversions ---
	CreateConversion(ctx context.Context, params CreateConversionParams) (*models.Conversion, error)
	GetConversion(ctx context.Context, conversionId string) (*models.Conversion, error)
	GetConversionByInvoice(ctx context.Context, invoiceId string) (*models.Conversion, error)
	SetConversionOrder(ctx context.Context, conversionId, orderId string) error
	CompleteConversion(ctx context.Context, conversionId, orderId string) (CAS, error)
	FailConversion(ctx context.Context, conversionId, errMsg string) (CAS, error)
	ResumeConversion(ctx context.Context, conversionId string) (CAS, error)
	ListCompletedConversions(ctx context.Context) ([]models.Conversion, error)

	// --- Payouts ---
	CreatePayout(ctx context.Context, params CreatePayoutParams) (*models.Payout, error)
	GetPayout(ctx context.Context, payoutId string) (*models.Payout, error)
	GetPayoutByInvoice(ctx context.Context, invoiceId string) (*models.Payout, error)
	GetPayoutByTransferKey(ctx context.Context, transferKey string) (*models.Payout, error)
	ClaimPayoutForTransfer(ctx context.Context, payoutId string, ceiling int) (CAS, error)
	MarkPayoutInitiated(ctx context.Context, payoutId, transferId string) (CAS, error)
	// RecordPayoutTransfer sets the transfer id of a pending or completed payout that
	// has none yet. The status is left unchanged.
	RecordPayoutTransfer(ctx context.Context, payoutId, status, transferId string) (CAS, error)
	CompletePayout(ctx context.Context, payoutId string) (CAS, error)
	FailPayout(ctx context.Context, payoutId, errMsg string, ceiling int) (PayoutFailure, error)
	RejectPayout(ctx context.Context, payoutId, errMsg string) (CAS, error)
	ResetPayoutForRetry(ctx context.Context, payoutId string) (CAS, error)
	ListSettlingPayouts(ctx context.Context) ([]models.Payout, error)
	ListReconcilablePayouts(ctx context.Context) ([]models.Payout, error)
	ListEscalatedPayouts(ctx context.Context) ([]models.Payout, error)

	// --- Webhook events ---
	InsertWebhookEvent(ctx context.Context, params WebhookEventParams) (*models.WebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, eventId, errMsg string) error
	ListWebhookEvents(ctx context.Context, provider string, limit, offset int) ([]models.WebhookEvent, error)

	// --- Ledger ---
	AppendLedgerEntry(ctx context.Context, params LedgerEntryParams) (*models.LedgerEntry, error)
	HasLedgerEntry(ctx context.Context, reference string) (bool, error)
	ListLedgerEntries(ctx context.Context, freelancerId string, limit, offset int) ([]models.LedgerEntry, error)
	GetFreelancerBalance(ctx context.Context, freelancerId string) (decimal.Decimal, error)

	// --- Freelancers ---
	CreateFreelancer(ctx context.Context, params CreateFreelancerParams) (*models.Freelancer, error)
	GetFreelancer(ctx context.Context, freelancerId string) (*models.Freelancer, error)
	GetFreelancerByEmail(ctx context.Context, email string) (*models.Freelancer, error)
	UpdatePayoutMethod(ctx context.Context, freelancerId string, update models.PayoutMethodUpdate) (*models.Freelancer, error)

	// --- Custody pool ---
	AddCustodyAddresses(ctx context.Context, network string, addresses []string) (int, error)
	ClaimCustodyAddress(ctx context.Context, network, invoiceId string) (string, error)

	// --- Operator ---
	GetStats(ctx context.Context) (*models.Stats, error)
	Ping(ctx context.Context) error

	// --- Lifecycle ---
	Close()
}
