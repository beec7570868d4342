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

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice is a request for payment with an assigned deposit address and fiat target amount
type Invoice struct {
	Id             string          `db:"id" json:"id"`
	FreelancerId   string          `db:"freelancer_id" json:"freelancer_id"`
	AmountFiat     decimal.Decimal `db:"amount_fiat" json:"amount_fiat"`
	FiatCurrency   string          `db:"fiat_currency" json:"fiat_currency"`
	AmountToken    decimal.Decimal `db:"amount_token" json:"amount_token"`
	TokenSymbol    string          `db:"token_symbol" json:"token_symbol"`
	TokenNetwork   string          `db:"token_network" json:"token_network"`
	Memo           string          `db:"memo" json:"memo,omitempty"`
	DepositAddress string          `db:"deposit_address" json:"deposit_address"`
	AddressSource  string          `db:"address_source" json:"address_source"`
	PublicUrl      string          `db:"public_url" json:"public_url"`
	Status         string          `db:"status" json:"status"`
	ExpiresAt      time.Time       `db:"expires_at" json:"expires_at"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// Deposit is one on-chain transfer into an invoice's deposit address
type Deposit struct {
	Id            string          `db:"id" json:"id"`
	InvoiceId     string          `db:"invoice_id" json:"invoice_id"`
	TxHash        string          `db:"tx_hash" json:"tx_hash"`
	FromAddress   string          `db:"from_address" json:"from_address"`
	AmountToken   decimal.Decimal `db:"amount_token" json:"amount_token"`
	Confirmations int             `db:"confirmations" json:"confirmations"`
	Status        string          `db:"status" json:"status"`
	ConfirmedAt   *time.Time      `db:"confirmed_at" json:"confirmed_at,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Conversion is one fiat-conversion attempt. Rate and amounts are locked at creation.
type Conversion struct {
	Id              string          `db:"id" json:"id"`
	InvoiceId       string          `db:"invoice_id" json:"invoice_id"`
	DepositId       string          `db:"deposit_id" json:"deposit_id"`
	ExchangeOrderId string          `db:"exchange_order_id" json:"exchange_order_id,omitempty"`
	Rate            decimal.Decimal `db:"rate" json:"rate"`
	AmountToken     decimal.Decimal `db:"amount_token" json:"amount_token"`
	AmountFiatGross decimal.Decimal `db:"amount_fiat_gross" json:"amount_fiat_gross"`
	PlatformFee     decimal.Decimal `db:"platform_fee" json:"platform_fee"`
	AmountFiatNet   decimal.Decimal `db:"amount_fiat_net" json:"amount_fiat_net"`
	Status          string          `db:"status" json:"status"`
	ErrorMessage    string          `db:"error_message" json:"error_message,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// Payout is one disbursement attempt for a completed conversion
type Payout struct {
	Id                 string          `db:"id" json:"id"`
	InvoiceId          string          `db:"invoice_id" json:"invoice_id"`
	ConversionId       string          `db:"conversion_id" json:"conversion_id"`
	FreelancerId       string          `db:"freelancer_id" json:"freelancer_id"`
	AmountFiat         decimal.Decimal `db:"amount_fiat" json:"amount_fiat"`
	Provider           string          `db:"provider" json:"provider"`
	ProviderTransferId string          `db:"provider_transfer_id" json:"provider_transfer_id,omitempty"`
	Status             string          `db:"status" json:"status"`
	ErrorMessage       string          `db:"error_message" json:"error_message,omitempty"`
	RetryCount         int             `db:"retry_count" json:"retry_count"`
	Escalated          bool            `db:"escalated" json:"escalated"`
	Generation         int             `db:"generation" json:"generation"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// TransferKey is the provider-side idempotency key for the current payout generation.
// An operator retry bumps the generation so the provider sees a fresh transfer.
func (p *Payout) TransferKey() string {
	if p.Generation == 0 {
		return p.Id
	}
	return p.Id + "-g" + itoa(p.Generation)
}

// WebhookEvent is the immutable audit record of an inbound provider callback
type WebhookEvent struct {
	Id             string     `db:"id" json:"id"`
	Provider       string     `db:"provider" json:"provider"`
	EventType      string     `db:"event_type" json:"event_type"`
	Payload        string     `db:"payload" json:"payload"`
	SignatureValid bool       `db:"signature_valid" json:"signature_valid"`
	Processed      bool       `db:"processed" json:"processed"`
	ErrorMessage   string     `db:"error_message" json:"error_message,omitempty"`
	ReceivedAt     time.Time  `db:"received_at" json:"received_at"`
	ProcessedAt    *time.Time `db:"processed_at" json:"processed_at,omitempty"`
}

// LedgerEntry is an append-only credit or debit for a freelancer
type LedgerEntry struct {
	Id           string          `db:"id" json:"id"`
	FreelancerId string          `db:"freelancer_id" json:"freelancer_id"`
	InvoiceId    string          `db:"invoice_id" json:"invoice_id"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	Currency     string          `db:"currency" json:"currency"`
	EntryType    string          `db:"entry_type" json:"entry_type"`
	Reason       string          `db:"reason" json:"reason"`
	Reference    string          `db:"reference" json:"reference"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// Freelancer is the invoice owner and payout beneficiary
type Freelancer struct {
	Id                string    `db:"id" json:"id"`
	Name              string    `db:"name" json:"name"`
	Email             string    `db:"email" json:"email"`
	Phone             string    `db:"phone" json:"phone,omitempty"`
	PayoutMethod      string    `db:"payout_method" json:"payout_method"`
	BankAccountNumber string    `db:"bank_account_number" json:"bank_account_number,omitempty"`
	BankIfsc          string    `db:"bank_ifsc" json:"bank_ifsc,omitempty"`
	UpiId             string    `db:"upi_id" json:"upi_id,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// HasPayoutMethod reports whether the configured method carries the details it needs.
func (f *Freelancer) HasPayoutMethod() bool {
	switch f.PayoutMethod {
	case PayoutMethodBank:
		return f.BankAccountNumber != "" && f.BankIfsc != ""
	case PayoutMethodUpi:
		return f.UpiId != ""
	}
	return false
}

// CustodyAddress is a pre-provisioned custodial deposit address
type CustodyAddress struct {
	Id           string     `db:"id" json:"id"`
	TokenNetwork string     `db:"token_network" json:"token_network"`
	Address      string     `db:"address" json:"address"`
	InvoiceId    string     `db:"invoice_id" json:"invoice_id,omitempty"`
	AssignedAt   *time.Time `db:"assigned_at" json:"assigned_at,omitempty"`
}

// Job is a persisted unit of asynchronous work on one queue lane
type Job struct {
	Id          string     `db:"id" json:"id"`
	Lane        string     `db:"lane" json:"lane"`
	InvoiceId   string     `db:"invoice_id" json:"invoice_id"`
	EntityId    string     `db:"entity_id" json:"entity_id"`
	State       string     `db:"state" json:"state"`
	Attempts    int        `db:"attempts" json:"attempts"`
	MaxAttempts int        `db:"max_attempts" json:"max_attempts"`
	LastError   string     `db:"last_error" json:"last_error,omitempty"`
	RunAt       time.Time  `db:"run_at" json:"run_at"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
	FinishedAt  *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// LastAttempt reports whether the attempt currently running is the final one.
func (j *Job) LastAttempt() bool {
	return j.Attempts >= j.MaxAttempts
}
