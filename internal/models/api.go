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

// InvoiceSummary joins an invoice with the status of its downstream entities
type InvoiceSummary struct {
	Invoice
	DepositStatus    string          `json:"deposit_status"`
	DepositTxHash    string          `json:"deposit_tx_hash,omitempty"`
	Confirmations    int             `json:"confirmations"`
	DepositAmount    decimal.Decimal `json:"deposit_amount"`
	ConversionStatus string          `json:"conversion_status"`
	AmountFiatNet    decimal.Decimal `json:"amount_fiat_net"`
	PayoutStatus     string          `json:"payout_status"`
	PayoutTransferId string          `json:"payout_transfer_id,omitempty"`
}

// Stats is the operator dashboard snapshot
type Stats struct {
	InvoicesByStatus   map[string]int  `json:"invoices_by_status"`
	TotalInvoices      int             `json:"total_invoices"`
	ConvertedFiatGross decimal.Decimal `json:"converted_fiat_gross"`
	PlatformFees       decimal.Decimal `json:"platform_fees"`
	PaidOutFiat        decimal.Decimal `json:"paid_out_fiat"`
	FailedJobs         int             `json:"failed_jobs"`
	EscalatedPayouts   int             `json:"escalated_payouts"`
	GeneratedAt        time.Time       `json:"generated_at"`
}

// CreateInvoiceRequest is the payload of an invoice creation call
type CreateInvoiceRequest struct {
	AmountFiat    decimal.Decimal `json:"amountFiat"`
	Token         string          `json:"token"`
	TokenNetwork  string          `json:"tokenNetwork"`
	Memo          string          `json:"memo"`
	AddressSource string          `json:"addressSource"`
}

// PayoutMethodUpdate carries the editable payout fields of a freelancer profile
type PayoutMethodUpdate struct {
	Name              *string `json:"fullName"`
	PayoutMethod      *string `json:"payoutMethod"`
	BankAccountNumber *string `json:"bankAccountNumber"`
	BankIfsc          *string `json:"bankIfscCode"`
	UpiId             *string `json:"upiId"`
}
