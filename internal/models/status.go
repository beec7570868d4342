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

import "strconv"

const (
	InvoicePending    = "pending"
	InvoiceReceived   = "received"
	InvoiceConverting = "converting"
	InvoicePaid       = "paid"
	InvoiceFailed     = "failed"
	InvoiceExpired    = "expired"
)

const (
	DepositPending   = "pending"
	DepositConfirmed = "confirmed"
	DepositFailed    = "failed"
)

// Conversion and payout rows share the same status vocabulary.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const (
	JobWaiting   = "waiting"
	JobActive    = "active"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

const (
	LaneConversion = "conversion"
	LanePayout     = "payout"
)

const (
	AddressSourceCustodial = "custodial"
	AddressSourceExchange  = "exchange"
)

const (
	PayoutMethodBank = "bank"
	PayoutMethodUpi  = "upi"
)

const (
	EntryCredit = "credit"
	EntryDebit  = "debit"
)

const (
	ProviderAlchemy  = "alchemy"
	ProviderExchange = "exchange"
	ProviderCashfree = "cashfree"
)

func itoa(n int) string { return strconv.Itoa(n) }
