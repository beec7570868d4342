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

import "github.com/shopspring/decimal"

// Portfolio represents a Prime portfolio
type Portfolio struct {
	Id   string
	Name string
}

// Wallet represents a Prime wallet
type Wallet struct {
	Id     string
	Name   string
	Symbol string
	Type   string
}

// DepositAddress represents an exchange-issued deposit address
type DepositAddress struct {
	Id      string
	Address string
	Network string
	Asset   string
}

// OrderResult is the outcome of a market sell on the exchange
type OrderResult struct {
	OrderId      string
	Status       string
	FilledAmount decimal.Decimal
	Rate         decimal.Decimal
}

// Filled reports whether the exchange considers the order done.
func (o *OrderResult) Filled() bool {
	return o.Status == OrderFilled
}

const (
	OrderOpen      = "OPEN"
	OrderFilled    = "FILLED"
	OrderCancelled = "CANCELLED"
	OrderRejected  = "REJECTED"
	OrderExpired   = "EXPIRED"
)

// BeneficiaryResult is the payout provider's view of a beneficiary
type BeneficiaryResult struct {
	BeneficiaryId string
	Status        string
}

// TransferResult is the payout provider's acknowledgment of a transfer
type TransferResult struct {
	TransferId  string
	ReferenceId string
	Status      string
}
