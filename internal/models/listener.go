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
	"strings"

	"github.com/shopspring/decimal"
)

// PendingAddress is a pending invoice with an assigned deposit address we watch
type PendingAddress struct {
	InvoiceId    string `json:"invoice_id"`
	Address      string `json:"address"`
	TokenSymbol  string `json:"token_symbol"`
	TokenNetwork string `json:"token_network"`
}

// ChainTransfer is an observed token transfer into a watched address
type ChainTransfer struct {
	Hash   string          `json:"hash"`
	From   string          `json:"from"`
	To     string          `json:"to"`
	Asset  string          `json:"asset"`
	Amount decimal.Decimal `json:"amount"`
}

// MinedTransaction is the transaction body of a push notification
type MinedTransaction struct {
	Hash  string `json:"hash"`
	To    string `json:"to"`
	From  string `json:"from"`
	Value string `json:"value"`
}

// TxStatus is the chain's view of a transaction
type TxStatus struct {
	Confirmations int
	Reverted      bool
	Found         bool
}

// Asset is a supported token on one network
type Asset struct {
	Symbol      string `yaml:"symbol" json:"symbol"`
	Network     string `yaml:"network" json:"network"`
	Contract    string `yaml:"contract" json:"contract,omitempty"`
	Decimals    int32  `yaml:"decimals" json:"decimals"`
	CoingeckoId string `yaml:"coingecko_id" json:"coingecko_id,omitempty"`
	Stablecoin  bool   `yaml:"stablecoin" json:"stablecoin"`
}

// AssetRegistry resolves token metadata by symbol and network.
type AssetRegistry struct {
	assets []Asset
}

func NewAssetRegistry(assets []Asset) *AssetRegistry {
	return &AssetRegistry{assets: assets}
}

func (r *AssetRegistry) All() []Asset {
	if r == nil {
		return nil
	}
	return r.assets
}

func (r *AssetRegistry) Lookup(symbol, network string) (Asset, bool) {
	if r == nil {
		return Asset{}, false
	}
	for _, a := range r.assets {
		if strings.EqualFold(a.Symbol, symbol) && strings.EqualFold(a.Network, network) {
			return a, true
		}
	}
	return Asset{}, false
}

// Decimals returns the token precision, 18 when the token is unknown.
func (r *AssetRegistry) Decimals(symbol, network string) int32 {
	if a, ok := r.Lookup(symbol, network); ok && a.Decimals > 0 {
		return a.Decimals
	}
	return 18
}
