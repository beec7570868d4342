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

package prime

import (
	"context"
	"fmt"
	"strings"

	"crypto-settlement-go/internal/models"

	"github.com/coinbase-samples/prime-sdk-go/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PriceSource quotes a token in a fiat currency.
type PriceSource interface {
	Price(ctx context.Context, tokenSymbol, fiatSymbol string) (decimal.Decimal, error)
}

type orderClient interface {
	CreateMarketSell(ctx context.Context, portfolioId, productId, baseQuantity, clientOrderId string) (string, error)
	GetOrder(ctx context.Context, portfolioId, orderId string) (*model.Order, error)
}

type walletClient interface {
	TradingWallet(ctx context.Context, portfolioId, symbol string) (*models.Wallet, error)
	NewDepositAddress(ctx context.Context, portfolioId string, wallet *models.Wallet, network string) (*models.DepositAddress, error)
}

// Exchange sells deposited tokens on Prime and issues exchange-held deposit
// addresses. Rates come from the price source since Prime does not quote the
// payout fiat.
type Exchange struct {
	orders        orderClient
	wallets       walletClient
	portfolioId   string
	quoteCurrency string
	prices        PriceSource
}

func NewExchange(service *Service, portfolioId, quoteCurrency string, prices PriceSource) *Exchange {
	return newExchange(service, service, portfolioId, quoteCurrency, prices)
}

func newExchange(orders orderClient, wallets walletClient, portfolioId, quoteCurrency string, prices PriceSource) *Exchange {
	if quoteCurrency == "" {
		quoteCurrency = "USD"
	}
	return &Exchange{
		orders:        orders,
		wallets:       wallets,
		portfolioId:   portfolioId,
		quoteCurrency: strings.ToUpper(quoteCurrency),
		prices:        prices,
	}
}

func (e *Exchange) Rate(ctx context.Context, tokenSymbol, fiatSymbol string) (decimal.Decimal, error) {
	return e.prices.Price(ctx, tokenSymbol, fiatSymbol)
}

func (e *Exchange) MarketSell(ctx context.Context, tokenSymbol string, amount decimal.Decimal, idempotencyKey string) (*models.OrderResult, error) {
	productId := strings.ToUpper(tokenSymbol) + "-" + e.quoteCurrency
	orderId, err := e.orders.CreateMarketSell(ctx, e.portfolioId, productId, amount.String(), idempotencyKey)
	if err != nil {
		return nil, err
	}
	return &models.OrderResult{OrderId: orderId, Status: models.OrderOpen}, nil
}

func (e *Exchange) GetOrder(ctx context.Context, orderId string) (*models.OrderResult, error) {
	order, err := e.orders.GetOrder(ctx, e.portfolioId, orderId)
	if err != nil {
		return nil, err
	}

	result := &models.OrderResult{
		OrderId: orderId,
		Status:  orderStatus(string(order.Status)),
	}
	if filled, err := decimal.NewFromString(order.FilledQuantity); err == nil {
		result.FilledAmount = filled
	}
	if price, err := decimal.NewFromString(order.AverageFilledPrice); err == nil {
		result.Rate = price
	}
	return result, nil
}

// DepositAddressFor issues a fresh address on the trading wallet of the token.
func (e *Exchange) DepositAddressFor(ctx context.Context, tokenSymbol, network string) (string, error) {
	wallet, err := e.wallets.TradingWallet(ctx, e.portfolioId, tokenSymbol)
	if err != nil {
		return "", err
	}
	if wallet == nil {
		return "", fmt.Errorf("no trading wallet for %s, run setup first", tokenSymbol)
	}

	address, err := e.wallets.NewDepositAddress(ctx, e.portfolioId, wallet, network)
	if err != nil {
		return "", err
	}
	zap.L().Info("Issued exchange deposit address",
		zap.String("asset", tokenSymbol),
		zap.String("network", network),
		zap.String("wallet_id", wallet.Id),
		zap.String("address", address.Address))
	return address.Address, nil
}
