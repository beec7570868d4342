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
	"sync"

	"crypto-settlement-go/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaperExchange fills every market sell immediately at the price source's rate.
// It is selected with EXCHANGE_PROVIDER=paper for sandbox runs.
type PaperExchange struct {
	prices PriceSource
	fiat   string

	mu     sync.Mutex
	orders map[string]*models.OrderResult // by order id
	byKey  map[string]string              // idempotency key -> order id
}

func NewPaperExchange(prices PriceSource, fiatSymbol string) *PaperExchange {
	return &PaperExchange{
		prices: prices,
		fiat:   fiatSymbol,
		orders: make(map[string]*models.OrderResult),
		byKey:  make(map[string]string),
	}
}

func (p *PaperExchange) Rate(ctx context.Context, tokenSymbol, fiatSymbol string) (decimal.Decimal, error) {
	return p.prices.Price(ctx, tokenSymbol, fiatSymbol)
}

func (p *PaperExchange) MarketSell(ctx context.Context, tokenSymbol string, amount decimal.Decimal, idempotencyKey string) (*models.OrderResult, error) {
	p.mu.Lock()
	if orderId, ok := p.byKey[idempotencyKey]; ok {
		order := *p.orders[orderId]
		p.mu.Unlock()
		return &order, nil
	}
	p.mu.Unlock()

	price, err := p.prices.Price(ctx, tokenSymbol, p.fiat)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if orderId, ok := p.byKey[idempotencyKey]; ok {
		order := *p.orders[orderId]
		return &order, nil
	}
	order := &models.OrderResult{
		OrderId:      "paper-" + uuid.New().String(),
		Status:       models.OrderFilled,
		FilledAmount: amount,
		Rate:         price,
	}
	p.orders[order.OrderId] = order
	p.byKey[idempotencyKey] = order.OrderId

	zap.L().Info("Paper order filled",
		zap.String("order_id", order.OrderId),
		zap.String("token", tokenSymbol),
		zap.String("amount", amount.String()),
		zap.String("rate", price.String()))

	result := *order
	return &result, nil
}

func (p *PaperExchange) GetOrder(_ context.Context, orderId string) (*models.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[orderId]
	if !ok {
		return nil, fmt.Errorf("order %s not found", orderId)
	}
	result := *order
	return &result, nil
}
