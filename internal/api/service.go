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

package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crypto-settlement-go/internal/listener"
	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/queue"
	"crypto-settlement-go/internal/reconcile"
	"crypto-settlement-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrValidation = errors.New("invalid request")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
)

// Quoter converts an invoice's fiat amount into the token amount to request.
type Quoter interface {
	Quote(ctx context.Context, amountFiat decimal.Decimal, tokenSymbol, tokenNetwork, fiatSymbol string) (decimal.Decimal, error)
}

// AddressProvider issues the deposit address of a new invoice.
type AddressProvider interface {
	Issue(ctx context.Context, invoiceId, tokenSymbol, tokenNetwork string) (string, error)
}

// DepositMonitor is the operator surface of the deposit monitor.
type DepositMonitor interface {
	PollOnce(ctx context.Context) (listener.PollResult, error)
	Recheck(ctx context.Context, depositId string) (*models.Deposit, error)
}

// Recorder counts business events for metrics.
type Recorder interface {
	InvoiceCreated(token, addressSource string)
	Discrepancy(kind string)
}

// Pinger is a dependency checked by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Store      store.SettlementStore
	Queue      *queue.Queue
	Reconciler *reconcile.Reconciler
	Monitor    DepositMonitor
	Quoter     Quoter
	Addresses  map[string]AddressProvider // by address source
	Assets     *models.AssetRegistry
	Invoice    models.InvoiceConfig
	Recorder   Recorder
	Health     map[string]Pinger
}

// Service implements the invoice, freelancer and operator use cases behind the
// HTTP API and the CLI tools.
type Service struct {
	store      store.SettlementStore
	queue      *queue.Queue
	reconciler *reconcile.Reconciler
	monitor    DepositMonitor
	quoter     Quoter
	addresses  map[string]AddressProvider
	assets     *models.AssetRegistry
	invoiceCfg models.InvoiceConfig
	recorder   Recorder
	health     map[string]Pinger
	now        func() time.Time
}

func NewService(cfg Config) *Service {
	if cfg.Invoice.TTL <= 0 {
		cfg.Invoice.TTL = time.Hour
	}
	if cfg.Invoice.FiatCurrency == "" {
		cfg.Invoice.FiatCurrency = "INR"
	}
	if cfg.Invoice.DefaultAddressSource == "" {
		cfg.Invoice.DefaultAddressSource = models.AddressSourceCustodial
	}
	if cfg.Reconciler == nil {
		cfg.Reconciler = reconcile.New(cfg.Store, nil)
	}
	return &Service{
		store:      cfg.Store,
		queue:      cfg.Queue,
		reconciler: cfg.Reconciler,
		monitor:    cfg.Monitor,
		quoter:     cfg.Quoter,
		addresses:  cfg.Addresses,
		assets:     cfg.Assets,
		invoiceCfg: cfg.Invoice,
		recorder:   cfg.Recorder,
		health:     cfg.Health,
		now:        time.Now,
	}
}

// HealthCheck pings the database and every configured dependency. The map holds
// "ok" or the error text per dependency.
func (s *Service) HealthCheck(ctx context.Context) (map[string]string, error) {
	status := map[string]string{}
	var failed error

	if err := s.store.Ping(ctx); err != nil {
		status["database"] = err.Error()
		failed = fmt.Errorf("database health check failed: %w", err)
	} else {
		status["database"] = "ok"
	}
	for name, p := range s.health {
		if err := p.Ping(ctx); err != nil {
			status[name] = err.Error()
			if failed == nil {
				failed = fmt.Errorf("%s health check failed: %w", name, err)
			}
			continue
		}
		status[name] = "ok"
	}

	if failed != nil {
		zap.L().Warn("Health check failed", zap.Error(failed))
	}
	return status, failed
}
