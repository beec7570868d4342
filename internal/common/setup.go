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

package common

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"crypto-settlement-go/internal/api"
	"crypto-settlement-go/internal/cashfree"
	"crypto-settlement-go/internal/chain"
	"crypto-settlement-go/internal/database"
	"crypto-settlement-go/internal/events"
	"crypto-settlement-go/internal/formance"
	"crypto-settlement-go/internal/listener"
	"crypto-settlement-go/internal/metrics"
	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/pricing"
	"crypto-settlement-go/internal/prime"
	"crypto-settlement-go/internal/queue"
	"crypto-settlement-go/internal/reconcile"
	"crypto-settlement-go/internal/settlement"
	"crypto-settlement-go/internal/webhook"
	"crypto-settlement-go/internal/workers"

	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export, docker, etc.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

// Services is the wired settlement pipeline shared by the server, the worker and
// the operator tools.
type Services struct {
	Config       *models.Config
	DbService    *database.Service
	QueueBackend queue.Backend
	Queue        *queue.Queue
	Publisher    events.Publisher
	Machine      *settlement.Machine
	Deposits     *settlement.DepositService
	Assets       *models.AssetRegistry
	Chain        *chain.Client // nil when no RPC url is configured
	Prices       *pricing.CoinGecko
	Exchange     workers.Exchange
	Payouts      *cashfree.Client
	Ledger       *formance.Service // nil unless the mirror is enabled
	Metrics      *metrics.Metrics
	Monitor      *listener.Monitor
	Reconciler   *reconcile.Reconciler
	Ingestor     *webhook.Ingestor
	API          *api.Service

	issuer api.ExchangeIssuer
}

func InitializeLogger() (*zap.Logger, func()) {
	var (
		logger *zap.Logger
		err    error
	)
	if os.Getenv("LOG_FORMAT") == "console" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeServices wires every component from cfg. Optional integrations are
// left nil when unconfigured: the chain client without ALCHEMY_URL and the
// Formance mirror unless FORMANCE_ENABLED.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	s := &Services{Config: cfg, Metrics: metrics.New()}

	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	s.DbService = dbService

	if err := s.initQueue(ctx); err != nil {
		s.Close()
		return nil, err
	}
	s.Publisher = events.New(cfg.Events)

	assets, err := LoadAssets(cfg.Monitor.AssetsFile)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Assets = models.NewAssetRegistry(assets)
	zap.L().Info("Loaded assets", zap.Int("count", len(assets)))

	s.Machine = settlement.NewMachine(dbService, s.Publisher)
	s.Deposits = settlement.NewDepositService(dbService, s.Machine, s.Queue, s.Publisher, cfg.Monitor.ConfirmationThreshold)

	if cfg.Chain.RpcUrl != "" {
		if s.Chain, err = chain.NewClient(cfg.Chain); err != nil {
			s.Close()
			return nil, err
		}
	} else {
		zap.L().Warn("ALCHEMY_URL not set, deposit polling disabled")
	}

	if s.Prices, err = pricing.NewCoinGecko(cfg.Pricing, s.Assets); err != nil {
		s.Close()
		return nil, err
	}

	if err := s.initExchange(ctx); err != nil {
		s.Close()
		return nil, err
	}

	if s.Payouts, err = cashfree.NewClient(cfg.Payout); err != nil {
		s.Close()
		return nil, err
	}

	if cfg.Formance.Enabled {
		if s.Ledger, err = formance.NewService(ctx, cfg.Formance); err != nil {
			s.Close()
			return nil, err
		}
	}

	monitorCfg := listener.MonitorConfig{
		Store:           dbService,
		Deposits:        s.Deposits,
		Machine:         s.Machine,
		Assets:          s.Assets,
		PollingInterval: cfg.Monitor.PollingInterval,
		ExpiryInterval:  cfg.Monitor.ExpiryInterval,
	}
	if s.Chain != nil {
		monitorCfg.Chain = s.Chain
	}
	s.Monitor = listener.NewMonitor(monitorCfg)

	s.Reconciler = reconcile.New(dbService, s.Publisher)

	s.Ingestor = webhook.NewIngestor(dbService,
		webhook.Provider{
			Name:    models.ProviderAlchemy,
			Header:  webhook.HeaderAlchemy,
			Secret:  cfg.Chain.WebhookSecret,
			Handler: webhook.NewAlchemyHandler(s.Monitor),
		},
		webhook.Provider{
			Name:    models.ProviderExchange,
			Header:  webhook.HeaderExchange,
			Secret:  cfg.Exchange.WebhookSecret,
			Handler: webhook.NewExchangeHandler(dbService, s.Queue, s.Publisher),
		},
		webhook.Provider{
			Name:    models.ProviderCashfree,
			Header:  webhook.HeaderCashfree,
			Secret:  cfg.Payout.WebhookSecret,
			Handler: webhook.NewCashfreeHandler(dbService, s.Machine, s.Publisher, s.Mirror()),
		},
	).WithRecorder(s.Metrics)

	addresses := map[string]api.AddressProvider{
		models.AddressSourceCustodial: api.CustodyAddresses{Store: dbService},
	}
	if s.issuer != nil {
		addresses[models.AddressSourceExchange] = api.ExchangeAddresses{Issuer: s.issuer}
	}
	health := map[string]api.Pinger{}
	if redisBackend, ok := s.QueueBackend.(*queue.RedisBackend); ok {
		health["redis"] = redisBackend
	}

	s.API = api.NewService(api.Config{
		Store:      dbService,
		Queue:      s.Queue,
		Reconciler: s.Reconciler,
		Monitor:    s.Monitor,
		Quoter:     s.Prices,
		Addresses:  addresses,
		Assets:     s.Assets,
		Invoice:    cfg.Invoice,
		Recorder:   s.Metrics,
		Health:     health,
	})

	return s, nil
}

// InitializeDatabaseOnly initializes just the database service without the
// external integrations. Used by the read-only operator tools.
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	return dbService, nil
}

func (s *Services) initQueue(ctx context.Context) error {
	backend, err := InitializeQueueBackend(ctx, s.Config, s.DbService)
	if err != nil {
		return err
	}
	s.QueueBackend = backend
	s.Queue = queue.New(backend, s.Config.Queue.MaxAttempts)
	return nil
}

// InitializeQueueBackend opens the configured job backend: the jobs table of the
// database by default, Redis when QUEUE_BACKEND=redis.
func InitializeQueueBackend(ctx context.Context, cfg *models.Config, dbService *database.Service) (queue.Backend, error) {
	zap.L().Info("Opening job queue", zap.String("backend", cfg.Queue.Backend))
	if cfg.Queue.Backend == "redis" {
		return queue.NewRedisBackend(ctx, cfg.Queue)
	}
	return dbService.Jobs(), nil
}

func (s *Services) initExchange(ctx context.Context) error {
	if s.Config.Exchange.Provider == "paper" {
		zap.L().Warn("Using paper exchange, orders fill locally at the reference price")
		s.Exchange = prime.NewPaperExchange(s.Prices, s.Config.Invoice.FiatCurrency)
		return nil
	}

	zap.L().Info("Loading Prime API credentials")
	creds, err := LoadPrimeCredentials()
	if err != nil {
		return err
	}
	primeService, err := prime.NewService(creds)
	if err != nil {
		return err
	}

	portfolio, err := primeService.ResolvePortfolio(ctx, os.Getenv("PRIME_PORTFOLIO_ID"))
	if err != nil {
		return err
	}
	zap.L().Info("Using Prime portfolio",
		zap.String("name", portfolio.Name),
		zap.String("id", portfolio.Id))

	exchange := prime.NewExchange(primeService, portfolio.Id, s.Config.Exchange.QuoteCurrency, s.Prices)
	s.Exchange = exchange
	s.issuer = exchange
	return nil
}

// Mirror returns the ledger mirror, or nil when Formance is disabled.
func (s *Services) Mirror() workers.LedgerMirror {
	if s.Ledger == nil {
		return nil
	}
	return s.Ledger
}

// NewRuntime builds the worker pool for both lanes.
func (s *Services) NewRuntime() *queue.Runtime {
	cfg := s.Config
	conversion := workers.NewConversionWorker(workers.ConversionWorkerConfig{
		Store:        s.DbService,
		Machine:      s.Machine,
		Exchange:     s.Exchange,
		Enqueuer:     s.Queue,
		Publisher:    s.Publisher,
		FeePercent:   cfg.Settlement.PlatformFeePercent,
		OrderTimeout: cfg.Settlement.OrderTimeout,
	})
	payout := workers.NewPayoutWorker(workers.PayoutWorkerConfig{
		Store:           s.DbService,
		Provider:        s.Payouts,
		Publisher:       s.Publisher,
		Mirror:          s.Mirror(),
		RetryCeiling:    cfg.Settlement.PayoutRetryCeiling,
		ProviderTimeout: cfg.Settlement.ProviderTimeout,
	})
	return queue.NewRuntime(s.QueueBackend, cfg.Queue,
		queue.LaneConfig{Lane: models.LaneConversion, Concurrency: cfg.Queue.ConversionConcurrency, Handler: conversion},
		queue.LaneConfig{Lane: models.LanePayout, Concurrency: cfg.Queue.PayoutConcurrency, Handler: payout},
	).WithObserver(s.Metrics)
}

func (s *Services) Close() {
	if s.Publisher != nil {
		if err := s.Publisher.Close(); err != nil {
			zap.L().Warn("Failed to close event publisher", zap.Error(err))
		}
	}
	if s.QueueBackend != nil {
		if err := s.QueueBackend.Close(); err != nil {
			zap.L().Warn("Failed to close queue backend", zap.Error(err))
		}
	}
	if s.Chain != nil {
		s.Chain.Close()
	}
	if s.DbService != nil {
		s.DbService.Close()
	}
}

func LoadPrimeCredentials() (*credentials.Credentials, error) {
	accessKey := os.Getenv("PRIME_ACCESS_KEY")
	passphrase := os.Getenv("PRIME_PASSPHRASE")
	signingKey := os.Getenv("PRIME_SIGNING_KEY")

	if accessKey == "" || passphrase == "" || signingKey == "" {
		return nil, fmt.Errorf("missing required Prime API credentials: PRIME_ACCESS_KEY, PRIME_PASSPHRASE, PRIME_SIGNING_KEY")
	}

	return &credentials.Credentials{
		AccessKey:  accessKey,
		Passphrase: passphrase,
		SigningKey: signingKey,
	}, nil
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
