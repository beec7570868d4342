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

package listener

import (
	"context"
	"sync"
	"time"

	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/settlement"
	"crypto-settlement-go/internal/store"

	"go.uber.org/zap"
)

// ChainObserver is the chain view the monitor polls.
type ChainObserver interface {
	settlement.ConfirmationSource
	FindTransfers(ctx context.Context, address string, asset models.Asset) ([]models.ChainTransfer, error)
}

// MonitorConfig contains configuration for Monitor
type MonitorConfig struct {
	Store           store.SettlementStore
	Deposits        *settlement.DepositService
	Machine         *settlement.Machine
	Chain           ChainObserver // optional, polling is disabled without it
	Assets          *models.AssetRegistry
	PollingInterval time.Duration
	ExpiryInterval  time.Duration
	CleanupInterval time.Duration
	Quiet           bool // suppress console output
}

// Monitor watches pending invoices' deposit addresses, confirms deposits and
// expires overdue invoices.
type Monitor struct {
	store    store.SettlementStore
	deposits *settlement.DepositService
	machine  *settlement.Machine
	chain    ChainObserver
	assets   *models.AssetRegistry
	quiet    bool

	// Transfers already recorded, so the poll sweep does not re-query them
	processedTxIds  map[string]time.Time
	mutex           sync.RWMutex
	pollingInterval time.Duration
	expiryInterval  time.Duration
	cleanupInterval time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = 30 * time.Second
	}
	if cfg.ExpiryInterval <= 0 {
		cfg.ExpiryInterval = time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}
	return &Monitor{
		store:           cfg.Store,
		deposits:        cfg.Deposits,
		machine:         cfg.Machine,
		chain:           cfg.Chain,
		assets:          cfg.Assets,
		quiet:           cfg.Quiet,
		processedTxIds:  make(map[string]time.Time),
		pollingInterval: cfg.PollingInterval,
		expiryInterval:  cfg.ExpiryInterval,
		cleanupInterval: cfg.CleanupInterval,
		stopChan:        make(chan struct{}),
	}
}

// isTransactionProcessed checks if we've already recorded this transfer
func (m *Monitor) isTransactionProcessed(txHash string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	_, exists := m.processedTxIds[txHash]
	return exists
}

func (m *Monitor) markTransactionProcessed(txHash string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.processedTxIds[txHash] = time.Now()
}

// cleanupLoop periodically cleans old processed transaction hashes
func (m *Monitor) cleanupLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanupProcessedTransactions(time.Now().Add(-m.cleanupInterval))
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) cleanupProcessedTransactions(cutoff time.Time) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	cleaned := 0
	for txHash, processedTime := range m.processedTxIds {
		if processedTime.Before(cutoff) {
			delete(m.processedTxIds, txHash)
			cleaned++
		}
	}

	if cleaned > 0 {
		zap.L().Debug("Cleaned up old processed transactions",
			zap.Int("cleaned", cleaned),
			zap.Int("remaining", len(m.processedTxIds)))
	}
}
