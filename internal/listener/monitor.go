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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"crypto-settlement-go/internal/models"

	"go.uber.org/zap"
)

// PollResult summarizes one monitor sweep.
type PollResult struct {
	Addresses int `json:"addresses"`
	Transfers int `json:"transfers"`
	Confirmed int `json:"confirmed"`
	Expired   int `json:"expired"`
}

// Start runs one recovery sweep and then the poll, expiry and cleanup loops.
func (m *Monitor) Start(ctx context.Context) error {
	zap.L().Info("Starting deposit monitor")

	if m.chain == nil {
		zap.L().Warn("No chain observer configured, address polling disabled")
	} else if _, err := m.PollOnce(ctx); err != nil {
		return fmt.Errorf("startup recovery failed: %w", err)
	}

	m.wg.Add(3)
	go m.pollLoop(ctx)
	go m.expiryLoop(ctx)
	go m.cleanupLoop(ctx)

	zap.L().Info("Deposit monitor started",
		zap.Duration("polling_interval", m.pollingInterval),
		zap.Duration("expiry_interval", m.expiryInterval))
	return nil
}

// Stop gracefully stops the monitor loops
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		zap.L().Info("Stopping deposit monitor")
		close(m.stopChan)
	})
	m.wg.Wait()
	zap.L().Info("Deposit monitor stopped")
}

func (m *Monitor) pollLoop(ctx context.Context) {
	defer m.wg.Done()
	if m.chain == nil {
		return
	}

	ticker := time.NewTicker(m.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.PollOnce(ctx); err != nil {
				zap.L().Error("Deposit poll failed", zap.Error(err))
			}
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) expiryLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.expiryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.ExpireOverdue(ctx); err != nil {
				zap.L().Error("Invoice expiry sweep failed", zap.Error(err))
			}
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// ExpireOverdue moves every pending invoice past its expiry to expired.
func (m *Monitor) ExpireOverdue(ctx context.Context) (int, error) {
	expired, err := m.machine.ExpireOverdue(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		m.printf("%s[%s] Expired %d overdue invoices%s\n",
			colorYellow, time.Now().Format("15:04:05"), expired, colorReset)
	}
	return expired, nil
}

// PollOnce searches every watched address for new transfers and then re-checks
// confirmations of pending deposits.
func (m *Monitor) PollOnce(ctx context.Context) (PollResult, error) {
	var result PollResult
	if m.chain == nil {
		return result, fmt.Errorf("no chain observer configured")
	}

	addresses, err := m.store.ListPendingAddresses(ctx)
	if err != nil {
		return result, fmt.Errorf("unable to list pending addresses: %w", err)
	}
	result.Addresses = len(addresses)

	m.printf("\n%s[%s] Polling %d deposit addresses%s\n",
		colorCyan, time.Now().Format("15:04:05"), len(addresses), colorReset)

	var (
		wg        sync.WaitGroup
		transfers atomic.Int64
	)
	for _, addr := range addresses {
		wg.Add(1)

		go func(a models.PendingAddress) {
			defer wg.Done()

			n, err := m.pollAddress(ctx, a)
			if err != nil {
				m.printf("  %s✗ %s %s (%s): %s%s\n", colorRed, a.TokenSymbol, shortId(a.InvoiceId), a.Address, err, colorReset)
				zap.L().Error("Failed to poll deposit address",
					zap.String("invoice_id", a.InvoiceId),
					zap.String("address", a.Address),
					zap.Error(err))
				return
			}
			transfers.Add(int64(n))
		}(addr)
	}
	wg.Wait()
	result.Transfers = int(transfers.Load())

	confirmed, err := m.deposits.CheckConfirmations(ctx, m.chain)
	if err != nil {
		return result, fmt.Errorf("unable to check confirmations: %w", err)
	}
	result.Confirmed = confirmed

	zap.L().Debug("Deposit poll completed",
		zap.Int("addresses", result.Addresses),
		zap.Int("transfers", result.Transfers),
		zap.Int("confirmed", result.Confirmed))
	return result, nil
}

// Recheck refreshes one deposit's confirmations on operator request.
func (m *Monitor) Recheck(ctx context.Context, depositId string) (*models.Deposit, error) {
	if m.chain == nil {
		return nil, fmt.Errorf("no chain observer configured")
	}
	deposit, err := m.store.GetDeposit(ctx, depositId)
	if err != nil {
		return nil, err
	}
	if _, err := m.deposits.Recheck(ctx, m.chain, deposit); err != nil {
		return nil, err
	}
	return m.store.GetDeposit(ctx, depositId)
}

func (m *Monitor) pollAddress(ctx context.Context, addr models.PendingAddress) (int, error) {
	asset, ok := m.assets.Lookup(addr.TokenSymbol, addr.TokenNetwork)
	if !ok {
		asset = models.Asset{Symbol: addr.TokenSymbol, Network: addr.TokenNetwork, Decimals: 18}
	}

	transfers, err := m.chain.FindTransfers(ctx, addr.Address, asset)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch transfers: %w", err)
	}

	recorded := 0
	for _, transfer := range transfers {
		if m.isTransactionProcessed(transfer.Hash) {
			continue
		}
		invoice, err := m.store.GetInvoice(ctx, addr.InvoiceId)
		if err != nil {
			return recorded, err
		}
		if err := m.processTransfer(ctx, invoice, transfer); err != nil {
			zap.L().Error("Failed to process transfer",
				zap.String("tx_hash", transfer.Hash),
				zap.String("invoice_id", invoice.Id),
				zap.Error(err))
			continue
		}
		recorded++
	}
	return recorded, nil
}
