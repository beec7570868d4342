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
	"errors"
	"fmt"
	"strings"

	"crypto-settlement-go/internal/chain"
	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/store"

	"go.uber.org/zap"
)

// ANSI color helpers for console output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// HandleMinedTransaction matches a pushed transaction against pending invoices by
// destination address. Transactions to unknown addresses are ignored.
func (m *Monitor) HandleMinedTransaction(ctx context.Context, tx models.MinedTransaction) error {
	if tx.Hash == "" || tx.To == "" {
		return fmt.Errorf("mined transaction is missing hash or destination")
	}

	invoice, err := m.store.FindPendingInvoiceByAddress(ctx, tx.To)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			m.printf("  %s- %s to %s: no pending invoice%s\n", colorGray, shortId(tx.Hash), tx.To, colorReset)
			zap.L().Debug("No pending invoice for transaction",
				zap.String("tx_hash", tx.Hash), zap.String("to", tx.To))
			return nil
		}
		return err
	}

	amount, err := chain.ParseValue(tx.Value, m.assets.Decimals(invoice.TokenSymbol, invoice.TokenNetwork))
	if err != nil {
		return fmt.Errorf("invalid transaction value: %w", err)
	}

	return m.processTransfer(ctx, invoice, models.ChainTransfer{
		Hash:   tx.Hash,
		From:   tx.From,
		To:     tx.To,
		Asset:  invoice.TokenSymbol,
		Amount: amount,
	})
}

// processTransfer records a transfer against its invoice with the chain's current
// confirmation count. A mined transaction counts as one confirmation when no
// chain observer is configured.
func (m *Monitor) processTransfer(ctx context.Context, invoice *models.Invoice, transfer models.ChainTransfer) error {
	if !transfer.Amount.IsPositive() {
		zap.L().Debug("Skipping zero amount transfer", zap.String("tx_hash", transfer.Hash))
		return nil
	}

	confirmations := 1
	if m.chain != nil {
		status, err := m.chain.ConfirmationsFor(ctx, transfer.Hash)
		if err != nil {
			return fmt.Errorf("unable to fetch confirmations: %w", err)
		}
		if status.Reverted {
			zap.L().Warn("Ignoring reverted transfer",
				zap.String("tx_hash", transfer.Hash), zap.String("invoice_id", invoice.Id))
			return nil
		}
		confirmations = status.Confirmations
	}

	deposit, created, err := m.deposits.RecordTransfer(ctx, invoice, transfer, confirmations)
	if err != nil {
		m.printf("  %s✗ %s %s %s | %s | %s%s\n",
			colorRed, invoice.TokenSymbol, transfer.Amount, shortId(transfer.Hash), shortId(invoice.Id), err, colorReset)
		return err
	}
	m.markTransactionProcessed(transfer.Hash)

	color, symbol := colorGreen, "✓"
	if deposit.Status != models.DepositConfirmed {
		color, symbol = colorYellow, "~"
	}
	if created || deposit.Status == models.DepositConfirmed {
		m.printf("  %s%s %s %s %s | %s | %d conf%s\n",
			color, symbol, invoice.TokenSymbol, transfer.Amount, deposit.Status,
			shortId(transfer.Hash), deposit.Confirmations, colorReset)
	}

	zap.L().Info("Deposit observed",
		zap.String("invoice_id", invoice.Id),
		zap.String("deposit_id", deposit.Id),
		zap.String("tx_hash", transfer.Hash),
		zap.String("amount", transfer.Amount.String()),
		zap.Int("confirmations", deposit.Confirmations),
		zap.Bool("created", created))
	return nil
}

func (m *Monitor) printf(format string, args ...any) {
	if m.quiet {
		return
	}
	fmt.Printf(format, args...)
}

func shortId(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}
