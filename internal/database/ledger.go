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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AppendLedgerEntry writes one immutable credit or debit. The reference is unique, so
// replaying the same business event returns ErrDuplicateLedgerEntry.
func (s *Service) AppendLedgerEntry(ctx context.Context, params store.LedgerEntryParams) (*models.LedgerEntry, error) {
	if params.EntryType != models.EntryCredit && params.EntryType != models.EntryDebit {
		return nil, fmt.Errorf("invalid ledger entry type: %s", params.EntryType)
	}
	if !params.Amount.IsPositive() {
		return nil, fmt.Errorf("ledger amount must be positive, got %s", params.Amount)
	}
	if params.Reference == "" {
		return nil, fmt.Errorf("ledger reference is required")
	}

	entry := &models.LedgerEntry{
		Id:           uuid.New().String(),
		FreelancerId: params.FreelancerId,
		InvoiceId:    params.InvoiceId,
		Amount:       params.Amount,
		Currency:     params.Currency,
		EntryType:    params.EntryType,
		Reason:       params.Reason,
		Reference:    params.Reference,
		CreatedAt:    now(),
	}

	result, err := s.db.ExecContext(ctx, s.q(queryInsertLedgerEntry),
		entry.Id, entry.FreelancerId, entry.InvoiceId, entry.Amount.String(), entry.Currency,
		entry.EntryType, entry.Reason, entry.Reference, entry.CreatedAt)
	if err != nil {
		zap.L().Error("Failed to append ledger entry", zap.String("reference", params.Reference), zap.Error(err))
		return nil, fmt.Errorf("unable to insert ledger entry: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("unable to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrDuplicateLedgerEntry, params.Reference)
	}

	zap.L().Info("Ledger entry appended",
		zap.String("entry_id", entry.Id),
		zap.String("freelancer_id", entry.FreelancerId),
		zap.String("type", entry.EntryType),
		zap.String("amount", entry.Amount.String()),
		zap.String("reference", entry.Reference))
	return entry, nil
}

func (s *Service) HasLedgerEntry(ctx context.Context, reference string) (bool, error) {
	var entry models.LedgerEntry
	err := s.db.QueryRowContext(ctx, s.q(queryGetLedgerEntryByReference), reference).Scan(
		&entry.Id, &entry.FreelancerId, &entry.InvoiceId, &entry.Amount, &entry.Currency,
		&entry.EntryType, &entry.Reason, &entry.Reference, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("unable to query ledger entry: %w", err)
	}
	return true, nil
}

func (s *Service) ListLedgerEntries(ctx context.Context, freelancerId string, limit, offset int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.q(queryListLedgerEntries), freelancerId, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("unable to query ledger entries: %w", err)
	}
	defer closeRows(rows)

	var entries []models.LedgerEntry
	for rows.Next() {
		var entry models.LedgerEntry
		err := rows.Scan(&entry.Id, &entry.FreelancerId, &entry.InvoiceId, &entry.Amount, &entry.Currency,
			&entry.EntryType, &entry.Reason, &entry.Reference, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("unable to scan ledger entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entries: %w", err)
	}
	return entries, nil
}

// GetFreelancerBalance sums credits minus debits. Amounts are summed in Go so SQLite
// never rounds them through floating point.
func (s *Service) GetFreelancerBalance(ctx context.Context, freelancerId string) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, s.q(queryLedgerAmounts), freelancerId)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unable to query ledger amounts: %w", err)
	}
	defer closeRows(rows)

	balance := decimal.Zero
	for rows.Next() {
		var (
			entryType string
			amount    decimal.Decimal
		)
		if err := rows.Scan(&entryType, &amount); err != nil {
			return decimal.Zero, fmt.Errorf("unable to scan ledger amount: %w", err)
		}
		if entryType == models.EntryDebit {
			balance = balance.Sub(amount)
		} else {
			balance = balance.Add(amount)
		}
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, fmt.Errorf("error iterating ledger amounts: %w", err)
	}
	return balance, nil
}
