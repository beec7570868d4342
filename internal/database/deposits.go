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
	"strings"

	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func scanDeposit(row rowScanner, deposit *models.Deposit) error {
	var confirmedAt sql.NullTime
	err := row.Scan(&deposit.Id, &deposit.InvoiceId, &deposit.TxHash, &deposit.FromAddress,
		&deposit.AmountToken, &deposit.Confirmations, &deposit.Status,
		&confirmedAt, &deposit.CreatedAt, &deposit.UpdatedAt)
	if err != nil {
		return err
	}
	deposit.ConfirmedAt = nullTime(confirmedAt)
	return nil
}

// CreateDeposit records the first sighting of a transfer. A second sighting of the
// same transaction hash returns ErrDuplicateDeposit and writes nothing.
func (s *Service) CreateDeposit(ctx context.Context, params store.CreateDepositParams) (*models.Deposit, error) {
	ts := now()
	deposit := &models.Deposit{
		Id:            uuid.New().String(),
		InvoiceId:     params.InvoiceId,
		TxHash:        strings.ToLower(params.TxHash),
		FromAddress:   params.FromAddress,
		AmountToken:   params.AmountToken,
		Confirmations: params.Confirmations,
		Status:        models.DepositPending,
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}

	result, err := s.db.ExecContext(ctx, s.q(queryInsertDeposit),
		deposit.Id, deposit.InvoiceId, deposit.TxHash, deposit.FromAddress, deposit.AmountToken.String(),
		deposit.Confirmations, deposit.Status, deposit.CreatedAt, deposit.UpdatedAt)
	if err != nil {
		zap.L().Error("Failed to insert deposit", zap.String("tx_hash", params.TxHash), zap.Error(err))
		return nil, fmt.Errorf("unable to insert deposit: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("unable to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrDuplicateDeposit, params.TxHash)
	}

	zap.L().Info("Deposit recorded",
		zap.String("deposit_id", deposit.Id),
		zap.String("invoice_id", deposit.InvoiceId),
		zap.String("tx_hash", deposit.TxHash),
		zap.String("amount", deposit.AmountToken.String()),
		zap.Int("confirmations", deposit.Confirmations))
	return deposit, nil
}

func (s *Service) GetDeposit(ctx context.Context, depositId string) (*models.Deposit, error) {
	return s.getDeposit(ctx, queryGetDeposit, depositId)
}

func (s *Service) GetDepositByTxHash(ctx context.Context, txHash string) (*models.Deposit, error) {
	return s.getDeposit(ctx, queryGetDepositByTxHash, txHash)
}

func (s *Service) getDeposit(ctx context.Context, query, key string) (*models.Deposit, error) {
	var deposit models.Deposit
	if err := scanDeposit(s.db.QueryRowContext(ctx, s.q(query), key), &deposit); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: deposit %s", store.ErrNotFound, key)
		}
		return nil, fmt.Errorf("unable to query deposit: %w", err)
	}
	return &deposit, nil
}

func (s *Service) ListPendingDeposits(ctx context.Context) ([]models.Deposit, error) {
	rows, err := s.db.QueryContext(ctx, s.q(queryListPendingDeposits))
	if err != nil {
		return nil, fmt.Errorf("unable to query pending deposits: %w", err)
	}
	defer closeRows(rows)

	var deposits []models.Deposit
	for rows.Next() {
		var deposit models.Deposit
		if err := scanDeposit(rows, &deposit); err != nil {
			return nil, fmt.Errorf("unable to scan deposit row: %w", err)
		}
		deposits = append(deposits, deposit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deposit rows: %w", err)
	}
	return deposits, nil
}

func (s *Service) UpdateDepositConfirmations(ctx context.Context, depositId string, confirmations int) error {
	_, err := s.db.ExecContext(ctx, s.q(queryUpdateDepositConfirmations), confirmations, now(), depositId)
	if err != nil {
		return fmt.Errorf("unable to update deposit confirmations: %w", err)
	}
	return nil
}

func (s *Service) ConfirmDeposit(ctx context.Context, depositId string, confirmations int) (store.CAS, error) {
	ts := now()
	result, err := s.cas(ctx, models.DepositConfirmed, queryConfirmDeposit, confirmations, ts, ts, depositId)
	if err != nil {
		return store.CAS{}, fmt.Errorf("unable to confirm deposit: %w", err)
	}
	if result.Applied {
		zap.L().Info("Deposit confirmed", zap.String("deposit_id", depositId), zap.Int("confirmations", confirmations))
	}
	return result, nil
}

func (s *Service) FailDeposit(ctx context.Context, depositId string) (store.CAS, error) {
	result, err := s.cas(ctx, models.DepositFailed, queryFailDeposit, now(), depositId)
	if err != nil {
		return store.CAS{}, fmt.Errorf("unable to fail deposit: %w", err)
	}
	if result.Applied {
		zap.L().Warn("Deposit failed on chain", zap.String("deposit_id", depositId))
	}
	return result, nil
}
