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

func scanPayout(row rowScanner, p *models.Payout) error {
	return row.Scan(&p.Id, &p.InvoiceId, &p.ConversionId, &p.FreelancerId, &p.AmountFiat, &p.Provider,
		&p.ProviderTransferId, &p.Status, &p.ErrorMessage, &p.RetryCount, &p.Escalated, &p.Generation,
		&p.CreatedAt, &p.UpdatedAt)
}

// CreatePayout inserts a payout in processing. At most one payout exists per invoice.
func (s *Service) CreatePayout(ctx context.Context, params store.CreatePayoutParams) (*models.Payout, error) {
	ts := now()
	payout := &models.Payout{
		Id:           uuid.New().String(),
		InvoiceId:    params.InvoiceId,
		ConversionId: params.ConversionId,
		FreelancerId: params.FreelancerId,
		AmountFiat:   params.AmountFiat,
		Provider:     params.Provider,
		Status:       models.StatusProcessing,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}

	_, err := s.db.ExecContext(ctx, s.q(queryInsertPayout),
		payout.Id, payout.InvoiceId, payout.ConversionId, payout.FreelancerId, payout.AmountFiat.String(),
		payout.Provider, false, payout.CreatedAt, payout.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrDuplicatePayout, params.InvoiceId)
		}
		zap.L().Error("Failed to insert payout", zap.String("invoice_id", params.InvoiceId), zap.Error(err))
		return nil, fmt.Errorf("unable to insert payout: %w", err)
	}

	zap.L().Info("Payout created",
		zap.String("payout_id", payout.Id),
		zap.String("invoice_id", payout.InvoiceId),
		zap.String("amount", payout.AmountFiat.String()))
	return payout, nil
}

func (s *Service) GetPayout(ctx context.Context, payoutId string) (*models.Payout, error) {
	return s.getPayout(ctx, queryGetPayout, payoutId)
}

func (s *Service) GetPayoutByInvoice(ctx context.Context, invoiceId string) (*models.Payout, error) {
	return s.getPayout(ctx, queryGetPayoutByInvoice, invoiceId)
}

// GetPayoutByTransferKey resolves a provider transfer id back to its payout. Keys
// from an earlier generation resolve to ErrNotFound so stale callbacks cannot touch
// a reset payout.
func (s *Service) GetPayoutByTransferKey(ctx context.Context, transferKey string) (*models.Payout, error) {
	payoutId := transferKey
	if i := strings.LastIndex(transferKey, "-g"); i > 0 {
		payoutId = transferKey[:i]
	}
	payout, err := s.getPayout(ctx, queryGetPayout, payoutId)
	if err != nil && payoutId != transferKey && errors.Is(err, store.ErrNotFound) {
		payout, err = s.getPayout(ctx, queryGetPayout, transferKey)
	}
	if err != nil {
		return nil, err
	}
	if payout.TransferKey() != transferKey {
		zap.L().Warn("Transfer key belongs to an earlier payout generation",
			zap.String("transfer_key", transferKey),
			zap.String("current_key", payout.TransferKey()))
		return nil, fmt.Errorf("%w: transfer %s is stale", store.ErrNotFound, transferKey)
	}
	return payout, nil
}

func (s *Service) getPayout(ctx context.Context, query, key string) (*models.Payout, error) {
	var payout models.Payout
	if err := scanPayout(s.db.QueryRowContext(ctx, s.q(query), key), &payout); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: payout %s", store.ErrNotFound, key)
		}
		return nil, fmt.Errorf("unable to query payout: %w", err)
	}
	return &payout, nil
}

// ClaimPayoutForTransfer takes a payout that exists but has no live transfer back to
// processing: a failed payout below the retry ceiling, or a pending payout whose
// transfer was never initiated.
func (s *Service) ClaimPayoutForTransfer(ctx context.Context, payoutId string, ceiling int) (store.CAS, error) {
	result, err := s.cas(ctx, models.StatusProcessing, queryClaimPayoutForTransfer, now(), payoutId, ceiling)
	if err != nil {
		return store.CAS{}, fmt.Errorf("unable to claim payout: %w", err)
	}
	return result, nil
}

func (s *Service) MarkPayoutInitiated(ctx context.Context, payoutId, transferId string) (store.CAS, error) {
	result, err := s.cas(ctx, models.StatusPending, queryMarkPayoutInitiated, transferId, now(), payoutId)
	if err != nil {
		return store.CAS{}, fmt.Errorf("unable to mark payout initiated: %w", err)
	}
	if result.Applied {
		zap.L().Info("Payout transfer initiated", zap.String("payout_id", payoutId), zap.String("transfer_id", transferId))
	}
	return result, nil
}

// RecordPayoutTransfer stores the provider transfer id of a payout whose status moved
// past processing before the provider's acknowledgement was recorded.
func (s *Service) RecordPayoutTransfer(ctx context.Context, payoutId, status, transferId string) (store.CAS, error) {
	result, err := s.cas(ctx, status, queryRecordPayoutTransfer, transferId, now(), payoutId)
	if err != nil {
		return store.CAS{}, fmt.Errorf("unable to record payout transfer: %w", err)
	}
	return result, nil
}

func (s *Service) CompletePayout(ctx context.Context, payoutId string) (store.CAS, error) {
	result, err := s.cas(ctx, models.StatusCompleted, queryCompletePayout, now(), payoutId)
	if err != nil {
		return store.CAS{}, fmt.Errorf("unable to complete payout: %w", err)
	}
	if result.Applied {
		zap.L().Info("Payout completed", zap.String("payout_id", payoutId))
	}
	return result, nil
}

// FailPayout records a failed attempt, increments retry_count and sets escalated once
// the count reaches the ceiling.
func (s *Service) FailPayout(ctx context.Context, payoutId, errMsg string, ceiling int) (store.PayoutFailure, error) {
	var failure store.PayoutFailure
	err := s.db.QueryRowContext(ctx, s.q(queryFailPayout), errMsg, ceiling, now(), payoutId).
		Scan(&failure.RetryCount, &failure.Escalated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.PayoutFailure{CAS: store.NotApplied(models.StatusFailed)}, nil
		}
		return store.PayoutFailure{}, fmt.Errorf("unable to fail payout: %w", err)
	}
	failure.CAS = store.Applied(models.StatusFailed)

	zap.L().Warn("Payout attempt failed",
		zap.String("payout_id", payoutId),
		zap.Int("retry_count", failure.RetryCount),
		zap.Bool("escalated", failure.Escalated),
		zap.String("error", errMsg))
	return failure, nil
}

// RejectPayout applies a provider-reported failure. A completed payout is never
// moved back.
func (s *Service) RejectPayout(ctx context.Context, payoutId, errMsg string) (store.CAS, error) {
	result, err := s.cas(ctx, models.StatusFailed, queryRejectPayout, errMsg, now(), payoutId)
	if err != nil {
		return store.CAS{}, fmt.Errorf("unable to reject payout: %w", err)
	}
	if result.Applied {
		zap.L().Warn("Payout rejected by provider", zap.String("payout_id", payoutId), zap.String("reason", errMsg))
	}
	return result, nil
}

// ResetPayoutForRetry is the operator path out of a failed or escalated payout. It
// bumps the generation so the next transfer carries a new idempotency key.
func (s *Service) ResetPayoutForRetry(ctx context.Context, payoutId string) (store.CAS, error) {
	result, err := s.cas(ctx, models.StatusPending, queryResetPayoutForRetry, false, now(), payoutId)
	if err != nil {
		return store.CAS{}, fmt.Errorf("unable to reset payout: %w", err)
	}
	if result.Applied {
		zap.L().Info("Payout reset for operator retry", zap.String("payout_id", payoutId))
	}
	return result, nil
}

func (s *Service) ListSettlingPayouts(ctx context.Context) ([]models.Payout, error) {
	return s.listPayouts(ctx, queryListSettlingPayouts)
}

// ListReconcilablePayouts returns payouts whose transfer was accepted by the provider.
func (s *Service) ListReconcilablePayouts(ctx context.Context) ([]models.Payout, error) {
	return s.listPayouts(ctx, queryListReconcilablePayouts)
}

func (s *Service) ListEscalatedPayouts(ctx context.Context) ([]models.Payout, error) {
	return s.listPayouts(ctx, queryListEscalatedPayouts, true)
}

func (s *Service) listPayouts(ctx context.Context, query string, args ...any) ([]models.Payout, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("unable to query payouts: %w", err)
	}
	defer closeRows(rows)

	var payouts []models.Payout
	for rows.Next() {
		var payout models.Payout
		if err := scanPayout(rows, &payout); err != nil {
			return nil, fmt.Errorf("unable to scan payout row: %w", err)
		}
		payouts = append(payouts, payout)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payout rows: %w", err)
	}
	return payouts, nil
}
