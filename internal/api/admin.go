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

	"crypto-settlement-go/internal/listener"
	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/reconcile"
	"crypto-settlement-go/internal/store"

	"go.uber.org/zap"
)

var listedJobStates = []string{models.JobActive, models.JobWaiting, models.JobFailed}

// ListJobs returns jobs of one or both lanes. Without a state it lists the
// states an operator acts on: active, waiting and failed.
func (s *Service) ListJobs(ctx context.Context, lane, state string, limit int) ([]models.Job, error) {
	lanes := []string{models.LaneConversion, models.LanePayout}
	if lane != "" {
		if lane != models.LaneConversion && lane != models.LanePayout {
			return nil, fmt.Errorf("%w: unknown lane %s", ErrValidation, lane)
		}
		lanes = []string{lane}
	}
	states := listedJobStates
	if state != "" {
		states = []string{state}
	}

	jobs := []models.Job{}
	for _, l := range lanes {
		for _, st := range states {
			found, err := s.queue.List(ctx, l, st, limit)
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, found...)
		}
	}
	return jobs, nil
}

// RetryJob puts a failed job back on its lane.
func (s *Service) RetryJob(ctx context.Context, jobId string) (*models.Job, error) {
	retried, err := s.queue.Retry(ctx, jobId)
	if err != nil {
		return nil, err
	}
	if !retried {
		return nil, fmt.Errorf("%w: job %s is not failed", ErrConflict, jobId)
	}
	zap.L().Info("Job retried by operator", zap.String("job_id", jobId))
	return s.queue.Get(ctx, jobId)
}

// RetryPayout resets a failed payout to pending with a fresh transfer generation
// and enqueues it again. Only failed payouts can be reset.
func (s *Service) RetryPayout(ctx context.Context, payoutId string) (*models.Payout, error) {
	payout, err := s.store.GetPayout(ctx, payoutId)
	if err != nil {
		return nil, err
	}

	reset, err := s.store.ResetPayoutForRetry(ctx, payoutId)
	if err != nil {
		return nil, err
	}
	if !reset.Applied {
		return nil, fmt.Errorf("%w: payout %s is %s, only failed payouts can be retried", ErrConflict, payoutId, payout.Status)
	}

	if _, _, err := s.queue.Enqueue(ctx, models.LanePayout, payout.InvoiceId, payout.ConversionId); err != nil {
		return nil, err
	}
	zap.L().Info("Payout retry enqueued",
		zap.String("payout_id", payoutId),
		zap.String("invoice_id", payout.InvoiceId))
	return s.store.GetPayout(ctx, payoutId)
}

func (s *Service) Reconcile(ctx context.Context) (*reconcile.Report, error) {
	report, err := s.reconciler.Run(ctx)
	if err != nil {
		return nil, err
	}
	if s.recorder != nil {
		for _, d := range report.Discrepancies {
			s.recorder.Discrepancy(d.Kind)
		}
	}
	return report, nil
}

func (s *Service) ListWebhooks(ctx context.Context, provider string, limit, offset int) ([]models.WebhookEvent, error) {
	events, err := s.store.ListWebhookEvents(ctx, provider, limit, offset)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []models.WebhookEvent{}
	}
	return events, nil
}

// Stats combines the store snapshot with the queue's failed job count.
func (s *Service) Stats(ctx context.Context) (*models.Stats, error) {
	stats, err := s.store.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	failed, err := s.queue.FailedCount(ctx)
	if err != nil {
		return nil, err
	}
	stats.FailedJobs = failed
	return stats, nil
}

func (s *Service) Transactions(ctx context.Context, status string, limit, offset int) ([]models.InvoiceSummary, error) {
	summaries, err := s.store.ListInvoiceSummaries(ctx, store.ListInvoicesParams{
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, err
	}
	if summaries == nil {
		summaries = []models.InvoiceSummary{}
	}
	return summaries, nil
}

// PollDeposits runs one monitor sweep now.
func (s *Service) PollDeposits(ctx context.Context) (listener.PollResult, error) {
	if s.monitor == nil {
		return listener.PollResult{}, fmt.Errorf("%w: deposit monitor not configured", ErrConflict)
	}
	return s.monitor.PollOnce(ctx)
}

// ConfirmDeposit re-checks one deposit's confirmations. Confirmation only
// happens when the chain reports enough blocks.
func (s *Service) ConfirmDeposit(ctx context.Context, depositId string) (*models.Deposit, error) {
	if s.monitor == nil {
		return nil, fmt.Errorf("%w: deposit monitor not configured", ErrConflict)
	}
	deposit, err := s.monitor.Recheck(ctx, depositId)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		zap.L().Error("Deposit recheck failed", zap.String("deposit_id", depositId), zap.Error(err))
	}
	return deposit, err
}
