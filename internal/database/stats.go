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
	"fmt"

	"crypto-settlement-go/internal/models"

	"github.com/shopspring/decimal"
)

// GetStats builds the operator dashboard snapshot. FailedJobs is left for the queue
// to fill in since jobs may live outside this database.
func (s *Service) GetStats(ctx context.Context) (*models.Stats, error) {
	stats := &models.Stats{
		InvoicesByStatus:   map[string]int{},
		ConvertedFiatGross: decimal.Zero,
		PlatformFees:       decimal.Zero,
		PaidOutFiat:        decimal.Zero,
		GeneratedAt:        now(),
	}

	rows, err := s.db.QueryContext(ctx, s.q(queryCountInvoicesByStatus))
	if err != nil {
		return nil, fmt.Errorf("unable to count invoices: %w", err)
	}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			closeRows(rows)
			return nil, fmt.Errorf("unable to scan invoice count: %w", err)
		}
		stats.InvoicesByStatus[status] = count
		stats.TotalInvoices += count
	}
	closeRows(rows)

	rows, err = s.db.QueryContext(ctx, s.q(queryConversionTotals))
	if err != nil {
		return nil, fmt.Errorf("unable to query conversion totals: %w", err)
	}
	for rows.Next() {
		var gross, fee decimal.Decimal
		if err := rows.Scan(&gross, &fee); err != nil {
			closeRows(rows)
			return nil, fmt.Errorf("unable to scan conversion totals: %w", err)
		}
		stats.ConvertedFiatGross = stats.ConvertedFiatGross.Add(gross)
		stats.PlatformFees = stats.PlatformFees.Add(fee)
	}
	closeRows(rows)

	rows, err = s.db.QueryContext(ctx, s.q(queryListCompletedPayoutAmounts))
	if err != nil {
		return nil, fmt.Errorf("unable to query payout totals: %w", err)
	}
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			closeRows(rows)
			return nil, fmt.Errorf("unable to scan payout amount: %w", err)
		}
		stats.PaidOutFiat = stats.PaidOutFiat.Add(amount)
	}
	closeRows(rows)

	if err := s.db.QueryRowContext(ctx, s.q(queryCountEscalatedPayouts), true).Scan(&stats.EscalatedPayouts); err != nil {
		return nil, fmt.Errorf("unable to count escalated payouts: %w", err)
	}
	return stats, nil
}
