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

	"crypto-settlement-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const custodyClaimAttempts = 5

// AddCustodyAddresses loads pre-provisioned deposit addresses into the pool. Addresses
// already present are skipped; the count of newly added ones is returned.
func (s *Service) AddCustodyAddresses(ctx context.Context, network string, addresses []string) (int, error) {
	added := 0
	for _, address := range addresses {
		address = strings.TrimSpace(address)
		if address == "" {
			continue
		}
		result, err := s.db.ExecContext(ctx, s.q(queryInsertCustodyAddress), uuid.New().String(), network, address)
		if err != nil {
			return added, fmt.Errorf("unable to insert custody address %s: %w", address, err)
		}
		if n, err := result.RowsAffected(); err == nil && n > 0 {
			added++
		}
	}
	zap.L().Info("Custody addresses loaded",
		zap.String("network", network),
		zap.Int("offered", len(addresses)),
		zap.Int("added", added))
	return added, nil
}

// ClaimCustodyAddress assigns one free pool address to an invoice. Two concurrent
// claims never receive the same address; the loser of a race retries on the next row.
func (s *Service) ClaimCustodyAddress(ctx context.Context, network, invoiceId string) (string, error) {
	for attempt := 0; attempt < custodyClaimAttempts; attempt++ {
		var address string
		err := s.db.QueryRowContext(ctx, s.q(queryClaimCustodyAddress), invoiceId, now(), network).Scan(&address)
		if err == nil {
			zap.L().Info("Custody address assigned",
				zap.String("invoice_id", invoiceId),
				zap.String("network", network),
				zap.String("address", address))
			return address, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("unable to claim custody address: %w", err)
		}

		var free int
		if err := s.db.QueryRowContext(ctx, s.q(queryCountFreeCustodyAddresses), network).Scan(&free); err != nil {
			return "", fmt.Errorf("unable to count custody addresses: %w", err)
		}
		if free == 0 {
			return "", fmt.Errorf("%w: %s", store.ErrPoolExhausted, network)
		}
	}
	return "", fmt.Errorf("%w: custody address claim for %s", store.ErrConcurrentModification, network)
}
