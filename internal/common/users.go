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
	"strings"

	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/store"

	"go.uber.org/zap"
)

// ResolveFreelancer looks a freelancer up by id, or by email when the argument
// contains an @.
func ResolveFreelancer(ctx context.Context, s store.SettlementStore, idOrEmail string) (*models.Freelancer, error) {
	idOrEmail = strings.TrimSpace(idOrEmail)
	if idOrEmail == "" {
		return nil, fmt.Errorf("freelancer id or email is required")
	}

	if strings.Contains(idOrEmail, "@") {
		zap.L().Info("Looking up freelancer by email", zap.String("email", idOrEmail))
		f, err := s.GetFreelancerByEmail(ctx, strings.ToLower(idOrEmail))
		if err != nil {
			return nil, fmt.Errorf("freelancer not found: %w", err)
		}
		return f, nil
	}

	f, err := s.GetFreelancer(ctx, idOrEmail)
	if err != nil {
		return nil, fmt.Errorf("freelancer not found: %w", err)
	}
	return f, nil
}
