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

func scanFreelancer(row rowScanner, f *models.Freelancer) error {
	return row.Scan(&f.Id, &f.Name, &f.Email, &f.Phone, &f.PayoutMethod, &f.BankAccountNumber,
		&f.BankIfsc, &f.UpiId, &f.CreatedAt, &f.UpdatedAt)
}

func (s *Service) CreateFreelancer(ctx context.Context, params store.CreateFreelancerParams) (*models.Freelancer, error) {
	zap.L().Info("Creating freelancer", zap.String("name", params.Name), zap.String("email", params.Email))

	if err := validatePayoutMethod(params.PayoutMethod); err != nil {
		return nil, err
	}
	ts := now()
	freelancer := &models.Freelancer{
		Id:                uuid.New().String(),
		Name:              params.Name,
		Email:             strings.ToLower(strings.TrimSpace(params.Email)),
		Phone:             params.Phone,
		PayoutMethod:      params.PayoutMethod,
		BankAccountNumber: params.BankAccountNumber,
		BankIfsc:          strings.ToUpper(params.BankIfsc),
		UpiId:             params.UpiId,
		CreatedAt:         ts,
		UpdatedAt:         ts,
	}

	_, err := s.db.ExecContext(ctx, s.q(queryInsertFreelancer),
		freelancer.Id, freelancer.Name, freelancer.Email, freelancer.Phone, freelancer.PayoutMethod,
		freelancer.BankAccountNumber, freelancer.BankIfsc, freelancer.UpiId, freelancer.CreatedAt, freelancer.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrDuplicateFreelancer, freelancer.Email)
		}
		zap.L().Error("Failed to insert freelancer", zap.String("email", params.Email), zap.Error(err))
		return nil, fmt.Errorf("unable to insert freelancer: %w", err)
	}

	zap.L().Info("Freelancer created successfully", zap.String("id", freelancer.Id), zap.String("name", freelancer.Name))
	return freelancer, nil
}

func (s *Service) GetFreelancer(ctx context.Context, freelancerId string) (*models.Freelancer, error) {
	zap.L().Debug("Querying freelancer by ID", zap.String("freelancer_id", freelancerId))
	return s.getFreelancer(ctx, queryGetFreelancer, freelancerId)
}

func (s *Service) GetFreelancerByEmail(ctx context.Context, email string) (*models.Freelancer, error) {
	zap.L().Debug("Querying freelancer by email", zap.String("email", email))
	return s.getFreelancer(ctx, queryGetFreelancerByEmail, strings.TrimSpace(email))
}

func (s *Service) getFreelancer(ctx context.Context, query, key string) (*models.Freelancer, error) {
	var freelancer models.Freelancer
	if err := scanFreelancer(s.db.QueryRowContext(ctx, s.q(query), key), &freelancer); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: freelancer %s", store.ErrNotFound, key)
		}
		zap.L().Error("Failed to query freelancer", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("unable to query freelancer: %w", err)
	}
	return &freelancer, nil
}

// UpdatePayoutMethod applies the non-nil fields of update to the freelancer profile.
func (s *Service) UpdatePayoutMethod(ctx context.Context, freelancerId string, update models.PayoutMethodUpdate) (*models.Freelancer, error) {
	freelancer, err := s.GetFreelancer(ctx, freelancerId)
	if err != nil {
		return nil, err
	}

	if update.Name != nil {
		freelancer.Name = strings.TrimSpace(*update.Name)
	}
	if update.PayoutMethod != nil {
		freelancer.PayoutMethod = *update.PayoutMethod
	}
	if update.BankAccountNumber != nil {
		freelancer.BankAccountNumber = strings.TrimSpace(*update.BankAccountNumber)
	}
	if update.BankIfsc != nil {
		freelancer.BankIfsc = strings.ToUpper(strings.TrimSpace(*update.BankIfsc))
	}
	if update.UpiId != nil {
		freelancer.UpiId = strings.TrimSpace(*update.UpiId)
	}
	if err := validatePayoutMethod(freelancer.PayoutMethod); err != nil {
		return nil, err
	}
	freelancer.UpdatedAt = now()

	_, err = s.db.ExecContext(ctx, s.q(queryUpdatePayoutMethod),
		freelancer.Name, freelancer.PayoutMethod, freelancer.BankAccountNumber, freelancer.BankIfsc,
		freelancer.UpiId, freelancer.UpdatedAt, freelancer.Id)
	if err != nil {
		return nil, fmt.Errorf("unable to update payout method: %w", err)
	}

	zap.L().Info("Freelancer payout method updated",
		zap.String("freelancer_id", freelancer.Id),
		zap.String("method", freelancer.PayoutMethod),
		zap.Bool("complete", freelancer.HasPayoutMethod()))
	return freelancer, nil
}

func validatePayoutMethod(method string) error {
	switch method {
	case "", models.PayoutMethodBank, models.PayoutMethodUpi:
		return nil
	}
	return fmt.Errorf("invalid payout method: %s", method)
}
