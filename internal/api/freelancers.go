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
	"fmt"
	"strings"

	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LedgerView is a freelancer's ledger page with the running balance.
type LedgerView struct {
	Balance decimal.Decimal      `json:"balance"`
	Entries []models.LedgerEntry `json:"entries"`
}

func (s *Service) RegisterFreelancer(ctx context.Context, params store.CreateFreelancerParams) (*models.Freelancer, error) {
	params.Name = strings.TrimSpace(params.Name)
	params.Email = strings.ToLower(strings.TrimSpace(params.Email))
	if params.Name == "" || !strings.Contains(params.Email, "@") {
		return nil, fmt.Errorf("%w: name and a valid email are required", ErrValidation)
	}
	if err := validatePayoutFields(params.PayoutMethod, params.BankAccountNumber, params.BankIfsc, params.UpiId); err != nil {
		return nil, err
	}
	return s.store.CreateFreelancer(ctx, params)
}

func (s *Service) GetProfile(ctx context.Context, freelancerId string) (*models.Freelancer, error) {
	return s.store.GetFreelancer(ctx, freelancerId)
}

// UpdateProfile applies the non-nil fields of update. The resulting payout
// method must carry the details it needs.
func (s *Service) UpdateProfile(ctx context.Context, freelancerId string, update models.PayoutMethodUpdate) (*models.Freelancer, error) {
	current, err := s.store.GetFreelancer(ctx, freelancerId)
	if err != nil {
		return nil, err
	}

	method, account, ifsc, upi := current.PayoutMethod, current.BankAccountNumber, current.BankIfsc, current.UpiId
	if update.PayoutMethod != nil {
		method = *update.PayoutMethod
	}
	if update.BankAccountNumber != nil {
		account = strings.TrimSpace(*update.BankAccountNumber)
	}
	if update.BankIfsc != nil {
		ifsc = strings.TrimSpace(*update.BankIfsc)
	}
	if update.UpiId != nil {
		upi = strings.TrimSpace(*update.UpiId)
	}
	if err := validatePayoutFields(method, account, ifsc, upi); err != nil {
		return nil, err
	}
	return s.store.UpdatePayoutMethod(ctx, freelancerId, update)
}

func (s *Service) Ledger(ctx context.Context, freelancerId string, limit, offset int) (*LedgerView, error) {
	entries, err := s.store.ListLedgerEntries(ctx, freelancerId, limit, offset)
	if err != nil {
		return nil, err
	}
	balance, err := s.store.GetFreelancerBalance(ctx, freelancerId)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	return &LedgerView{Balance: balance, Entries: entries}, nil
}

func validatePayoutFields(method, account, ifsc, upi string) error {
	switch method {
	case "":
		return nil
	case models.PayoutMethodBank:
		if account == "" || len(ifsc) != 11 {
			zap.L().Debug("Rejected bank payout details", zap.Int("ifsc_length", len(ifsc)))
			return fmt.Errorf("%w: bank payouts need an account number and an 11 character IFSC", ErrValidation)
		}
	case models.PayoutMethodUpi:
		if !strings.Contains(upi, "@") {
			return fmt.Errorf("%w: upi payouts need a upi id like name@bank", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: payout method must be bank or upi", ErrValidation)
	}
	return nil
}
