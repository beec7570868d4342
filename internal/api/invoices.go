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
	"strings"

	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateInvoice opens a pending invoice for the freelancer with a fresh deposit
// address and a token amount quoted at creation time.
func (s *Service) CreateInvoice(ctx context.Context, freelancerId string, req models.CreateInvoiceRequest) (*models.Invoice, error) {
	req.Token = strings.ToUpper(strings.TrimSpace(req.Token))
	req.TokenNetwork = strings.ToLower(strings.TrimSpace(req.TokenNetwork))
	if !req.AmountFiat.IsPositive() || req.Token == "" || req.TokenNetwork == "" {
		return nil, fmt.Errorf("%w: amountFiat, token and tokenNetwork are required", ErrValidation)
	}
	if len(s.assets.All()) > 0 {
		if _, ok := s.assets.Lookup(req.Token, req.TokenNetwork); !ok {
			return nil, fmt.Errorf("%w: unsupported token %s on %s", ErrValidation, req.Token, req.TokenNetwork)
		}
	}

	source := req.AddressSource
	if source == "" {
		source = s.invoiceCfg.DefaultAddressSource
	}
	provider, ok := s.addresses[source]
	if !ok {
		return nil, fmt.Errorf("%w: address source %q is not available", ErrValidation, source)
	}

	if _, err := s.store.GetFreelancer(ctx, freelancerId); err != nil {
		return nil, err
	}

	amountToken, err := s.quoter.Quote(ctx, req.AmountFiat, req.Token, req.TokenNetwork, s.invoiceCfg.FiatCurrency)
	if err != nil {
		return nil, fmt.Errorf("unable to quote %s: %w", req.Token, err)
	}

	id := uuid.New().String()
	address, err := provider.Issue(ctx, id, req.Token, req.TokenNetwork)
	if err != nil {
		return nil, fmt.Errorf("unable to issue deposit address: %w", err)
	}

	now := s.now().UTC()
	invoice, err := s.store.CreateInvoice(ctx, store.CreateInvoiceParams{
		Id:             id,
		FreelancerId:   freelancerId,
		AmountFiat:     req.AmountFiat,
		FiatCurrency:   s.invoiceCfg.FiatCurrency,
		AmountToken:    amountToken,
		TokenSymbol:    req.Token,
		TokenNetwork:   req.TokenNetwork,
		Memo:           strings.TrimSpace(req.Memo),
		DepositAddress: address,
		AddressSource:  source,
		PublicUrl:      strings.TrimRight(s.invoiceCfg.PublicBaseUrl, "/") + "/f/" + id,
		ExpiresAt:      now.Add(s.invoiceCfg.TTL),
	})
	if err != nil {
		return nil, err
	}

	if s.recorder != nil {
		s.recorder.InvoiceCreated(invoice.TokenSymbol, invoice.AddressSource)
	}
	zap.L().Info("Invoice created",
		zap.String("invoice_id", invoice.Id),
		zap.String("freelancer_id", freelancerId),
		zap.String("amount_fiat", invoice.AmountFiat.String()),
		zap.String("amount_token", invoice.AmountToken.String()),
		zap.String("token", invoice.TokenSymbol),
		zap.String("address_source", source))
	return invoice, nil
}

// GetInvoice returns the joined status view of one invoice. The view backs the
// public payment page, so any caller may read it.
func (s *Service) GetInvoice(ctx context.Context, invoiceId string) (*models.InvoiceSummary, error) {
	return s.store.GetInvoiceSummary(ctx, invoiceId)
}

func (s *Service) ListFreelancerInvoices(ctx context.Context, freelancerId, status string, limit, offset int) ([]models.InvoiceSummary, error) {
	return s.store.ListInvoiceSummaries(ctx, store.ListInvoicesParams{
		FreelancerId: freelancerId,
		Status:       status,
		Limit:        limit,
		Offset:       offset,
	})
}

// CustodyAddresses hands out pre-provisioned addresses from the custody pool.
type CustodyAddresses struct {
	Store store.SettlementStore
}

func (c CustodyAddresses) Issue(ctx context.Context, invoiceId, _, tokenNetwork string) (string, error) {
	address, err := c.Store.ClaimCustodyAddress(ctx, tokenNetwork, invoiceId)
	if errors.Is(err, store.ErrPoolExhausted) {
		zap.L().Error("Custody pool exhausted", zap.String("network", tokenNetwork))
	}
	return address, err
}

// ExchangeIssuer creates exchange-held deposit addresses.
type ExchangeIssuer interface {
	DepositAddressFor(ctx context.Context, tokenSymbol, network string) (string, error)
}

// ExchangeAddresses issues one exchange deposit address per invoice.
type ExchangeAddresses struct {
	Issuer ExchangeIssuer
}

func (e ExchangeAddresses) Issue(ctx context.Context, _, tokenSymbol, tokenNetwork string) (string, error) {
	return e.Issuer.DepositAddressFor(ctx, tokenSymbol, tokenNetwork)
}
