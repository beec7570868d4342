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
	"time"

	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/store"

	"go.uber.org/zap"
)

func scanInvoice(row rowScanner, invoice *models.Invoice) error {
	return row.Scan(&invoice.Id, &invoice.FreelancerId, &invoice.AmountFiat, &invoice.FiatCurrency,
		&invoice.AmountToken, &invoice.TokenSymbol, &invoice.TokenNetwork, &invoice.Memo,
		&invoice.DepositAddress, &invoice.AddressSource, &invoice.PublicUrl, &invoice.Status,
		&invoice.ExpiresAt, &invoice.CreatedAt, &invoice.UpdatedAt)
}

func (s *Service) CreateInvoice(ctx context.Context, params store.CreateInvoiceParams) (*models.Invoice, error) {
	if params.Id == "" {
		return nil, fmt.Errorf("invoice id is required")
	}
	ts := now()
	invoice := &models.Invoice{
		Id:             params.Id,
		FreelancerId:   params.FreelancerId,
		AmountFiat:     params.AmountFiat,
		FiatCurrency:   params.FiatCurrency,
		AmountToken:    params.AmountToken,
		TokenSymbol:    params.TokenSymbol,
		TokenNetwork:   params.TokenNetwork,
		Memo:           params.Memo,
		DepositAddress: params.DepositAddress,
		AddressSource:  params.AddressSource,
		PublicUrl:      params.PublicUrl,
		Status:         models.InvoicePending,
		ExpiresAt:      params.ExpiresAt.UTC(),
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}

	_, err := s.db.ExecContext(ctx, s.q(queryInsertInvoice),
		invoice.Id, invoice.FreelancerId, invoice.AmountFiat.String(), invoice.FiatCurrency,
		invoice.AmountToken.String(), invoice.TokenSymbol, invoice.TokenNetwork, invoice.Memo,
		invoice.DepositAddress, invoice.AddressSource, invoice.PublicUrl, invoice.Status,
		invoice.ExpiresAt, invoice.CreatedAt, invoice.UpdatedAt)
	if err != nil {
		zap.L().Error("Failed to insert invoice", zap.String("invoice_id", params.Id), zap.Error(err))
		return nil, fmt.Errorf("unable to insert invoice: %w", err)
	}

	zap.L().Info("Invoice created",
		zap.String("invoice_id", invoice.Id),
		zap.String("freelancer_id", invoice.FreelancerId),
		zap.String("amount_token", invoice.AmountToken.String()),
		zap.String("token", invoice.TokenSymbol),
		zap.String("address", invoice.DepositAddress))
	return invoice, nil
}

func (s *Service) GetInvoice(ctx context.Context, invoiceId string) (*models.Invoice, error) {
	var invoice models.Invoice
	err := scanInvoice(s.db.QueryRowContext(ctx, s.q(queryGetInvoice), invoiceId), &invoice)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: invoice %s", store.ErrNotFound, invoiceId)
		}
		return nil, fmt.Errorf("unable to query invoice: %w", err)
	}
	return &invoice, nil
}

func (s *Service) FindPendingInvoiceByAddress(ctx context.Context, address string) (*models.Invoice, error) {
	var invoice models.Invoice
	err := scanInvoice(s.db.QueryRowContext(ctx, s.q(queryFindPendingInvoiceByAddress), address), &invoice)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no pending invoice for address %s", store.ErrNotFound, address)
		}
		return nil, fmt.Errorf("unable to query invoice by address: %w", err)
	}
	return &invoice, nil
}

func (s *Service) ListPendingAddresses(ctx context.Context) ([]models.PendingAddress, error) {
	rows, err := s.db.QueryContext(ctx, s.q(queryListPendingAddresses))
	if err != nil {
		return nil, fmt.Errorf("unable to query pending addresses: %w", err)
	}
	defer closeRows(rows)

	var addresses []models.PendingAddress
	for rows.Next() {
		var a models.PendingAddress
		if err := rows.Scan(&a.InvoiceId, &a.Address, &a.TokenSymbol, &a.TokenNetwork); err != nil {
			return nil, fmt.Errorf("unable to scan pending address: %w", err)
		}
		addresses = append(addresses, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending addresses: %w", err)
	}
	return addresses, nil
}

func (s *Service) ListOverdueInvoices(ctx context.Context, at time.Time, limit int) ([]models.Invoice, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.listInvoices(ctx, queryListOverdueInvoices, at.UTC(), limit)
}

func (s *Service) listInvoices(ctx context.Context, query string, args ...any) ([]models.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("unable to query invoices: %w", err)
	}
	defer closeRows(rows)

	var invoices []models.Invoice
	for rows.Next() {
		var invoice models.Invoice
		if err := scanInvoice(rows, &invoice); err != nil {
			return nil, fmt.Errorf("unable to scan invoice row: %w", err)
		}
		invoices = append(invoices, invoice)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invoice rows: %w", err)
	}
	return invoices, nil
}

// TransitionInvoice moves an invoice to status to, but only from one of the listed
// statuses. A row in any other status is left untouched and reported as not applied.
func (s *Service) TransitionInvoice(ctx context.Context, invoiceId, to string, from ...string) (store.CAS, error) {
	if len(from) == 0 {
		return store.CAS{}, fmt.Errorf("transition to %s needs at least one prior status", to)
	}
	args := []any{to, now(), invoiceId}
	for _, f := range from {
		args = append(args, f)
	}
	query := fmt.Sprintf(queryTransitionInvoice, placeholders(len(from)))

	result, err := s.cas(ctx, to, query, args...)
	if err != nil {
		zap.L().Error("Failed to transition invoice",
			zap.String("invoice_id", invoiceId), zap.String("to", to), zap.Error(err))
		return store.CAS{}, fmt.Errorf("unable to transition invoice: %w", err)
	}
	if result.Applied {
		zap.L().Info("Invoice transitioned",
			zap.String("invoice_id", invoiceId),
			zap.Strings("from", from),
			zap.String("to", to))
	} else {
		zap.L().Debug("Invoice transition not applied",
			zap.String("invoice_id", invoiceId),
			zap.Strings("from", from),
			zap.String("to", to))
	}
	return result, nil
}

func scanInvoiceSummary(row rowScanner, summary *models.InvoiceSummary) error {
	inv := &summary.Invoice
	return row.Scan(&inv.Id, &inv.FreelancerId, &inv.AmountFiat, &inv.FiatCurrency,
		&inv.AmountToken, &inv.TokenSymbol, &inv.TokenNetwork, &inv.Memo,
		&inv.DepositAddress, &inv.AddressSource, &inv.PublicUrl, &inv.Status,
		&inv.ExpiresAt, &inv.CreatedAt, &inv.UpdatedAt,
		&summary.DepositStatus, &summary.DepositTxHash, &summary.Confirmations, &summary.DepositAmount,
		&summary.ConversionStatus, &summary.AmountFiatNet,
		&summary.PayoutStatus, &summary.PayoutTransferId)
}

func (s *Service) GetInvoiceSummary(ctx context.Context, invoiceId string) (*models.InvoiceSummary, error) {
	var summary models.InvoiceSummary
	row := s.db.QueryRowContext(ctx, s.q(queryInvoiceSummary+` WHERE i.id = ?`), invoiceId)
	if err := scanInvoiceSummary(row, &summary); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: invoice %s", store.ErrNotFound, invoiceId)
		}
		return nil, fmt.Errorf("unable to query invoice summary: %w", err)
	}
	return &summary, nil
}

func (s *Service) ListInvoiceSummaries(ctx context.Context, params store.ListInvoicesParams) ([]models.InvoiceSummary, error) {
	var (
		where []string
		args  []any
	)
	if params.FreelancerId != "" {
		where = append(where, "i.freelancer_id = ?")
		args = append(args, params.FreelancerId)
	}
	if params.Status != "" {
		where = append(where, "i.status = ?")
		args = append(args, params.Status)
	}
	query := queryInvoiceSummary
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := params.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query += " ORDER BY i.created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, params.Offset)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("unable to query invoice summaries: %w", err)
	}
	defer closeRows(rows)

	var summaries []models.InvoiceSummary
	for rows.Next() {
		var summary models.InvoiceSummary
		if err := scanInvoiceSummary(rows, &summary); err != nil {
			return nil, fmt.Errorf("unable to scan invoice summary: %w", err)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating invoice summaries: %w", err)
	}
	return summaries, nil
}
