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

	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func scanConversion(row rowScanner, c *models.Conversion) error {
	return row.Scan(&c.Id, &c.InvoiceId, &c.DepositId, &c.ExchangeOrderId, &c.Rate, &c.AmountToken,
		&c.AmountFiatGross, &c.PlatformFee, &c.AmountFiatNet, &c.Status, &c.ErrorMessage,
		&c.CreatedAt, &c.UpdatedAt)
}

// CreateConversion inserts a conversion in processing with its rate and amounts locked.
// At most one conversion exists per invoice.
func (s *Service) CreateConversion(ctx context.Context, params store.CreateConversionParams) (*models.Conversion, error) {
	ts := now()
	conversion := &models.Conversion{
		Id:              uuid.New().String(),
		InvoiceId:       params.InvoiceId,
		DepositId:       params.DepositId,
		Rate:            params.Rate,
		AmountToken:     params.AmountToken,
		AmountFiatGross: params.AmountFiatGross,
		PlatformFee:     params.PlatformFee,
		AmountFiatNet:   params.AmountFiatNet,
		Status:          models.StatusProcessing,
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}

	_, err := s.db.ExecContext(ctx, s.q(queryInsertConversion),
		conversion.Id, conversion.InvoiceId, conversion.DepositId, conversion.Rate.String(),
		conversion.AmountToken.String(), conversion.AmountFiatGross.String(), conversion.PlatformFee.String(),
		conversion.AmountFiatNet.String(), conversion.CreatedAt, conversion.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", store.ErrDuplicateConversion, params.InvoiceId)
		}
		zap.L().Error("Failed to insert conversion", zap.String("invoice_id", params.InvoiceId), zap.Error(err))
		return nil, fmt.Errorf("unable to insert conversion: %w", err)
	}

	zap.L().Info("Conversion created",
		zap.String("conversion_id", conversion.Id),
		zap.String("invoice_id", conversion.InvoiceId),
		zap.String("rate", conversion.Rate.String()),
		zap.String("gross", conversion.AmountFiatGross.String()),
		zap.String("fee", conversion.PlatformFee.String()),
		zap.String("net", conversion.AmountFiatNet.String()))
	return conversion, nil
}

func (s *Service) GetConversion(ctx context.Context, conversionId string) (*models.Conversion, error) {
	return s.getConversion(ctx, queryGetConversion, conversionId)
}

func (s *Service) GetConversionByInvoice(ctx context.Context, invoiceId string) (*models.Conversion, error) {
	return s.getConversion(ctx, queryGetConversionByInvoice, invoiceId)
}

func (s *Service) getConversion(ctx context.Context, query, key string) (*models.Conversion, error) {
	var conversion models.Conversion
	if err := scanConversion(s.db.QueryRowContext(ctx, s.q(query), key), &conversion); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: conversion %s", store.ErrNotFound, key)
		}
		return nil, fmt.Errorf("unable to query conversion: %w", err)
	}
	return &conversion, nil
}

func (s *Service) SetConversionOrder(ctx context.Context, conversionId, orderId string) error {
	if _, err := s.db.ExecContext(ctx, s.q(querySetConversionOrder), orderId, now(), conversionId); err != nil {
		return fmt.Errorf("unable to set conversion order: %w", err)
	}
	return nil
}

// CompleteConversion moves processing to completed. An empty orderId keeps the
// order id already stored.
func (s *Service) CompleteConversion(ctx context.Context, conversionId, orderId string) (store.CAS, error) {
	var (
		result store.CAS
		err    error
	)
	if orderId == "" {
		result, err = s.cas(ctx, models.StatusCompleted, queryCompleteConversion, now(), conversionId)
	} else {
		result, err = s.cas(ctx, models.StatusCompleted, queryCompleteConversionWithOrder, orderId, now(), conversionId)
	}
	if err != nil {
		return store.CAS{}, fmt.Errorf("unable to complete conversion: %w", err)
	}
	if result.Applied {
		zap.L().Info("Conversion completed", zap.String("conversion_id", conversionId), zap.String("order_id", orderId))
	}
	return result, nil
}

func (s *Service) FailConversion(ctx context.Context, conversionId, errMsg string) (store.CAS, error) {
	result, err := s.cas(ctx, models.StatusFailed, queryFailConversion, errMsg, now(), conversionId)
	if err != nil {
		return store.CAS{}, fmt.Errorf("unable to fail conversion: %w", err)
	}
	if result.Applied {
		zap.L().Warn("Conversion failed", zap.String("conversion_id", conversionId), zap.String("error", errMsg))
	}
	return result, nil
}

// ResumeConversion reopens a failed conversion for another attempt with the same
// locked amounts.
func (s *Service) ResumeConversion(ctx context.Context, conversionId string) (store.CAS, error) {
	result, err := s.cas(ctx, models.StatusProcessing, queryResumeConversion, now(), conversionId)
	if err != nil {
		return store.CAS{}, fmt.Errorf("unable to resume conversion: %w", err)
	}
	return result, nil
}

func (s *Service) ListCompletedConversions(ctx context.Context) ([]models.Conversion, error) {
	rows, err := s.db.QueryContext(ctx, s.q(queryListCompletedConversions))
	if err != nil {
		return nil, fmt.Errorf("unable to query completed conversions: %w", err)
	}
	defer closeRows(rows)

	var conversions []models.Conversion
	for rows.Next() {
		var conversion models.Conversion
		if err := scanConversion(rows, &conversion); err != nil {
			return nil, fmt.Errorf("unable to scan conversion row: %w", err)
		}
		conversions = append(conversions, conversion)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversion rows: %w", err)
	}
	return conversions, nil
}
