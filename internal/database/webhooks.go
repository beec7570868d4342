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
	"fmt"

	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InsertWebhookEvent persists an inbound callback before any processing, including
// callbacks whose signature did not verify.
func (s *Service) InsertWebhookEvent(ctx context.Context, params store.WebhookEventParams) (*models.WebhookEvent, error) {
	event := &models.WebhookEvent{
		Id:             uuid.New().String(),
		Provider:       params.Provider,
		EventType:      params.EventType,
		Payload:        params.Payload,
		SignatureValid: params.SignatureValid,
		ReceivedAt:     now(),
	}

	_, err := s.db.ExecContext(ctx, s.q(queryInsertWebhookEvent),
		event.Id, event.Provider, event.EventType, event.Payload, event.SignatureValid, false, event.ReceivedAt)
	if err != nil {
		zap.L().Error("Failed to persist webhook event",
			zap.String("provider", params.Provider), zap.String("event_type", params.EventType), zap.Error(err))
		return nil, fmt.Errorf("unable to insert webhook event: %w", err)
	}
	return event, nil
}

// MarkWebhookProcessed stamps the event as handled. A non-empty errMsg records a
// processing failure and leaves processed false.
func (s *Service) MarkWebhookProcessed(ctx context.Context, eventId, errMsg string) error {
	_, err := s.db.ExecContext(ctx, s.q(queryMarkWebhookProcessed), errMsg == "", errMsg, now(), eventId)
	if err != nil {
		return fmt.Errorf("unable to mark webhook processed: %w", err)
	}
	return nil
}

func (s *Service) ListWebhookEvents(ctx context.Context, provider string, limit, offset int) ([]models.WebhookEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if provider == "" {
		rows, err = s.db.QueryContext(ctx, s.q(queryListWebhookEvents), limit, offset)
	} else {
		rows, err = s.db.QueryContext(ctx, s.q(queryListWebhookEventsByProvider), provider, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query webhook events: %w", err)
	}
	defer closeRows(rows)

	var events []models.WebhookEvent
	for rows.Next() {
		var (
			event       models.WebhookEvent
			processedAt sql.NullTime
		)
		err := rows.Scan(&event.Id, &event.Provider, &event.EventType, &event.Payload, &event.SignatureValid,
			&event.Processed, &event.ErrorMessage, &event.ReceivedAt, &processedAt)
		if err != nil {
			return nil, fmt.Errorf("unable to scan webhook event: %w", err)
		}
		event.ProcessedAt = nullTime(processedAt)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhook events: %w", err)
	}
	return events, nil
}
