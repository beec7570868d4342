package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"crypto-settlement-go/internal/events"
	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/settlement"
	"crypto-settlement-go/internal/store"
	"crypto-settlement-go/internal/workers"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	HeaderAlchemy  = "x-alchemy-signature"
	HeaderExchange = "x-coindcx-signature"
	HeaderCashfree = "x-cashfree-signature"

	EventMinedTransaction = "MINED_TRANSACTION"
	EventOrderFilled      = "ORDER_FILLED"
	EventPayoutSuccess    = "PAYOUT_SUCCESS"
	EventPayoutFailed     = "PAYOUT_FAILED"
)

// MinedTransactionSink turns a pushed chain transaction into a deposit.
type MinedTransactionSink interface {
	HandleMinedTransaction(ctx context.Context, tx models.MinedTransaction) error
}

type AlchemyHandler struct {
	sink MinedTransactionSink
}

func NewAlchemyHandler(sink MinedTransactionSink) *AlchemyHandler {
	return &AlchemyHandler{sink: sink}
}

type minedTransactionPayload struct {
	Transaction *models.MinedTransaction `json:"transaction"`
	Event       *struct {
		Transaction *models.MinedTransaction `json:"transaction"`
	} `json:"event"`
}

func (h *AlchemyHandler) Handle(ctx context.Context, eventType string, payload []byte) error {
	if eventType != EventMinedTransaction {
		zap.L().Debug("Ignoring alchemy event", zap.String("event_type", eventType))
		return nil
	}

	var body minedTransactionPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("unable to decode mined transaction: %w", err)
	}
	tx := body.Transaction
	if tx == nil && body.Event != nil {
		tx = body.Event.Transaction
	}
	if tx == nil || tx.Hash == "" {
		return fmt.Errorf("mined transaction payload has no transaction")
	}
	return h.sink.HandleMinedTransaction(ctx, *tx)
}

// ExchangeHandler completes conversions from fill notifications.
type ExchangeHandler struct {
	store     store.SettlementStore
	enqueuer  settlement.Enqueuer
	publisher events.Publisher
}

func NewExchangeHandler(s store.SettlementStore, enqueuer settlement.Enqueuer, publisher events.Publisher) *ExchangeHandler {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &ExchangeHandler{store: s, enqueuer: enqueuer, publisher: publisher}
}

type orderFilledPayload struct {
	OrderId       string          `json:"orderId"`
	ClientOrderId string          `json:"clientOrderId"`
	FilledAmount  decimal.Decimal `json:"filledAmount"`
	Rate          decimal.Decimal `json:"rate"`
}

func (h *ExchangeHandler) Handle(ctx context.Context, eventType string, payload []byte) error {
	if eventType != EventOrderFilled {
		zap.L().Debug("Ignoring exchange event", zap.String("event_type", eventType))
		return nil
	}

	var body orderFilledPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("unable to decode order fill: %w", err)
	}
	conversionId, ok := strings.CutPrefix(body.ClientOrderId, "conv_")
	if !ok || conversionId == "" {
		zap.L().Warn("Order fill without a conversion client order id",
			zap.String("order_id", body.OrderId),
			zap.String("client_order_id", body.ClientOrderId))
		return nil
	}

	conversion, err := h.store.GetConversion(ctx, conversionId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			zap.L().Warn("Order fill for unknown conversion", zap.String("conversion_id", conversionId))
			return nil
		}
		return err
	}
	if !body.Rate.IsZero() && !body.Rate.Equal(conversion.Rate) {
		zap.L().Info("Fill rate differs from locked rate",
			zap.String("conversion_id", conversion.Id),
			zap.String("locked_rate", conversion.Rate.String()),
			zap.String("fill_rate", body.Rate.String()))
	}

	completed, err := h.store.CompleteConversion(ctx, conversion.Id, body.OrderId)
	if err != nil {
		return err
	}
	if !completed.Applied {
		zap.L().Debug("Conversion already settled", zap.String("conversion_id", conversion.Id))
		return nil
	}

	if err := h.publisher.Publish(ctx, events.Event{
		Type:      events.ConversionCompleted,
		InvoiceId: conversion.InvoiceId,
		EntityId:  conversion.Id,
		Status:    models.StatusCompleted,
		Data: map[string]string{
			"order_id":   body.OrderId,
			"amount_net": conversion.AmountFiatNet.String(),
		},
	}); err != nil {
		zap.L().Warn("Failed to publish event", zap.String("event_type", events.ConversionCompleted), zap.Error(err))
	}

	if _, _, err := h.enqueuer.Enqueue(ctx, models.LanePayout, conversion.InvoiceId, conversion.Id); err != nil {
		return fmt.Errorf("unable to enqueue payout: %w", err)
	}
	return nil
}

// CashfreeHandler settles payouts from transfer status notifications.
type CashfreeHandler struct {
	store     store.SettlementStore
	machine   *settlement.Machine
	publisher events.Publisher
	mirror    workers.LedgerMirror
}

func NewCashfreeHandler(s store.SettlementStore, machine *settlement.Machine, publisher events.Publisher, mirror workers.LedgerMirror) *CashfreeHandler {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &CashfreeHandler{store: s, machine: machine, publisher: publisher, mirror: mirror}
}

type payoutStatusPayload struct {
	TransferId string `json:"transferId"`
	PayoutId   string `json:"payoutId"`
	Reason     string `json:"reason"`
}

func (h *CashfreeHandler) Handle(ctx context.Context, eventType string, payload []byte) error {
	if eventType != EventPayoutSuccess && eventType != EventPayoutFailed {
		zap.L().Debug("Ignoring cashfree event", zap.String("event_type", eventType))
		return nil
	}

	var body payoutStatusPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return fmt.Errorf("unable to decode payout status: %w", err)
	}
	transferKey := body.TransferId
	if transferKey == "" {
		transferKey = body.PayoutId
	}
	if transferKey == "" {
		return fmt.Errorf("payout status has no transfer id")
	}

	payout, err := h.store.GetPayoutByTransferKey(ctx, transferKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			zap.L().Warn("Payout status for unknown transfer", zap.String("transfer_id", transferKey))
			return nil
		}
		return err
	}

	if eventType == EventPayoutSuccess {
		return h.succeed(ctx, payout)
	}
	return h.reject(ctx, payout, transferKey, body.Reason)
}

func (h *CashfreeHandler) succeed(ctx context.Context, payout *models.Payout) error {
	completed, err := h.store.CompletePayout(ctx, payout.Id)
	if err != nil {
		return err
	}
	if !completed.Applied {
		zap.L().Debug("Payout already settled", zap.String("payout_id", payout.Id), zap.String("status", payout.Status))
		return nil
	}

	if err := h.publisher.Publish(ctx, events.Event{
		Type:      events.PayoutCompleted,
		InvoiceId: payout.InvoiceId,
		EntityId:  payout.Id,
		Status:    models.StatusCompleted,
		Data:      map[string]string{"amount": payout.AmountFiat.String()},
	}); err != nil {
		zap.L().Warn("Failed to publish event", zap.String("event_type", events.PayoutCompleted), zap.Error(err))
	}

	if _, err := h.machine.MarkPaid(ctx, payout.InvoiceId); err != nil {
		return err
	}
	return nil
}

// reject applies a provider failure. A payout that already carries a ledger credit
// gets a compensating debit.
func (h *CashfreeHandler) reject(ctx context.Context, payout *models.Payout, transferKey, reason string) error {
	if reason == "" {
		reason = "provider reported failure"
	}
	rejected, err := h.store.RejectPayout(ctx, payout.Id, reason)
	if err != nil {
		return err
	}
	if !rejected.Applied {
		zap.L().Info("Ignoring payout failure for settled payout",
			zap.String("payout_id", payout.Id), zap.String("status", payout.Status))
		return nil
	}

	if err := h.publisher.Publish(ctx, events.Event{
		Type:      events.PayoutFailed,
		InvoiceId: payout.InvoiceId,
		EntityId:  payout.Id,
		Status:    models.StatusFailed,
		Data:      map[string]string{"reason": reason},
	}); err != nil {
		zap.L().Warn("Failed to publish event", zap.String("event_type", events.PayoutFailed), zap.Error(err))
	}

	credited, err := h.store.HasLedgerEntry(ctx, workers.CreditReference(transferKey))
	if err != nil {
		return err
	}
	if !credited {
		return nil
	}

	invoice, err := h.store.GetInvoice(ctx, payout.InvoiceId)
	if err != nil {
		return err
	}
	entry, err := h.store.AppendLedgerEntry(ctx, store.LedgerEntryParams{
		FreelancerId: payout.FreelancerId,
		InvoiceId:    payout.InvoiceId,
		Amount:       payout.AmountFiat,
		Currency:     invoice.FiatCurrency,
		EntryType:    models.EntryDebit,
		Reason:       "payout failed: " + reason,
		Reference:    workers.ReversalReference(transferKey),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateLedgerEntry) {
			return nil
		}
		return err
	}
	if h.mirror != nil {
		if err := h.mirror.RecordLedgerEntry(ctx, entry); err != nil {
			zap.L().Warn("Failed to mirror ledger reversal", zap.String("reference", entry.Reference), zap.Error(err))
		}
	}
	return nil
}
