package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/store"

	"go.uber.org/zap"
)

// Handler applies one provider's verified callbacks.
type Handler interface {
	Handle(ctx context.Context, eventType string, payload []byte) error
}

// Provider binds a callback source to its signature header, secret and handler.
type Provider struct {
	Name    string
	Header  string
	Secret  string
	Handler Handler
}

// Recorder counts deliveries by provider and result.
type Recorder interface {
	WebhookReceived(provider, result string)
}

const (
	ResultProcessed        = "processed"
	ResultInvalidSignature = "invalid_signature"
	ResultFailed           = "failed"
)

// Ingestor persists every authenticated callback before dispatching it.
type Ingestor struct {
	store     store.SettlementStore
	providers map[string]Provider
	recorder  Recorder
}

func NewIngestor(s store.SettlementStore, providers ...Provider) *Ingestor {
	i := &Ingestor{store: s, providers: make(map[string]Provider)}
	for _, p := range providers {
		if p.Secret == "" {
			zap.L().Warn("Webhook secret not configured, every delivery will be rejected",
				zap.String("provider", p.Name))
		}
		i.providers[p.Name] = p
	}
	return i
}

func (i *Ingestor) WithRecorder(r Recorder) *Ingestor {
	i.recorder = r
	return i
}

func (i *Ingestor) record(provider, result string) {
	if i.recorder != nil {
		i.recorder.WebhookReceived(provider, result)
	}
}

func (i *Ingestor) Provider(name string) (Provider, bool) {
	p, ok := i.providers[name]
	return p, ok
}

// Ingest verifies the delivery's signature, records it and dispatches it. A bad
// signature is logged and counted but never stored, and returns ErrInvalidSignature.
func (i *Ingestor) Ingest(ctx context.Context, providerName string, payload []byte, signature string) (*models.WebhookEvent, error) {
	provider, ok := i.providers[providerName]
	if !ok {
		return nil, fmt.Errorf("unknown webhook provider %q", providerName)
	}

	if provider.Secret == "" || !Verify(provider.Secret, payload, signature) {
		zap.L().Warn("Rejected webhook with invalid signature",
			zap.String("provider", providerName),
			zap.Int("payload_bytes", len(payload)))
		i.record(providerName, ResultInvalidSignature)
		return nil, ErrInvalidSignature
	}

	eventType := peekEventType(payload)
	event, err := i.store.InsertWebhookEvent(ctx, store.WebhookEventParams{
		Provider:       providerName,
		EventType:      eventType,
		Payload:        string(payload),
		SignatureValid: true,
	})
	if err != nil {
		return nil, err
	}

	handleErr := provider.Handler.Handle(ctx, eventType, payload)
	errMsg := ""
	result := ResultProcessed
	if handleErr != nil {
		errMsg = handleErr.Error()
		result = ResultFailed
		zap.L().Error("Webhook processing failed",
			zap.String("provider", providerName),
			zap.String("event_id", event.Id),
			zap.String("event_type", eventType),
			zap.Error(handleErr))
	}
	if err := i.store.MarkWebhookProcessed(ctx, event.Id, errMsg); err != nil {
		zap.L().Error("Failed to mark webhook processed", zap.String("event_id", event.Id), zap.Error(err))
	}
	i.record(providerName, result)
	event.Processed = handleErr == nil
	event.ErrorMessage = errMsg
	return event, handleErr
}

func peekEventType(payload []byte) string {
	var envelope struct {
		Type      string `json:"type"`
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "unparseable"
	}
	switch {
	case envelope.Type != "":
		return envelope.Type
	case envelope.EventType != "":
		return envelope.EventType
	}
	return "unknown"
}
