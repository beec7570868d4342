package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"
)

const maxPayloadBytes = 1 << 20

// HTTPHandler serves one provider's callback endpoint. Signature failures answer
// 401; processing failures answer 500 so the provider redelivers.
func (i *Ingestor) HTTPHandler(providerName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, ok := i.providers[providerName]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown provider"})
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Unable to read body"})
			return
		}

		_, err = i.Ingest(r.Context(), providerName, payload, r.Header.Get(provider.Header))
		switch {
		case errors.Is(err, ErrInvalidSignature):
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid signature"})
		case err != nil:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Webhook processing failed"})
		default:
			writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("Failed to write webhook response", zap.Error(err))
	}
}
