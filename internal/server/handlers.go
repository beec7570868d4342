package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"crypto-settlement-go/internal/api"
	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/store"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("Failed to write response", zap.Error(err))
	}
}

// writeError maps domain errors to HTTP statuses. Unclassified errors are
// logged and answered with a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, api.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("Not found"))
	case errors.Is(err, api.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorBody("Forbidden"))
	case errors.Is(err, api.ErrConflict), errors.Is(err, store.ErrDuplicateFreelancer):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	case errors.Is(err, store.ErrPoolExhausted):
		writeJSON(w, http.StatusServiceUnavailable, errorBody("No deposit address available, try again later"))
	default:
		zap.L().Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("Internal server error"))
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed body: %v", api.ErrValidation, err)
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

func subject(r *http.Request) string {
	if p := models.GetPrincipal(r.Context()); p != nil {
		return p.Subject
	}
	return ""
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	checks, err := s.api.HealthCheck(r.Context())
	status, code := "ok", http.StatusOK
	if err != nil {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}

func (s *Server) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req models.CreateInvoiceRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	invoice, err := s.api.CreateInvoice(r.Context(), subject(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, invoice)
}

func (s *Server) getInvoice(w http.ResponseWriter, r *http.Request) {
	summary, err := s.api.GetInvoice(r.Context(), r.URL.Query().Get(":id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) freelancerInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := s.api.ListFreelancerInvoices(r.Context(), subject(r),
		r.URL.Query().Get("status"), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if invoices == nil {
		invoices = []models.InvoiceSummary{}
	}
	writeJSON(w, http.StatusOK, invoices)
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	freelancer, err := s.api.GetProfile(r.Context(), subject(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, freelancer)
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	var update models.PayoutMethodUpdate
	if err := decodeBody(w, r, &update); err != nil {
		writeError(w, r, err)
		return
	}
	freelancer, err := s.api.UpdateProfile(r.Context(), subject(r), update)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, freelancer)
}

func (s *Server) ledger(w http.ResponseWriter, r *http.Request) {
	view, err := s.api.Ledger(r.Context(), subject(r), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.api.ListJobs(r.Context(), r.URL.Query().Get("lane"), r.URL.Query().Get("state"), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) retryJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.api.RetryJob(r.Context(), r.URL.Query().Get(":id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) retryPayout(w http.ResponseWriter, r *http.Request) {
	payout, err := s.api.RetryPayout(r.Context(), r.URL.Query().Get(":id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payout)
}

func (s *Server) reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := s.api.Reconcile(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) listWebhooks(w http.ResponseWriter, r *http.Request) {
	events, err := s.api.ListWebhooks(r.Context(), r.URL.Query().Get("provider"), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.api.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) transactions(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.api.Transactions(r.Context(), r.URL.Query().Get("status"), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) pollDeposits(w http.ResponseWriter, r *http.Request) {
	result, err := s.api.PollDeposits(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) confirmDeposit(w http.ResponseWriter, r *http.Request) {
	deposit, err := s.api.ConfirmDeposit(r.Context(), r.URL.Query().Get(":id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deposit)
}
