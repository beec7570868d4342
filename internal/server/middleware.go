package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"crypto-settlement-go/internal/models"

	"go.uber.org/zap"
)

func secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "deny")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		zap.L().Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote", r.RemoteAddr))
	})
}

func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				w.Header().Set("Connection", "close")
				zap.L().Error("Recovered from panic in handler",
					zap.String("path", r.URL.Path),
					zap.Error(fmt.Errorf("%v", err)))
				writeJSON(w, http.StatusInternalServerError, errorBody("Internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requireRole authenticates the bearer token and admits callers with role.
// Admins pass every role check.
func (s *Server) requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeJSON(w, http.StatusUnauthorized, errorBody("Unauthorized"))
				return
			}
			principal, err := s.tokens.Parse(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				zap.L().Debug("Rejected bearer token", zap.Error(err))
				writeJSON(w, http.StatusUnauthorized, errorBody("Unauthorized"))
				return
			}
			if principal.Role != role && principal.Role != models.RoleAdmin {
				writeJSON(w, http.StatusForbidden, errorBody("Forbidden"))
				return
			}
			next.ServeHTTP(w, r.WithContext(models.WithPrincipal(r.Context(), principal)))
		})
	}
}
