package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"mchango-payments/internal/domain"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

// clientErrors are reported to the caller with the sentinel's own message.
var clientErrors = []struct {
	err    error
	status int
}{
	{domain.ErrInvalidPhone, http.StatusBadRequest},
	{domain.ErrInvalidAmount, http.StatusBadRequest},
	{domain.ErrInvalidChannel, http.StatusBadRequest},
	{domain.ErrInvalidInput, http.StatusBadRequest},
	{domain.ErrAmountMismatch, http.StatusBadRequest},
	{domain.ErrPhoneMismatch, http.StatusBadRequest},
	{domain.ErrPaymentNotFound, http.StatusNotFound},
	{domain.ErrWithdrawalNotFound, http.StatusNotFound},
	{domain.ErrWithdrawalNotPending, http.StatusConflict},
}

// writeUsecaseError maps a usecase error onto a status code and a message
// safe to show the caller.
func writeUsecaseError(w http.ResponseWriter, logger *zap.Logger, err error) {
	for _, ce := range clientErrors {
		if errors.Is(err, ce.err) {
			writeError(w, ce.status, ce.err.Error())
			return
		}
	}

	var cfgErr *domain.ConfigError
	if errors.As(err, &cfgErr) {
		writeError(w, http.StatusBadRequest, cfgErr.Error())
		return
	}

	var upstream *domain.UpstreamError
	if errors.As(err, &upstream) {
		if errors.Is(upstream, domain.ErrAuthenticationFailed) {
			logger.Error("payment network authentication failed", zap.Int("status", upstream.StatusCode), zap.Error(err))
			writeError(w, http.StatusInternalServerError, domain.ErrAuthenticationFailed.Error())
			return
		}
		writeError(w, http.StatusBadRequest, upstream.Error())
		return
	}

	logger.Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal server error")
}
