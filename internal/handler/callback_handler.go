package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"mchango-payments/internal/domain"
)

type CallbackService interface {
	HandleSTKCallback(ctx context.Context, raw []byte) error
	HandleB2CResult(ctx context.Context, raw []byte) error
	HandleB2CTimeout(ctx context.Context, raw []byte) error
}

// CallbackHandler receives Daraja callbacks. Every callback is acknowledged
// with ResultCode 0 whatever happened while processing it, so Daraja does
// not redeliver it.
type CallbackHandler struct {
	callbackUC     CallbackService
	processTimeout time.Duration
	logger         *zap.Logger
}

func NewCallbackHandler(callbackUC CallbackService, processTimeout time.Duration, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{
		callbackUC:     callbackUC,
		processTimeout: processTimeout,
		logger:         logger,
	}
}

func (h *CallbackHandler) HandleSTKCallback(w http.ResponseWriter, r *http.Request) {
	h.process(w, r, "stk", h.callbackUC.HandleSTKCallback)
}

func (h *CallbackHandler) HandleB2CResult(w http.ResponseWriter, r *http.Request) {
	h.process(w, r, "b2c_result", h.callbackUC.HandleB2CResult)
}

func (h *CallbackHandler) HandleB2CTimeout(w http.ResponseWriter, r *http.Request) {
	h.process(w, r, "b2c_timeout", h.callbackUC.HandleB2CTimeout)
}

func (h *CallbackHandler) process(w http.ResponseWriter, r *http.Request, kind string, fn func(context.Context, []byte) error) {
	h.logger.Info("received mpesa callback",
		zap.String("kind", kind),
		zap.String("remote_addr", r.RemoteAddr))

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Error("failed to read callback payload", zap.String("kind", kind), zap.Error(err))
	} else {
		// Processing outlives a client disconnect but not the timeout.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.processTimeout)
		err = safeProcess(ctx, payload, fn)
		cancel()
		h.logOutcome(kind, err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ResultCode": 0,
		"ResultDesc": "Callback processed",
	})
}

func safeProcess(ctx context.Context, payload []byte, fn func(context.Context, []byte) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("callback processing panicked: %v", rec)
		}
	}()
	return fn(ctx, payload)
}

func (h *CallbackHandler) logOutcome(kind string, err error) {
	switch {
	case err == nil:
		h.logger.Debug("mpesa callback processed", zap.String("kind", kind))
	case errors.Is(err, domain.ErrMalformedCallback), errors.Is(err, domain.ErrReconciliationMiss):
		h.logger.Warn("mpesa callback not applied", zap.String("kind", kind), zap.Error(err))
	default:
		h.logger.Error("failed to process mpesa callback", zap.String("kind", kind), zap.Error(err))
	}
}
