package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"mchango-payments/internal/domain"
)

type DisbursementService interface {
	InitiateDisbursement(ctx context.Context, req *domain.DisbursementRequest) (*domain.DisbursementResult, error)
}

type DisbursementHandler struct {
	disbursementUC DisbursementService
	logger         *zap.Logger
}

func NewDisbursementHandler(disbursementUC DisbursementService, logger *zap.Logger) *DisbursementHandler {
	return &DisbursementHandler{disbursementUC: disbursementUC, logger: logger}
}

type disburseResponse struct {
	Success                  bool   `json:"success"`
	Message                  string `json:"message"`
	Manual                   bool   `json:"manual,omitempty"`
	Reference                string `json:"reference,omitempty"`
	ConversationID           string `json:"conversationId,omitempty"`
	OriginatorConversationID string `json:"originatorConversationId,omitempty"`
}

// Disburse handles POST /api/v1/withdrawals/disburse.
func (h *DisbursementHandler) Disburse(w http.ResponseWriter, r *http.Request) {
	var req domain.DisbursementRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.Warn("failed to decode disbursement request", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.disbursementUC.InitiateDisbursement(r.Context(), &req)
	if err != nil {
		writeUsecaseError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, disburseResponse{
		Success:                  true,
		Message:                  res.Message,
		Manual:                   res.Manual,
		Reference:                res.Reference,
		ConversationID:           res.ConversationID,
		OriginatorConversationID: res.OriginatorConversationID,
	})
}
