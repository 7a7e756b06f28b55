package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"mchango-payments/internal/domain"
)

type PaymentService interface {
	InitiatePush(ctx context.Context, req *domain.PushRequest) (*domain.PushResult, error)
	GetStatus(ctx context.Context, checkoutRequestID string) (*domain.PendingPayment, error)
}

type PaymentHandler struct {
	paymentUC PaymentService
	logger    *zap.Logger
}

func NewPaymentHandler(paymentUC PaymentService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{paymentUC: paymentUC, logger: logger}
}

type pushResponse struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	CheckoutRequestID string `json:"checkoutRequestId"`
	MerchantRequestID string `json:"merchantRequestId"`
	PaymentID         string `json:"paymentId"`
	DonationID        string `json:"donationId,omitempty"`
}

// InitiatePush handles POST /api/v1/payments/stk-push.
func (h *PaymentHandler) InitiatePush(w http.ResponseWriter, r *http.Request) {
	var req domain.PushRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.Warn("failed to decode push request", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.paymentUC.InitiatePush(r.Context(), &req)
	if err != nil {
		writeUsecaseError(w, h.logger, err)
		return
	}

	message := res.CustomerMessage
	if message == "" {
		message = "STK push sent"
	}
	writeJSON(w, http.StatusOK, pushResponse{
		Success:           true,
		Message:           message,
		CheckoutRequestID: res.CheckoutRequestID,
		MerchantRequestID: res.MerchantRequestID,
		PaymentID:         res.PendingPaymentID,
		DonationID:        res.DonationID,
	})
}

type statusResponse struct {
	CheckoutRequestID string               `json:"checkoutRequestId"`
	Status            domain.PendingStatus `json:"status"`
	ReceiptNumber     *string              `json:"receiptNumber,omitempty"`
	ResultDesc        *string              `json:"resultDesc,omitempty"`
}

// GetStatus handles GET /api/v1/payments/{checkoutRequestId}.
func (h *PaymentHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	p, err := h.paymentUC.GetStatus(r.Context(), chi.URLParam(r, "checkoutRequestId"))
	if err != nil {
		writeUsecaseError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		CheckoutRequestID: p.CheckoutRequestID,
		Status:            p.Status,
		ReceiptNumber:     p.ReceiptNumber,
		ResultDesc:        p.ResultDesc,
	})
}
