package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mchango-payments/internal/domain"
	"mchango-payments/internal/metrics"
	"mchango-payments/internal/provider/mpesa"
	"mchango-payments/internal/repository"
)

const (
	pushTimeout       = 30 * time.Second
	defaultSweepBatch = 200
)

type PaymentUsecase struct {
	resolver    *ConfigResolver
	mpesaClient *mpesa.Client
	pendingRepo repository.PendingPaymentRepository
	ledgerRepo  repository.LedgerRepository
	logger      *zap.Logger
}

func NewPaymentUsecase(
	resolver *ConfigResolver,
	mpesaClient *mpesa.Client,
	pendingRepo repository.PendingPaymentRepository,
	ledgerRepo repository.LedgerRepository,
	logger *zap.Logger,
) *PaymentUsecase {
	return &PaymentUsecase{
		resolver:    resolver,
		mpesaClient: mpesaClient,
		pendingRepo: pendingRepo,
		ledgerRepo:  ledgerRepo,
		logger:      logger,
	}
}

// InitiatePush places an STK prompt on the payer's phone and records the
// pending payment its callback will settle. A nil error means the prompt was
// placed, not that the customer paid.
func (uc *PaymentUsecase) InitiatePush(ctx context.Context, req *domain.PushRequest) (*domain.PushResult, error) {
	if err := req.Validate(); err != nil {
		uc.logger.Warn("push validation failed",
			zap.String("payment_type", req.PaymentType),
			zap.String("amount", req.Amount.String()),
			zap.Error(err))
		metrics.PushRequestsTotal.WithLabelValues(channelLabel(req.PaymentType), "invalid").Inc()
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	channel := string(req.Channel)

	ctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()

	cfg, err := uc.resolver.ResolvePush(ctx, req.Channel)
	if err != nil {
		uc.logger.Warn("push channel unavailable", zap.String("channel", channel), zap.Error(err))
		metrics.PushRequestsTotal.WithLabelValues(channel, "config_error").Inc()
		return nil, err
	}

	kind, targetID := req.Target()
	description := pushDescription(kind, req.CampaignID)
	reference := req.Reference
	if reference == "" {
		reference = description
	}

	uc.logger.Info("initiating stk push",
		zap.String("channel", channel),
		zap.Int64("amount", req.WholeAmount),
		zap.String("phone", maskPhone(req.Phone)),
		zap.String("target_kind", string(kind)),
		zap.String("target_id", targetID),
		zap.String("campaign_id", req.CampaignID))

	stkReq := mpesa.BuildSTKPushRequest(cfg, req.Phone, req.WholeAmount, reference, description, uc.mpesaClient.Now())
	resp, err := uc.mpesaClient.STKPush(ctx, cfg, stkReq)
	if err != nil {
		outcome := "error"
		if errors.Is(err, domain.ErrPushRejected) {
			outcome = "rejected"
		}
		metrics.PushRequestsTotal.WithLabelValues(channel, outcome).Inc()
		uc.logger.Error("stk push failed", zap.String("channel", channel), zap.Error(err))
		return nil, fmt.Errorf("stk push: %w", err)
	}

	amount := decimal.NewFromInt(req.WholeAmount)
	result := &domain.PushResult{
		CheckoutRequestID: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		CustomerMessage:   resp.CustomerMessage,
	}

	if req.CampaignID != "" {
		donation := domain.NewPendingDonation(req.CampaignID, amount, req.Phone)
		if err := uc.ledgerRepo.CreateDonation(ctx, donation); err != nil {
			uc.logger.Error("failed to create donation for accepted push",
				zap.String("checkout_request_id", resp.CheckoutRequestID),
				zap.String("campaign_id", req.CampaignID),
				zap.Error(err))
			metrics.PushRequestsTotal.WithLabelValues(channel, "persist_error").Inc()
			return nil, fmt.Errorf("create donation: %w", err)
		}
		kind, targetID = domain.TargetDonation, donation.ID
		result.DonationID = donation.ID
	}

	pending := &domain.PendingPayment{
		ID:                domain.NewID("pp"),
		CheckoutRequestID: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		Phone:             req.Phone,
		Amount:            amount,
		Channel:           req.Channel,
		Reference:         reference,
		TargetKind:        kind,
		TargetID:          targetID,
		Status:            domain.PendingInFlight,
	}
	if err := uc.pendingRepo.Create(ctx, pending); err != nil {
		uc.logger.Error("failed to persist pending payment for accepted push",
			zap.String("checkout_request_id", resp.CheckoutRequestID),
			zap.Error(err))
		metrics.PushRequestsTotal.WithLabelValues(channel, "persist_error").Inc()
		return nil, fmt.Errorf("persist pending payment: %w", err)
	}
	result.PendingPaymentID = pending.ID

	metrics.PushRequestsTotal.WithLabelValues(channel, "accepted").Inc()
	uc.logger.Info("stk push accepted",
		zap.String("checkout_request_id", resp.CheckoutRequestID),
		zap.String("merchant_request_id", resp.MerchantRequestID),
		zap.String("pending_payment_id", pending.ID))
	return result, nil
}

// GetStatus returns the pending payment for a checkout, for UI polling.
func (uc *PaymentUsecase) GetStatus(ctx context.Context, checkoutRequestID string) (*domain.PendingPayment, error) {
	checkoutRequestID = strings.TrimSpace(checkoutRequestID)
	if checkoutRequestID == "" {
		return nil, domain.ErrInvalidInput
	}
	return uc.pendingRepo.GetByCheckoutRequestID(ctx, checkoutRequestID)
}

// ExpireStalePayments moves payments in flight for longer than ttl to
// expired, batch rows at a time. Linked donations and orders stay pending.
func (uc *PaymentUsecase) ExpireStalePayments(ctx context.Context, ttl time.Duration, batch int) (int, error) {
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	cutoff := uc.mpesaClient.Now().Add(-ttl)
	total := 0
	for {
		expired, err := uc.pendingRepo.ExpireStale(ctx, cutoff, batch)
		if err != nil {
			return total, fmt.Errorf("expire stale payments: %w", err)
		}
		for _, p := range expired {
			uc.logger.Info("pending payment expired",
				zap.String("checkout_request_id", p.CheckoutRequestID),
				zap.String("target_kind", string(p.TargetKind)),
				zap.String("target_id", p.TargetID),
				zap.Time("created_at", p.CreatedAt))
		}
		total += len(expired)
		metrics.PendingExpiredTotal.Add(float64(len(expired)))
		if len(expired) < batch {
			return total, nil
		}
	}
}

func pushDescription(kind domain.TargetKind, campaignID string) string {
	switch {
	case kind == domain.TargetDonation || campaignID != "":
		return "Donation"
	case kind == domain.TargetOrder:
		return "Order"
	}
	return "Payment"
}

// channelLabel keeps client input out of metric labels.
func channelLabel(paymentType string) string {
	if c, err := domain.ParseChannel(paymentType); err == nil {
		return string(c)
	}
	return "unknown"
}

// maskPhone keeps the country code and last three digits.
func maskPhone(phone string) string {
	if len(phone) < 7 {
		return phone
	}
	return phone[:3] + strings.Repeat("*", len(phone)-6) + phone[len(phone)-3:]
}
