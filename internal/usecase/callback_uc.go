package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mchango-payments/internal/domain"
	"mchango-payments/internal/events"
	"mchango-payments/internal/metrics"
	"mchango-payments/internal/provider/mpesa"
	"mchango-payments/internal/repository"
)

// CallbackUsecase reconciles Daraja callbacks with the ledger. Returned
// errors are for logging; the HTTP layer acknowledges every callback.
type CallbackUsecase struct {
	ledgerRepo     repository.LedgerRepository
	withdrawalRepo repository.WithdrawalRepository
	publisher      events.Publisher
	logger         *zap.Logger
}

func NewCallbackUsecase(
	ledgerRepo repository.LedgerRepository,
	withdrawalRepo repository.WithdrawalRepository,
	publisher events.Publisher,
	logger *zap.Logger,
) *CallbackUsecase {
	return &CallbackUsecase{
		ledgerRepo:     ledgerRepo,
		withdrawalRepo: withdrawalRepo,
		publisher:      publisher,
		logger:         logger,
	}
}

// HandleSTKCallback settles the pending payment named by an STK callback.
// Redelivery of an already settled callback is a no-op.
func (uc *CallbackUsecase) HandleSTKCallback(ctx context.Context, raw []byte) error {
	cb, err := mpesa.ParseSTKCallback(raw)
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues("stk", "malformed").Inc()
		uc.logger.Warn("malformed stk callback", zap.Error(err), zap.Int("body_bytes", len(raw)))
		return err
	}

	uc.logger.Info("stk callback received",
		zap.String("checkout_request_id", cb.CheckoutRequestID),
		zap.String("merchant_request_id", cb.MerchantRequestID),
		zap.String("result_code", cb.ResultCode),
		zap.String("result_desc", cb.ResultDesc))

	if cb.Succeeded() {
		return uc.completePayment(ctx, cb)
	}
	return uc.failPayment(ctx, cb)
}

func (uc *CallbackUsecase) completePayment(ctx context.Context, cb *mpesa.STKCallback) error {
	rec, err := uc.ledgerRepo.CompletePayment(ctx, cb.Success())
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues("stk", "error").Inc()
		uc.logger.Error("failed to complete payment",
			zap.String("checkout_request_id", cb.CheckoutRequestID),
			zap.String("receipt_number", cb.ReceiptNumber),
			zap.Error(err))
		return fmt.Errorf("complete payment %s: %w", cb.CheckoutRequestID, err)
	}
	metrics.CallbacksTotal.WithLabelValues("stk", string(rec.Outcome)).Inc()

	switch rec.Outcome {
	case domain.OutcomeMiss:
		uc.logger.Warn("no pending payment for successful callback",
			zap.String("checkout_request_id", cb.CheckoutRequestID),
			zap.String("receipt_number", cb.ReceiptNumber),
			zap.String("amount", cb.Amount.String()))
		return fmt.Errorf("%w: %s", domain.ErrReconciliationMiss, cb.CheckoutRequestID)
	case domain.OutcomeDuplicate:
		uc.logger.Info("duplicate stk callback ignored",
			zap.String("checkout_request_id", cb.CheckoutRequestID),
			zap.String("receipt_number", cb.ReceiptNumber))
		return nil
	case domain.OutcomeTargetSettled:
		uc.logger.Warn("payment received for already settled target, refund required",
			zap.String("checkout_request_id", cb.CheckoutRequestID),
			zap.String("receipt_number", cb.ReceiptNumber),
			zap.String("target_kind", string(rec.Pending.TargetKind)),
			zap.String("target_id", rec.Pending.TargetID))
	default:
		uc.logger.Info("payment completed",
			zap.String("checkout_request_id", cb.CheckoutRequestID),
			zap.String("receipt_number", cb.ReceiptNumber),
			zap.String("campaign_id", rec.CampaignID),
			zap.String("credited", rec.Credited.String()))
	}

	if !cb.Amount.IsZero() && !cb.Amount.Equal(rec.Pending.Amount) {
		uc.logger.Warn("callback amount differs from pending amount",
			zap.String("checkout_request_id", cb.CheckoutRequestID),
			zap.String("callback_amount", cb.Amount.String()),
			zap.String("pending_amount", rec.Pending.Amount.String()))
	}

	uc.publish(ctx, cb.CheckoutRequestID, events.New(events.TypePaymentCompleted, events.PaymentData{
		CheckoutRequestID: cb.CheckoutRequestID,
		ReceiptNumber:     cb.ReceiptNumber,
		Amount:            rec.Pending.Amount,
		Phone:             rec.Pending.Phone,
		TargetKind:        rec.Pending.TargetKind,
		TargetID:          rec.Pending.TargetID,
		CampaignID:        rec.CampaignID,
		Credited:          rec.Credited,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
	}))
	return nil
}

func (uc *CallbackUsecase) failPayment(ctx context.Context, cb *mpesa.STKCallback) error {
	rec, err := uc.ledgerRepo.FailPayment(ctx, cb.Failure())
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues("stk", "error").Inc()
		uc.logger.Error("failed to record failed payment",
			zap.String("checkout_request_id", cb.CheckoutRequestID),
			zap.Error(err))
		return fmt.Errorf("fail payment %s: %w", cb.CheckoutRequestID, err)
	}
	metrics.CallbacksTotal.WithLabelValues("stk", string(rec.Outcome)).Inc()

	switch rec.Outcome {
	case domain.OutcomeMiss:
		uc.logger.Warn("no pending payment for failed callback",
			zap.String("checkout_request_id", cb.CheckoutRequestID),
			zap.String("result_code", cb.ResultCode))
		return fmt.Errorf("%w: %s", domain.ErrReconciliationMiss, cb.CheckoutRequestID)
	case domain.OutcomeDuplicate:
		uc.logger.Info("duplicate stk callback ignored", zap.String("checkout_request_id", cb.CheckoutRequestID))
		return nil
	}

	uc.logger.Info("payment failed",
		zap.String("checkout_request_id", cb.CheckoutRequestID),
		zap.String("result_code", cb.ResultCode),
		zap.String("result_desc", cb.ResultDesc))

	uc.publish(ctx, cb.CheckoutRequestID, events.New(events.TypePaymentFailed, events.PaymentData{
		CheckoutRequestID: cb.CheckoutRequestID,
		Amount:            rec.Pending.Amount,
		Phone:             rec.Pending.Phone,
		TargetKind:        rec.Pending.TargetKind,
		TargetID:          rec.Pending.TargetID,
		Credited:          rec.Credited,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
	}))
	return nil
}

// HandleB2CResult settles the withdrawal a B2C result refers to.
func (uc *CallbackUsecase) HandleB2CResult(ctx context.Context, raw []byte) error {
	outcome, err := mpesa.ParseB2CResult(raw)
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues("b2c_result", "malformed").Inc()
		uc.logger.Warn("malformed b2c result", zap.Error(err))
		return err
	}

	uc.logger.Info("b2c result received",
		zap.String("conversation_id", outcome.ConversationID),
		zap.String("originator_conversation_id", outcome.OriginatorConversationID),
		zap.String("result_code", outcome.ResultCode),
		zap.String("transaction_id", outcome.TransactionID))

	if outcome.Succeeded() {
		return uc.resolveWithdrawal(ctx, "b2c_result", *outcome, domain.WithdrawalCompleted, "")
	}
	return uc.resolveWithdrawal(ctx, "b2c_result", *outcome, domain.WithdrawalFailed, outcome.ResultDesc)
}

// HandleB2CTimeout fails a withdrawal whose request expired in the Daraja queue.
func (uc *CallbackUsecase) HandleB2CTimeout(ctx context.Context, raw []byte) error {
	outcome, err := mpesa.ParseB2CResult(raw)
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues("b2c_timeout", "malformed").Inc()
		uc.logger.Warn("malformed b2c timeout", zap.Error(err))
		return err
	}

	uc.logger.Warn("b2c queue timeout",
		zap.String("conversation_id", outcome.ConversationID),
		zap.String("originator_conversation_id", outcome.OriginatorConversationID))
	return uc.resolveWithdrawal(ctx, "b2c_timeout", *outcome, domain.WithdrawalFailed, domain.FailureQueueTimeout)
}

func (uc *CallbackUsecase) resolveWithdrawal(ctx context.Context, kind string, outcome domain.DisbursementOutcome, to domain.WithdrawalStatus, reason string) error {
	w, result, err := uc.withdrawalRepo.Resolve(ctx, outcome, to, reason)
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues(kind, "error").Inc()
		uc.logger.Error("failed to resolve withdrawal",
			zap.String("conversation_id", outcome.ConversationID),
			zap.Error(err))
		return fmt.Errorf("resolve withdrawal %s: %w", outcome.ConversationID, err)
	}
	metrics.CallbacksTotal.WithLabelValues(kind, string(result)).Inc()

	switch result {
	case domain.OutcomeMiss:
		uc.logger.Warn("no withdrawal for b2c callback",
			zap.String("conversation_id", outcome.ConversationID),
			zap.String("originator_conversation_id", outcome.OriginatorConversationID))
		return fmt.Errorf("%w: %s", domain.ErrReconciliationMiss, outcome.ConversationID)
	case domain.OutcomeDuplicate:
		uc.logger.Info("b2c callback ignored",
			zap.String("withdrawal_id", w.ID),
			zap.String("status", string(w.Status)))
		return nil
	}

	uc.logger.Info("withdrawal resolved",
		zap.String("withdrawal_id", w.ID),
		zap.String("status", string(w.Status)),
		zap.String("reason", reason))

	eventType := events.TypeWithdrawalCompleted
	if to == domain.WithdrawalFailed {
		eventType = events.TypeWithdrawalFailed
	}
	uc.publish(ctx, w.ID, events.New(eventType, events.WithdrawalData{
		WithdrawalID:   w.ID,
		CampaignID:     w.CampaignID,
		Amount:         w.Amount,
		ConversationID: outcome.ConversationID,
		TransactionID:  outcome.TransactionID,
		ResultDesc:     outcome.ResultDesc,
	}))
	return nil
}

// publish is best effort; the ledger commit is already durable.
func (uc *CallbackUsecase) publish(ctx context.Context, key string, evt events.Event) {
	if err := uc.publisher.Publish(ctx, key, evt); err != nil {
		uc.logger.Warn("failed to publish event",
			zap.String("event_type", evt.Type),
			zap.String("key", key),
			zap.Error(err))
	}
}
