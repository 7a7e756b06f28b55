package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mchango-payments/internal/domain"
	"mchango-payments/internal/metrics"
	"mchango-payments/internal/provider/mpesa"
	"mchango-payments/internal/repository"
)

const (
	disburseTimeout = 30 * time.Second

	manualPrefix     = "MANUAL-"
	pendingB2CPrefix = "PENDING-B2C-"
)

type DisbursementUsecase struct {
	resolver       *ConfigResolver
	mpesaClient    *mpesa.Client
	withdrawalRepo repository.WithdrawalRepository
	newID          func() string
	logger         *zap.Logger
}

func NewDisbursementUsecase(
	resolver *ConfigResolver,
	mpesaClient *mpesa.Client,
	withdrawalRepo repository.WithdrawalRepository,
	logger *zap.Logger,
) *DisbursementUsecase {
	return &DisbursementUsecase{
		resolver:       resolver,
		mpesaClient:    mpesaClient,
		withdrawalRepo: withdrawalRepo,
		newID:          uuid.NewString,
		logger:         logger,
	}
}

// InitiateDisbursement pays out an approved withdrawal over B2C. Without a
// usable B2C configuration the withdrawal is approved for manual payout and
// nothing is sent.
func (uc *DisbursementUsecase) InitiateDisbursement(ctx context.Context, req *domain.DisbursementRequest) (*domain.DisbursementResult, error) {
	if err := req.Validate(); err != nil {
		uc.logger.Warn("disbursement validation failed", zap.String("withdrawal_id", req.WithdrawalID), zap.Error(err))
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, disburseTimeout)
	defer cancel()

	w, err := uc.withdrawalRepo.GetByID(ctx, req.WithdrawalID)
	if err != nil {
		return nil, err
	}
	if w.Status != domain.WithdrawalPending {
		uc.logger.Warn("withdrawal not pending",
			zap.String("withdrawal_id", w.ID),
			zap.String("status", string(w.Status)))
		return nil, domain.ErrWithdrawalNotPending
	}
	if !w.Amount.Equal(req.Amount) {
		uc.logger.Warn("disbursement amount mismatch",
			zap.String("withdrawal_id", w.ID),
			zap.String("requested", req.Amount.String()),
			zap.String("stored", w.Amount.String()))
		return nil, domain.ErrAmountMismatch
	}
	payee, err := domain.NormalizePhone(w.MpesaPhone)
	if err != nil || payee != req.Phone {
		uc.logger.Warn("disbursement phone mismatch",
			zap.String("withdrawal_id", w.ID),
			zap.String("requested", maskPhone(req.Phone)),
			zap.String("stored", maskPhone(w.MpesaPhone)))
		return nil, domain.ErrPhoneMismatch
	}

	cfg, err := uc.resolver.ResolveB2C(ctx)
	if err != nil {
		var ce *domain.ConfigError
		if errors.As(err, &ce) {
			switch ce.Kind {
			case domain.ChannelNotConfigured:
				return uc.approveManually(ctx, w, manualPrefix)
			case domain.ChannelIncomplete:
				return uc.approveManually(ctx, w, pendingB2CPrefix)
			}
		}
		metrics.DisbursementsTotal.WithLabelValues("b2c", "config_error").Inc()
		return nil, err
	}

	originatorID := uc.newID()
	claimed, err := uc.withdrawalRepo.Claim(ctx, w.ID, originatorID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, domain.ErrWithdrawalNotPending
	}

	amount, err := domain.WholeShillings(w.Amount)
	if err != nil {
		uc.release(ctx, w.ID)
		return nil, err
	}

	remarks := "Withdrawal"
	if req.CampaignTitle != "" {
		remarks = "Withdrawal: " + req.CampaignTitle
	}
	b2cReq := mpesa.BuildB2CRequest(cfg, originatorID, payee, amount, remarks, w.ID)

	uc.logger.Info("initiating b2c disbursement",
		zap.String("withdrawal_id", w.ID),
		zap.Int64("amount", amount),
		zap.String("phone", maskPhone(payee)),
		zap.String("originator_conversation_id", b2cReq.OriginatorConversationID))

	resp, err := uc.mpesaClient.B2CPayment(ctx, cfg, b2cReq)
	if err != nil {
		outcome := "error"
		if errors.Is(err, domain.ErrDisbursementRejected) {
			outcome = "rejected"
		}
		metrics.DisbursementsTotal.WithLabelValues("b2c", outcome).Inc()
		uc.logger.Error("b2c disbursement failed", zap.String("withdrawal_id", w.ID), zap.Error(err))
		uc.release(ctx, w.ID)
		return nil, fmt.Errorf("b2c payment: %w", err)
	}

	if err := uc.withdrawalRepo.MarkSubmitted(ctx, w.ID, resp.ConversationID, originatorID); err != nil {
		// Money is queued. The result still matches on the originator ID.
		uc.logger.Error("failed to record b2c submission",
			zap.String("withdrawal_id", w.ID),
			zap.String("conversation_id", resp.ConversationID),
			zap.Error(err))
		metrics.DisbursementsTotal.WithLabelValues("b2c", "persist_error").Inc()
		return nil, err
	}

	metrics.DisbursementsTotal.WithLabelValues("b2c", "accepted").Inc()
	uc.logger.Info("b2c disbursement accepted",
		zap.String("withdrawal_id", w.ID),
		zap.String("conversation_id", resp.ConversationID))

	return &domain.DisbursementResult{
		Reference:                resp.ConversationID,
		ConversationID:           resp.ConversationID,
		OriginatorConversationID: originatorID,
		Message:                  "Disbursement initiated",
	}, nil
}

func (uc *DisbursementUsecase) approveManually(ctx context.Context, w *domain.Withdrawal, prefix string) (*domain.DisbursementResult, error) {
	reference := fmt.Sprintf("%s%d", prefix, uc.mpesaClient.Now().UnixMilli())

	ok, err := uc.withdrawalRepo.MarkApproved(ctx, w.ID, reference)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrWithdrawalNotPending
	}

	metrics.DisbursementsTotal.WithLabelValues("manual", "approved").Inc()
	uc.logger.Info("withdrawal approved for manual processing",
		zap.String("withdrawal_id", w.ID),
		zap.String("reference", reference))

	return &domain.DisbursementResult{
		Manual:    true,
		Reference: reference,
		Message:   "Withdrawal approved for manual processing",
	}, nil
}

// release returns a claimed withdrawal to pending, even if ctx is done.
func (uc *DisbursementUsecase) release(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := uc.withdrawalRepo.Release(ctx, id); err != nil {
		uc.logger.Error("failed to release withdrawal claim", zap.String("withdrawal_id", id), zap.Error(err))
	}
}
