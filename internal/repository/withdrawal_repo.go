package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"mchango-payments/internal/domain"
)

// WithdrawalRepository moves withdrawal requests through their payout
// states. Every transition is conditional on the current status; a false
// result means another request got there first.
type WithdrawalRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Withdrawal, error)
	// MarkApproved moves pending to approved for manual processing.
	MarkApproved(ctx context.Context, id, reference string) (bool, error)
	// Claim moves pending to processing before any money is sent and
	// records the originator conversation ID the B2C request will carry, so
	// a result that races the submission still finds the row.
	Claim(ctx context.Context, id, originatorConversationID string) (bool, error)
	// Release returns an unsubmitted processing request to pending.
	Release(ctx context.Context, id string) error
	// MarkSubmitted records the conversation ID Daraja assigned. It
	// succeeds even when the result already resolved the withdrawal.
	MarkSubmitted(ctx context.Context, id, conversationID, originatorConversationID string) error
	// Resolve applies a B2C result or timeout located by conversation ID.
	Resolve(ctx context.Context, outcome domain.DisbursementOutcome, to domain.WithdrawalStatus, reason string) (*domain.Withdrawal, domain.ReconcileOutcome, error)
}

type withdrawalRepo struct {
	db *pgxpool.Pool
}

func NewWithdrawalRepository(db *pgxpool.Pool) WithdrawalRepository {
	return &withdrawalRepo{db: db}
}

const withdrawalColumns = `
	id, campaign_id, amount::text, mpesa_phone, status, transaction_reference,
	conversation_id, originator_conversation_id, failure_reason, updated_at`

func (r *withdrawalRepo) GetByID(ctx context.Context, id string) (*domain.Withdrawal, error) {
	w, err := scanWithdrawal(r.db.QueryRow(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get withdrawal: %w", err)
	}
	return w, nil
}

func (r *withdrawalRepo) MarkApproved(ctx context.Context, id, reference string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE withdrawal_requests
		SET status = 'approved', transaction_reference = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, reference)
	if err != nil {
		return false, fmt.Errorf("approve withdrawal: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *withdrawalRepo) Claim(ctx context.Context, id, originatorConversationID string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE withdrawal_requests
		SET status = 'processing', originator_conversation_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, originatorConversationID)
	if err != nil {
		return false, fmt.Errorf("claim withdrawal: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *withdrawalRepo) Release(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE withdrawal_requests
		SET status = 'pending', originator_conversation_id = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'processing' AND conversation_id IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("release withdrawal: %w", err)
	}
	return nil
}

func (r *withdrawalRepo) MarkSubmitted(ctx context.Context, id, conversationID, originatorConversationID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE withdrawal_requests
		SET conversation_id = $2,
		    transaction_reference = COALESCE(transaction_reference, $2), updated_at = NOW()
		WHERE id = $1 AND originator_conversation_id = $3
		  AND status IN ('processing', 'completed', 'failed')
	`, id, conversationID, originatorConversationID)
	if err != nil {
		return fmt.Errorf("record b2c submission: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("record b2c submission: %w", domain.ErrWithdrawalNotPending)
	}
	return nil
}

func (r *withdrawalRepo) Resolve(ctx context.Context, o domain.DisbursementOutcome, to domain.WithdrawalStatus, reason string) (*domain.Withdrawal, domain.ReconcileOutcome, error) {
	var (
		query string
		args  []any
	)
	switch to {
	case domain.WithdrawalCompleted:
		// A queue timeout may be followed by a late successful result.
		query = `
			UPDATE withdrawal_requests
			SET status = 'completed', transaction_reference = COALESCE(NULLIF($3, ''), transaction_reference),
			    failure_reason = NULL, updated_at = NOW()
			WHERE (conversation_id = $1 OR originator_conversation_id = $2)
			  AND (status = 'processing' OR (status = 'failed' AND failure_reason = $4))
			RETURNING ` + withdrawalColumns
		args = []any{o.ConversationID, o.OriginatorConversationID, o.TransactionID, domain.FailureQueueTimeout}
	case domain.WithdrawalFailed:
		query = `
			UPDATE withdrawal_requests
			SET status = 'failed', failure_reason = $3, updated_at = NOW()
			WHERE (conversation_id = $1 OR originator_conversation_id = $2)
			  AND status = 'processing'
			RETURNING ` + withdrawalColumns
		args = []any{o.ConversationID, o.OriginatorConversationID, reason}
	default:
		return nil, "", fmt.Errorf("resolve withdrawal: unsupported status %q", to)
	}

	w, err := scanWithdrawal(r.db.QueryRow(ctx, query, args...))
	if err == nil {
		return w, domain.OutcomeApplied, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, "", fmt.Errorf("resolve withdrawal: %w", err)
	}

	existing, err := scanWithdrawal(r.db.QueryRow(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests
		 WHERE conversation_id = $1 OR originator_conversation_id = $2 LIMIT 1`,
		o.ConversationID, o.OriginatorConversationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.OutcomeMiss, nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("lookup withdrawal: %w", err)
	}
	return existing, domain.OutcomeDuplicate, nil
}

func scanWithdrawal(row pgx.Row) (*domain.Withdrawal, error) {
	var (
		w      domain.Withdrawal
		amount string
	)
	err := row.Scan(
		&w.ID,
		&w.CampaignID,
		&amount,
		&w.MpesaPhone,
		&w.Status,
		&w.TransactionReference,
		&w.ConversationID,
		&w.OriginatorConversationID,
		&w.FailureReason,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if w.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	return &w, nil
}
