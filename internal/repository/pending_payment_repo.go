package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"mchango-payments/internal/domain"
)

type PendingPaymentRepository interface {
	Create(ctx context.Context, p *domain.PendingPayment) error
	GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*domain.PendingPayment, error)
	// ExpireStale moves in_flight rows created before cutoff to expired.
	ExpireStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.PendingPayment, error)
}

type pendingPaymentRepo struct {
	db *pgxpool.Pool
}

func NewPendingPaymentRepository(db *pgxpool.Pool) PendingPaymentRepository {
	return &pendingPaymentRepo{db: db}
}

const pendingColumns = `
	id, checkout_request_id, merchant_request_id, phone, amount::text, channel,
	reference, target_kind, target_id, status, receipt_number, result_code,
	result_desc, created_at, resolved_at`

func (r *pendingPaymentRepo) Create(ctx context.Context, p *domain.PendingPayment) error {
	query := `
		INSERT INTO pending_payments (
			id, checkout_request_id, merchant_request_id, phone, amount, channel,
			reference, target_kind, target_id, status
		) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10)
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query,
		p.ID,
		p.CheckoutRequestID,
		p.MerchantRequestID,
		p.Phone,
		p.Amount.String(),
		p.Channel,
		p.Reference,
		p.TargetKind,
		p.TargetID,
		p.Status,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert pending payment: %w", err)
	}
	return nil
}

func (r *pendingPaymentRepo) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*domain.PendingPayment, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_payments WHERE checkout_request_id = $1`

	p, err := scanPending(r.db.QueryRow(ctx, query, checkoutRequestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pending payment: %w", err)
	}
	return p, nil
}

func (r *pendingPaymentRepo) ExpireStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.PendingPayment, error) {
	query := `
		UPDATE pending_payments
		SET status = 'expired'
		WHERE id IN (
			SELECT id FROM pending_payments
			WHERE status = 'in_flight' AND created_at < $1
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + pendingColumns

	rows, err := r.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("expire pending payments: %w", err)
	}
	defer rows.Close()

	var expired []domain.PendingPayment
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired payment: %w", err)
		}
		expired = append(expired, *p)
	}
	return expired, rows.Err()
}

func scanPending(row pgx.Row) (*domain.PendingPayment, error) {
	var (
		p      domain.PendingPayment
		amount string
	)
	err := row.Scan(
		&p.ID,
		&p.CheckoutRequestID,
		&p.MerchantRequestID,
		&p.Phone,
		&amount,
		&p.Channel,
		&p.Reference,
		&p.TargetKind,
		&p.TargetID,
		&p.Status,
		&p.ReceiptNumber,
		&p.ResultCode,
		&p.ResultDesc,
		&p.CreatedAt,
		&p.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	return &p, nil
}
