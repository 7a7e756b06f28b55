package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"mchango-payments/internal/domain"
)

// LedgerRepository settles callbacks against donations, orders and campaign
// aggregates. Each settlement runs in one transaction and is conditional on
// the pending payment still being unresolved, so redelivered callbacks
// change nothing.
type LedgerRepository interface {
	CreateDonation(ctx context.Context, d *domain.Donation) error
	CompletePayment(ctx context.Context, s domain.PaymentSuccess) (*domain.Reconciliation, error)
	FailPayment(ctx context.Context, f domain.PaymentFailure) (*domain.Reconciliation, error)
}

type ledgerRepo struct {
	db *pgxpool.Pool
}

func NewLedgerRepository(db *pgxpool.Pool) LedgerRepository {
	return &ledgerRepo{db: db}
}

const pgUniqueViolation = "23505"

var errDuplicateReceipt = errors.New("receipt already recorded")

func (r *ledgerRepo) CreateDonation(ctx context.Context, d *domain.Donation) error {
	query := `
		INSERT INTO donations (
			id, campaign_id, amount, platform_fee, net_amount, payment_status, donor_phone
		) VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6, $7)
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		d.ID,
		d.CampaignID,
		d.Amount.String(),
		d.PlatformFee.String(),
		d.NetAmount.String(),
		d.PaymentStatus,
		d.DonorPhone,
	).Scan(&d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert donation: %w", err)
	}
	return nil
}

func (r *ledgerRepo) CompletePayment(ctx context.Context, s domain.PaymentSuccess) (*domain.Reconciliation, error) {
	rec := &domain.Reconciliation{}

	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		p, err := scanPending(tx.QueryRow(ctx, `
			UPDATE pending_payments
			SET status = 'completed', receipt_number = $2, result_code = '0',
			    result_desc = $3, resolved_at = NOW()
			WHERE checkout_request_id = $1 AND status IN ('in_flight', 'expired')
			RETURNING `+pendingColumns,
			s.CheckoutRequestID, s.ReceiptNumber, s.ResultDesc,
		))
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				return errDuplicateReceipt
			}
			if errors.Is(err, pgx.ErrNoRows) {
				rec.Outcome, err = resolvedOutcome(ctx, tx, s.CheckoutRequestID)
				return err
			}
			return fmt.Errorf("complete pending payment: %w", err)
		}
		rec.Pending = p

		settled, campaignID, credited, err := completeTarget(ctx, tx, p, s.ReceiptNumber)
		if err != nil {
			return err
		}
		rec.CampaignID = campaignID
		rec.Credited = credited
		if settled {
			rec.Outcome = domain.OutcomeApplied
		} else {
			rec.Outcome = domain.OutcomeTargetSettled
		}
		return nil
	})
	if errors.Is(err, errDuplicateReceipt) {
		return &domain.Reconciliation{Outcome: domain.OutcomeDuplicate}, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// completeTarget marks the linked donation or order completed. A donation
// credits its campaign once, with the net amount.
func completeTarget(ctx context.Context, tx pgx.Tx, p *domain.PendingPayment, receipt string) (bool, string, decimal.Decimal, error) {
	switch p.TargetKind {
	case domain.TargetDonation:
		var campaignID, net string
		err := tx.QueryRow(ctx, `
			UPDATE donations
			SET payment_status = 'completed', payment_reference = $2, updated_at = NOW()
			WHERE id = $1 AND payment_status = 'pending'
			RETURNING campaign_id, net_amount::text
		`, p.TargetID, receipt).Scan(&campaignID, &net)
		if errors.Is(err, pgx.ErrNoRows) {
			return false, "", decimal.Zero, nil
		}
		if err != nil {
			return false, "", decimal.Zero, fmt.Errorf("complete donation: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE campaigns
			SET raised_amount = raised_amount + $2::numeric,
			    donor_count = donor_count + 1,
			    updated_at = NOW()
			WHERE id = $1
		`, campaignID, net); err != nil {
			return false, "", decimal.Zero, fmt.Errorf("credit campaign: %w", err)
		}
		credited, err := decimal.NewFromString(net)
		if err != nil {
			return false, "", decimal.Zero, fmt.Errorf("parse net amount: %w", err)
		}
		return true, campaignID, credited, nil

	case domain.TargetOrder:
		tag, err := tx.Exec(ctx, `
			UPDATE orders
			SET payment_status = 'completed', payment_reference = $2, updated_at = NOW()
			WHERE id = $1 AND payment_status = 'pending'
		`, p.TargetID, receipt)
		if err != nil {
			return false, "", decimal.Zero, fmt.Errorf("complete order: %w", err)
		}
		return tag.RowsAffected() == 1, "", decimal.Zero, nil
	}
	return true, "", decimal.Zero, nil
}

func (r *ledgerRepo) FailPayment(ctx context.Context, f domain.PaymentFailure) (*domain.Reconciliation, error) {
	rec := &domain.Reconciliation{}

	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		p, err := scanPending(tx.QueryRow(ctx, `
			UPDATE pending_payments
			SET status = 'failed', result_code = $2, result_desc = $3, resolved_at = NOW()
			WHERE checkout_request_id = $1 AND status IN ('in_flight', 'expired')
			RETURNING `+pendingColumns,
			f.CheckoutRequestID, f.ResultCode, f.ResultDesc,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			rec.Outcome, err = resolvedOutcome(ctx, tx, f.CheckoutRequestID)
			return err
		}
		if err != nil {
			return fmt.Errorf("fail pending payment: %w", err)
		}
		rec.Pending = p
		rec.Outcome = domain.OutcomeApplied

		var table string
		switch p.TargetKind {
		case domain.TargetDonation:
			table = "donations"
		case domain.TargetOrder:
			table = "orders"
		default:
			return nil
		}
		if _, err := tx.Exec(ctx, `
			UPDATE `+table+`
			SET payment_status = 'failed', updated_at = NOW()
			WHERE id = $1 AND payment_status = 'pending'
		`, p.TargetID); err != nil {
			return fmt.Errorf("fail %s: %w", table, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// resolvedOutcome explains why a conditional update matched nothing.
func resolvedOutcome(ctx context.Context, tx pgx.Tx, checkoutRequestID string) (domain.ReconcileOutcome, error) {
	var status string
	err := tx.QueryRow(ctx,
		`SELECT status FROM pending_payments WHERE checkout_request_id = $1`,
		checkoutRequestID,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.OutcomeMiss, nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup pending payment: %w", err)
	}
	return domain.OutcomeDuplicate, nil
}

func withTx(ctx context.Context, db *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
