package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PendingStatus string

const (
	PendingInFlight  PendingStatus = "in_flight"
	PendingCompleted PendingStatus = "completed"
	PendingFailed    PendingStatus = "failed"
	PendingExpired   PendingStatus = "expired"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// TargetKind names the ledger row a pending payment settles.
type TargetKind string

const (
	TargetNone     TargetKind = ""
	TargetDonation TargetKind = "donation"
	TargetOrder    TargetKind = "order"
)

// PendingPayment correlates an accepted STK push with its later callback.
type PendingPayment struct {
	ID                string          `json:"id" db:"id"`
	CheckoutRequestID string          `json:"checkout_request_id" db:"checkout_request_id"`
	MerchantRequestID string          `json:"merchant_request_id" db:"merchant_request_id"`
	Phone             string          `json:"phone" db:"phone"`
	Amount            decimal.Decimal `json:"amount" db:"amount"`
	Channel           Channel         `json:"channel" db:"channel"`
	Reference         string          `json:"reference" db:"reference"`
	TargetKind        TargetKind      `json:"target_kind" db:"target_kind"`
	TargetID          string          `json:"target_id" db:"target_id"`
	Status            PendingStatus   `json:"status" db:"status"`
	ReceiptNumber     *string         `json:"receipt_number,omitempty" db:"receipt_number"`
	ResultCode        *string         `json:"result_code,omitempty" db:"result_code"`
	ResultDesc        *string         `json:"result_desc,omitempty" db:"result_desc"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	ResolvedAt        *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
}

// Donation is the collaborator-owned record a successful push completes.
type Donation struct {
	ID               string          `json:"id" db:"id"`
	CampaignID       string          `json:"campaign_id" db:"campaign_id"`
	Amount           decimal.Decimal `json:"amount" db:"amount"`
	PlatformFee      decimal.Decimal `json:"platform_fee" db:"platform_fee"`
	NetAmount        decimal.Decimal `json:"net_amount" db:"net_amount"`
	PaymentStatus    PaymentStatus   `json:"payment_status" db:"payment_status"`
	PaymentReference *string         `json:"payment_reference,omitempty" db:"payment_reference"`
	DonorPhone       string          `json:"donor_phone" db:"donor_phone"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// NewPendingDonation builds a donation awaiting payment, fee already split.
func NewPendingDonation(campaignID string, amount decimal.Decimal, phone string) *Donation {
	fee, net := SplitPlatformFee(amount)
	return &Donation{
		ID:            NewID("don"),
		CampaignID:    campaignID,
		Amount:        amount,
		PlatformFee:   fee,
		NetAmount:     net,
		PaymentStatus: PaymentStatusPending,
		DonorPhone:    phone,
		CreatedAt:     time.Now(),
	}
}

// PaymentSuccess is the reconciled content of a successful STK callback.
type PaymentSuccess struct {
	CheckoutRequestID string
	MerchantRequestID string
	ReceiptNumber     string
	Amount            decimal.Decimal
	Phone             string
	TransactionDate   string
	ResultDesc        string
}

// PaymentFailure is the reconciled content of a failed STK callback.
type PaymentFailure struct {
	CheckoutRequestID string
	MerchantRequestID string
	ResultCode        string
	ResultDesc        string
}

type ReconcileOutcome string

const (
	OutcomeApplied   ReconcileOutcome = "applied"
	OutcomeDuplicate ReconcileOutcome = "duplicate"
	OutcomeMiss      ReconcileOutcome = "miss"
	// OutcomeTargetSettled means the pending row resolved but its donation or
	// order had already been completed by another payment.
	OutcomeTargetSettled ReconcileOutcome = "target_settled"
)

// Reconciliation describes what a callback changed in the ledger.
type Reconciliation struct {
	Outcome    ReconcileOutcome
	Pending    *PendingPayment
	CampaignID string
	Credited   decimal.Decimal
}
