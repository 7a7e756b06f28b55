package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalApproved   WithdrawalStatus = "approved"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalRejected   WithdrawalStatus = "rejected"
	WithdrawalFailed     WithdrawalStatus = "failed"
)

// FailureQueueTimeout marks a withdrawal failed by a B2C queue timeout.
// A later successful result may still complete it.
const FailureQueueTimeout = "queue_timeout"

// Withdrawal is a campaign owner's payout request.
type Withdrawal struct {
	ID                       string           `json:"id" db:"id"`
	CampaignID               string           `json:"campaign_id" db:"campaign_id"`
	Amount                   decimal.Decimal  `json:"amount" db:"amount"`
	MpesaPhone               string           `json:"mpesa_phone" db:"mpesa_phone"`
	Status                   WithdrawalStatus `json:"status" db:"status"`
	TransactionReference     *string          `json:"transaction_reference,omitempty" db:"transaction_reference"`
	ConversationID           *string          `json:"conversation_id,omitempty" db:"conversation_id"`
	OriginatorConversationID *string          `json:"originator_conversation_id,omitempty" db:"originator_conversation_id"`
	FailureReason            *string          `json:"failure_reason,omitempty" db:"failure_reason"`
	UpdatedAt                time.Time        `json:"updated_at" db:"updated_at"`
}

// DisbursementRequest is what an admin submits to pay out a withdrawal.
type DisbursementRequest struct {
	WithdrawalID  string          `json:"withdrawalId"`
	Amount        decimal.Decimal `json:"amount"`
	Phone         string          `json:"phone"`
	CampaignTitle string          `json:"campaignTitle"`
}

func (r *DisbursementRequest) Validate() error {
	r.WithdrawalID = strings.TrimSpace(r.WithdrawalID)
	r.CampaignTitle = strings.TrimSpace(r.CampaignTitle)
	if r.WithdrawalID == "" {
		return ErrInvalidInput
	}
	if _, err := WholeShillings(r.Amount); err != nil {
		return err
	}
	phone, err := NormalizePhone(r.Phone)
	if err != nil {
		return err
	}
	r.Phone = phone
	return nil
}

// DisbursementResult is the outcome of initiating a payout.
type DisbursementResult struct {
	Manual                   bool
	Reference                string
	ConversationID           string
	OriginatorConversationID string
	Message                  string
}

// DisbursementOutcome is the reconciled content of a B2C result callback.
type DisbursementOutcome struct {
	ConversationID           string
	OriginatorConversationID string
	TransactionID            string
	ResultCode               string
	ResultDesc               string
	Amount                   decimal.Decimal
	ReceiverName             string
}

func (o DisbursementOutcome) Succeeded() bool { return o.ResultCode == "0" }
