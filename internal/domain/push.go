package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// PushRequest is the body of a push initiation.
type PushRequest struct {
	Phone       string          `json:"phone"`
	Amount      decimal.Decimal `json:"amount"`
	PaymentType string          `json:"paymentType"`
	Reference   string          `json:"reference,omitempty"`
	DonationID  string          `json:"donationId,omitempty"`
	OrderID     string          `json:"orderId,omitempty"`
	CampaignID  string          `json:"campaignId,omitempty"`

	// Set by Validate
	Channel     Channel `json:"-"`
	WholeAmount int64   `json:"-"`
}

// Validate normalizes the phone and channel in place.
func (r *PushRequest) Validate() error {
	channel, err := ParseChannel(r.PaymentType)
	if err != nil {
		return err
	}
	amount, err := WholeShillings(r.Amount)
	if err != nil {
		return err
	}
	phone, err := NormalizePhone(r.Phone)
	if err != nil {
		return err
	}

	r.Reference = strings.TrimSpace(r.Reference)
	r.DonationID = strings.TrimSpace(r.DonationID)
	r.OrderID = strings.TrimSpace(r.OrderID)
	r.CampaignID = strings.TrimSpace(r.CampaignID)

	targets := 0
	for _, id := range []string{r.DonationID, r.OrderID, r.CampaignID} {
		if id != "" {
			targets++
		}
	}
	if targets > 1 {
		return ErrInvalidInput
	}

	r.Channel = channel
	r.WholeAmount = amount
	r.Phone = phone
	return nil
}

// Target resolves the ledger row this push settles, before any donation is created.
func (r *PushRequest) Target() (TargetKind, string) {
	switch {
	case r.DonationID != "":
		return TargetDonation, r.DonationID
	case r.OrderID != "":
		return TargetOrder, r.OrderID
	}
	return TargetNone, ""
}

// PushResult is the synchronous placement acknowledgement.
type PushResult struct {
	CheckoutRequestID string
	MerchantRequestID string
	CustomerMessage   string
	PendingPaymentID  string
	DonationID        string
}
