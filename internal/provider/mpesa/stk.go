package mpesa

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mchango-payments/internal/domain"
)

const (
	maxAccountReference = 12
	maxTransactionDesc  = 13
)

// STKPushRequest is the Lipa Na M-Pesa Online process request.
type STKPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// BuildSTKPushRequest signs a push for an already normalized phone.
// Till pushes use CustomerBuyGoodsOnline with the till as PartyB; paybill
// pushes use CustomerPayBillOnline and prefer the configured account reference.
func BuildSTKPushRequest(cfg domain.PushConfig, phone string, amount int64, reference, description string, now time.Time) STKPushRequest {
	ts := Timestamp(now)

	accountRef := reference
	if cfg.Channel == domain.ChannelPaybill && cfg.AccountReference != "" {
		accountRef = cfg.AccountReference
	}
	if description == "" {
		description = "Payment"
	}

	return STKPushRequest{
		BusinessShortCode: cfg.BusinessShortCode,
		Password:          Password(cfg.BusinessShortCode, cfg.Passkey, ts),
		Timestamp:         ts,
		TransactionType:   cfg.TransactionType,
		Amount:            amount,
		PartyA:            phone,
		PartyB:            cfg.PartyB,
		PhoneNumber:       phone,
		CallBackURL:       cfg.CallbackURL,
		AccountReference:  truncate(accountRef, maxAccountReference),
		TransactionDesc:   truncate(description, maxTransactionDesc),
	}
}

// STKPush submits the request. A nil error means ResponseCode "0": the prompt
// was placed, not that the customer paid.
func (c *Client) STKPush(ctx context.Context, cfg domain.PushConfig, req STKPushRequest) (*STKPushResponse, error) {
	status, body, err := c.post(ctx, "stk_push", cfg.Credentials, "/mpesa/stkpush/v1/processrequest", req)
	if err != nil {
		return nil, err
	}

	var resp STKPushResponse
	_ = json.Unmarshal(body, &resp)

	if status < 200 || status > 299 || resp.ResponseCode != "0" {
		var apiErr apiError
		_ = json.Unmarshal(body, &apiErr)

		desc := firstNonEmpty(apiErr.ErrorMessage, resp.ResponseDescription, resp.CustomerMessage)
		code := firstNonEmpty(apiErr.ErrorCode, resp.ResponseCode)
		c.logger.Warn("stk push rejected",
			zap.Int("status", status),
			zap.String("response_code", code),
			zap.String("description", desc))
		return nil, &domain.UpstreamError{
			Op:          "stk_push",
			StatusCode:  status,
			Code:        code,
			Description: desc,
			Body:        string(body),
			Err:         domain.ErrPushRejected,
		}
	}
	if resp.CheckoutRequestID == "" {
		return nil, fmt.Errorf("stk push accepted without CheckoutRequestID")
	}
	return &resp, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
