package mpesa

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"mchango-payments/internal/domain"
)

const (
	CommandBusinessPayment = "BusinessPayment"
	maxRemarks             = 100
)

// B2CRequest is the Business-to-Customer payment request.
type B2CRequest struct {
	OriginatorConversationID string `json:"OriginatorConversationID"`
	InitiatorName            string `json:"InitiatorName"`
	SecurityCredential       string `json:"SecurityCredential"`
	CommandID                string `json:"CommandID"`
	Amount                   int64  `json:"Amount"`
	PartyA                   string `json:"PartyA"`
	PartyB                   string `json:"PartyB"`
	Remarks                  string `json:"Remarks"`
	QueueTimeOutURL          string `json:"QueueTimeOutURL"`
	ResultURL                string `json:"ResultURL"`
	Occasion                 string `json:"Occasion"`
}

type B2CResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

// BuildB2CRequest builds a BusinessPayment from the shortcode to phone.
func BuildB2CRequest(cfg domain.B2CConfig, originatorID, phone string, amount int64, remarks, occasion string) B2CRequest {
	if remarks == "" {
		remarks = "Withdrawal"
	}
	return B2CRequest{
		OriginatorConversationID: originatorID,
		InitiatorName:            cfg.InitiatorName,
		SecurityCredential:       cfg.SecurityCredential,
		CommandID:                CommandBusinessPayment,
		Amount:                   amount,
		PartyA:                   cfg.ShortCode,
		PartyB:                   phone,
		Remarks:                  truncate(remarks, maxRemarks),
		QueueTimeOutURL:          cfg.TimeoutURL,
		ResultURL:                cfg.ResultURL,
		Occasion:                 truncate(occasion, maxRemarks),
	}
}

// B2CPayment submits a payout. A nil error means the request was queued.
func (c *Client) B2CPayment(ctx context.Context, cfg domain.B2CConfig, req B2CRequest) (*B2CResponse, error) {
	status, body, err := c.post(ctx, "b2c_payment", cfg.Credentials, "/mpesa/b2c/v1/paymentrequest", req)
	if err != nil {
		return nil, err
	}

	var resp B2CResponse
	_ = json.Unmarshal(body, &resp)

	if status < 200 || status > 299 || resp.ResponseCode != "0" {
		var apiErr apiError
		_ = json.Unmarshal(body, &apiErr)

		desc := firstNonEmpty(apiErr.ErrorMessage, resp.ResponseDescription)
		code := firstNonEmpty(apiErr.ErrorCode, resp.ResponseCode)
		c.logger.Warn("b2c payment rejected",
			zap.Int("status", status),
			zap.String("response_code", code),
			zap.String("description", desc))
		return nil, &domain.UpstreamError{
			Op:          "b2c_payment",
			StatusCode:  status,
			Code:        code,
			Description: desc,
			Body:        string(body),
			Err:         domain.ErrDisbursementRejected,
		}
	}
	if resp.ConversationID == "" {
		return nil, fmt.Errorf("b2c payment accepted without ConversationID")
	}
	if resp.OriginatorConversationID == "" {
		resp.OriginatorConversationID = req.OriginatorConversationID
	}
	return &resp, nil
}
