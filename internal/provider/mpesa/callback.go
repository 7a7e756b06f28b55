package mpesa

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"mchango-payments/internal/domain"
)

// codeValue accepts a JSON string or number. Daraja is inconsistent about
// ResultCode and expires_in.
type codeValue string

func (v *codeValue) UnmarshalJSON(b []byte) error {
	*v = codeValue(rawText(b))
	return nil
}

// rawText renders a JSON scalar without float formatting, so 254708374149
// stays 254708374149.
func rawText(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return ""
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err == nil {
			return strings.TrimSpace(s)
		}
	}
	return string(b)
}

type stkEnvelope struct {
	Body *struct {
		StkCallback *struct {
			MerchantRequestID string    `json:"MerchantRequestID"`
			CheckoutRequestID string    `json:"CheckoutRequestID"`
			ResultCode        codeValue `json:"ResultCode"`
			ResultDesc        string    `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []struct {
					Name  string          `json:"Name"`
					Value json.RawMessage `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// STKCallback is a parsed STK push result.
type STKCallback struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        string
	ResultDesc        string
	Amount            decimal.Decimal
	ReceiptNumber     string
	TransactionDate   string
	PhoneNumber       string
}

func (c *STKCallback) Succeeded() bool { return c.ResultCode == "0" }

func (c *STKCallback) Success() domain.PaymentSuccess {
	return domain.PaymentSuccess{
		CheckoutRequestID: c.CheckoutRequestID,
		MerchantRequestID: c.MerchantRequestID,
		ReceiptNumber:     c.ReceiptNumber,
		Amount:            c.Amount,
		Phone:             c.PhoneNumber,
		TransactionDate:   c.TransactionDate,
		ResultDesc:        c.ResultDesc,
	}
}

func (c *STKCallback) Failure() domain.PaymentFailure {
	return domain.PaymentFailure{
		CheckoutRequestID: c.CheckoutRequestID,
		MerchantRequestID: c.MerchantRequestID,
		ResultCode:        c.ResultCode,
		ResultDesc:        c.ResultDesc,
	}
}

// ParseSTKCallback decodes the Body.stkCallback envelope. Metadata items are
// looked up by Name. Errors wrap domain.ErrMalformedCallback.
func ParseSTKCallback(raw []byte) (*STKCallback, error) {
	var env stkEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedCallback, err)
	}
	if env.Body == nil || env.Body.StkCallback == nil {
		return nil, fmt.Errorf("%w: missing Body.stkCallback", domain.ErrMalformedCallback)
	}
	cb := env.Body.StkCallback
	if strings.TrimSpace(cb.CheckoutRequestID) == "" {
		return nil, fmt.Errorf("%w: missing CheckoutRequestID", domain.ErrMalformedCallback)
	}
	if cb.ResultCode == "" {
		return nil, fmt.Errorf("%w: missing ResultCode", domain.ErrMalformedCallback)
	}

	out := &STKCallback{
		MerchantRequestID: strings.TrimSpace(cb.MerchantRequestID),
		CheckoutRequestID: strings.TrimSpace(cb.CheckoutRequestID),
		ResultCode:        string(cb.ResultCode),
		ResultDesc:        cb.ResultDesc,
	}
	if !out.Succeeded() {
		return out, nil
	}

	if cb.CallbackMetadata != nil {
		for _, item := range cb.CallbackMetadata.Item {
			value := rawText(item.Value)
			switch item.Name {
			case "Amount":
				amount, err := decimal.NewFromString(value)
				if err != nil {
					return nil, fmt.Errorf("%w: bad Amount %q", domain.ErrMalformedCallback, value)
				}
				out.Amount = amount
			case "MpesaReceiptNumber":
				out.ReceiptNumber = value
			case "TransactionDate":
				out.TransactionDate = value
			case "PhoneNumber":
				out.PhoneNumber = value
			}
		}
	}
	if out.ReceiptNumber == "" {
		return nil, fmt.Errorf("%w: successful callback without MpesaReceiptNumber", domain.ErrMalformedCallback)
	}
	return out, nil
}

type b2cEnvelope struct {
	Result *struct {
		ResultType               codeValue `json:"ResultType"`
		ResultCode               codeValue `json:"ResultCode"`
		ResultDesc               string    `json:"ResultDesc"`
		OriginatorConversationID string    `json:"OriginatorConversationID"`
		ConversationID           string    `json:"ConversationID"`
		TransactionID            string    `json:"TransactionID"`
		ResultParameters         *struct {
			ResultParameter []struct {
				Key   string          `json:"Key"`
				Value json.RawMessage `json:"Value"`
			} `json:"ResultParameter"`
		} `json:"ResultParameters"`
	} `json:"Result"`
}

// ParseB2CResult decodes a B2C result or queue-timeout envelope. Both share
// the Result shape. Errors wrap domain.ErrMalformedCallback.
func ParseB2CResult(raw []byte) (*domain.DisbursementOutcome, error) {
	var env b2cEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedCallback, err)
	}
	if env.Result == nil {
		return nil, fmt.Errorf("%w: missing Result", domain.ErrMalformedCallback)
	}
	res := env.Result
	if strings.TrimSpace(res.ConversationID) == "" && strings.TrimSpace(res.OriginatorConversationID) == "" {
		return nil, fmt.Errorf("%w: missing ConversationID", domain.ErrMalformedCallback)
	}

	out := &domain.DisbursementOutcome{
		ConversationID:           strings.TrimSpace(res.ConversationID),
		OriginatorConversationID: strings.TrimSpace(res.OriginatorConversationID),
		TransactionID:            strings.TrimSpace(res.TransactionID),
		ResultCode:               string(res.ResultCode),
		ResultDesc:               res.ResultDesc,
	}
	if res.ResultParameters != nil {
		for _, p := range res.ResultParameters.ResultParameter {
			value := rawText(p.Value)
			switch p.Key {
			case "TransactionAmount":
				if amount, err := decimal.NewFromString(value); err == nil {
					out.Amount = amount
				}
			case "TransactionReceipt":
				if out.TransactionID == "" {
					out.TransactionID = value
				}
			case "ReceiverPartyPublicName":
				out.ReceiverName = value
			}
		}
	}
	return out, nil
}
