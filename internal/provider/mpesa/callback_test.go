package mpesa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mchango-payments/internal/domain"
)

const successCallback = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_123",
      "ResultCode": 0,
      "ResultDesc": "The service request is processed successfully.",
      "CallbackMetadata": {
        "Item": [
          {"Name": "PhoneNumber", "Value": 254712345678},
          {"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
          {"Name": "Balance"},
          {"Name": "TransactionDate", "Value": 20191219102115},
          {"Name": "Amount", "Value": 500.00}
        ]
      }
    }
  }
}`

func TestParseSTKCallback(t *testing.T) {
	t.Run("success looks metadata up by name", func(t *testing.T) {
		cb, err := ParseSTKCallback([]byte(successCallback))
		require.NoError(t, err)

		assert.True(t, cb.Succeeded())
		assert.Equal(t, "ws_CO_123", cb.CheckoutRequestID)
		assert.Equal(t, "NLJ7RT61SV", cb.ReceiptNumber)
		assert.Equal(t, "254712345678", cb.PhoneNumber)
		assert.Equal(t, "20191219102115", cb.TransactionDate)
		assert.Equal(t, "500", cb.Amount.String())
	})

	t.Run("failure", func(t *testing.T) {
		cb, err := ParseSTKCallback([]byte(`{"Body":{"stkCallback":{
			"MerchantRequestID":"m1","CheckoutRequestID":"ws_CO_456",
			"ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`))
		require.NoError(t, err)

		assert.False(t, cb.Succeeded())
		f := cb.Failure()
		assert.Equal(t, "1032", f.ResultCode)
		assert.Equal(t, "Request cancelled by user", f.ResultDesc)
	})

	t.Run("string result code", func(t *testing.T) {
		cb, err := ParseSTKCallback([]byte(`{"Body":{"stkCallback":{"CheckoutRequestID":"ws","ResultCode":"1","ResultDesc":"x"}}}`))
		require.NoError(t, err)
		assert.Equal(t, "1", cb.ResultCode)
	})

	malformed := map[string]string{
		"not json":          `{{`,
		"missing body":      `{"stkCallback":{}}`,
		"missing callback":  `{"Body":{}}`,
		"no checkout id":    `{"Body":{"stkCallback":{"ResultCode":0}}}`,
		"no result code":    `{"Body":{"stkCallback":{"CheckoutRequestID":"ws"}}}`,
		"success no receipt": `{"Body":{"stkCallback":{"CheckoutRequestID":"ws","ResultCode":0,"CallbackMetadata":{"Item":[{"Name":"Amount","Value":1}]}}}}`,
		"bad amount":        `{"Body":{"stkCallback":{"CheckoutRequestID":"ws","ResultCode":0,"CallbackMetadata":{"Item":[{"Name":"Amount","Value":"lots"}]}}}}`,
	}
	for name, body := range malformed {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSTKCallback([]byte(body))
			assert.ErrorIs(t, err, domain.ErrMalformedCallback)
		})
	}
}

func TestParseB2CResult(t *testing.T) {
	out, err := ParseB2CResult([]byte(`{"Result":{
		"ResultType":0,"ResultCode":0,"ResultDesc":"The service request is processed successfully.",
		"OriginatorConversationID":"orig-1","ConversationID":"AG_20191219_1","TransactionID":"NLJ41HAY6Q",
		"ResultParameters":{"ResultParameter":[
			{"Key":"TransactionAmount","Value":10},
			{"Key":"TransactionReceipt","Value":"NLJ41HAY6Q"},
			{"Key":"ReceiverPartyPublicName","Value":"254708374149 - John Doe"}
		]}}}`))
	require.NoError(t, err)

	assert.True(t, out.Succeeded())
	assert.Equal(t, "AG_20191219_1", out.ConversationID)
	assert.Equal(t, "NLJ41HAY6Q", out.TransactionID)
	assert.Equal(t, "10", out.Amount.String())
	assert.Equal(t, "254708374149 - John Doe", out.ReceiverName)

	failed, err := ParseB2CResult([]byte(`{"Result":{"ResultCode":2001,"ResultDesc":"The initiator information is invalid.","ConversationID":"AG_2"}}`))
	require.NoError(t, err)
	assert.False(t, failed.Succeeded())
	assert.Equal(t, "2001", failed.ResultCode)

	_, err = ParseB2CResult([]byte(`{"Result":{"ResultCode":0}}`))
	assert.ErrorIs(t, err, domain.ErrMalformedCallback)

	_, err = ParseB2CResult([]byte(`[]`))
	assert.ErrorIs(t, err, domain.ErrMalformedCallback)
}
