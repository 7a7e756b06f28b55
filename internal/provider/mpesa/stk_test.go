package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mchango-payments/internal/domain"
	"mchango-payments/internal/provider/mpesa/mpesatest"
)

var tillConfig = domain.PushConfig{
	Channel:           domain.ChannelTill,
	Credentials:       domain.Credentials{ConsumerKey: "k", ConsumerSecret: "s", Sandbox: true},
	Passkey:           "passkey",
	BusinessShortCode: "5544332",
	PartyB:            "5544332",
	TransactionType:   domain.TxTypeBuyGoods,
	CallbackURL:       "https://example.org/api/v1/callbacks/mpesa/stk",
}

var paybillConfig = domain.PushConfig{
	Channel:           domain.ChannelPaybill,
	Credentials:       domain.Credentials{ConsumerKey: "k", ConsumerSecret: "s", Sandbox: true},
	Passkey:           "passkey",
	BusinessShortCode: "600100",
	PartyB:            "600100",
	TransactionType:   domain.TxTypePayBill,
	AccountReference:  "MCHANGO",
	CallbackURL:       "https://example.org/api/v1/callbacks/mpesa/stk",
}

func TestTimestampAndPassword(t *testing.T) {
	// 21:30 UTC is 00:30 the next day in Nairobi.
	ts := Timestamp(time.Date(2024, 1, 2, 21, 30, 5, 0, time.UTC))
	assert.Equal(t, "20240103003005", ts)
	assert.Len(t, ts, 14)

	pw := Password("174379", "pk", ts)
	decoded, err := base64.StdEncoding.DecodeString(pw)
	require.NoError(t, err)
	assert.Equal(t, "174379pk20240103003005", string(decoded))
}

func TestBuildSTKPushRequest_TransactionType(t *testing.T) {
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, EAT)

	t.Run("till", func(t *testing.T) {
		req := BuildSTKPushRequest(tillConfig, "254712345678", 500, "Donation", "Donation", now)
		assert.Equal(t, "CustomerBuyGoodsOnline", req.TransactionType)
		assert.Equal(t, "5544332", req.PartyB)
		assert.Equal(t, "254712345678", req.PartyA)
		assert.Equal(t, "254712345678", req.PhoneNumber)
		assert.Equal(t, "Donation", req.AccountReference)
		assert.Equal(t, "20240601090000", req.Timestamp)
		assert.Equal(t, Password("5544332", "passkey", "20240601090000"), req.Password)
	})

	t.Run("paybill prefers configured reference", func(t *testing.T) {
		req := BuildSTKPushRequest(paybillConfig, "254712345678", 100, "order-77", "", now)
		assert.Equal(t, "CustomerPayBillOnline", req.TransactionType)
		assert.Equal(t, "600100", req.PartyB)
		assert.Equal(t, "MCHANGO", req.AccountReference)
		assert.Equal(t, "Payment", req.TransactionDesc)
	})

	t.Run("paybill falls back to caller reference", func(t *testing.T) {
		cfg := paybillConfig
		cfg.AccountReference = ""
		req := BuildSTKPushRequest(cfg, "254712345678", 100, "a-very-long-order-reference", "Merchandise order", now)
		assert.Equal(t, "a-very-long-", req.AccountReference)
		assert.Equal(t, "Merchandise o", req.TransactionDesc)
	})
}

func TestClient_STKPush(t *testing.T) {
	push := BuildSTKPushRequest(tillConfig, "254712345678", 500, "Donation", "Donation", time.Now())

	t.Run("accepted", func(t *testing.T) {
		doer := mpesatest.NewDoer().WithToken("tok").On(mpesatest.STKPath, mpesatest.Response{
			Status: http.StatusOK,
			Body:   `{"MerchantRequestID":"29115-34620561-1","CheckoutRequestID":"ws_CO_123","ResponseCode":"0","ResponseDescription":"Success. Request accepted for processing","CustomerMessage":"Success. Request accepted for processing"}`,
		})
		c := NewClient(zap.NewNop(), WithHTTPClient(doer))

		resp, err := c.STKPush(context.Background(), tillConfig, push)
		require.NoError(t, err)
		assert.Equal(t, "ws_CO_123", resp.CheckoutRequestID)
		assert.Equal(t, "29115-34620561-1", resp.MerchantRequestID)

		reqs := doer.Requests()
		require.Len(t, reqs, 2)
		assert.Equal(t, "sandbox.safaricom.co.ke", reqs[1].Host)
		assert.Equal(t, "Bearer tok", reqs[1].Header.Get("Authorization"))

		var sent STKPushRequest
		require.NoError(t, json.Unmarshal([]byte(reqs[1].Body), &sent))
		assert.Equal(t, push, sent)
	})

	t.Run("non zero response code", func(t *testing.T) {
		doer := mpesatest.NewDoer().WithToken("tok").On(mpesatest.STKPath, mpesatest.Response{
			Status: http.StatusOK,
			Body:   `{"ResponseCode":"1","ResponseDescription":"Rejected"}`,
		})
		c := NewClient(zap.NewNop(), WithHTTPClient(doer))

		_, err := c.STKPush(context.Background(), tillConfig, push)
		assert.ErrorIs(t, err, domain.ErrPushRejected)
		assert.Contains(t, err.Error(), "Rejected")
	})

	t.Run("http error body", func(t *testing.T) {
		doer := mpesatest.NewDoer().WithToken("tok").On(mpesatest.STKPath, mpesatest.Response{
			Status: http.StatusBadRequest,
			Body:   `{"requestId":"r1","errorCode":"400.002.02","errorMessage":"Bad Request - Invalid BusinessShortCode"}`,
		})
		c := NewClient(zap.NewNop(), WithHTTPClient(doer))

		_, err := c.STKPush(context.Background(), tillConfig, push)
		var upstream *domain.UpstreamError
		require.True(t, errors.As(err, &upstream))
		assert.Equal(t, "400.002.02", upstream.Code)
		assert.Equal(t, "Bad Request - Invalid BusinessShortCode", upstream.Description)
		assert.Equal(t, http.StatusBadRequest, upstream.StatusCode)
	})

	t.Run("401 refreshes token once", func(t *testing.T) {
		doer := mpesatest.NewDoer().
			On(mpesatest.TokenPath,
				mpesatest.Response{Status: http.StatusOK, Body: `{"access_token":"stale"}`},
				mpesatest.Response{Status: http.StatusOK, Body: `{"access_token":"fresh"}`}).
			On(mpesatest.STKPath,
				mpesatest.Response{Status: http.StatusUnauthorized, Body: `{"errorMessage":"Invalid Access Token"}`},
				mpesatest.Response{Status: http.StatusOK, Body: `{"CheckoutRequestID":"ws_CO_9","ResponseCode":"0"}`})
		c := NewClient(zap.NewNop(), WithHTTPClient(doer), WithTokenCache(NewMemoryTokenCache()))

		resp, err := c.STKPush(context.Background(), tillConfig, push)
		require.NoError(t, err)
		assert.Equal(t, "ws_CO_9", resp.CheckoutRequestID)
		assert.Equal(t, 2, doer.Calls(mpesatest.TokenPath))
		assert.Equal(t, 2, doer.Calls(mpesatest.STKPath))

		reqs := doer.Requests()
		assert.Equal(t, "Bearer fresh", reqs[len(reqs)-1].Header.Get("Authorization"))
	})

	t.Run("auth failure sends no push", func(t *testing.T) {
		doer := mpesatest.NewDoer().On(mpesatest.TokenPath, mpesatest.Response{Status: http.StatusUnauthorized, Body: `{}`})
		c := NewClient(zap.NewNop(), WithHTTPClient(doer))

		_, err := c.STKPush(context.Background(), tillConfig, push)
		assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)
		assert.Equal(t, 0, doer.Calls(mpesatest.STKPath))
	})
}
