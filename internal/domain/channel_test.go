package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePushSettings(t *testing.T) {
	t.Run("till", func(t *testing.T) {
		cfg, err := DecodePushSettings(ChannelTill, []byte(`{
			"consumer_key": " key ", "consumer_secret": "secret",
			"passkey": "pk", "till_number": "5544332", "sandbox": true
		}`))
		require.NoError(t, err)

		assert.Equal(t, TxTypeBuyGoods, cfg.TransactionType)
		assert.Equal(t, "5544332", cfg.PartyB)
		assert.Equal(t, "5544332", cfg.BusinessShortCode)
		assert.Equal(t, "key", cfg.Credentials.ConsumerKey)
		assert.True(t, cfg.Credentials.Sandbox)
	})

	t.Run("till with store number", func(t *testing.T) {
		cfg, err := DecodePushSettings(ChannelTill, []byte(`{
			"consumer_key": "k", "consumer_secret": "s", "passkey": "pk",
			"till_number": "5544332", "store_number": "174379"
		}`))
		require.NoError(t, err)
		assert.Equal(t, "174379", cfg.BusinessShortCode)
		assert.Equal(t, "5544332", cfg.PartyB)
	})

	t.Run("paybill", func(t *testing.T) {
		cfg, err := DecodePushSettings(ChannelPaybill, []byte(`{
			"consumer_key": "k", "consumer_secret": "s", "passkey": "pk",
			"paybill_number": "600100", "account_reference": "MCHANGO"
		}`))
		require.NoError(t, err)
		assert.Equal(t, TxTypePayBill, cfg.TransactionType)
		assert.Equal(t, "600100", cfg.PartyB)
		assert.Equal(t, "MCHANGO", cfg.AccountReference)
	})

	coerced := []struct {
		name      string
		channel   Channel
		raw       string
		shortCode string
		sandbox   bool
	}{
		{
			name: "numeric till number", channel: ChannelTill,
			raw:       `{"consumer_key":"k","consumer_secret":"s","passkey":"p","till_number":5512345}`,
			shortCode: "5512345",
		},
		{
			name: "numeric store number and string sandbox", channel: ChannelTill,
			raw:       `{"consumer_key":"k","consumer_secret":"s","passkey":"p","till_number":"5512345","store_number":174379,"sandbox":"true"}`,
			shortCode: "174379", sandbox: true,
		},
		{
			name: "numeric paybill and sandbox 1", channel: ChannelPaybill,
			raw:       `{"consumer_key":"k","consumer_secret":"s","passkey":"p","paybill_number":600100,"sandbox":1}`,
			shortCode: "600100", sandbox: true,
		},
		{
			name: "string sandbox false", channel: ChannelPaybill,
			raw:       `{"consumer_key":"k","consumer_secret":"s","passkey":"p","paybill_number":" 600100 ","sandbox":"False"}`,
			shortCode: "600100",
		},
		{
			name: "null sandbox", channel: ChannelTill,
			raw:       `{"consumer_key":"k","consumer_secret":"s","passkey":"p","till_number":5512345,"sandbox":null}`,
			shortCode: "5512345",
		},
	}
	for _, tc := range coerced {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := DecodePushSettings(tc.channel, []byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.shortCode, cfg.BusinessShortCode)
			assert.Equal(t, tc.sandbox, cfg.Credentials.Sandbox)
		})
	}

	testCases := []struct {
		name    string
		channel Channel
		raw     string
	}{
		{name: "fractional till number", channel: ChannelTill, raw: `{"consumer_key":"k","consumer_secret":"s","passkey":"p","till_number":55.5}`},
		{name: "bool till number", channel: ChannelTill, raw: `{"consumer_key":"k","consumer_secret":"s","passkey":"p","till_number":true}`},
		{name: "object paybill number", channel: ChannelPaybill, raw: `{"consumer_key":"k","consumer_secret":"s","passkey":"p","paybill_number":{"v":1}}`},
		{name: "unparseable sandbox", channel: ChannelTill, raw: `{"consumer_key":"k","consumer_secret":"s","passkey":"p","till_number":"1","sandbox":"maybe"}`},
		{name: "empty passkey", channel: ChannelTill, raw: `{"consumer_key":"k","consumer_secret":"s","passkey":"  ","till_number":"1"}`},
		{name: "missing paybill number", channel: ChannelPaybill, raw: `{"consumer_key":"k","consumer_secret":"s","passkey":"p"}`},
		{name: "unknown field", channel: ChannelTill, raw: `{"consumer_key":"k","consumer_secret":"s","passkey":"p","till_number":"1","shortcode":"1"}`},
		{name: "not json", channel: ChannelTill, raw: `nope`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodePushSettings(tc.channel, []byte(tc.raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrChannelIncomplete)
			assert.True(t, IsConfigError(err))
		})
	}
}

func TestDecodeB2CSettings(t *testing.T) {
	s, err := DecodeB2CSettings([]byte(`{
		"consumer_key": "k", "consumer_secret": "s", "initiator_name": "api_op",
		"initiator_password": "pw", "shortcode": "600000"
	}`))
	require.NoError(t, err)
	assert.Equal(t, "api_op", s.InitiatorName)

	s, err = DecodeB2CSettings([]byte(`{
		"consumer_key": "k", "consumer_secret": "s", "initiator_name": "api_op",
		"security_credential": "cred", "shortcode": 600000, "sandbox": "1"
	}`))
	require.NoError(t, err)
	assert.Equal(t, Code("600000"), s.ShortCode)
	assert.True(t, bool(s.Sandbox))

	_, err = DecodeB2CSettings([]byte(`{"consumer_key":"k","consumer_secret":"s","initiator_name":"op","shortcode":"1"}`))
	assert.ErrorIs(t, err, ErrChannelIncomplete)

	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, ProviderMpesaB2C, ce.Provider)
}

func TestParseChannel(t *testing.T) {
	c, err := ParseChannel(" Till ")
	require.NoError(t, err)
	assert.Equal(t, ProviderMpesaTill, c.Provider())

	c, err = ParseChannel("paybill")
	require.NoError(t, err)
	assert.Equal(t, ProviderMpesaPaybill, c.Provider())

	_, err = ParseChannel("mpesa")
	assert.ErrorIs(t, err, ErrInvalidChannel)
}
