package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type Channel string
type Provider string

const (
	ChannelTill    Channel = "till"
	ChannelPaybill Channel = "paybill"
)

const (
	ProviderMpesaTill    Provider = "mpesa_till"
	ProviderMpesaPaybill Provider = "mpesa_paybill"
	ProviderMpesaB2C     Provider = "mpesa_b2c"
)

const (
	TxTypeBuyGoods = "CustomerBuyGoodsOnline"
	TxTypePayBill  = "CustomerPayBillOnline"
)

// ParseChannel maps a request's paymentType onto a push channel.
func ParseChannel(s string) (Channel, error) {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case ChannelTill:
		return ChannelTill, nil
	case ChannelPaybill:
		return ChannelPaybill, nil
	}
	return "", ErrInvalidChannel
}

// Provider is the configuration row key backing the channel.
func (c Channel) Provider() Provider {
	if c == ChannelPaybill {
		return ProviderMpesaPaybill
	}
	return ProviderMpesaTill
}

// Credentials are the consumer key pair exchanged for a bearer token.
type Credentials struct {
	ConsumerKey    string
	ConsumerSecret string
	Sandbox        bool
}

// PushConfig is the normalized view of a till or paybill configuration row.
type PushConfig struct {
	Channel           Channel
	Credentials       Credentials
	Passkey           string
	BusinessShortCode string
	PartyB            string
	TransactionType   string
	AccountReference  string
	CallbackURL       string
}

// Code is a shortcode or till number. Settings written by the admin UI
// store these as JSON strings or numbers.
type Code string

func (c *Code) UnmarshalJSON(b []byte) error {
	text, quoted, err := scalarText(b)
	if err != nil {
		return err
	}
	if !quoted && text != "" && strings.Trim(text, "0123456789") != "" {
		return fmt.Errorf("code %s is not an integer", text)
	}
	*c = Code(text)
	return nil
}

// Flag is a boolean that also accepts "true", "false", 1 and 0.
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	text, _, err := scalarText(b)
	if err != nil {
		return err
	}
	if text == "" {
		*f = false
		return nil
	}
	v, err := strconv.ParseBool(strings.ToLower(text))
	if err != nil {
		return fmt.Errorf("flag %q is not a boolean", text)
	}
	*f = Flag(v)
	return nil
}

// scalarText returns the trimmed text of a JSON string, number or bool.
// null reads as empty.
func scalarText(b []byte) (string, bool, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return "", false, nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return "", true, err
		}
		return strings.TrimSpace(s), true, nil
	case '{', '[':
		return "", false, fmt.Errorf("expected a scalar, got %s", b)
	}
	return string(b), false, nil
}

// TillSettings is the settings document of an mpesa_till row.
type TillSettings struct {
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
	Passkey        string `json:"passkey"`
	TillNumber     Code   `json:"till_number"`
	StoreNumber    Code   `json:"store_number,omitempty"`
	Sandbox        Flag   `json:"sandbox"`
	CallbackURL    string `json:"callback_url,omitempty"`
}

// PaybillSettings is the settings document of an mpesa_paybill row.
type PaybillSettings struct {
	ConsumerKey      string `json:"consumer_key"`
	ConsumerSecret   string `json:"consumer_secret"`
	Passkey          string `json:"passkey"`
	PaybillNumber    Code   `json:"paybill_number"`
	AccountReference string `json:"account_reference,omitempty"`
	Sandbox          Flag   `json:"sandbox"`
	CallbackURL      string `json:"callback_url,omitempty"`
}

// B2CSettings is the settings document of an mpesa_b2c row. Either
// SecurityCredential or InitiatorPassword must be present.
type B2CSettings struct {
	ConsumerKey        string `json:"consumer_key"`
	ConsumerSecret     string `json:"consumer_secret"`
	InitiatorName      string `json:"initiator_name"`
	SecurityCredential string `json:"security_credential,omitempty"`
	InitiatorPassword  string `json:"initiator_password,omitempty"`
	ShortCode          Code   `json:"shortcode"`
	Sandbox            Flag   `json:"sandbox"`
	ResultURL          string `json:"result_url,omitempty"`
	TimeoutURL         string `json:"timeout_url,omitempty"`
}

// B2CConfig is a usable outbound payment configuration.
type B2CConfig struct {
	Credentials        Credentials
	InitiatorName      string
	SecurityCredential string
	ShortCode          string
	ResultURL          string
	TimeoutURL         string
}

// DecodePushSettings decodes a till or paybill settings document into a PushConfig.
// Numeric codes and string booleans are coerced. Unknown keys and empty
// required fields yield a ChannelIncomplete ConfigError.
func DecodePushSettings(channel Channel, raw []byte) (PushConfig, error) {
	provider := channel.Provider()

	switch channel {
	case ChannelTill:
		var s TillSettings
		if err := decodeStrict(raw, &s); err != nil {
			return PushConfig{}, &ConfigError{Kind: ChannelIncomplete, Provider: provider, Detail: err.Error()}
		}
		trimAll(&s.ConsumerKey, &s.ConsumerSecret, &s.Passkey, &s.CallbackURL)
		if missing := missingFields(map[string]string{
			"consumer_key": s.ConsumerKey, "consumer_secret": s.ConsumerSecret,
			"passkey": s.Passkey, "till_number": string(s.TillNumber),
		}); missing != "" {
			return PushConfig{}, &ConfigError{Kind: ChannelIncomplete, Provider: provider, Detail: "missing " + missing}
		}
		shortCode := s.StoreNumber
		if shortCode == "" {
			shortCode = s.TillNumber
		}
		return PushConfig{
			Channel:           ChannelTill,
			Credentials:       Credentials{ConsumerKey: s.ConsumerKey, ConsumerSecret: s.ConsumerSecret, Sandbox: bool(s.Sandbox)},
			Passkey:           s.Passkey,
			BusinessShortCode: string(shortCode),
			PartyB:            string(s.TillNumber),
			TransactionType:   TxTypeBuyGoods,
			CallbackURL:       s.CallbackURL,
		}, nil

	case ChannelPaybill:
		var s PaybillSettings
		if err := decodeStrict(raw, &s); err != nil {
			return PushConfig{}, &ConfigError{Kind: ChannelIncomplete, Provider: provider, Detail: err.Error()}
		}
		trimAll(&s.ConsumerKey, &s.ConsumerSecret, &s.Passkey, &s.AccountReference, &s.CallbackURL)
		if missing := missingFields(map[string]string{
			"consumer_key": s.ConsumerKey, "consumer_secret": s.ConsumerSecret,
			"passkey": s.Passkey, "paybill_number": string(s.PaybillNumber),
		}); missing != "" {
			return PushConfig{}, &ConfigError{Kind: ChannelIncomplete, Provider: provider, Detail: "missing " + missing}
		}
		return PushConfig{
			Channel:           ChannelPaybill,
			Credentials:       Credentials{ConsumerKey: s.ConsumerKey, ConsumerSecret: s.ConsumerSecret, Sandbox: bool(s.Sandbox)},
			Passkey:           s.Passkey,
			BusinessShortCode: string(s.PaybillNumber),
			PartyB:            string(s.PaybillNumber),
			TransactionType:   TxTypePayBill,
			AccountReference:  s.AccountReference,
			CallbackURL:       s.CallbackURL,
		}, nil
	}
	return PushConfig{}, ErrInvalidChannel
}

// DecodeB2CSettings decodes an mpesa_b2c settings document. The returned
// settings are trimmed; the caller turns them into a B2CConfig once a
// security credential is available.
func DecodeB2CSettings(raw []byte) (B2CSettings, error) {
	var s B2CSettings
	if err := decodeStrict(raw, &s); err != nil {
		return B2CSettings{}, &ConfigError{Kind: ChannelIncomplete, Provider: ProviderMpesaB2C, Detail: err.Error()}
	}
	trimAll(&s.ConsumerKey, &s.ConsumerSecret, &s.InitiatorName, &s.SecurityCredential,
		&s.InitiatorPassword, &s.ResultURL, &s.TimeoutURL)

	if missing := missingFields(map[string]string{
		"consumer_key": s.ConsumerKey, "consumer_secret": s.ConsumerSecret,
		"initiator_name": s.InitiatorName, "shortcode": string(s.ShortCode),
	}); missing != "" {
		return B2CSettings{}, &ConfigError{Kind: ChannelIncomplete, Provider: ProviderMpesaB2C, Detail: "missing " + missing}
	}
	if s.SecurityCredential == "" && s.InitiatorPassword == "" {
		return B2CSettings{}, &ConfigError{Kind: ChannelIncomplete, Provider: ProviderMpesaB2C, Detail: "missing security_credential"}
	}
	return s, nil
}

func decodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	return nil
}

func trimAll(fields ...*string) {
	for _, f := range fields {
		*f = strings.TrimSpace(*f)
	}
}

// missingFields lists empty entries in a stable order.
func missingFields(fields map[string]string) string {
	order := []string{
		"consumer_key", "consumer_secret", "passkey", "till_number",
		"paybill_number", "initiator_name", "shortcode",
	}
	var missing []string
	for _, name := range order {
		if v, ok := fields[name]; ok && v == "" {
			missing = append(missing, name)
		}
	}
	return strings.Join(missing, ", ")
}

// ChannelConfigRecord is a raw payment_channel_configs row.
type ChannelConfigRecord struct {
	ID       string   `json:"id" db:"id"`
	Provider Provider `json:"provider" db:"provider"`
	Enabled  bool     `json:"enabled" db:"enabled"`
	Settings []byte   `json:"settings" db:"settings"`
}
