package domain

import (
	"errors"
	"fmt"
)

// Configuration
var (
	ErrChannelNotConfigured = errors.New("payment channel not configured")
	ErrChannelIncomplete    = errors.New("payment channel configuration incomplete")
	ErrChannelAmbiguous     = errors.New("multiple enabled configurations for payment channel")
)

// Payment network
var (
	ErrAuthenticationFailed = errors.New("mpesa authentication failed")
	ErrPushRejected         = errors.New("stk push rejected")
	ErrDisbursementRejected = errors.New("b2c disbursement rejected")
)

// Callbacks
var (
	ErrMalformedCallback  = errors.New("malformed callback")
	ErrReconciliationMiss = errors.New("no pending payment matches callback")
)

// Validation / lookups
var (
	ErrInvalidInput         = errors.New("invalid input provided")
	ErrInvalidPhone         = errors.New("invalid phone number")
	ErrInvalidAmount        = errors.New("amount must be a whole number of at least 1")
	ErrInvalidChannel       = errors.New("paymentType must be till or paybill")
	ErrAmountMismatch       = errors.New("amount does not match withdrawal request")
	ErrPhoneMismatch        = errors.New("phone does not match withdrawal request")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrWithdrawalNotFound   = errors.New("withdrawal request not found")
	ErrWithdrawalNotPending = errors.New("withdrawal request is not pending")
)

type ConfigErrorKind string

const (
	ChannelNotConfigured ConfigErrorKind = "not_configured"
	ChannelIncomplete    ConfigErrorKind = "incomplete"
	ChannelAmbiguous     ConfigErrorKind = "ambiguous"
)

// ConfigError reports a channel that cannot be used. It is never retried.
type ConfigError struct {
	Kind     ConfigErrorKind
	Provider Provider
	Detail   string
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Unwrap().Error())
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	switch e.Kind {
	case ChannelNotConfigured:
		return ErrChannelNotConfigured
	case ChannelAmbiguous:
		return ErrChannelAmbiguous
	default:
		return ErrChannelIncomplete
	}
}

// UpstreamError carries what the payment network said back.
// Err is one of ErrAuthenticationFailed, ErrPushRejected, ErrDisbursementRejected.
type UpstreamError struct {
	Op          string
	StatusCode  int
	Code        string
	Description string
	Body        string
	Err         error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Description != "":
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Description)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: upstream status %d", e.Err.Error(), e.StatusCode)
	default:
		return e.Err.Error()
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsConfigError reports whether err is a ConfigurationError of any kind.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
