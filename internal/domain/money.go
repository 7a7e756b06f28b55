package domain

import "github.com/shopspring/decimal"

// PlatformFeeRate is the share of every donation kept by the platform.
var PlatformFeeRate = decimal.RequireFromString("0.10")

// SplitPlatformFee returns the fee and the net amount credited to the campaign.
func SplitPlatformFee(amount decimal.Decimal) (fee, net decimal.Decimal) {
	fee = amount.Mul(PlatformFeeRate).Round(2)
	net = amount.Sub(fee)
	return fee, net
}

// WholeShillings validates an amount Daraja can charge. Daraja rejects fractional amounts.
func WholeShillings(amount decimal.Decimal) (int64, error) {
	if !amount.IsInteger() || amount.LessThan(decimal.NewFromInt(1)) {
		return 0, ErrInvalidAmount
	}
	return amount.IntPart(), nil
}
