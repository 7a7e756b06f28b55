package domain

import (
	"strings"
	"unicode"
)

const CountryCode = "254"

// NormalizePhone rewrites a Kenyan mobile number into 2547XXXXXXXX form.
// It is idempotent: NormalizePhone(NormalizePhone(p)) == NormalizePhone(p).
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsSpace(r) || r == '-' {
			continue
		}
		b.WriteRune(r)
	}
	phone := strings.TrimPrefix(b.String(), "+")

	switch {
	case strings.HasPrefix(phone, "0"):
		phone = CountryCode + phone[1:]
	case !strings.HasPrefix(phone, CountryCode):
		phone = CountryCode + phone
	}

	if len(phone) != len(CountryCode)+9 {
		return "", ErrInvalidPhone
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return "", ErrInvalidPhone
		}
	}
	return phone, nil
}
