package mpesa

import (
	"encoding/base64"
	"time"
)

// TimestampLayout is the 14-digit YYYYMMDDHHmmss format Daraja validates against the password.
const TimestampLayout = "20060102150405"

// EAT is East Africa Time. Fixed so the host's tz database is irrelevant.
var EAT = time.FixedZone("EAT", 3*60*60)

// Timestamp formats t in East Africa Time.
func Timestamp(t time.Time) string {
	return t.In(EAT).Format(TimestampLayout)
}

// Password is the STK push password: base64(shortcode + passkey + timestamp).
func Password(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}
