// Package signature signs and verifies payment provider callbacks.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/Shivanand-hulikatti/event-registration/internal/model"
)

// HMACSHA256Hex returns the hex-encoded HMAC-SHA256 of msg under secret.
func HMACSHA256Hex(secret, msg string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

func message(orderID, providerRef string, outcome model.Outcome, amount int64) string {
	return strings.Join([]string{orderID, providerRef, string(outcome), strconv.FormatInt(amount, 10)}, "|")
}

// Sign returns the signature the provider attaches to a callback. amount is
// the order's amount as stored, not anything the caller supplied.
func Sign(secret, orderID, providerRef string, outcome model.Outcome, amount int64) string {
	return HMACSHA256Hex(secret, message(orderID, providerRef, outcome, amount))
}

// Verify reports whether sig is the valid signature for the callback.
// The comparison is constant-time.
func Verify(secret, sig, orderID, providerRef string, outcome model.Outcome, amount int64) bool {
	if secret == "" || sig == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(sig))
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(Sign(secret, orderID, providerRef, outcome, amount))
	return hmac.Equal(got, want)
}
