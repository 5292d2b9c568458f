package rest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Credentials hold the Binance API key pair. Private endpoints refuse
// to run without both halves present.
type Credentials struct {
	APIKey    string
	APISecret string
}

func (c Credentials) Configured() bool {
	return strings.TrimSpace(c.APIKey) != "" && strings.TrimSpace(c.APISecret) != ""
}

// sign computes the hex HMAC-SHA256 signature over the canonical query
// string, exactly as Binance expects it byte-for-byte.
func sign(secret, query string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}
