// Package crypto provides HMAC request authentication for the exchange API.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

// HMACAuth holds the credentials for HMAC-authenticated requests against the
// exchange CLOB API.
type HMACAuth struct {
	Key    string // API key
	Secret string // API secret
}

// Headers returns the authentication headers for one request. The signature
// is HMAC-SHA256(secret, timestamp+method+path+body) encoded as base64.
//
// Returned header keys:
//   - X-API-KEY
//   - X-API-TIMESTAMP
//   - X-API-SIGNATURE
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	ts := currentTimestamp()

	message := ts + method + path + body
	sig := hmacSHA256Base64([]byte(h.Secret), message)

	return map[string]string{
		"X-API-KEY":       h.Key,
		"X-API-TIMESTAMP": ts,
		"X-API-SIGNATURE": sig,
	}
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as a base64 standard-encoded string.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// currentTimestamp returns the current Unix time in seconds as a string.
func currentTimestamp() string {
	return strconv.FormatInt(time.Now().Unix(), 10)
}
