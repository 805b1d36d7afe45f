package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
)

// Webhook signature headers per vendor.
const (
	HeaderTwilioSignature = "X-Twilio-Signature"
	HeaderExotelSignature = "X-Exotel-Signature"
)

// Signature verification fails closed: a missing shared secret is a
// verification failure, never a skip.
var (
	ErrSignatureNotConfigured = errors.New("telephony: signing secret not configured")
	ErrSignatureMissing       = errors.New("telephony: signature header missing")
	ErrSignatureInvalid       = errors.New("telephony: signature mismatch")
)

// VerifyTwilioSignature checks Twilio's request signature: the full request
// URL concatenated with every request parameter as key+value, sorted by key
// with no separators, HMAC-SHA1 signed with the account auth token and
// base64-encoded.
func VerifyTwilioSignature(fullURL string, params map[string]string, signature, authToken string) error {
	if authToken == "" {
		return ErrSignatureNotConfigured
	}
	if strings.TrimSpace(signature) == "" {
		return ErrSignatureMissing
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params[k])
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature))) {
		return ErrSignatureInvalid
	}
	return nil
}

// VerifyExotelSignature checks Exotel's request signature: HMAC-SHA1 over the
// raw request body. Exotel deployments send either the hex digest
// (case-insensitive) or the base64 digest; both are accepted.
func VerifyExotelSignature(rawBody []byte, signature, secret string) error {
	if secret == "" {
		return ErrSignatureNotConfigured
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrSignatureMissing
	}

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(rawBody)
	sum := mac.Sum(nil)

	if decoded, err := hex.DecodeString(strings.ToLower(signature)); err == nil {
		if hmac.Equal(decoded, sum) {
			return nil
		}
	}
	if decoded, err := base64.StdEncoding.DecodeString(signature); err == nil {
		if hmac.Equal(decoded, sum) {
			return nil
		}
	}
	return ErrSignatureInvalid
}
