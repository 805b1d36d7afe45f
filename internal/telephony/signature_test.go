package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"testing"
)

func twilioSign(fullURL string, params map[string]string, token string) string {
	// Reference construction, independent of the verifier's internals.
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	s := fullURL
	for _, k := range keys {
		s += k + params[k]
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(s))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifyTwilioSignature(t *testing.T) {
	url := "https://crm.example/calls/webhooks/twilio"
	params := map[string]string{"CallSid": "CA1", "From": "+919876543210", "CallStatus": "completed"}
	token := "secret-token"
	sig := twilioSign(url, params, token)

	if err := VerifyTwilioSignature(url, params, sig, token); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	params["CallStatus"] = "failed"
	if err := VerifyTwilioSignature(url, params, sig, token); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("tampered params accepted: %v", err)
	}
	params["CallStatus"] = "completed"

	if err := VerifyTwilioSignature("https://other.example/hook", params, sig, token); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("wrong url accepted: %v", err)
	}
	if err := VerifyTwilioSignature(url, params, "", token); !errors.Is(err, ErrSignatureMissing) {
		t.Fatalf("missing header: %v", err)
	}
	if err := VerifyTwilioSignature(url, params, sig, ""); !errors.Is(err, ErrSignatureNotConfigured) {
		t.Fatalf("missing secret must fail closed: %v", err)
	}
}

func TestVerifyExotelSignature(t *testing.T) {
	body := []byte(`{"Call":{"Sid":"abc"}}`)
	secret := "exotel-secret"

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	sum := mac.Sum(nil)

	hexSig := hex.EncodeToString(sum)
	b64Sig := base64.StdEncoding.EncodeToString(sum)

	if err := VerifyExotelSignature(body, hexSig, secret); err != nil {
		t.Fatalf("hex signature rejected: %v", err)
	}
	// Hex digest comparison is case-insensitive.
	upper := ""
	for _, r := range hexSig {
		if r >= 'a' && r <= 'f' {
			r = r - 'a' + 'A'
		}
		upper += string(r)
	}
	if err := VerifyExotelSignature(body, upper, secret); err != nil {
		t.Fatalf("uppercase hex rejected: %v", err)
	}
	if err := VerifyExotelSignature(body, b64Sig, secret); err != nil {
		t.Fatalf("base64 signature rejected: %v", err)
	}

	if err := VerifyExotelSignature([]byte("tampered"), hexSig, secret); !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("tampered body accepted: %v", err)
	}
	if err := VerifyExotelSignature(body, "", secret); !errors.Is(err, ErrSignatureMissing) {
		t.Fatalf("missing header: %v", err)
	}
	if err := VerifyExotelSignature(body, hexSig, ""); !errors.Is(err, ErrSignatureNotConfigured) {
		t.Fatalf("missing secret must fail closed: %v", err)
	}
}
