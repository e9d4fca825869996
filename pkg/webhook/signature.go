package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
)

// SignatureVerifier checks an inbound webhook request's signature header
// against the request body. Registered per channel; channels with no
// signing scheme (a bare JSON test webhook) register none.
type SignatureVerifier interface {
	Verify(r *http.Request, body []byte) bool
}

// HMACVerifier verifies a hex-encoded HMAC-SHA256 of the raw body, carried
// in HeaderName, against a shared secret. This is the common shape used by
// GitHub, Slack, and most generic webhook signing schemes; a channel with a
// different encoding (e.g. base64) implements SignatureVerifier directly.
type HMACVerifier struct {
	HeaderName string
	Secret     string
}

// NewHMACVerifier creates an HMACVerifier for the given header and secret.
func NewHMACVerifier(headerName, secret string) *HMACVerifier {
	return &HMACVerifier{HeaderName: headerName, Secret: secret}
}

func (v *HMACVerifier) Verify(r *http.Request, body []byte) bool {
	got := r.Header.Get(v.HeaderName)
	if got == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(v.Secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
