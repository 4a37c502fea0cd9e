package line

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// SignatureHeader carries the base64 HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Line-Signature"

// VerifySignature reports whether signature is the base64 encoded
// HMAC-SHA256 of body keyed with the channel secret. The body must be the
// exact bytes received on the wire.
func VerifySignature(channelSecret string, body []byte, signature string) bool {
	if channelSecret == "" {
		return false
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(decoded, Sign(channelSecret, body))
}

// Sign returns the raw HMAC-SHA256 digest of body.
func Sign(channelSecret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(channelSecret))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

// SignBase64 returns the value LINE sends in SignatureHeader for body.
func SignBase64(channelSecret string, body []byte) string {
	return base64.StdEncoding.EncodeToString(Sign(channelSecret, body))
}
