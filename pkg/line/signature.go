package line

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// SignatureHeader is the request header carrying the body MAC.
const SignatureHeader = "X-Line-Signature"

// Verify reports whether signatureHeader is a valid MAC for rawBody under
// channelSecret. The MAC is HMAC-SHA256 over the raw request body, base64
// encoded. Comparison is constant-time; a missing or malformed header simply
// fails verification. Verification failure means a misconfigured secret or a
// caller that is not the platform, so it is never retried.
func Verify(rawBody []byte, signatureHeader, channelSecret string) bool {
	if signatureHeader == "" || channelSecret == "" {
		return false
	}

	provided, err := base64.StdEncoding.DecodeString(signatureHeader)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(rawBody)
	return hmac.Equal(provided, mac.Sum(nil))
}

// Sign computes the signature header value for rawBody under channelSecret.
// Used by tests and the console channel's loopback mode.
func Sign(rawBody []byte, channelSecret string) string {
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(rawBody)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
