package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"supportdesk/api/internal/store"
)

type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthBearer AuthType = "bearer"
	AuthBasic  AuthType = "basic"
	AuthHMAC   AuthType = "hmac"
)

const (
	HeaderEvent     = "X-Webhook-Event"
	HeaderDelivery  = "X-Webhook-Delivery"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderSignature = "X-Webhook-Signature"

	signaturePrefix = "sha256="
)

// Sign returns the X-Webhook-Signature value for body sent at timestamp.
// The MAC covers "<timestamp>.<body>".
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign in constant time.
func Verify(secret, timestamp string, body []byte, signature string) bool {
	expected := Sign(secret, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func applyAuth(req *http.Request, hook store.Webhook, timestamp string, body []byte) {
	switch AuthType(hook.AuthType) {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+hook.AuthToken)
	case AuthBasic:
		req.SetBasicAuth(hook.AuthUsername, hook.AuthPassword)
	case AuthHMAC:
		req.Header.Set(HeaderSignature, Sign(hook.Secret, timestamp, body))
	}
}
