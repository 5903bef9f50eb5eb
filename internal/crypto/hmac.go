package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Header names carried by requests signed with RequestSigner.
const (
	HeaderKey       = "X-Relay-Key"
	HeaderTimestamp = "X-Relay-Timestamp"
	HeaderSignature = "X-Relay-Signature"
)

// RequestSigner holds the credentials used to authenticate requests to the
// payout relay. The signature is HMAC-SHA256(secret, timestamp+method+path+body)
// encoded as lowercase hex.
type RequestSigner struct {
	Key    string
	Secret string
}

// Headers returns the authentication headers for a request issued now.
func (s *RequestSigner) Headers(method, path, body string) map[string]string {
	return s.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp.
func (s *RequestSigner) HeadersAt(method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderKey:       s.Key,
		HeaderTimestamp: ts,
		HeaderSignature: Sign([]byte(s.Secret), ts+method+path+body),
	}
}

// String returns a redacted representation suitable for logging.
func (s *RequestSigner) String() string {
	redact := func(v string) string {
		if len(v) <= 4 {
			return "****"
		}
		return v[:4] + "****"
	}
	return fmt.Sprintf("RequestSigner{key=%s, secret=%s}", redact(s.Key), redact(s.Secret))
}

// Sign returns the hex HMAC-SHA256 of message under key.
func Sign(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the hex HMAC-SHA256 of message under
// key. The comparison runs in constant time.
func Verify(key []byte, message, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hmac.Equal(got, mac.Sum(nil))
}
