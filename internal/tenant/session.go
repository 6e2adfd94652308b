package tenant

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SessionCookieName is the admin session cookie set after interactive login.
const SessionCookieName = "herald_session"

// SessionSigner issues and verifies HMAC-signed admin session values of the
// form base64("admin:<expiry-unix>:<hex-mac>"). Good enough for the admin
// surface; tenant API traffic uses API keys, not sessions.
type SessionSigner struct {
	secret []byte
}

func NewSessionSigner(secret string) *SessionSigner {
	return &SessionSigner{secret: []byte(secret)}
}

func (s *SessionSigner) mac(payload string) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(payload)) //nolint:errcheck
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Issue creates a session value valid for ttl.
func (s *SessionSigner) Issue(ttl time.Duration) string {
	payload := fmt.Sprintf("admin:%d", time.Now().Add(ttl).Unix())
	return base64.URLEncoding.EncodeToString([]byte(payload + ":" + s.mac(payload)))
}

// Verify reports whether the session value is authentic and unexpired.
func (s *SessionSigner) Verify(value string) bool {
	raw, err := base64.URLEncoding.DecodeString(value)
	if err != nil {
		return false
	}
	parts := strings.Split(string(raw), ":")
	if len(parts) != 3 || parts[0] != "admin" {
		return false
	}
	payload := parts[0] + ":" + parts[1]
	if !hmac.Equal([]byte(s.mac(payload)), []byte(parts[2])) {
		return false
	}
	expiry, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return false
	}
	return time.Now().Unix() < expiry
}
