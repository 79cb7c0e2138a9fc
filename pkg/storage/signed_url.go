package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrTokenMalformed = errors.New("malformed download token")
	ErrTokenSignature = errors.New("invalid download token signature")
	ErrTokenExpired   = errors.New("download token expired")
)

// URLSigner issues time-limited download tokens for attachment references.
type URLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewURLSigner constructs a signer. A non-positive ttl defaults to 30 minutes.
func NewURLSigner(secret string, ttl time.Duration) *URLSigner {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &URLSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Sign returns "<b64 ref>.<unix expiry>.<hex hmac>".
func (s *URLSigner) Sign(ref string) (string, time.Time, error) {
	if ref == "" {
		return "", time.Time{}, fmt.Errorf("attachment reference required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl).UTC()
	encoded := base64.RawURLEncoding.EncodeToString([]byte(ref))
	exp := strconv.FormatInt(expiresAt.Unix(), 10)
	return strings.Join([]string{encoded, exp, s.mac(encoded, exp)}, "."), expiresAt, nil
}

// Verify checks token and returns the attachment reference it grants.
func (s *URLSigner) Verify(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", ErrTokenMalformed
	}
	encoded, exp, sig := parts[0], parts[1], parts[2]
	if !hmac.Equal([]byte(s.mac(encoded, exp)), []byte(sig)) {
		return "", ErrTokenSignature
	}
	expUnix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return "", ErrTokenMalformed
	}
	if s.now().After(time.Unix(expUnix, 0)) {
		return "", ErrTokenExpired
	}
	ref, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrTokenMalformed
	}
	return string(ref), nil
}

func (s *URLSigner) mac(encoded, exp string) string {
	h := hmac.New(sha256.New, s.secret)
	_, _ = h.Write([]byte(encoded + "|" + exp))
	return hex.EncodeToString(h.Sum(nil))
}
