// Package dingtalk connects DingTalk group robots to the platform as a
// channel plugin.
package dingtalk

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	// SignatureHeader carries base64(HMAC-SHA256(timestamp + "\n" + secret)).
	SignatureHeader = "sign"
	// TimestampHeader carries the request time in Unix milliseconds.
	TimestampHeader = "timestamp"
	// TokenHeader carries the optional outgoing robot token.
	TokenHeader = "token"

	// DefaultMaxSkew is how far a callback timestamp may drift from now.
	DefaultMaxSkew = 300 * time.Second
)

var (
	ErrMissingSignature  = errors.New("missing signature header")
	ErrSignatureMismatch = errors.New("signature mismatch")
	ErrMissingTimestamp  = errors.New("missing timestamp header")
	ErrInvalidTimestamp  = errors.New("invalid timestamp format")
	ErrExpiredTimestamp  = errors.New("request expired")
	ErrFutureTimestamp   = errors.New("request timestamp in future")
	ErrTokenMismatch     = errors.New("callback token mismatch")
)

// CallbackAuthenticator validates DingTalk robot callbacks.
type CallbackAuthenticator struct {
	secret  string
	token   string
	maxSkew time.Duration
	now     func() time.Time
}

// NewCallbackAuthenticator verifies signatures with appSecret. When token is
// non-empty the token header must match it too.
func NewCallbackAuthenticator(appSecret, token string) *CallbackAuthenticator {
	return &CallbackAuthenticator{
		secret:  appSecret,
		token:   token,
		maxSkew: DefaultMaxSkew,
		now:     time.Now,
	}
}

// WithMaxSkew sets the tolerated clock skew.
func (a *CallbackAuthenticator) WithMaxSkew(skew time.Duration) *CallbackAuthenticator {
	a.maxSkew = skew
	return a
}

// Verify checks the token, timestamp and signature headers in that order.
func (a *CallbackAuthenticator) Verify(timestamp, signature, token string) error {
	if a.token != "" && !hmac.Equal([]byte(token), []byte(a.token)) {
		return ErrTokenMismatch
	}
	if err := a.verifyTimestamp(timestamp); err != nil {
		return err
	}
	return a.verifySignature(timestamp, signature)
}

func (a *CallbackAuthenticator) verifyTimestamp(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return ErrMissingTimestamp
	}
	millis, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}

	requestTime := time.UnixMilli(millis)
	now := a.now()
	if now.Sub(requestTime) > a.maxSkew {
		return ErrExpiredTimestamp
	}
	if requestTime.Sub(now) > a.maxSkew {
		return ErrFutureTimestamp
	}
	return nil
}

func (a *CallbackAuthenticator) verifySignature(timestamp, signature string) error {
	if strings.TrimSpace(signature) == "" {
		return ErrMissingSignature
	}
	provided, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return ErrSignatureMismatch
	}
	if !hmac.Equal(provided, computeSignature(strings.TrimSpace(timestamp), a.secret)) {
		return ErrSignatureMismatch
	}
	return nil
}

func computeSignature(timestamp, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp + "\n" + secret))
	return mac.Sum(nil)
}

// Sign returns the base64 signature DingTalk sends, and expects on robot
// webhook URLs, for timestamp.
func Sign(timestamp, secret string) string {
	return base64.StdEncoding.EncodeToString(computeSignature(timestamp, secret))
}
