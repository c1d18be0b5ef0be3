package dingtalk

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedAuth(secret, token string, now time.Time) *CallbackAuthenticator {
	auth := NewCallbackAuthenticator(secret, token)
	auth.now = func() time.Time { return now }
	return auth
}

func TestCallbackAuthSuccess(t *testing.T) {
	now := time.Date(2026, 2, 4, 12, 0, 0, 0, time.UTC)
	auth := fixedAuth("test-secret", "", now)

	timestamp := strconv.FormatInt(now.UnixMilli(), 10)
	require.NoError(t, auth.Verify(timestamp, Sign(timestamp, "test-secret"), ""))
}

func TestCallbackAuthSignatureValidation(t *testing.T) {
	now := time.Date(2026, 2, 4, 12, 0, 0, 0, time.UTC)
	auth := fixedAuth("test-secret", "", now)
	timestamp := strconv.FormatInt(now.UnixMilli(), 10)

	cases := []struct {
		name      string
		signature string
		err       error
	}{
		{name: "missing signature", signature: "", err: ErrMissingSignature},
		{name: "not base64", signature: "%%%", err: ErrSignatureMismatch},
		{name: "wrong secret", signature: Sign(timestamp, "wrong-secret"), err: ErrSignatureMismatch},
		{name: "other timestamp", signature: Sign(timestamp+"1", "test-secret"), err: ErrSignatureMismatch},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := auth.Verify(timestamp, tc.signature, "")
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestCallbackAuthTimestampValidation(t *testing.T) {
	now := time.Date(2026, 2, 4, 12, 0, 0, 0, time.UTC)
	auth := fixedAuth("test-secret", "", now)

	cases := []struct {
		name      string
		timestamp string
		err       error
	}{
		{name: "missing timestamp", timestamp: "", err: ErrMissingTimestamp},
		{name: "invalid timestamp", timestamp: "not-a-number", err: ErrInvalidTimestamp},
		{name: "expired timestamp", timestamp: strconv.FormatInt(now.Add(-6*time.Minute).UnixMilli(), 10), err: ErrExpiredTimestamp},
		{name: "future timestamp", timestamp: strconv.FormatInt(now.Add(6*time.Minute).UnixMilli(), 10), err: ErrFutureTimestamp},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := auth.Verify(tc.timestamp, Sign(tc.timestamp, "test-secret"), "")
			require.ErrorIs(t, err, tc.err)
		})
	}

	within := strconv.FormatInt(now.Add(-4*time.Minute).UnixMilli(), 10)
	require.NoError(t, auth.Verify(within, Sign(within, "test-secret"), ""))
}

func TestCallbackAuthToken(t *testing.T) {
	now := time.Date(2026, 2, 4, 12, 0, 0, 0, time.UTC)
	auth := fixedAuth("test-secret", "robot-token", now)
	timestamp := strconv.FormatInt(now.UnixMilli(), 10)
	signature := Sign(timestamp, "test-secret")

	require.ErrorIs(t, auth.Verify(timestamp, signature, ""), ErrTokenMismatch)
	require.ErrorIs(t, auth.Verify(timestamp, signature, "other"), ErrTokenMismatch)
	require.NoError(t, auth.Verify(timestamp, signature, "robot-token"))
}
