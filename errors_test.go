package fingate

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrEthical07/fingate/guard"
)

func TestKindOfAndRetryAfter(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		kind  ErrorKind
		retry int64
	}{
		{"nil", nil, "", 0},
		{"rate limited", rateLimited(CallSiteLoginIP, 1500*time.Millisecond), KindRateLimited, 2},
		{"locked", locked(15 * time.Minute), KindLocked, 900},
		{"wrapped token", fmt.Errorf("validate: %w", ErrTokenInvalid), KindInvalidToken, 0},
		{"credentials", ErrInvalidCredentials, KindInvalidCredentials, 0},
		{"otp", ErrOTPInvalid, KindOTPInvalid, 0},
		{"reset", ErrResetInvalid, KindResetInvalid, 0},
		{
			"provider",
			&guard.UnavailableError{Provider: "fx", Reason: guard.ReasonCircuitOpen, RetryAfter: 29*time.Second + time.Millisecond},
			KindProviderUnavailable,
			30,
		},
		{"revocation backend", fmt.Errorf("%w: dial tcp", ErrRevocationUnavailable), KindUnavailable, 0},
		{"policy", fmt.Errorf("%w: too short", ErrPasswordPolicy), KindPasswordPolicy, 0},
		{"unknown", errors.New("boom"), KindInternal, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.kind {
				t.Fatalf("KindOf = %q, want %q", got, tt.kind)
			}
			if got := RetryAfterSeconds(tt.err); got != tt.retry {
				t.Fatalf("RetryAfterSeconds = %d, want %d", got, tt.retry)
			}
		})
	}
}

func TestRejectionUnwrapsToSentinel(t *testing.T) {
	err := rateLimited(CallSiteOTPIssue, 10*time.Minute)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatal("expected rejection to match ErrRateLimited")
	}
	if got, want := err.Error(), "rate limited (retry after 600s)"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}
