package fingate

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/fingate/guard"
	"github.com/MrEthical07/fingate/internal/limiters"
	"github.com/MrEthical07/fingate/internal/stores"
	"github.com/MrEthical07/fingate/jwt"
)

var (
	// ErrRateLimited is returned when a call-site rate rule denies a request.
	ErrRateLimited = errors.New("rate limited")
	// ErrLocked is returned while an identity is locked after repeated login failures.
	ErrLocked = errors.New("account temporarily locked")
	// ErrInvalidCredentials is the single login failure for unknown identities and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTokenInvalid is the single failure for access and refresh tokens that are
	// malformed, expired, revoked, of the wrong kind or bound to an old token version.
	ErrTokenInvalid = errors.New("invalid or expired token")
	// ErrOTPInvalid is the single failure for wrong, expired or exhausted passcodes.
	ErrOTPInvalid = errors.New("invalid or expired code")
	// ErrResetInvalid is the single failure for reset-session tokens, including
	// tampered or rejected confirmation context.
	ErrResetInvalid = errors.New("invalid or expired password reset session")
	// ErrProviderUnavailable is returned when a provider's budget is exhausted or
	// its circuit is open.
	ErrProviderUnavailable = guard.ErrProviderUnavailable
	// ErrRevocationUnavailable indicates the revocation backend could not be reached.
	ErrRevocationUnavailable = stores.ErrRevocationUnavailable
	// ErrFixedOTPInProduction is returned by Build when a fixed passcode is
	// configured outside local and test environments.
	ErrFixedOTPInProduction = stores.ErrFixedOTPInProduction
	// ErrWeakSecret is returned by Build for an HS256 secret shorter than 256 bits.
	ErrWeakSecret = jwt.ErrWeakSecret
	// ErrPlaceholderSecret is returned by Build for a known placeholder secret
	// where a strong secret is required.
	ErrPlaceholderSecret = jwt.ErrPlaceholderSecret

	// ErrAccountExists is returned by Register for an identifier already in use.
	ErrAccountExists = errors.New("account already exists")
	// ErrUserNotFound is returned by a UserProvider for an unknown user.
	ErrUserNotFound = errors.New("user not found")
	// ErrPasswordPolicy is returned for passwords outside the accepted length range.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrInvalidRequest is returned for empty identifiers or unknown OTP purposes.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUserProviderRequired is returned by Build without a UserProvider.
	ErrUserProviderRequired = errors.New("user provider required")
	// ErrBuilderUsed is returned when Build is called twice on one Builder.
	ErrBuilderUsed = errors.New("builder already used")
	// ErrEngineClosed is returned by flows invoked after Close.
	ErrEngineClosed = errors.New("engine closed")
)

// ErrorKind is the stable, caller-facing name of a rejection.
type ErrorKind string

const (
	KindRateLimited         ErrorKind = "rate_limited"
	KindLocked              ErrorKind = "locked"
	KindInvalidToken        ErrorKind = "invalid_token"
	KindInvalidCredentials  ErrorKind = "invalid_credentials"
	KindOTPInvalid          ErrorKind = "otp_invalid"
	KindResetInvalid        ErrorKind = "reset_invalid"
	KindProviderUnavailable ErrorKind = "provider_unavailable"
	KindAccountExists       ErrorKind = "account_exists"
	KindPasswordPolicy      ErrorKind = "password_policy"
	KindInvalidRequest      ErrorKind = "invalid_request"
	KindUnavailable         ErrorKind = "unavailable"
	KindInternal            ErrorKind = "internal"
)

// Rejection is an admission-denied error carrying a retry hint. It unwraps
// to its sentinel so errors.Is keeps working.
type Rejection struct {
	Kind       ErrorKind
	RetryAfter time.Duration
	// Site names the call-site rule that denied the request, when any.
	Site CallSite

	err error
}

func (r *Rejection) Error() string {
	if r.RetryAfter > 0 {
		return fmt.Sprintf("%v (retry after %ds)", r.err, limiters.CeilSeconds(r.RetryAfter))
	}
	return r.err.Error()
}

func (r *Rejection) Unwrap() error {
	return r.err
}

func rateLimited(site limiters.CallSite, retryAfter time.Duration) error {
	return &Rejection{Kind: KindRateLimited, RetryAfter: retryAfter, Site: site, err: ErrRateLimited}
}

func locked(retryAfter time.Duration) error {
	return &Rejection{Kind: KindLocked, RetryAfter: retryAfter, err: ErrLocked}
}

// KindOf maps err to its stable kind. It returns "" for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var rejection *Rejection
	if errors.As(err, &rejection) {
		return rejection.Kind
	}

	switch {
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrLocked):
		return KindLocked
	case errors.Is(err, ErrTokenInvalid):
		return KindInvalidToken
	case errors.Is(err, ErrInvalidCredentials):
		return KindInvalidCredentials
	case errors.Is(err, ErrOTPInvalid):
		return KindOTPInvalid
	case errors.Is(err, ErrResetInvalid):
		return KindResetInvalid
	case errors.Is(err, ErrProviderUnavailable):
		return KindProviderUnavailable
	case errors.Is(err, ErrAccountExists):
		return KindAccountExists
	case errors.Is(err, ErrPasswordPolicy):
		return KindPasswordPolicy
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrRevocationUnavailable), errors.Is(err, ErrEngineClosed):
		return KindUnavailable
	default:
		return KindInternal
	}
}

// RetryAfterSeconds returns the retry hint carried by err in whole seconds,
// rounded up, or 0 when err carries none.
func RetryAfterSeconds(err error) int64 {
	var rejection *Rejection
	if errors.As(err, &rejection) {
		return limiters.CeilSeconds(rejection.RetryAfter)
	}
	var unavailable *guard.UnavailableError
	if errors.As(err, &unavailable) {
		return limiters.CeilSeconds(unavailable.RetryAfter)
	}
	return 0
}
