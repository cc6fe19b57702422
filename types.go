package fingate

import (
	"context"
	"time"

	"github.com/MrEthical07/fingate/internal/limiters"
)

// UserRecord is the account view the engine needs from the caller's store.
type UserRecord struct {
	UserID       int64
	Identifier   string
	PasswordHash string
	// TokenVersion is the user's credential generation. Tokens minted with an
	// older version are rejected.
	TokenVersion int64
}

// CreateUserInput is the input for [UserProvider.CreateUser].
type CreateUserInput struct {
	Identifier   string
	PasswordHash string
}

// UserProvider is the interface callers implement to connect fingate to
// their user database.
type UserProvider interface {
	// GetUserByIdentifier returns [ErrUserNotFound] for unknown identifiers.
	GetUserByIdentifier(ctx context.Context, identifier string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID int64) (UserRecord, error)
	// CreateUser returns [ErrAccountExists] for an identifier already in use.
	CreateUser(ctx context.Context, input CreateUserInput) (UserRecord, error)
	// UpdatePassword stores newHash and increments the token version in one
	// step, returning the updated record.
	UpdatePassword(ctx context.Context, userID int64, newHash string) (UserRecord, error)
}

// SessionRegistry tracks issued refresh tokens outside the engine.
type SessionRegistry interface {
	Register(ctx context.Context, userID int64, refreshJTI string, expiresAt time.Time) error
	Revoke(ctx context.Context, refreshJTI string) error
}

// Mailer delivers a message. Delivery failures are logged by the engine and
// never returned to the caller of a flow.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// TokenPair is returned by [Engine.Login] and [Engine.Refresh].
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// AuthResult is returned by [Engine.Validate].
type AuthResult struct {
	UserID       int64
	Subject      string
	TokenID      string
	TokenVersion int64
	ExpiresAt    time.Time
}

// ResetGrant is the signed reset-session token returned by
// [Engine.ConfirmPasswordReset].
type ResetGrant struct {
	Token     string
	ExpiresAt time.Time
}

// ResetOutcome reports how the submission context compared with the
// confirmation context on a completed reset.
type ResetOutcome string

const (
	ResetExactMatch   ResetOutcome = "exact_match"
	ResetSoftMismatch ResetOutcome = "soft_mismatch"
)

// OTPPurpose scopes a passcode so a code issued for one flow cannot be
// spent in another.
type OTPPurpose string

const (
	OTPPurposeEmailVerification OTPPurpose = "email_verification"
	OTPPurposeStepUp            OTPPurpose = "step_up"
	OTPPurposePasswordReset     OTPPurpose = "password_reset"
)

// OTPIssue describes an issued or still-live passcode without the code itself.
type OTPIssue struct {
	ExpiresAt time.Time
	// Reused is true when a live code already existed and no new code was sent.
	Reused bool
}

// CallSite names a rate rule. Each call site has its own window per key.
type CallSite = limiters.CallSite

const (
	CallSiteLoginEmail   = limiters.CallSiteLoginEmail
	CallSiteLoginIP      = limiters.CallSiteLoginIP
	CallSiteOTPIssue     = limiters.CallSiteOTPIssue
	CallSiteOTPVerify    = limiters.CallSiteOTPVerify
	CallSiteResetConfirm = limiters.CallSiteResetConfirm
	CallSiteResetSubmit  = limiters.CallSiteResetSubmit
	CallSiteRegistration = limiters.CallSiteRegistration
	CallSitePublicRates  = limiters.CallSitePublicRates
	CallSiteRefresh      = limiters.CallSiteRefresh
)
