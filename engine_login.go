package fingate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/fingate/internal"
	"github.com/MrEthical07/fingate/internal/limiters"
	"github.com/MrEthical07/fingate/jwt"
)

const (
	scopeLogin = "login"
	scopeUser  = "uid"
)

func loginKey(identifier string) string {
	return internal.IdentityKey(scopeLogin, identifier)
}

func userRateKey(userID int64) string {
	return scopeUser + ":" + strconv.FormatInt(userID, 10)
}

func subjectFor(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// Login authenticates identifier and password and mints an access and
// refresh token pair.
//
// Rate limits by identifier and client IP are checked first, then the
// identity's lockout, then the credentials. Unknown identifiers and wrong
// passwords both return [ErrInvalidCredentials] after the same hashing
// work. The failure that reaches the lockout threshold, and every attempt
// while locked, returns a [*Rejection] of kind locked.
func (e *Engine) Login(ctx context.Context, identifier, secret string) (TokenPair, error) {
	if err := e.ready(); err != nil {
		return TokenPair{}, err
	}

	identifier = internal.NormalizeIdentity(identifier)
	key := loginKey(identifier)
	ip := internal.CanonicalIP(ClientIPFromContext(ctx))

	if err := e.admit(ctx,
		limiters.SiteKey{Site: limiters.CallSiteLoginEmail, Key: key},
		limiters.SiteKey{Site: limiters.CallSiteLoginIP, Key: ip},
	); err != nil {
		e.metricInc(MetricLoginRateLimited)
		return TokenPair{}, err
	}

	if remaining := e.lockout.Remaining(key); remaining > 0 {
		e.metricInc(MetricLoginLocked)
		e.emitAudit(ctx, auditEventLoginLocked, false, 0, "", ErrLocked, nil)
		return TokenPair{}, locked(remaining)
	}

	if identifier == "" || secret == "" {
		e.passwords.VerifyDummy(secret)
		return TokenPair{}, e.loginFailed(ctx, key, 0)
	}

	user, err := e.users.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.passwords.VerifyDummy(secret)
			return TokenPair{}, e.loginFailed(ctx, key, 0)
		}
		return TokenPair{}, err
	}

	ok, err := e.passwords.Verify(secret, user.PasswordHash)
	if err != nil {
		e.logger.Error("stored password hash unreadable", "user_id", user.UserID, "error", err)
	}
	if !ok {
		return TokenPair{}, e.loginFailed(ctx, key, user.UserID)
	}

	e.lockout.RecordSuccess(key)

	pair, refreshID, err := e.issuePair(ctx, user)
	if err != nil {
		return TokenPair{}, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.UserID, refreshID, nil, nil)
	return pair, nil
}

func (e *Engine) loginFailed(ctx context.Context, key string, userID int64) error {
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, "", ErrInvalidCredentials, nil)

	isLocked, remaining := e.lockout.RecordFailure(key)
	if !isLocked {
		return ErrInvalidCredentials
	}

	e.metricInc(MetricLoginLocked)
	e.logger.Warn("login identity locked", "user_id", userID, "lock_for", remaining)
	e.emitAudit(ctx, auditEventLoginLocked, false, userID, "", ErrLocked, func() map[string]string {
		return map[string]string{"lock_seconds": strconv.FormatInt(limiters.CeilSeconds(remaining), 10)}
	})
	return locked(remaining)
}

func (e *Engine) issuePair(ctx context.Context, user UserRecord) (TokenPair, string, error) {
	subject := subjectFor(user.UserID)

	access, err := e.tokens.IssueAccess(subject, user.UserID, user.TokenVersion)
	if err != nil {
		return TokenPair{}, "", err
	}
	refresh, err := e.tokens.IssueRefresh(subject, user.UserID, user.TokenVersion)
	if err != nil {
		return TokenPair{}, "", err
	}

	if e.sessions != nil {
		if err := e.sessions.Register(ctx, user.UserID, refresh.ID, refresh.ExpiresAt); err != nil {
			return TokenPair{}, "", fmt.Errorf("register session: %w", err)
		}
	}

	return TokenPair{
		AccessToken:      access.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     refresh.Token,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, refresh.ID, nil
}

// Validate authenticates an access token. Bad signatures, wrong issuer or
// audience, expiry, revoked jtis and stale token versions all return
// [ErrTokenInvalid].
func (e *Engine) Validate(ctx context.Context, accessToken string) (AuthResult, error) {
	if err := e.ready(); err != nil {
		return AuthResult{}, err
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()
	}

	claims, err := e.checkToken(ctx, accessToken, jwt.TypeAccess)
	if err != nil {
		return AuthResult{}, err
	}

	return AuthResult{
		UserID:       claims.UID,
		Subject:      claims.Subject,
		TokenID:      claims.ID,
		TokenVersion: claims.TokenVersion,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}

// checkToken parses raw as kind and rejects revoked jtis and versions that
// no longer match the user record.
func (e *Engine) checkToken(ctx context.Context, raw string, kind jwt.TokenType) (*jwt.Claims, error) {
	claims, err := e.tokens.Parse(raw, kind)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	revoked, err := e.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		e.metricInc(MetricRevokedTokenRejected)
		e.emitAudit(ctx, auditEventRevokedTokenRejected, false, claims.UID, claims.ID, ErrTokenInvalid, func() map[string]string {
			return map[string]string{"kind": string(kind)}
		})
		return nil, ErrTokenInvalid
	}

	user, err := e.users.GetUserByID(ctx, claims.UID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if user.TokenVersion != claims.TokenVersion {
		e.metricInc(MetricStaleTokenVersion)
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Refresh rotates a refresh token. The presented token is revoked with
// first-wins semantics, so among concurrent refreshes of the same token
// exactly one succeeds; the others, and any later replay, get
// [ErrTokenInvalid].
//
// Rotations are limited per user by the refresh rule. When the revocation
// list cannot record the old token, the refresh is refused with
// [ErrRevocationUnavailable] and no new pair is minted.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if err := e.ready(); err != nil {
		return TokenPair{}, err
	}

	claims, err := e.checkToken(ctx, refreshToken, jwt.TypeRefresh)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, 0, "", err, nil)
		return TokenPair{}, err
	}

	if err := e.admit(ctx, limiters.SiteKey{Site: limiters.CallSiteRefresh, Key: userRateKey(claims.UID)}); err != nil {
		e.metricInc(MetricRefreshFailure)
		return TokenPair{}, err
	}

	first, err := e.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.logger.Error("refresh refused: revocation not recorded", "user_id", claims.UID, "error", err)
		return TokenPair{}, err
	}
	if !first {
		e.metricInc(MetricRefreshReuseDetected)
		e.emitAudit(ctx, auditEventRefreshReuseDetected, false, claims.UID, claims.ID, ErrTokenInvalid, nil)
		return TokenPair{}, ErrTokenInvalid
	}
	e.revokeSession(ctx, claims.ID)

	user, err := e.users.GetUserByID(ctx, claims.UID)
	if err != nil {
		return TokenPair{}, err
	}
	pair, refreshID, err := e.issuePair(ctx, user)
	if err != nil {
		return TokenPair{}, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, user.UserID, refreshID, nil, func() map[string]string {
		return map[string]string{"rotated_from": claims.ID}
	})
	return pair, nil
}

// Logout revokes the given tokens until their natural expiry. Either token
// may be empty, but not both, and every non-empty token must be valid.
func (e *Engine) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if accessToken == "" && refreshToken == "" {
		return ErrTokenInvalid
	}

	var parsed []*jwt.Claims
	if accessToken != "" {
		claims, err := e.tokens.Parse(accessToken, jwt.TypeAccess)
		if err != nil {
			return ErrTokenInvalid
		}
		parsed = append(parsed, claims)
	}
	if refreshToken != "" {
		claims, err := e.tokens.Parse(refreshToken, jwt.TypeRefresh)
		if err != nil {
			return ErrTokenInvalid
		}
		parsed = append(parsed, claims)
	}

	for _, claims := range parsed {
		if _, err := e.revocations.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
			return err
		}
		if claims.Type == jwt.TypeRefresh {
			e.revokeSession(ctx, claims.ID)
		}
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, parsed[0].UID, parsed[0].ID, nil, nil)
	return nil
}

func (e *Engine) revokeSession(ctx context.Context, refreshID string) {
	if e.sessions == nil {
		return
	}
	if err := e.sessions.Revoke(ctx, refreshID); err != nil {
		e.logger.Warn("session registry revoke failed", "token_id", refreshID, "error", err)
	}
}

// Register creates an account. It is limited by the registration rule,
// keyed by client IP or, without one, by identifier.
func (e *Engine) Register(ctx context.Context, identifier, secret string) (UserRecord, error) {
	if err := e.ready(); err != nil {
		return UserRecord{}, err
	}

	identifier = internal.NormalizeIdentity(identifier)
	if identifier == "" {
		return UserRecord{}, ErrInvalidRequest
	}

	rateKey := internal.CanonicalIP(ClientIPFromContext(ctx))
	if rateKey == "" {
		rateKey = internal.IdentityKey("register", identifier)
	}
	if err := e.admit(ctx, limiters.SiteKey{Site: limiters.CallSiteRegistration, Key: rateKey}); err != nil {
		return UserRecord{}, err
	}

	if err := e.passwords.CheckLength(secret); err != nil {
		e.emitAudit(ctx, auditEventRegistrationFailure, false, 0, "", ErrPasswordPolicy, nil)
		return UserRecord{}, fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}
	hash, err := e.passwords.Hash(secret)
	if err != nil {
		return UserRecord{}, err
	}

	user, err := e.users.CreateUser(ctx, CreateUserInput{Identifier: identifier, PasswordHash: hash})
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			e.metricInc(MetricRegistrationDuplicate)
			e.emitAudit(ctx, auditEventRegistrationFailure, false, 0, "", ErrAccountExists, nil)
			return UserRecord{}, ErrAccountExists
		}
		return UserRecord{}, err
	}

	e.metricInc(MetricRegistrationSuccess)
	e.emitAudit(ctx, auditEventRegistrationSuccess, true, user.UserID, "", nil, nil)
	return user, nil
}
