package fingate

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/fingate/internal"
	"github.com/MrEthical07/fingate/internal/limiters"
	"github.com/MrEthical07/fingate/internal/stores"
	"github.com/MrEthical07/fingate/jwt"
)

const (
	resetReasonInvalidToken    = "invalid_token"
	resetReasonNoSession       = "session_not_found"
	resetReasonStaleVersion    = "stale_token_version"
	resetReasonContextTampered = "context_tampered"
	resetReasonContextChanged  = "context_mismatch"
	resetReasonAlreadyConsumed = "already_consumed"
)

// RequestPasswordReset mails a reset code to identifier when it belongs to
// an account. The result does not reveal whether the account exists: only
// rate limiting and backend failures are returned.
func (e *Engine) RequestPasswordReset(ctx context.Context, identifier string) error {
	if err := e.ready(); err != nil {
		return err
	}

	identifier = internal.NormalizeIdentity(identifier)
	if identifier == "" {
		return ErrInvalidRequest
	}
	e.metricInc(MetricPasswordResetRequest)

	key := otpKey(OTPPurposePasswordReset, identifier)
	if err := e.admit(ctx,
		limiters.SiteKey{Site: limiters.CallSiteOTPIssue, Key: key},
		limiters.SiteKey{Site: limiters.CallSiteOTPIssue, Key: internal.CanonicalIP(ClientIPFromContext(ctx))},
	); err != nil {
		return err
	}

	user, err := e.users.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.emitAudit(ctx, auditEventPasswordResetRequest, false, 0, "", nil, func() map[string]string {
				return map[string]string{"outcome": "unknown_identifier"}
			})
			return nil
		}
		return err
	}

	otp, issued, err := e.otps.IssueIfAbsent(key)
	if err != nil {
		return err
	}
	if !issued {
		return nil
	}

	subject, body := otpMessage(OTPPurposePasswordReset, otp.Code, int(e.config.OTP.TTL.Minutes()))
	e.sendMail(ctx, identifier, subject, body)

	e.metricInc(MetricOTPIssued)
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, user.UserID, "", nil, nil)
	return nil
}

// ConfirmPasswordReset spends the mailed reset code and opens a reset
// session bound to the caller's IP and user agent. Any earlier session for
// the user is invalidated. The returned grant wraps the session in a signed
// reset_session token.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, identifier, code string) (ResetGrant, error) {
	if err := e.ready(); err != nil {
		return ResetGrant{}, err
	}

	identifier = internal.NormalizeIdentity(identifier)
	if identifier == "" {
		return ResetGrant{}, ErrInvalidRequest
	}

	if err := e.verifyOTP(ctx, limiters.CallSiteResetConfirm, OTPPurposePasswordReset, identifier, code); err != nil {
		if errors.Is(err, ErrOTPInvalid) {
			e.metricInc(MetricPasswordResetConfirmFailure)
		}
		return ResetGrant{}, err
	}

	user, err := e.users.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.metricInc(MetricPasswordResetConfirmFailure)
			return ResetGrant{}, ErrOTPInvalid
		}
		return ResetGrant{}, err
	}

	ip := ClientIPFromContext(ctx)
	ua := userAgentFromContext(ctx)
	created, err := e.resets.Create(user.UserID, e.now().Add(e.tokens.ResetSessionTTL()), ip, ua)
	if err != nil {
		return ResetGrant{}, err
	}

	issued, err := e.tokens.IssueResetSession(subjectFor(user.UserID), user.UserID, user.TokenVersion, jwt.ResetBinding{
		SessionToken: created.RawToken,
		IPHash:       created.Session.IPHash,
		UAHash:       created.Session.UserAgentHash,
		ExpiresAt:    created.Session.ExpiresAt,
	})
	if err != nil {
		e.resets.InvalidateUser(user.UserID)
		return ResetGrant{}, err
	}

	e.metricInc(MetricPasswordResetConfirmSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, user.UserID, created.Session.SessionID, nil, nil)
	return ResetGrant{Token: issued.Token, ExpiresAt: issued.ExpiresAt}, nil
}

// CompletePasswordReset sets a new password using a reset grant.
//
// The submission context is compared with the confirmation context. An
// exact match is accepted. A change in exactly one of IP and user agent,
// with the token's embedded context untouched, is accepted and logged as a
// soft mismatch. A token whose embedded context differs from the session's,
// or a change in both factors, is rejected and every pending reset artifact
// for the user is invalidated. All rejections return [ErrResetInvalid].
//
// On success the user's token version is incremented, which invalidates
// every access and refresh token issued before the reset. The session is
// consumed before the user provider is called; if UpdatePassword fails the
// session is reopened so the same grant can be retried.
func (e *Engine) CompletePasswordReset(ctx context.Context, resetToken, newPassword string) (ResetOutcome, error) {
	if err := e.ready(); err != nil {
		return "", err
	}

	ip := ClientIPFromContext(ctx)
	ua := userAgentFromContext(ctx)
	if err := e.admit(ctx, limiters.SiteKey{Site: limiters.CallSiteResetSubmit, Key: internal.CanonicalIP(ip)}); err != nil {
		return "", err
	}

	if err := e.passwords.CheckLength(newPassword); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
	}

	claims, err := e.tokens.Parse(resetToken, jwt.TypeResetSession)
	if err != nil {
		return "", e.resetRejected(ctx, 0, resetReasonInvalidToken)
	}
	if err := e.admit(ctx, limiters.SiteKey{Site: limiters.CallSiteResetSubmit, Key: userRateKey(claims.UID)}); err != nil {
		return "", err
	}

	session, ok := e.resets.FindActive(claims.ResetSessionID)
	if !ok {
		return "", e.resetRejected(ctx, claims.UID, resetReasonNoSession)
	}

	user, err := e.users.GetUserByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", e.resetRejected(ctx, session.UserID, resetReasonNoSession)
		}
		return "", err
	}

	tokenIP, tokenUA, err := claims.ContextHashes()
	var verdict stores.ContextVerdict
	if err != nil || session.UserID != claims.UID {
		verdict = stores.ContextVerdict{Tampered: true, ShouldReject: true}
	} else {
		verdict = e.resets.EvaluateContext(session, ip, ua, tokenIP, tokenUA)
	}
	if verdict.ShouldReject {
		reason := resetReasonContextChanged
		if verdict.Tampered {
			reason = resetReasonContextTampered
		}
		e.invalidateResetArtifacts(user)
		e.logger.Warn("password reset rejected", "user_id", user.UserID, "reason", reason)
		return "", e.resetRejected(ctx, user.UserID, reason)
	}

	if claims.TokenVersion != user.TokenVersion {
		return "", e.resetRejected(ctx, user.UserID, resetReasonStaleVersion)
	}

	outcome := ResetExactMatch
	if verdict.SoftMismatch() {
		outcome = ResetSoftMismatch
		e.metricInc(MetricPasswordResetSoftMismatch)
		e.logger.Info("password reset context changed",
			"user_id", user.UserID,
			"ip_matches", verdict.IPMatches,
			"ua_matches", verdict.UAMatches,
		)
	}

	hash, err := e.passwords.Hash(newPassword)
	if err != nil {
		return "", err
	}
	if !e.resets.Consume(session) {
		return "", e.resetRejected(ctx, user.UserID, resetReasonAlreadyConsumed)
	}

	updated, err := e.users.UpdatePassword(ctx, user.UserID, hash)
	if err != nil {
		if !e.resets.Reopen(session) {
			e.logger.Warn("reset session not reopened after failed update", "user_id", user.UserID)
		}
		return "", err
	}

	e.invalidateResetArtifacts(updated)
	e.lockout.RecordSuccess(loginKey(updated.Identifier))

	e.metricInc(MetricPasswordResetComplete)
	e.emitAudit(ctx, auditEventPasswordResetComplete, true, updated.UserID, session.SessionID, nil, func() map[string]string {
		return map[string]string{"context": string(outcome)}
	})
	return outcome, nil
}

func (e *Engine) invalidateResetArtifacts(user UserRecord) {
	e.resets.InvalidateUser(user.UserID)
	if user.Identifier != "" {
		e.otps.Invalidate(otpKey(OTPPurposePasswordReset, internal.NormalizeIdentity(user.Identifier)))
	}
}

func (e *Engine) resetRejected(ctx context.Context, userID int64, reason string) error {
	e.metricInc(MetricPasswordResetRejected)
	e.emitAudit(ctx, auditEventPasswordResetRejected, false, userID, "", ErrResetInvalid, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return ErrResetInvalid
}
