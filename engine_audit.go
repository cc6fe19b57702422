package fingate

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/fingate/internal/limiters"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLoginLocked           = "login_locked"
	auditEventRefreshSuccess        = "refresh_success"
	auditEventRefreshInvalid        = "refresh_invalid"
	auditEventRefreshReuseDetected  = "refresh_reuse_detected"
	auditEventLogout                = "logout"
	auditEventRevokedTokenRejected  = "revoked_token_rejected"
	auditEventRegistrationSuccess   = "registration_success"
	auditEventRegistrationFailure   = "registration_failure"
	auditEventOTPIssued             = "otp_issued"
	auditEventOTPVerified           = "otp_verified"
	auditEventOTPRejected           = "otp_rejected"
	auditEventPasswordResetRequest  = "password_reset_request"
	auditEventPasswordResetConfirm  = "password_reset_confirm"
	auditEventPasswordResetComplete = "password_reset_complete"
	auditEventPasswordResetRejected = "password_reset_rejected"
	auditEventRateLimitTriggered    = "rate_limit_triggered"
	auditEventProviderCircuit       = "provider_circuit"
)

// AuditErrorCode is the error field of an [AuditEvent].
type AuditErrorCode string

const (
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrLocked             AuditErrorCode = "locked"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrOTPInvalid         AuditErrorCode = "otp_invalid"
	auditErrResetInvalid       AuditErrorCode = "reset_invalid"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID int64,
	tokenID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		TokenID:   tokenID,
		IP:        ClientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if userID != 0 {
		event.UserID = strconv.FormatInt(userID, 10)
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, site limiters.CallSite) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, 0, "", ErrRateLimited, func() map[string]string {
		return map[string]string{"site": string(site)}
	})
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrLocked):
		return auditErrLocked
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrOTPInvalid):
		return auditErrOTPInvalid
	case errors.Is(err, ErrResetInvalid):
		return auditErrResetInvalid
	case errors.Is(err, ErrAccountExists):
		return auditErrDuplicate
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrRevocationUnavailable),
		errors.Is(err, ErrProviderUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
