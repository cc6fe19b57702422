package fingate

import (
	"context"
	"fmt"

	"github.com/MrEthical07/fingate/internal"
	"github.com/MrEthical07/fingate/internal/limiters"
)

func otpKey(purpose OTPPurpose, identifier string) string {
	return internal.IdentityKey("otp:"+string(purpose), identifier)
}

func (p OTPPurpose) generic() bool {
	return p == OTPPurposeEmailVerification || p == OTPPurposeStepUp
}

func otpMessage(purpose OTPPurpose, code string, minutes int) (subject, body string) {
	switch purpose {
	case OTPPurposePasswordReset:
		subject = "Your password reset code"
	case OTPPurposeEmailVerification:
		subject = "Verify your email address"
	default:
		subject = "Your verification code"
	}
	body = fmt.Sprintf("Your code is %s. It expires in %d minutes. If you did not request it, ignore this message.", code, minutes)
	return subject, body
}

// RequestOTP issues and mails a passcode for a generic purpose. While a
// code for the same purpose and identifier is still live, no new code is
// issued and the live code's expiry is returned with Reused set.
func (e *Engine) RequestOTP(ctx context.Context, purpose OTPPurpose, identifier string) (OTPIssue, error) {
	if err := e.ready(); err != nil {
		return OTPIssue{}, err
	}

	identifier = internal.NormalizeIdentity(identifier)
	if identifier == "" || !purpose.generic() {
		return OTPIssue{}, ErrInvalidRequest
	}
	return e.issueOTP(ctx, purpose, identifier, 0)
}

func (e *Engine) issueOTP(ctx context.Context, purpose OTPPurpose, identifier string, userID int64) (OTPIssue, error) {
	key := otpKey(purpose, identifier)
	if err := e.admit(ctx,
		limiters.SiteKey{Site: limiters.CallSiteOTPIssue, Key: key},
		limiters.SiteKey{Site: limiters.CallSiteOTPIssue, Key: internal.CanonicalIP(ClientIPFromContext(ctx))},
	); err != nil {
		return OTPIssue{}, err
	}

	otp, issued, err := e.otps.IssueIfAbsent(key)
	if err != nil {
		return OTPIssue{}, err
	}
	if !issued {
		return OTPIssue{ExpiresAt: otp.ExpiresAt, Reused: true}, nil
	}

	subject, body := otpMessage(purpose, otp.Code, int(e.config.OTP.TTL.Minutes()))
	e.sendMail(ctx, identifier, subject, body)

	e.metricInc(MetricOTPIssued)
	e.emitAudit(ctx, auditEventOTPIssued, true, userID, "", nil, func() map[string]string {
		return map[string]string{"purpose": string(purpose)}
	})
	return OTPIssue{ExpiresAt: otp.ExpiresAt}, nil
}

// VerifyOTP spends a passcode for a generic purpose. A correct code is
// consumed; a wrong one spends an attempt, and the code is dropped when the
// attempt budget runs out. Every failure returns [ErrOTPInvalid].
func (e *Engine) VerifyOTP(ctx context.Context, purpose OTPPurpose, identifier, code string) error {
	if err := e.ready(); err != nil {
		return err
	}

	identifier = internal.NormalizeIdentity(identifier)
	if identifier == "" || !purpose.generic() {
		return ErrInvalidRequest
	}
	return e.verifyOTP(ctx, limiters.CallSiteOTPVerify, purpose, identifier, code)
}

func (e *Engine) verifyOTP(ctx context.Context, site limiters.CallSite, purpose OTPPurpose, identifier, code string) error {
	key := otpKey(purpose, identifier)
	if err := e.admit(ctx,
		limiters.SiteKey{Site: site, Key: key},
		limiters.SiteKey{Site: site, Key: internal.CanonicalIP(ClientIPFromContext(ctx))},
	); err != nil {
		return err
	}

	if !e.otps.Verify(key, code) {
		e.metricInc(MetricOTPVerifyFailure)
		e.emitAudit(ctx, auditEventOTPRejected, false, 0, "", ErrOTPInvalid, func() map[string]string {
			return map[string]string{"purpose": string(purpose)}
		})
		return ErrOTPInvalid
	}

	e.metricInc(MetricOTPVerifySuccess)
	e.emitAudit(ctx, auditEventOTPVerified, true, 0, "", nil, func() map[string]string {
		return map[string]string{"purpose": string(purpose)}
	})
	return nil
}
