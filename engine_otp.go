package authcore

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/arkadore/authcore/fingerprint"
	"github.com/arkadore/authcore/internal/flows"
	"github.com/arkadore/authcore/otp"
)

// NewAnonymousKey mints the opaque key an unauthenticated device is tracked
// by across the one-time-code flow. Callers persist it client-side (the
// middleware helpers use a cookie).
func NewAnonymousKey() string {
	return uuid.NewString()
}

// RequestCode mails a one-time code for email to the device behind key.
// Abuse controls run first: the per-key mail cap, the resend cooldown, and
// the cross-key fingerprint correlation against already-blocked devices.
func (e *Engine) RequestCode(ctx context.Context, key, email string, h http.Header) error {
	if e.mailer == nil {
		return ErrEngineNotReady
	}
	return flows.RunRequestCode(ctx, key, email, e.deriver.Join(h), e.otpDeps())
}

// VerifyCode checks a submitted code. On success the code is consumed and
// the email counts as verified for this key.
func (e *Engine) VerifyCode(ctx context.Context, key, email, code string, h http.Header) error {
	return flows.RunVerifyCode(ctx, key, email, code, e.deriver.Join(h), e.otpDeps())
}

// LoginWithCode authenticates by a one-time emailed code instead of a
// password. The code must verify under the device's anonymous key and the
// email must belong to an existing identity.
func (e *Engine) LoginWithCode(ctx context.Context, key, email, code string, h http.Header, ip string) (*AuthResult, error) {
	if e.identities == nil {
		return nil, ErrEngineNotReady
	}

	if err := e.VerifyCode(ctx, key, email, code, h); err != nil {
		return nil, err
	}

	identity, err := e.identities.GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if identity == nil {
		e.metrics.Inc(MetricLoginFailure)
		e.emitAudit(ctx, EventLogin, false, 0, "", ip, ErrUserNotFound, nil)
		return nil, ErrUserNotFound
	}

	result, err := e.createSession(ctx, identity, h)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.emitAudit(ctx, EventLogin, true, identity.ID, result.SessionID, ip, nil, nil)
	return result, nil
}

// IsMailVerified reports whether the key has a consumed (verified) code for
// this email. Registration checks this before accepting the email.
func (e *Engine) IsMailVerified(ctx context.Context, key, email string) (bool, error) {
	record, err := e.otpRecords.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, nil
	}
	return record.SawEmail(email) && record.Consumed(), nil
}

// ListSuspicious pages through the keys blocked at the mail cap, newest
// first, optionally filtered by an email substring. Admin surface.
func (e *Engine) ListSuspicious(ctx context.Context, searchMail string, page, pageSize int) ([]SuspiciousEntry, error) {
	return e.otpRecords.ListSuspicious(ctx, searchMail, page, pageSize)
}

// ResetOTPKey wipes a key's record and its block. Admin surface.
func (e *Engine) ResetOTPKey(ctx context.Context, key string) error {
	return e.otpRecords.ResetKey(ctx, key)
}

func (e *Engine) otpDeps() flows.OTPDeps {
	return flows.OTPDeps{
		MaxCodeAttempts:     e.config.OTP.MaxCodeAttempts,
		MaxMailAttempts:     e.config.OTP.MaxMailAttempts,
		SuspicionCheckLimit: e.config.OTP.SuspicionCheckLimit,
		ResendCooldown:      e.config.OTP.ResendCooldown,
		CodeTTL:             e.config.OTP.CodeTTL,
		CodeDigits:          e.config.OTP.Digits,

		LoadRecord: e.otpRecords.Get,
		SaveRecord: func(ctx context.Context, record *otp.Record) error {
			return e.otpRecords.Save(ctx, record)
		},
		GenerateCode:     otp.GenerateCode,
		HashFingerprint:  e.deriver.HashRaw,
		MatchFingerprint: fingerprint.Match,
		SuspiciousHashes: e.otpRecords.SuspiciousHashes,
		SendMail:         e.sendCode,

		MetricInc: func(id int) { e.metrics.Inc(MetricID(id)) },
		EmitAudit: func(ctx context.Context, eventType string, success bool, key string, opErr error, meta func() map[string]string) {
			e.emitAudit(ctx, eventType, success, 0, "", "", opErr, func() map[string]string {
				m := map[string]string{"key": key}
				if meta != nil {
					for k, v := range meta() {
						m[k] = v
					}
				}
				return m
			})
		},

		Metrics: flows.OTPMetrics{
			RequestSuccess: int(MetricOTPRequestSuccess),
			RequestRefused: int(MetricOTPRequestRefused),
			VerifySuccess:  int(MetricOTPVerifySuccess),
			VerifyFailure:  int(MetricOTPVerifyFailure),
			VerifyExpired:  int(MetricOTPVerifyExpired),
			SuspicionBlock: int(MetricOTPSuspicionBlock),
		},
		Events: flows.OTPEvents{
			RequestCode: EventOTPRequest,
			VerifyCode:  EventOTPVerify,
		},
		Errors: flows.OTPErrors{
			EngineNotReady: ErrEngineNotReady,
			NotFound:       ErrCodeNotFound,
			MailLimit:      ErrMailLimit,
			Cooldown:       ErrMailCooldown,
			CodeExpired:    ErrCodeExpired,
			InvalidCode:    ErrCodeInvalid,
		},
	}
}

// sendCode hands the code to the mailer off the request goroutine. Delivery
// failures are audited, never returned; the record mutation that preceded
// the send must stand either way.
func (e *Engine) sendCode(email, code string) {
	mailer := e.mailer
	if mailer == nil {
		return
	}
	go func() {
		if err := mailer.SendCode(context.Background(), email, code); err != nil {
			e.emitAudit(context.Background(), EventOTPRequest, false, 0, "", "", err, func() map[string]string {
				return map[string]string{"stage": "mail_delivery", "email": email}
			})
		}
	}()
}
