package flows

import (
	"context"
	"time"

	"github.com/arkadore/authcore/otp"
)

// OTPErrors carries the sentinel errors the OTP flows return. The engine
// fills these from its public error set.
type OTPErrors struct {
	EngineNotReady error
	NotFound       error
	MailLimit      error
	Cooldown       error
	CodeExpired    error
	InvalidCode    error
}

// OTPEvents names the audit event types emitted by the OTP flows.
type OTPEvents struct {
	RequestCode string
	VerifyCode  string
}

// OTPMetrics maps flow outcomes to engine metric IDs.
type OTPMetrics struct {
	RequestSuccess int
	RequestRefused int
	VerifySuccess  int
	VerifyFailure  int
	VerifyExpired  int
	SuspicionBlock int
}

// OTPDeps is the dependency set for the one-time-code flows.
type OTPDeps struct {
	MaxCodeAttempts     int
	MaxMailAttempts     int
	SuspicionCheckLimit int
	ResendCooldown      time.Duration
	CodeTTL             time.Duration
	CodeDigits          int

	Now func() time.Time

	LoadRecord       func(ctx context.Context, key string) (*otp.Record, error)
	SaveRecord       func(ctx context.Context, record *otp.Record) error
	GenerateCode     func(digits int) (string, error)
	HashFingerprint  func(raw string) (string, error)
	MatchFingerprint func(raw, hash string) bool
	SuspiciousHashes func(ctx context.Context, narrowEmail string) ([]string, error)
	SendMail         func(email, code string)

	MetricInc func(int)
	EmitAudit func(ctx context.Context, eventType string, success bool, key string, err error, meta func() map[string]string)

	Metrics OTPMetrics
	Events  OTPEvents
	Errors  OTPErrors
}

func normalizeOTPDeps(deps *OTPDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, error, func() map[string]string) {}
	}
	if deps.SendMail == nil {
		deps.SendMail = func(string, string) {}
	}
}

// RunRequestCode drives one code-request cycle for an anonymous key.
//
// State machine, in order: load the record; an over-cap record is refused
// outright; a record one short of the cap burns its last attempt without a
// deliverable code; a record inside the resend cooldown is refused untouched;
// otherwise the record advances (counter up, fresh code, email recorded) or
// is created fresh. The cross-record correlation check runs on the advanced
// record before the mail goes out, and a correlated record is persisted
// already over the cap so the block survives restarts.
func RunRequestCode(ctx context.Context, key, email, rawFingerprint string, deps OTPDeps) error {
	normalizeOTPDeps(&deps)

	if deps.LoadRecord == nil || deps.SaveRecord == nil || deps.GenerateCode == nil ||
		deps.HashFingerprint == nil || deps.MatchFingerprint == nil || deps.SuspiciousHashes == nil {
		return deps.Errors.EngineNotReady
	}

	record, err := deps.LoadRecord(ctx, key)
	if err != nil {
		return err
	}

	if record != nil {
		if record.MailAttempts >= deps.MaxMailAttempts {
			deps.MetricInc(deps.Metrics.RequestRefused)
			deps.EmitAudit(ctx, deps.Events.RequestCode, false, key, deps.Errors.MailLimit, nil)
			return deps.Errors.MailLimit
		}

		// The last attempt before the cap is consumed without sending a
		// code, so at most cap-1 codes are ever deliverable per key.
		if record.MailAttempts == deps.MaxMailAttempts-1 {
			record.MailAttempts++
			record.CodeAttempts = otp.AttemptsStartValue
			if err := deps.SaveRecord(ctx, record); err != nil {
				return err
			}
			deps.MetricInc(deps.Metrics.RequestRefused)
			deps.EmitAudit(ctx, deps.Events.RequestCode, false, key, deps.Errors.MailLimit, nil)
			return deps.Errors.MailLimit
		}

		if record.Age(deps.Now()) < deps.ResendCooldown {
			deps.MetricInc(deps.Metrics.RequestRefused)
			deps.EmitAudit(ctx, deps.Events.RequestCode, false, key, deps.Errors.Cooldown, nil)
			return deps.Errors.Cooldown
		}

		code, err := deps.GenerateCode(deps.CodeDigits)
		if err != nil {
			return err
		}
		record.MailAttempts++
		record.CodeAttempts = otp.AttemptsStartValue
		record.Code = code
		record.AddEmail(email)
	} else {
		code, err := deps.GenerateCode(deps.CodeDigits)
		if err != nil {
			return err
		}
		hash, err := deps.HashFingerprint(rawFingerprint)
		if err != nil {
			return err
		}
		record = otp.NewRecord(key, email, code, hash)
	}

	blocked, err := correlateSuspicion(ctx, record, email, rawFingerprint, deps)
	if err != nil {
		return err
	}
	if blocked {
		return deps.Errors.MailLimit
	}

	if err := deps.SaveRecord(ctx, record); err != nil {
		return err
	}

	deps.SendMail(email, record.Code)
	deps.MetricInc(deps.Metrics.RequestSuccess)
	deps.EmitAudit(ctx, deps.Events.RequestCode, true, key, nil, func() map[string]string {
		return map[string]string{"email": email}
	})
	return nil
}

// RunVerifyCode checks a submitted code against the key's record.
//
// Check order: presence (no record, unseen email, or consumed code all look
// identical to the caller), mail cap, cross-record correlation, code age,
// code value. An expired or attempt-exhausted code is replaced and re-sent in
// the same call, which also burns a mail attempt; when that burn lands on
// the cap the caller gets the mail-limit error, since no replacement exists
// to retry against.
func RunVerifyCode(ctx context.Context, key, email, code, rawFingerprint string, deps OTPDeps) error {
	normalizeOTPDeps(&deps)

	if deps.LoadRecord == nil || deps.SaveRecord == nil || deps.GenerateCode == nil ||
		deps.MatchFingerprint == nil || deps.SuspiciousHashes == nil {
		return deps.Errors.EngineNotReady
	}

	record, err := deps.LoadRecord(ctx, key)
	if err != nil {
		return err
	}
	if record == nil || !record.SawEmail(email) || record.Consumed() {
		deps.MetricInc(deps.Metrics.VerifyFailure)
		deps.EmitAudit(ctx, deps.Events.VerifyCode, false, key, deps.Errors.NotFound, nil)
		return deps.Errors.NotFound
	}

	if record.MailAttempts >= deps.MaxMailAttempts {
		deps.MetricInc(deps.Metrics.VerifyFailure)
		deps.EmitAudit(ctx, deps.Events.VerifyCode, false, key, deps.Errors.MailLimit, nil)
		return deps.Errors.MailLimit
	}

	blocked, err := correlateSuspicion(ctx, record, email, rawFingerprint, deps)
	if err != nil {
		return err
	}
	if blocked {
		return deps.Errors.MailLimit
	}

	if record.Age(deps.Now()) >= deps.CodeTTL {
		burned, err := replaceCode(ctx, record, email, deps)
		if err != nil {
			return err
		}
		if burned {
			deps.MetricInc(deps.Metrics.VerifyFailure)
			deps.EmitAudit(ctx, deps.Events.VerifyCode, false, key, deps.Errors.MailLimit, nil)
			return deps.Errors.MailLimit
		}
		deps.MetricInc(deps.Metrics.VerifyExpired)
		deps.EmitAudit(ctx, deps.Events.VerifyCode, false, key, deps.Errors.CodeExpired, nil)
		return deps.Errors.CodeExpired
	}

	if record.Code != code {
		if record.CodeAttempts >= deps.MaxCodeAttempts {
			burned, err := replaceCode(ctx, record, email, deps)
			if err != nil {
				return err
			}
			if burned {
				deps.MetricInc(deps.Metrics.VerifyFailure)
				deps.EmitAudit(ctx, deps.Events.VerifyCode, false, key, deps.Errors.MailLimit, nil)
				return deps.Errors.MailLimit
			}
		} else {
			record.CodeAttempts++
			if err := deps.SaveRecord(ctx, record); err != nil {
				return err
			}
		}
		deps.MetricInc(deps.Metrics.VerifyFailure)
		deps.EmitAudit(ctx, deps.Events.VerifyCode, false, key, deps.Errors.InvalidCode, nil)
		return deps.Errors.InvalidCode
	}

	record.Code = ""
	record.CodeAttempts = otp.AttemptsStartValue
	if err := deps.SaveRecord(ctx, record); err != nil {
		return err
	}

	deps.MetricInc(deps.Metrics.VerifySuccess)
	deps.EmitAudit(ctx, deps.Events.VerifyCode, true, key, nil, func() map[string]string {
		return map[string]string{"email": email}
	})
	return nil
}

// replaceCode retires the record's current code and issues a fresh one,
// burning a mail attempt. When the record sits one short of the cap the
// fresh code is withheld and the record goes over the cap instead; burned
// reports that case so the caller surfaces the mail limit rather than a
// retriable code error.
func replaceCode(ctx context.Context, record *otp.Record, email string, deps OTPDeps) (burned bool, err error) {
	if record.MailAttempts == deps.MaxMailAttempts-1 {
		record.MailAttempts++
		record.CodeAttempts = otp.AttemptsStartValue
		return true, deps.SaveRecord(ctx, record)
	}

	code, err := deps.GenerateCode(deps.CodeDigits)
	if err != nil {
		return false, err
	}
	record.MailAttempts++
	record.CodeAttempts = otp.AttemptsStartValue
	record.Code = code

	if err := deps.SaveRecord(ctx, record); err != nil {
		return false, err
	}

	deps.SendMail(email, record.Code)
	return false, nil
}

// correlateSuspicion compares the caller's raw fingerprint against the
// fingerprints of records already over the mail cap. Only young records
// (below SuspicionCheckLimit mail attempts) are checked, and a record on its
// very first attempt is only compared against over-cap records that targeted
// the same email. A hit pushes the record itself over the cap and persists it.
func correlateSuspicion(ctx context.Context, record *otp.Record, email, rawFingerprint string, deps OTPDeps) (bool, error) {
	if record.MailAttempts >= deps.SuspicionCheckLimit {
		return false, nil
	}

	narrowEmail := ""
	if record.MailAttempts == otp.AttemptsStartValue {
		narrowEmail = email
	}

	hashes, err := deps.SuspiciousHashes(ctx, narrowEmail)
	if err != nil {
		return false, err
	}

	for _, hash := range hashes {
		if !deps.MatchFingerprint(rawFingerprint, hash) {
			continue
		}

		record.MailAttempts = deps.MaxMailAttempts + 1
		if err := deps.SaveRecord(ctx, record); err != nil {
			return false, err
		}

		deps.MetricInc(deps.Metrics.SuspicionBlock)
		deps.EmitAudit(ctx, deps.Events.RequestCode, false, record.Key, deps.Errors.MailLimit, func() map[string]string {
			return map[string]string{"reason": "fingerprint_correlation"}
		})
		return true, nil
	}

	return false, nil
}
