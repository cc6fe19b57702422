package stores

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/MrEthical07/fingate/internal"
	"github.com/MrEthical07/fingate/internal/kv"
)

const otpDigits = 6

var (
	// ErrFixedOTPInProduction rejects a fixed passcode override in production.
	ErrFixedOTPInProduction = errors.New("fixed otp code is not allowed in production")
	// ErrOTPConfigInvalid indicates a non-positive TTL or attempt budget.
	ErrOTPConfigInvalid = errors.New("invalid otp configuration")
)

// OTPConfig configures an [OTPVault].
type OTPConfig struct {
	TTL         time.Duration
	MaxAttempts int
	// MaxEntries bounds live codes. Zero means unbounded.
	MaxEntries int
	// FixedCode replaces random generation for non-production testing.
	FixedCode  string
	Production bool
}

// OTP is an issued passcode.
type OTP struct {
	Code      string
	ExpiresAt time.Time
}

type otpRecord struct {
	code      string
	expiresAt time.Time
	attempts  int
}

// OTPVault keeps at most one live one-time passcode per identity.
type OTPVault struct {
	store  kv.Store[otpRecord]
	config OTPConfig
	now    func() time.Time
	issued atomic.Uint64
}

// NewOTPVault validates cfg and returns an empty vault. A nil now defaults
// to time.Now.
func NewOTPVault(cfg OTPConfig, now func() time.Time) (*OTPVault, error) {
	if cfg.TTL <= 0 || cfg.MaxAttempts <= 0 {
		return nil, ErrOTPConfigInvalid
	}
	cfg.FixedCode = normalizeCode(cfg.FixedCode)
	if cfg.FixedCode != "" && cfg.Production {
		return nil, ErrFixedOTPInProduction
	}
	if now == nil {
		now = time.Now
	}
	return &OTPVault{
		store:  kv.NewMemory[otpRecord](),
		config: cfg,
		now:    now,
	}, nil
}

// Issue generates a code for identity, replacing any previous one.
func (v *OTPVault) Issue(identity string) (OTP, error) {
	rec, err := v.newRecord()
	if err != nil {
		return OTP{}, err
	}
	v.store.Put(identity, rec)
	v.afterIssue()
	return OTP{Code: rec.code, ExpiresAt: rec.expiresAt}, nil
}

// IssueIfAbsent generates a code for identity unless a live one exists, in
// which case the live code is returned and issued is false. The check and
// the insert are one atomic step per identity, so concurrent callers issue
// at most one code.
func (v *OTPVault) IssueIfAbsent(identity string) (otp OTP, issued bool, err error) {
	rec, err := v.newRecord()
	if err != nil {
		return OTP{}, false, err
	}
	now := v.now()

	cur, _ := v.store.Compute(identity, func(cur otpRecord, ok bool) (otpRecord, bool) {
		if ok && now.Before(cur.expiresAt) {
			return cur, true
		}
		issued = true
		return rec, true
	})
	if issued {
		v.afterIssue()
	}
	return OTP{Code: cur.code, ExpiresAt: cur.expiresAt}, issued, nil
}

func (v *OTPVault) newRecord() (otpRecord, error) {
	code := v.config.FixedCode
	if code == "" {
		var err error
		code, err = internal.NewNumericCode(otpDigits)
		if err != nil {
			return otpRecord{}, err
		}
	}
	return otpRecord{
		code:      code,
		expiresAt: v.now().Add(v.config.TTL),
	}, nil
}

func (v *OTPVault) afterIssue() {
	if v.issued.Add(1)%256 == 0 {
		v.Sweep()
	}
	if v.config.MaxEntries > 0 && v.store.Len() > v.config.MaxEntries {
		now := v.now()
		kv.Trim[otpRecord](v.store, v.config.MaxEntries, func(r otpRecord) bool {
			return !now.Before(r.expiresAt)
		}, func(r otpRecord) int64 {
			return r.expiresAt.UnixNano()
		})
	}
}

// Active returns the live code for identity, if any.
func (v *OTPVault) Active(identity string) (OTP, bool) {
	rec, ok := v.store.Get(identity)
	if !ok {
		return OTP{}, false
	}
	now := v.now()
	if !now.Before(rec.expiresAt) {
		v.store.RemoveIf(identity, func(r otpRecord) bool { return !now.Before(r.expiresAt) })
		return OTP{}, false
	}
	return OTP{Code: rec.code, ExpiresAt: rec.expiresAt}, true
}

// Verify checks submitted against the live code. A match consumes the code;
// a mismatch spends one attempt and the code is dropped once the attempt
// budget is exhausted.
func (v *OTPVault) Verify(identity, submitted string) bool {
	submitted = normalizeCode(submitted)
	now := v.now()
	matched := false

	v.store.Compute(identity, func(cur otpRecord, ok bool) (otpRecord, bool) {
		if !ok || !now.Before(cur.expiresAt) {
			return cur, false
		}
		if submitted != "" && submitted == cur.code {
			matched = true
			return cur, false
		}
		cur.attempts++
		if cur.attempts >= v.config.MaxAttempts {
			return cur, false
		}
		return cur, true
	})

	return matched
}

// Invalidate drops any live code for identity.
func (v *OTPVault) Invalidate(identity string) {
	v.store.Remove(identity)
}

// Len reports the number of stored codes, live or not yet purged.
func (v *OTPVault) Len() int {
	return v.store.Len()
}

// Sweep removes expired codes.
func (v *OTPVault) Sweep() int {
	now := v.now()
	return kv.Sweep[otpRecord](v.store, func(r otpRecord) bool {
		return !now.Before(r.expiresAt)
	})
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, code))
}
