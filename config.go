package fingate

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/fingate/internal/limiters"
	"github.com/MrEthical07/fingate/password"
)

// Config is the complete engine configuration.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	Environment   EnvironmentConfig
	JWT           JWTConfig
	RateLimit     RateLimitConfig
	Lockout       LockoutConfig
	OTP           OTPConfig
	ResetSession  ResetSessionConfig
	Revocation    RevocationConfig
	ExternalGuard ExternalGuardConfig
	Password      PasswordConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

/*
====================================
ENVIRONMENT CONFIG
====================================
*/

// Environment names recognized by [EnvironmentConfig].
const (
	EnvLocal      = "local"
	EnvTest       = "test"
	EnvStaging    = "staging"
	EnvProduction = "production"
)

// EnvironmentConfig identifies the deployment. Development conveniences such
// as a fixed OTP and placeholder signing secrets are refused outside local
// and test environments.
type EnvironmentConfig struct {
	Name       string
	Production bool
}

// IsProduction reports whether the production flag is set or the
// environment is named production.
func (e EnvironmentConfig) IsProduction() bool {
	return e.Production || strings.EqualFold(e.Name, EnvProduction)
}

func (e EnvironmentConfig) isDevelopment() bool {
	if e.IsProduction() {
		return false
	}
	switch strings.ToLower(e.Name) {
	case "", EnvLocal, EnvTest:
		return true
	default:
		return false
	}
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures token issuance and validation.
type JWTConfig struct {
	SigningMethod string // "hs256" (default) or "ed25519"
	// Secret is the HS256 signing secret.
	Secret []byte
	// PrivateKey and PublicKey are the Ed25519 key pair (raw or PEM).
	PrivateKey      []byte
	PublicKey       []byte
	Issuer          string
	Audience        string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	ResetSessionTTL time.Duration
	Leeway          time.Duration
	// RequireStrongSecret refuses known placeholder secrets. It is implied
	// outside local and test environments.
	RequireStrongSecret bool
	KeyID               string
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateRule is a fixed-window limit. A zero Limit or Window disables the rule.
type RateRule struct {
	Limit  int
	Window time.Duration
}

// RateLimitConfig holds one rule per inbound call site. All sites share one
// limiter bounded by MaxKeys.
type RateLimitConfig struct {
	MaxKeys      int
	LoginEmail   RateRule
	LoginIP      RateRule
	OTPIssue     RateRule
	OTPVerify    RateRule
	ResetConfirm RateRule
	ResetSubmit  RateRule
	Registration RateRule
	PublicRates  RateRule
	// Refresh is keyed by user, so one account cannot rotate fast enough to
	// fill the revocation list.
	Refresh RateRule
}

func (c RateLimitConfig) rules() map[limiters.CallSite]limiters.Rule {
	rule := func(r RateRule) limiters.Rule {
		return limiters.Rule{Limit: r.Limit, Window: r.Window}
	}
	return map[limiters.CallSite]limiters.Rule{
		limiters.CallSiteLoginEmail:   rule(c.LoginEmail),
		limiters.CallSiteLoginIP:      rule(c.LoginIP),
		limiters.CallSiteOTPIssue:     rule(c.OTPIssue),
		limiters.CallSiteOTPVerify:    rule(c.OTPVerify),
		limiters.CallSiteResetConfirm: rule(c.ResetConfirm),
		limiters.CallSiteResetSubmit:  rule(c.ResetSubmit),
		limiters.CallSiteRegistration: rule(c.Registration),
		limiters.CallSitePublicRates:  rule(c.PublicRates),
		limiters.CallSiteRefresh:      rule(c.Refresh),
	}
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig configures the progressive login lockout.
type LockoutConfig struct {
	MaxAttempts int
	Duration    time.Duration
	MaxEntries  int
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig configures one-time passcodes.
type OTPConfig struct {
	TTL         time.Duration
	MaxAttempts int
	MaxEntries  int
	// FixedCode replaces random codes in local and test environments. It is a
	// startup error in production.
	FixedCode string
}

/*
====================================
RESET SESSION CONFIG
====================================
*/

// ResetSessionConfig configures password-reset sessions.
type ResetSessionConfig struct {
	TTL        time.Duration
	MaxEntries int
	// ContextSalt is mixed into IP and user-agent hashes.
	ContextSalt string
}

/*
====================================
REVOCATION CONFIG
====================================
*/

// RevocationConfig configures the revoked-token list. RedisPrefix is used
// only when the builder is given a Redis client.
type RevocationConfig struct {
	MaxEntries  int
	RedisPrefix string
}

/*
====================================
EXTERNAL GUARD CONFIG
====================================
*/

// ExternalGuardConfig configures retries, circuit breaking and the default
// per-provider budget for outbound calls.
type ExternalGuardConfig struct {
	MaxAttempts      int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	FailureThreshold int
	OpenDuration     time.Duration
	BudgetLimit      int
	BudgetWindow     time.Duration
	MaxProviders     int
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id parameters.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
}

/*
====================================
AUDIT AND METRICS CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters and the latency histogram.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns a configuration suitable for local development.
// Production deployments must at least set JWT.Secret and Environment.
func DefaultConfig() Config {
	pw := password.DefaultConfig()
	return Config{
		Environment: EnvironmentConfig{Name: EnvLocal},
		JWT: JWTConfig{
			SigningMethod:       "hs256",
			Issuer:              "fingate",
			Audience:            "fingate-api",
			AccessTTL:           15 * time.Minute,
			RefreshTTL:          7 * 24 * time.Hour,
			ResetSessionTTL:     10 * time.Minute,
			Leeway:              30 * time.Second,
			RequireStrongSecret: true,
		},
		RateLimit: RateLimitConfig{
			MaxKeys:      100_000,
			LoginEmail:   RateRule{Limit: 5, Window: time.Minute},
			LoginIP:      RateRule{Limit: 20, Window: time.Minute},
			OTPIssue:     RateRule{Limit: 3, Window: 10 * time.Minute},
			OTPVerify:    RateRule{Limit: 10, Window: 10 * time.Minute},
			ResetConfirm: RateRule{Limit: 5, Window: 15 * time.Minute},
			ResetSubmit:  RateRule{Limit: 5, Window: 15 * time.Minute},
			Registration: RateRule{Limit: 5, Window: time.Hour},
			PublicRates:  RateRule{Limit: 60, Window: time.Minute},
			Refresh:      RateRule{Limit: 30, Window: time.Minute},
		},
		Lockout: LockoutConfig{
			MaxAttempts: 5,
			Duration:    15 * time.Minute,
			MaxEntries:  100_000,
		},
		OTP: OTPConfig{
			TTL:         10 * time.Minute,
			MaxAttempts: 5,
			MaxEntries:  100_000,
		},
		ResetSession: ResetSessionConfig{
			TTL:        15 * time.Minute,
			MaxEntries: 100_000,
		},
		Revocation: RevocationConfig{
			MaxEntries:  200_000,
			RedisPrefix: "frv",
		},
		ExternalGuard: ExternalGuardConfig{
			MaxAttempts:      3,
			InitialBackoff:   200 * time.Millisecond,
			MaxBackoff:       2 * time.Second,
			FailureThreshold: 5,
			OpenDuration:     30 * time.Second,
			BudgetLimit:      60,
			BudgetWindow:     time.Minute,
			MaxProviders:     1024,
		},
		Password: PasswordConfig{
			Memory:      pw.Memory,
			Time:        pw.Time,
			Parallelism: pw.Parallelism,
			SaltLength:  pw.SaltLength,
			KeyLength:   pw.KeyLength,
			MinLength:   pw.MinLength,
		},
		Audit: AuditConfig{
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.Secret = cloneBytes(cfg.JWT.Secret)
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks structural configuration. Secret strength and key
// material are checked when the token manager is built.
func (c *Config) Validate() error {
	// Environment
	switch strings.ToLower(c.Environment.Name) {
	case "", EnvLocal, EnvTest, EnvStaging, EnvProduction:
	default:
		return errors.New("Environment Name must be local, test, staging or production")
	}

	// JWT
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 || c.JWT.ResetSessionTTL <= 0 {
		return errors.New("JWT AccessTTL, RefreshTTL and ResetSessionTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	switch strings.ToLower(c.JWT.SigningMethod) {
	case "hs256":
		if len(c.JWT.Secret) == 0 {
			return errors.New("hs256 requires Secret")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if strings.TrimSpace(c.JWT.Issuer) == "" || strings.TrimSpace(c.JWT.Audience) == "" {
		return errors.New("JWT Issuer and Audience are required")
	}

	// Rate limits
	if c.RateLimit.MaxKeys < 0 {
		return errors.New("RateLimit MaxKeys must be >= 0")
	}

	// Lockout
	if c.Lockout.MaxAttempts < 0 || c.Lockout.Duration < 0 || c.Lockout.MaxEntries < 0 {
		return errors.New("Lockout values must be >= 0")
	}
	if (c.Lockout.MaxAttempts > 0) != (c.Lockout.Duration > 0) {
		return errors.New("Lockout MaxAttempts and Duration must be set together")
	}

	// OTP
	if c.OTP.TTL <= 0 || c.OTP.MaxAttempts <= 0 {
		return errors.New("OTP TTL and MaxAttempts must be > 0")
	}
	if c.OTP.MaxEntries < 0 {
		return errors.New("OTP MaxEntries must be >= 0")
	}

	// Reset sessions
	if c.ResetSession.TTL <= 0 {
		return errors.New("ResetSession TTL must be > 0")
	}
	if c.ResetSession.MaxEntries < 0 {
		return errors.New("ResetSession MaxEntries must be >= 0")
	}

	// Revocation
	if c.Revocation.MaxEntries < 0 {
		return errors.New("Revocation MaxEntries must be >= 0")
	}

	// Unbounded in-process maps are a development convenience only.
	if !c.Environment.isDevelopment() {
		if c.RateLimit.MaxKeys == 0 || c.Lockout.MaxEntries == 0 || c.OTP.MaxEntries == 0 ||
			c.ResetSession.MaxEntries == 0 || c.Revocation.MaxEntries == 0 {
			return errors.New("RateLimit MaxKeys and every MaxEntries must be > 0 outside local and test")
		}
	}

	// External guard
	if c.ExternalGuard.BudgetLimit < 0 || c.ExternalGuard.BudgetWindow < 0 {
		return errors.New("ExternalGuard budget must be >= 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 || c.Password.Parallelism < 1 {
		return errors.New("Password Time and Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 || c.Password.KeyLength < 16 {
		return errors.New("Password SaltLength and KeyLength must be >= 16")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}
