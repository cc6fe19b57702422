// Package config loads process settings from the environment and an
// optional .env file and maps them onto fingate.Config.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/MrEthical07/fingate"
)

type Settings struct {
	Addr        string `env:"FINGATE_ADDR" envDefault:":8080"`
	Environment string `env:"FINGATE_ENV" envDefault:"local"`
	Production  bool   `env:"FINGATE_PRODUCTION"`
	LogLevel    string `env:"FINGATE_LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"FINGATE_LOG_FORMAT" envDefault:"text"`
	RedisURL    string `env:"FINGATE_REDIS_URL"`
	// PerIPRequests is the coarse per-IP limit applied to every route.
	PerIPRequests int `env:"FINGATE_PER_IP_REQUESTS" envDefault:"300"`

	JWT       JWT       `envPrefix:"FINGATE_JWT_"`
	OTP       OTP       `envPrefix:"FINGATE_OTP_"`
	Lockout   Lockout   `envPrefix:"FINGATE_LOCKOUT_"`
	Reset     Reset     `envPrefix:"FINGATE_RESET_"`
	Guard     Guard     `envPrefix:"FINGATE_GUARD_"`
	Providers Providers `envPrefix:"FINGATE_PROVIDER_"`
	SMTP      SMTP      `envPrefix:"SMTP_"`

	AuditEnabled   bool `env:"FINGATE_AUDIT_ENABLED" envDefault:"true"`
	MetricsEnabled bool `env:"FINGATE_METRICS_ENABLED" envDefault:"true"`
}

type JWT struct {
	SigningMethod  string        `env:"SIGNING_METHOD" envDefault:"hs256"`
	Secret         string        `env:"SECRET"`
	PrivateKeyFile string        `env:"PRIVATE_KEY_FILE"`
	PublicKeyFile  string        `env:"PUBLIC_KEY_FILE"`
	Issuer         string        `env:"ISSUER" envDefault:"fingate"`
	Audience       string        `env:"AUDIENCE" envDefault:"fingate-api"`
	AccessTTL      time.Duration `env:"ACCESS_TTL" envDefault:"15m"`
	RefreshTTL     time.Duration `env:"REFRESH_TTL" envDefault:"168h"`
	ResetTTL       time.Duration `env:"RESET_TTL" envDefault:"10m"`
	Leeway         time.Duration `env:"LEEWAY" envDefault:"30s"`
	RequireStrong  bool          `env:"REQUIRE_STRONG_SECRET" envDefault:"true"`
	KeyID          string        `env:"KEY_ID"`
}

type OTP struct {
	TTL         time.Duration `env:"TTL" envDefault:"10m"`
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	FixedCode   string        `env:"FIXED_CODE"`
}

type Lockout struct {
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	Duration    time.Duration `env:"DURATION" envDefault:"15m"`
}

type Reset struct {
	TTL         time.Duration `env:"TTL" envDefault:"15m"`
	ContextSalt string        `env:"CONTEXT_SALT"`
}

type Guard struct {
	MaxAttempts      int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	InitialBackoff   time.Duration `env:"INITIAL_BACKOFF" envDefault:"200ms"`
	MaxBackoff       time.Duration `env:"MAX_BACKOFF" envDefault:"2s"`
	FailureThreshold int           `env:"FAILURE_THRESHOLD" envDefault:"5"`
	OpenDuration     time.Duration `env:"OPEN_DURATION" envDefault:"30s"`
	BudgetLimit      int           `env:"BUDGET_LIMIT" envDefault:"60"`
	BudgetWindow     time.Duration `env:"BUDGET_WINDOW" envDefault:"1m"`
}

type Providers struct {
	FXURL        string `env:"FX_URL" envDefault:"https://api.exchangerate.host"`
	FXAPIKey     string `env:"FX_API_KEY"`
	CryptoURL    string `env:"CRYPTO_URL" envDefault:"https://api.coingecko.com/api/v3"`
	CryptoAPIKey string `env:"CRYPTO_API_KEY"`
}

type SMTP struct {
	Host string `env:"HOST"`
	Port int    `env:"PORT" envDefault:"587"`
	User string `env:"USER"`
	Pass string `env:"PASS"`
	From string `env:"FROM" envDefault:"no-reply@fingate"`
}

// Load reads files (".env" when none are given) into the process
// environment without overriding variables already set, then parses
// Settings. Missing files are ignored.
func Load(files ...string) (Settings, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Settings{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	var s Settings
	if err := env.Parse(&s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Fingate maps s onto [fingate.DefaultConfig] and validates the result.
// Ed25519 key files are read here.
func (s Settings) Fingate() (fingate.Config, error) {
	cfg := fingate.DefaultConfig()

	cfg.Environment.Name = strings.ToLower(s.Environment)
	cfg.Environment.Production = s.Production || cfg.Environment.Name == fingate.EnvProduction

	cfg.JWT.SigningMethod = strings.ToLower(s.JWT.SigningMethod)
	cfg.JWT.Issuer = s.JWT.Issuer
	cfg.JWT.Audience = s.JWT.Audience
	cfg.JWT.AccessTTL = s.JWT.AccessTTL
	cfg.JWT.RefreshTTL = s.JWT.RefreshTTL
	cfg.JWT.ResetSessionTTL = s.JWT.ResetTTL
	cfg.JWT.Leeway = s.JWT.Leeway
	cfg.JWT.RequireStrongSecret = s.JWT.RequireStrong
	cfg.JWT.KeyID = s.JWT.KeyID
	if s.JWT.Secret != "" {
		cfg.JWT.Secret = []byte(s.JWT.Secret)
	}
	if s.JWT.PrivateKeyFile != "" {
		key, err := os.ReadFile(s.JWT.PrivateKeyFile)
		if err != nil {
			return fingate.Config{}, fmt.Errorf("config: read private key: %w", err)
		}
		cfg.JWT.PrivateKey = key
	}
	if s.JWT.PublicKeyFile != "" {
		key, err := os.ReadFile(s.JWT.PublicKeyFile)
		if err != nil {
			return fingate.Config{}, fmt.Errorf("config: read public key: %w", err)
		}
		cfg.JWT.PublicKey = key
	}

	cfg.OTP.TTL = s.OTP.TTL
	cfg.OTP.MaxAttempts = s.OTP.MaxAttempts
	cfg.OTP.FixedCode = s.OTP.FixedCode

	cfg.Lockout.MaxAttempts = s.Lockout.MaxAttempts
	cfg.Lockout.Duration = s.Lockout.Duration

	cfg.ResetSession.TTL = s.Reset.TTL
	cfg.ResetSession.ContextSalt = s.Reset.ContextSalt

	cfg.ExternalGuard.MaxAttempts = s.Guard.MaxAttempts
	cfg.ExternalGuard.InitialBackoff = s.Guard.InitialBackoff
	cfg.ExternalGuard.MaxBackoff = s.Guard.MaxBackoff
	cfg.ExternalGuard.FailureThreshold = s.Guard.FailureThreshold
	cfg.ExternalGuard.OpenDuration = s.Guard.OpenDuration
	cfg.ExternalGuard.BudgetLimit = s.Guard.BudgetLimit
	cfg.ExternalGuard.BudgetWindow = s.Guard.BudgetWindow

	cfg.Audit.Enabled = s.AuditEnabled
	cfg.Metrics.Enabled = s.MetricsEnabled

	if err := cfg.Validate(); err != nil {
		return fingate.Config{}, err
	}
	return cfg, nil
}
