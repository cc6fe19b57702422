package fingate

import (
	"log/slog"
	"strings"
	"time"

	"github.com/MrEthical07/fingate/guard"
	internalaudit "github.com/MrEthical07/fingate/internal/audit"
	"github.com/MrEthical07/fingate/internal/limiters"
	"github.com/MrEthical07/fingate/internal/rate"
	"github.com/MrEthical07/fingate/internal/stores"
	"github.com/MrEthical07/fingate/jwt"
	"github.com/MrEthical07/fingate/password"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. A Builder can be built once.
type Builder struct {
	config Config
	now    func() time.Time
	logger *slog.Logger
	redis  redis.UniversalClient

	userProvider UserProvider
	sessions     SessionRegistry
	mailer       Mailer
	auditSink    AuditSink

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithClock injects the time source used by every component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithRedis moves the revocation list into Redis so revocations are shared
// across processes. All other state stays in process.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithSessionRegistry registers refresh tokens with an external registry on
// issuance and revokes them there on rotation and logout.
func (b *Builder) WithSessionRegistry(registry SessionRegistry) *Builder {
	b.sessions = registry
	return b
}

func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and constructs the engine. Weak or
// placeholder signing secrets, a fixed OTP outside local and test
// environments, and invalid settings are returned as errors.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.userProvider == nil {
		return nil, ErrUserProviderRequired
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	development := cfg.Environment.isDevelopment()

	engine := &Engine{
		config:   cfg,
		logger:   logger,
		now:      now,
		users:    b.userProvider,
		sessions: b.sessions,
		mailer:   b.mailer,
		metrics:  NewMetrics(cfg.Metrics),
	}

	// -------- TOKENS --------
	jwtCfg := jwt.Config{
		SigningMethod:       jwt.SigningMethod(strings.ToLower(cfg.JWT.SigningMethod)),
		Issuer:              cfg.JWT.Issuer,
		Audience:            cfg.JWT.Audience,
		AccessTTL:           cfg.JWT.AccessTTL,
		RefreshTTL:          cfg.JWT.RefreshTTL,
		ResetSessionTTL:     cfg.JWT.ResetSessionTTL,
		Leeway:              cfg.JWT.Leeway,
		RequireStrongSecret: cfg.JWT.RequireStrongSecret || !development,
		KeyID:               cfg.JWT.KeyID,
		Now:                 now,
	}
	if jwtCfg.SigningMethod == jwt.MethodHS256 {
		jwtCfg.PrivateKey = cloneBytes(cfg.JWT.Secret)
	} else {
		jwtCfg.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
		jwtCfg.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	}
	tokens, err := jwt.NewManager(jwtCfg)
	if err != nil {
		return nil, err
	}
	engine.tokens = tokens

	// -------- PASSWORDS --------
	passwords, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
		MinLength:   cfg.Password.MinLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwords = passwords

	// -------- LIMITS --------
	engine.limiter = rate.New(rate.Config{MaxKeys: cfg.RateLimit.MaxKeys}, now)
	engine.policy = limiters.NewPolicy(engine.limiter, cfg.RateLimit.rules())
	engine.lockout = limiters.NewLockout(limiters.LockoutConfig{
		MaxAttempts: cfg.Lockout.MaxAttempts,
		Duration:    cfg.Lockout.Duration,
		MaxEntries:  cfg.Lockout.MaxEntries,
	}, now)

	// -------- STORES --------
	otps, err := stores.NewOTPVault(stores.OTPConfig{
		TTL:         cfg.OTP.TTL,
		MaxAttempts: cfg.OTP.MaxAttempts,
		MaxEntries:  cfg.OTP.MaxEntries,
		FixedCode:   cfg.OTP.FixedCode,
		Production:  !development,
	}, now)
	if err != nil {
		return nil, err
	}
	engine.otps = otps

	resets, err := stores.NewResetSessions(stores.ResetSessionConfig{
		TTL:         cfg.ResetSession.TTL,
		MaxEntries:  cfg.ResetSession.MaxEntries,
		ContextSalt: cfg.ResetSession.ContextSalt,
	}, now)
	if err != nil {
		return nil, err
	}
	engine.resets = resets

	if b.redis != nil {
		engine.revocations = stores.NewRedisRevocations(b.redis, cfg.Revocation.RedisPrefix, now)
	} else {
		engine.revocations = stores.NewMemoryRevocations(cfg.Revocation.MaxEntries, now)
	}

	// -------- EXTERNAL GUARD --------
	g, err := guard.New(guard.Config{
		MaxAttempts:      cfg.ExternalGuard.MaxAttempts,
		InitialBackoff:   cfg.ExternalGuard.InitialBackoff,
		MaxBackoff:       cfg.ExternalGuard.MaxBackoff,
		FailureThreshold: cfg.ExternalGuard.FailureThreshold,
		OpenDuration:     cfg.ExternalGuard.OpenDuration,
		MaxProviders:     cfg.ExternalGuard.MaxProviders,
	},
		guard.WithClock(now),
		guard.WithLogger(logger),
		guard.WithStateHook(engine.onCircuitState),
	)
	if err != nil {
		return nil, err
	}
	engine.guard = g

	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	b.built = true

	return engine, nil
}
