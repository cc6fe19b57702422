package fingate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoginIssuesValidTokens(t *testing.T) {
	env := newTestEnv(t, nil)
	user := env.register(t, "Alice@Example.com", "correct horse battery")

	pair, err := env.engine.Login(context.Background(), "alice@example.com ", "correct horse battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !pair.AccessExpiresAt.Equal(env.clock.Now().Add(15 * time.Minute)) {
		t.Fatalf("unexpected access expiry %v", pair.AccessExpiresAt)
	}

	res, err := env.engine.Validate(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if res.UserID != user.UserID || res.TokenVersion != user.TokenVersion {
		t.Fatalf("unexpected auth result %+v", res)
	}

	if _, err := env.engine.Validate(context.Background(), pair.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected refresh token to be refused as access token, got %v", err)
	}
	if len(env.registry.registered) != 1 {
		t.Fatalf("expected refresh jti registered, got %d", len(env.registry.registered))
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "bob@example.com", "correct horse battery")

	_, unknown := env.engine.Login(context.Background(), "nobody@example.com", "whatever-password")
	_, wrong := env.engine.Login(context.Background(), "bob@example.com", "wrong password!")
	if !errors.Is(unknown, ErrInvalidCredentials) || !errors.Is(wrong, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for both, got %v and %v", unknown, wrong)
	}
	if KindOf(unknown) != KindOf(wrong) {
		t.Fatalf("expected identical kinds, got %q and %q", KindOf(unknown), KindOf(wrong))
	}
}

func TestLoginLockoutAfterMaxAttempts(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Lockout.MaxAttempts = 3
		c.Lockout.Duration = 15 * time.Minute
	})
	env.register(t, "carol@example.com", "correct horse battery")
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		if _, err := env.engine.Login(ctx, "carol@example.com", "bad-password"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}

	_, err := env.engine.Login(ctx, "carol@example.com", "bad-password")
	if !errors.Is(err, ErrLocked) || KindOf(err) != KindLocked {
		t.Fatalf("expected lock on third failure, got %v", err)
	}
	if got := RetryAfterSeconds(err); got != 900 {
		t.Fatalf("expected 900s retry hint, got %d", got)
	}

	env.clock.Advance(time.Minute)
	_, err = env.engine.Login(ctx, "carol@example.com", "correct horse battery")
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected correct password to be refused while locked, got %v", err)
	}
	if got := RetryAfterSeconds(err); got != 840 {
		t.Fatalf("expected 840s remaining, got %d", got)
	}

	env.clock.Advance(14 * time.Minute)
	if _, err := env.engine.Login(ctx, "carol@example.com", "correct horse battery"); err != nil {
		t.Fatalf("expected login after lock expiry, got %v", err)
	}
}

func TestLoginRateLimitedByIP(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.RateLimit.LoginIP = RateRule{Limit: 2, Window: time.Minute}
	})
	ctx := WithClientIP(context.Background(), "203.0.113.7")

	for i := 0; i < 2; i++ {
		if _, err := env.engine.Login(ctx, "user"+string(rune('a'+i))+"@example.com", "irrelevant-pw"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}

	_, err := env.engine.Login(ctx, "userz@example.com", "irrelevant-pw")
	var rejection *Rejection
	if !errors.As(err, &rejection) || rejection.Kind != KindRateLimited {
		t.Fatalf("expected rate limit rejection, got %v", err)
	}
	if RetryAfterSeconds(err) != 60 {
		t.Fatalf("expected 60s retry hint, got %d", RetryAfterSeconds(err))
	}

	env.clock.Advance(time.Minute)
	if _, err := env.engine.Login(ctx, "userz@example.com", "irrelevant-pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected admission after window, got %v", err)
	}
}

func TestLogoutRevokesTokens(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "dave@example.com", "correct horse battery")
	ctx := context.Background()

	pair, err := env.engine.Login(ctx, "dave@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if err := env.engine.Logout(ctx, pair.AccessToken, pair.RefreshToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	if _, err := env.engine.Validate(ctx, pair.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected revoked access token to be rejected, got %v", err)
	}
	if _, err := env.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected revoked refresh token to be rejected, got %v", err)
	}
	if len(env.registry.revoked) != 1 {
		t.Fatalf("expected registry revoke, got %d", len(env.registry.revoked))
	}
	if env.engine.MetricsSnapshot().Counters[MetricRevokedTokenRejected] != 2 {
		t.Fatal("expected two revoked-token rejections counted")
	}

	if err := env.engine.Logout(ctx, "", ""); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected empty logout to fail, got %v", err)
	}
}

func TestRefreshRotationSingleWinner(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "erin@example.com", "correct horse battery")
	ctx := context.Background()

	pair, err := env.engine.Login(ctx, "erin@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		next      atomic.Value
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rotated, err := env.engine.Refresh(ctx, pair.RefreshToken)
			if err == nil {
				successes.Add(1)
				next.Store(rotated)
				return
			}
			if !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("unexpected refresh error %v", err)
			}
		}()
	}
	wg.Wait()

	if successes.Load() != 1 {
		t.Fatalf("expected exactly one rotation, got %d", successes.Load())
	}
	counters := env.engine.MetricsSnapshot().Counters
	if losers := counters[MetricRefreshReuseDetected] + counters[MetricRevokedTokenRejected]; losers != 19 {
		t.Fatalf("expected 19 refused replays, got %d", losers)
	}

	rotated := next.Load().(TokenPair)
	if _, err := env.engine.Validate(ctx, rotated.AccessToken); err != nil {
		t.Fatalf("expected rotated access token to validate, got %v", err)
	}
	if _, err := env.engine.Refresh(ctx, rotated.RefreshToken); err != nil {
		t.Fatalf("expected rotated refresh token to work, got %v", err)
	}
}

func TestRefreshRateLimitedPerUser(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.RateLimit.Refresh = RateRule{Limit: 2, Window: time.Minute}
	})
	env.register(t, "kim@example.com", "correct horse battery")
	env.register(t, "lou@example.com", "correct horse battery")
	ctx := context.Background()

	pair, err := env.engine.Login(ctx, "kim@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if pair, err = env.engine.Refresh(ctx, pair.RefreshToken); err != nil {
			t.Fatalf("refresh %d failed: %v", i, err)
		}
	}

	_, err = env.engine.Refresh(ctx, pair.RefreshToken)
	var rejection *Rejection
	if !errors.As(err, &rejection) || rejection.Site != CallSiteRefresh || rejection.Kind != KindRateLimited {
		t.Fatalf("expected refresh rate limit, got %v", err)
	}

	other, err := env.engine.Login(ctx, "lou@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, other.RefreshToken); err != nil {
		t.Fatalf("expected another user's refresh to pass, got %v", err)
	}

	// The refused token was not consumed and works once the window passes.
	env.clock.Advance(time.Minute)
	if _, err := env.engine.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("expected refresh after window, got %v", err)
	}
}

func TestRevocationListFullKeepsLogoutsEffective(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Revocation.MaxEntries = 8
	})
	env.register(t, "victim@example.com", "correct horse battery")
	env.register(t, "mallory@example.com", "correct horse battery")
	ctx := context.Background()

	victim, err := env.engine.Login(ctx, "victim@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if err := env.engine.Logout(ctx, victim.AccessToken, ""); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := env.engine.Validate(ctx, victim.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected logged-out token to be rejected, got %v", err)
	}

	pair, err := env.engine.Login(ctx, "mallory@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	rotations, refused := 0, 0
	for i := 0; i < 20; i++ {
		next, err := env.engine.Refresh(ctx, pair.RefreshToken)
		if err != nil {
			if !errors.Is(err, ErrRevocationUnavailable) || KindOf(err) != KindUnavailable {
				t.Fatalf("expected refresh to fail closed, got %v", err)
			}
			refused++
			continue
		}
		rotations++
		pair = next
	}
	if rotations != 7 || refused != 13 {
		t.Fatalf("expected 7 rotations and 13 refusals, got %d and %d", rotations, refused)
	}

	if _, err := env.engine.Validate(ctx, victim.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected logged-out token to stay rejected, got %v", err)
	}

	// Once the shortest entries expire, rotation resumes.
	env.clock.Advance(16 * time.Minute)
	if _, err := env.engine.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("expected refresh after expiry freed space, got %v", err)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.JWT.Leeway = 0 })
	env.register(t, "frank@example.com", "correct horse battery")

	pair, err := env.engine.Login(context.Background(), "frank@example.com", "correct horse battery")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	env.clock.Advance(16 * time.Minute)
	if _, err := env.engine.Validate(context.Background(), pair.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}

func TestRegisterRejectsDuplicateAndShortPassword(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "gina@example.com", "correct horse battery")

	if _, err := env.engine.Register(context.Background(), "GINA@example.com", "another long password"); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
	if _, err := env.engine.Register(context.Background(), "hank@example.com", "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}
	if _, err := env.engine.Register(context.Background(), "  ", "correct horse battery"); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestRegisterRateLimited(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.RateLimit.Registration = RateRule{Limit: 1, Window: time.Hour}
	})
	ctx := WithClientIP(context.Background(), "198.51.100.4")

	if _, err := env.engine.Register(ctx, "ivy@example.com", "correct horse battery"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	_, err := env.engine.Register(ctx, "jack@example.com", "correct horse battery")
	if KindOf(err) != KindRateLimited || RetryAfterSeconds(err) != 3600 {
		t.Fatalf("expected registration rate limit with 3600s hint, got %v", err)
	}
}

func TestEngineClosed(t *testing.T) {
	env := newTestEnv(t, nil)
	env.engine.Close()
	if _, err := env.engine.Login(context.Background(), "a@example.com", "whatever-pass"); !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("expected ErrEngineClosed, got %v", err)
	}
}
