package stores

import (
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/fingate/internal"
	"github.com/MrEthical07/fingate/internal/kv"
	"github.com/google/uuid"
)

var (
	// ErrResetSessionConfigInvalid indicates a non-positive reset session TTL.
	ErrResetSessionConfigInvalid = errors.New("invalid reset session configuration")
	// ErrResetSessionExpiry indicates the requested expiry is not in the future.
	ErrResetSessionExpiry = errors.New("reset session expiry is not in the future")
)

// ResetSessionConfig configures [ResetSessions].
type ResetSessionConfig struct {
	TTL time.Duration
	// MaxEntries bounds stored sessions. Zero means unbounded.
	MaxEntries  int
	ContextSalt string
}

// ResetSession proves a password-reset code was verified from a given
// network context. Only hashes of the raw token, IP and user agent are kept.
type ResetSession struct {
	SessionID     string
	UserID        int64
	TokenHash     [32]byte
	IPHash        [32]byte
	UserAgentHash [32]byte
	CreatedAt     time.Time
	ExpiresAt     time.Time
	ConsumedAt    time.Time
}

// CreatedResetSession carries a new session and its raw bearer token. The
// raw token is returned once and never stored.
type CreatedResetSession struct {
	Session  ResetSession
	RawToken string
}

// ContextVerdict is the outcome of comparing a submission's context with
// the context recorded when the session was created.
type ContextVerdict struct {
	IPMatches    bool
	UAMatches    bool
	Tampered     bool
	ShouldReject bool
}

// SoftMismatch reports an accepted submission where exactly one live
// factor changed.
func (v ContextVerdict) SoftMismatch() bool {
	return !v.ShouldReject && (!v.IPMatches || !v.UAMatches)
}

// ResetSessions stores reset sessions with at most one active session per
// user.
type ResetSessions struct {
	sessions kv.Store[ResetSession]
	byUser   kv.Store[string]
	hasher   internal.ContextHasher
	config   ResetSessionConfig
	now      func() time.Time
}

// NewResetSessions returns an empty store. A nil now defaults to time.Now.
func NewResetSessions(cfg ResetSessionConfig, now func() time.Time) (*ResetSessions, error) {
	if cfg.TTL <= 0 {
		return nil, ErrResetSessionConfigInvalid
	}
	if now == nil {
		now = time.Now
	}
	return &ResetSessions{
		sessions: kv.NewMemory[ResetSession](),
		byUser:   kv.NewMemory[string](),
		hasher:   internal.NewContextHasher(cfg.ContextSalt),
		config:   cfg,
		now:      now,
	}, nil
}

// Hasher exposes the context hasher so token claims and stored hashes are
// derived identically.
func (s *ResetSessions) Hasher() internal.ContextHasher {
	return s.hasher
}

// Create starts a reset session for userID bound to ip and userAgent. Any
// previous session for the user is invalidated first. The session expires
// after the configured TTL or at maxExpiry, whichever is sooner; a zero
// maxExpiry is ignored.
func (s *ResetSessions) Create(userID int64, maxExpiry time.Time, ip, userAgent string) (CreatedResetSession, error) {
	now := s.now()
	expiresAt := now.Add(s.config.TTL)
	if !maxExpiry.IsZero() && maxExpiry.Before(expiresAt) {
		expiresAt = maxExpiry
	}
	if !now.Before(expiresAt) {
		return CreatedResetSession{}, ErrResetSessionExpiry
	}

	raw, err := internal.NewOpaqueToken()
	if err != nil {
		return CreatedResetSession{}, err
	}

	sess := ResetSession{
		SessionID:     uuid.NewString(),
		UserID:        userID,
		TokenHash:     internal.HashToken(raw),
		IPHash:        s.hasher.HashIP(ip),
		UserAgentHash: s.hasher.HashUserAgent(userAgent),
		CreatedAt:     now,
		ExpiresAt:     expiresAt,
	}
	key := sessionKey(sess.TokenHash)

	s.byUser.Compute(userKey(userID), func(prev string, ok bool) (string, bool) {
		if ok {
			s.sessions.Remove(prev)
		}
		s.sessions.Put(key, sess)
		return key, true
	})

	if s.config.MaxEntries > 0 && s.sessions.Len() > s.config.MaxEntries {
		s.trim(now)
	}

	return CreatedResetSession{Session: sess, RawToken: raw}, nil
}

// FindActive returns the unexpired, unconsumed session for rawToken.
func (s *ResetSessions) FindActive(rawToken string) (ResetSession, bool) {
	if rawToken == "" {
		return ResetSession{}, false
	}
	key := sessionKey(internal.HashToken(rawToken))
	sess, ok := s.sessions.Get(key)
	if !ok {
		return ResetSession{}, false
	}

	now := s.now()
	if !now.Before(sess.ExpiresAt) {
		s.sessions.RemoveIf(key, func(cur ResetSession) bool { return !now.Before(cur.ExpiresAt) })
		return ResetSession{}, false
	}
	if !sess.ConsumedAt.IsZero() {
		return ResetSession{}, false
	}
	return sess, true
}

// EvaluateContext compares the live request context and the context hashes
// embedded in the presented token against what the session recorded.
//
// Token hashes that differ from the session's mean the token claims a
// context it was never issued with; that is tampering and always rejects.
// Otherwise a change in both live factors rejects, and a change in one is
// a soft mismatch that is accepted.
func (s *ResetSessions) EvaluateContext(sess ResetSession, ip, userAgent string, tokenIPHash, tokenUAHash [32]byte) ContextVerdict {
	v := ContextVerdict{
		IPMatches: internal.EqualHash(sess.IPHash, s.hasher.HashIP(ip)),
		UAMatches: internal.EqualHash(sess.UserAgentHash, s.hasher.HashUserAgent(userAgent)),
	}
	tokenIPOK := internal.EqualHash(sess.IPHash, tokenIPHash)
	tokenUAOK := internal.EqualHash(sess.UserAgentHash, tokenUAHash)
	v.Tampered = !tokenIPOK || !tokenUAOK
	v.ShouldReject = v.Tampered || (!v.IPMatches && !v.UAMatches)
	return v
}

// Consume marks sess as used. It reports false if the session was already
// consumed, expired or replaced.
func (s *ResetSessions) Consume(sess ResetSession) bool {
	now := s.now()
	key := sessionKey(sess.TokenHash)
	consumed := false

	s.sessions.Compute(key, func(cur ResetSession, ok bool) (ResetSession, bool) {
		if !ok {
			return cur, false
		}
		if cur.SessionID != sess.SessionID || !cur.ConsumedAt.IsZero() || !now.Before(cur.ExpiresAt) {
			return cur, true
		}
		cur.ConsumedAt = now
		consumed = true
		return cur, true
	})

	if consumed {
		s.byUser.RemoveIf(userKey(sess.UserID), func(cur string) bool { return cur == key })
	}
	return consumed
}

// Reopen undoes the Consume of sess after the password update it guarded
// failed. The session is restored only while it is unexpired and no newer
// session for the user has replaced it.
func (s *ResetSessions) Reopen(sess ResetSession) bool {
	now := s.now()
	key := sessionKey(sess.TokenHash)
	reopened := false

	s.byUser.Compute(userKey(sess.UserID), func(prev string, ok bool) (string, bool) {
		if ok && prev != key {
			return prev, true
		}
		s.sessions.Compute(key, func(cur ResetSession, found bool) (ResetSession, bool) {
			if !found {
				return cur, false
			}
			if cur.SessionID != sess.SessionID || cur.ConsumedAt.IsZero() || !now.Before(cur.ExpiresAt) {
				return cur, true
			}
			cur.ConsumedAt = time.Time{}
			reopened = true
			return cur, true
		})
		if !reopened {
			return prev, ok
		}
		return key, true
	})
	return reopened
}

// InvalidateUser drops every pending session for userID.
func (s *ResetSessions) InvalidateUser(userID int64) {
	s.byUser.Compute(userKey(userID), func(prev string, ok bool) (string, bool) {
		if ok {
			s.sessions.Remove(prev)
		}
		return "", false
	})
}

// Len reports stored sessions, including consumed or expired ones not yet
// purged.
func (s *ResetSessions) Len() int {
	return s.sessions.Len()
}

// Sweep removes expired sessions and dangling user index entries.
func (s *ResetSessions) Sweep() int {
	now := s.now()
	removed := kv.Sweep[ResetSession](s.sessions, func(cur ResetSession) bool {
		return !now.Before(cur.ExpiresAt)
	})
	kv.Sweep[string](s.byUser, func(key string) bool {
		_, ok := s.sessions.Get(key)
		return !ok
	})
	return removed
}

func (s *ResetSessions) trim(now time.Time) {
	kv.Trim[ResetSession](s.sessions, s.config.MaxEntries, func(cur ResetSession) bool {
		return !now.Before(cur.ExpiresAt) || !cur.ConsumedAt.IsZero()
	}, func(cur ResetSession) int64 {
		return cur.ExpiresAt.UnixNano()
	})
	kv.Sweep[string](s.byUser, func(key string) bool {
		_, ok := s.sessions.Get(key)
		return !ok
	})
}

func sessionKey(tokenHash [32]byte) string {
	return internal.EncodeHash(tokenHash)
}

func userKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}
