package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/fingate/internal"
	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs with an Ed25519 key pair (EdDSA).
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with a shared HMAC-SHA256 secret.
	MethodHS256 SigningMethod = "hs256"
)

// TokenType is carried in the typ claim and distinguishes token kinds.
type TokenType string

const (
	TypeAccess       TokenType = "access"
	TypeRefresh      TokenType = "refresh"
	TypeResetSession TokenType = "reset_session"
)

// MinSecretBytes is the minimum HS256 secret length (256 bits).
const MinSecretBytes = 32

var (
	// ErrInvalidToken is the single error returned for any token that fails
	// validation, whatever the underlying reason.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrWeakSecret indicates an HS256 secret shorter than [MinSecretBytes].
	ErrWeakSecret = errors.New("signing secret shorter than 256 bits")
	// ErrPlaceholderSecret indicates a known development placeholder secret
	// where a strong secret is required.
	ErrPlaceholderSecret = errors.New("signing secret is a known placeholder")
	// ErrInvalidConfig indicates an unusable token configuration.
	ErrInvalidConfig = errors.New("invalid token configuration")
)

// Config defines token issuance and validation.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	SigningMethod SigningMethod
	// PrivateKey is the HS256 secret or the Ed25519 private key (raw or PEM).
	PrivateKey []byte
	// PublicKey is the Ed25519 public key (raw or PEM). Unused for HS256.
	PublicKey []byte
	Issuer    string
	Audience  string

	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	ResetSessionTTL time.Duration
	Leeway          time.Duration

	// RequireStrongSecret rejects known placeholder HS256 secrets.
	RequireStrongSecret bool

	KeyID      string
	VerifyKeys map[string][]byte

	// Now is the clock for issuance and validation. Nil means time.Now.
	Now func() time.Time
}

// Claims is the payload of every fingate token.
type Claims struct {
	Type         TokenType `json:"typ"`
	UID          int64     `json:"uid"`
	TokenVersion int64     `json:"tokenVersion"`

	// Reset-session tokens only.
	ResetSessionID string `json:"rsid,omitempty"`
	IPHash         string `json:"iph,omitempty"`
	UAHash         string `json:"uah,omitempty"`

	jwt.RegisteredClaims
}

// ContextHashes decodes the IP and user-agent hashes carried by a
// reset-session token.
func (c *Claims) ContextHashes() (ip [32]byte, ua [32]byte, err error) {
	if ip, err = internal.DecodeHash(c.IPHash); err != nil {
		return ip, ua, ErrInvalidToken
	}
	if ua, err = internal.DecodeHash(c.UAHash); err != nil {
		return ip, ua, ErrInvalidToken
	}
	return ip, ua, nil
}

// IssuedToken is a signed token together with its identifier and expiry.
type IssuedToken struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

// ResetBinding is the reset-session material embedded in a reset token.
type ResetBinding struct {
	SessionToken string
	IPHash       [32]byte
	UAHash       [32]byte
	// ExpiresAt caps the token expiry. Zero uses ResetSessionTTL.
	ExpiresAt time.Time
}

// Manager issues and validates tokens.
//
// Manager is safe for concurrent use once constructed.
type Manager struct {
	config Config
	now    func() time.Time
}

// NewManager validates cfg and returns a Manager. Weak or placeholder
// secrets are startup errors.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 || cfg.ResetSessionTTL <= 0 {
		return nil, fmt.Errorf("%w: token TTLs must be positive", ErrInvalidConfig)
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, fmt.Errorf("%w: leeway out of range", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Issuer) == "" || strings.TrimSpace(cfg.Audience) == "" {
		return nil, fmt.Errorf("%w: issuer and audience are required", ErrInvalidConfig)
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	switch cfg.SigningMethod {
	case MethodHS256:
		if err := CheckSecret(cfg.PrivateKey, cfg.RequireStrongSecret); err != nil {
			return nil, err
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, fmt.Errorf("%w: ed25519 requires a public key or verify key set", ErrInvalidConfig)
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, fmt.Errorf("%w: verify key map contains empty kid", ErrInvalidConfig)
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return nil, fmt.Errorf("%w: unsupported signing method %q", ErrInvalidConfig, cfg.SigningMethod)
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, fmt.Errorf("%w: KeyID is not present in VerifyKeys", ErrInvalidConfig)
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{config: cfg, now: now}, nil
}

// CheckSecret validates an HS256 secret. Secrets shorter than
// [MinSecretBytes] always fail; known placeholders fail when strict is set.
func CheckSecret(secret []byte, strict bool) error {
	if len(secret) < MinSecretBytes {
		return ErrWeakSecret
	}
	if strict && IsPlaceholderSecret(string(secret)) {
		return ErrPlaceholderSecret
	}
	return nil
}

var placeholderSecrets = []string{
	"secret",
	"changeme",
	"your-256-bit-secret",
	"your-secret-key",
	"dev-secret",
	"development-secret",
	"test-secret",
	"jwt-secret",
	"supersecret",
	"default-secret-key-please-change-it",
	"dev-secret-key-change-me-in-production",
	"super-secret-jwt-key-for-development-only",
}

var placeholderMarkers = []string{"changeme", "change-me", "change_me", "placeholder", "your-secret", "for-development", "not-for-production"}

// IsPlaceholderSecret reports whether secret is a well-known development
// value or a single repeated character.
func IsPlaceholderSecret(secret string) bool {
	s := strings.ToLower(strings.TrimSpace(secret))
	for _, known := range placeholderSecrets {
		if s == known {
			return true
		}
	}
	for _, marker := range placeholderMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return len(s) > 0 && strings.Count(s, s[:1]) == len(s)
}

// AccessTTL returns the configured access-token lifetime.
func (j *Manager) AccessTTL() time.Duration { return j.config.AccessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (j *Manager) RefreshTTL() time.Duration { return j.config.RefreshTTL }

// ResetSessionTTL returns the configured reset-session token lifetime.
func (j *Manager) ResetSessionTTL() time.Duration { return j.config.ResetSessionTTL }

// IssueAccess mints an access token for uid bound to tokenVersion.
func (j *Manager) IssueAccess(subject string, uid, tokenVersion int64) (IssuedToken, error) {
	claims := j.baseClaims(TypeAccess, subject, uid, tokenVersion, j.config.AccessTTL)
	return j.sign(claims)
}

// IssueRefresh mints a refresh token for uid bound to tokenVersion.
func (j *Manager) IssueRefresh(subject string, uid, tokenVersion int64) (IssuedToken, error) {
	claims := j.baseClaims(TypeRefresh, subject, uid, tokenVersion, j.config.RefreshTTL)
	return j.sign(claims)
}

// IssueResetSession mints a reset-session token wrapping the raw reset
// session token and the hashed confirmation context.
func (j *Manager) IssueResetSession(subject string, uid, tokenVersion int64, binding ResetBinding) (IssuedToken, error) {
	if binding.SessionToken == "" {
		return IssuedToken{}, fmt.Errorf("%w: empty reset session token", ErrInvalidConfig)
	}
	claims := j.baseClaims(TypeResetSession, subject, uid, tokenVersion, j.config.ResetSessionTTL)
	if !binding.ExpiresAt.IsZero() && binding.ExpiresAt.Before(claims.ExpiresAt.Time) {
		claims.ExpiresAt = jwt.NewNumericDate(binding.ExpiresAt)
	}
	claims.ResetSessionID = binding.SessionToken
	claims.IPHash = internal.EncodeHash(binding.IPHash)
	claims.UAHash = internal.EncodeHash(binding.UAHash)
	return j.sign(claims)
}

func (j *Manager) baseClaims(kind TokenType, subject string, uid, tokenVersion int64, ttl time.Duration) *Claims {
	now := j.now()
	return &Claims{
		Type:         kind,
		UID:          uid,
		TokenVersion: tokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        internal.NewTokenID(),
			Issuer:    j.config.Issuer,
			Audience:  jwt.ClaimStrings{j.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func (j *Manager) sign(claims *Claims) (IssuedToken, error) {
	token := jwt.NewWithClaims(j.getMethod(), claims)
	if j.config.KeyID != "" {
		token.Header["kid"] = j.config.KeyID
	}

	signKey, err := j.getSignKey()
	if err != nil {
		return IssuedToken{}, err
	}
	signed, err := token.SignedString(signKey)
	if err != nil {
		return IssuedToken{}, err
	}
	return IssuedToken{Token: signed, ID: claims.ID, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Parse validates tokenStr as a token of the given kind. Issuer and audience
// must match exactly, the signature must verify under the configured key,
// expiry must be in the future and typ must equal kind. Every failure is
// reported as [ErrInvalidToken].
func (j *Manager) Parse(tokenStr string, kind TokenType) (*Claims, error) {
	claims, err := j.parse(tokenStr)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Type != kind || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	if kind == TypeResetSession && claims.ResetSessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (j *Manager) parse(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.getMethod().Alg()}),
		jwt.WithIssuer(j.config.Issuer),
		jwt.WithAudience(j.config.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != j.getMethod().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}

		if len(j.config.VerifyKeys) > 0 {
			kid, _ := t.Header["kid"].(string)
			key, ok := j.config.VerifyKeys[kid]
			if !ok {
				return nil, errors.New("unknown kid")
			}
			return j.keyBytesToVerifyKey(key)
		}
		if j.config.KeyID != "" {
			if kid, _ := t.Header["kid"].(string); kid != j.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return j.getVerifyKey()
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func (j *Manager) getMethod() jwt.SigningMethod {
	switch j.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func (j *Manager) getSignKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		if len(j.config.PrivateKey) == 0 {
			return nil, errors.New("ed25519 private key not configured")
		}
		return parseEdPrivateKey(j.config.PrivateKey)
	}
}

func (j *Manager) getVerifyKey() (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return j.config.PrivateKey, nil
	default:
		return parseEdPublicKey(j.config.PublicKey)
	}
}

func (j *Manager) keyBytesToVerifyKey(key []byte) (interface{}, error) {
	switch j.config.SigningMethod {
	case MethodHS256:
		return key, nil
	default:
		return parseEdPublicKey(key)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ed25519 private key", ErrInvalidConfig)
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: invalid ed25519 private key type", ErrInvalidConfig)
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ed25519 public key", ErrInvalidConfig)
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: invalid ed25519 public key type", ErrInvalidConfig)
	}
	return edKey, nil
}
