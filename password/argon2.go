package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB      uint32 = 8 * 1024
	minSaltLength    uint32 = 16
	minKeyLength     uint32 = 16
	algorithmID             = "argon2id"
	defaultMinPass          = 8
	maxPasswordBytes        = 1024
)

var (
	// ErrPasswordLength indicates a password outside the accepted length range.
	ErrPasswordLength = errors.New("password length out of range")
	// ErrMalformedHash indicates an encoded hash that is not a supported
	// argon2id PHC string.
	ErrMalformedHash = errors.New("malformed password hash")
	// ErrInvalidConfig indicates argon2 parameters below the accepted floor.
	ErrInvalidConfig = errors.New("invalid password hashing configuration")
)

// Config holds argon2id cost parameters.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// MinLength is the minimum password length in bytes. Zero means 8.
	MinLength int
}

// DefaultConfig returns the recommended argon2id parameters.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
		MinLength:   defaultMinPass,
	}
}

// Argon2 hashes and verifies passwords. It is safe for concurrent use.
type Argon2 struct {
	config Config
	dummy  string
}

type params struct {
	memory      uint32
	time        uint32
	parallelism uint8
}

// NewArgon2 validates cfg and returns a hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	if cfg.MinLength == 0 {
		cfg.MinLength = defaultMinPass
	}
	switch {
	case cfg.Memory < minMemoryKB:
		return nil, fmt.Errorf("%w: memory must be >= %d KB", ErrInvalidConfig, minMemoryKB)
	case cfg.Time < 1:
		return nil, fmt.Errorf("%w: time must be >= 1", ErrInvalidConfig)
	case cfg.Parallelism < 1:
		return nil, fmt.Errorf("%w: parallelism must be >= 1", ErrInvalidConfig)
	case cfg.SaltLength < minSaltLength:
		return nil, fmt.Errorf("%w: salt length must be >= %d", ErrInvalidConfig, minSaltLength)
	case cfg.KeyLength < minKeyLength:
		return nil, fmt.Errorf("%w: key length must be >= %d", ErrInvalidConfig, minKeyLength)
	case cfg.MinLength < 1 || cfg.MinLength > maxPasswordBytes:
		return nil, fmt.Errorf("%w: minimum length out of range", ErrInvalidConfig)
	}

	a := &Argon2{config: cfg}
	dummy, err := a.encode(make([]byte, cfg.SaltLength), "fingate-dummy-password")
	if err != nil {
		return nil, err
	}
	a.dummy = dummy
	return a, nil
}

// Hash returns the PHC encoding of password under a fresh random salt.
// Passwords are hashed as raw bytes without Unicode normalization.
func (a *Argon2) Hash(password string) (string, error) {
	if err := a.CheckLength(password); err != nil {
		return "", err
	}
	salt := make([]byte, a.config.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	return a.encode(salt, password)
}

// CheckLength reports [ErrPasswordLength] when password is too short or
// too long to hash.
func (a *Argon2) CheckLength(password string) error {
	if len(password) < a.config.MinLength || len(password) > maxPasswordBytes {
		return ErrPasswordLength
	}
	return nil
}

// Verify reports whether password matches encodedHash. The comparison is
// constant time in the derived key.
func (a *Argon2) Verify(password, encodedHash string) (bool, error) {
	p, salt, hash, err := decode(encodedHash)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.parallelism, uint32(len(hash)))
	return subtle.ConstantTimeCompare(computed, hash) == 1, nil
}

// VerifyDummy burns the same work as a real verification. Callers use it
// when the account does not exist so response timing does not reveal that.
func (a *Argon2) VerifyDummy(password string) {
	_, _ = a.Verify(password, a.dummy)
}

// NeedsUpgrade reports whether encodedHash was produced with weaker
// parameters than the current configuration.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	p, _, hash, err := decode(encodedHash)
	if err != nil {
		return false, err
	}
	return a.config.Memory > p.memory ||
		a.config.Time > p.time ||
		a.config.Parallelism > p.parallelism ||
		a.config.KeyLength != uint32(len(hash)), nil
}

func (a *Argon2) encode(salt []byte, password string) (string, error) {
	c := a.config
	hash := argon2.IDKey([]byte(password), salt, c.Time, c.Memory, c.Parallelism, c.KeyLength)
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID, argon2.Version, c.Memory, c.Time, c.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

func decode(encoded string) (params, []byte, []byte, error) {
	var p params
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return p, nil, nil, ErrMalformedHash
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return p, nil, nil, fmt.Errorf("%w: unsupported version", ErrMalformedHash)
	}

	seen := 0
	for _, pair := range strings.Split(parts[3], ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return p, nil, nil, ErrMalformedHash
		}
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return p, nil, nil, ErrMalformedHash
		}
		switch key {
		case "m":
			if n < uint64(minMemoryKB) {
				return p, nil, nil, ErrMalformedHash
			}
			p.memory = uint32(n)
		case "t":
			if n < 1 {
				return p, nil, nil, ErrMalformedHash
			}
			p.time = uint32(n)
		case "p":
			if n < 1 || n > 255 {
				return p, nil, nil, ErrMalformedHash
			}
			p.parallelism = uint8(n)
		default:
			return p, nil, nil, ErrMalformedHash
		}
		seen++
	}
	if seen != 3 || p.memory == 0 || p.time == 0 || p.parallelism == 0 {
		return p, nil, nil, ErrMalformedHash
	}

	salt, err := decodeSegment(parts[4])
	if err != nil || len(salt) < int(minSaltLength) {
		return p, nil, nil, ErrMalformedHash
	}
	hash, err := decodeSegment(parts[5])
	if err != nil || len(hash) < int(minKeyLength) {
		return p, nil, nil, ErrMalformedHash
	}
	return p, salt, hash, nil
}

// decodeSegment accepts both padded and unpadded base64 so hashes written
// by other argon2id encoders still verify.
func decodeSegment(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
