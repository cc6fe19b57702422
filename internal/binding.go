package internal

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net"
	"net/netip"
	"strings"
)

const loopbackV4 = "127.0.0.1"

// ContextHasher derives one-way hashes of request context (IP, user agent)
// for reset-session binding. Raw values are never retained.
type ContextHasher struct {
	salt string
}

// NewContextHasher returns a hasher. An empty salt yields keyless,
// domain-separated hashes.
func NewContextHasher(salt string) ContextHasher {
	return ContextHasher{salt: salt}
}

// HashIP canonicalizes ip and hashes it.
func (h ContextHasher) HashIP(ip string) [32]byte {
	return h.sum("ip", CanonicalIP(ip))
}

// HashUserAgent hashes the trimmed user agent.
func (h ContextHasher) HashUserAgent(userAgent string) [32]byte {
	return h.sum("ua", strings.TrimSpace(userAgent))
}

func (h ContextHasher) sum(domain, value string) [32]byte {
	return sha256.Sum256([]byte("fingate:" + domain + ":" + h.salt + ":" + value))
}

// CanonicalIP normalizes an address so equivalent spellings hash equally:
// brackets, ports and zones are stripped, IPv4-mapped IPv6 becomes IPv4, and
// every loopback address becomes 127.0.0.1. Unparseable input is trimmed and
// lower-cased.
func CanonicalIP(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return strings.ToLower(s)
	}
	addr = addr.WithZone("").Unmap()
	if addr.IsLoopback() {
		return loopbackV4
	}
	return addr.String()
}

// EqualHash compares two digests in constant time.
func EqualHash(a, b [32]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// EncodeHash renders a digest as lowercase hex.
func EncodeHash(h [32]byte) string {
	return hex.EncodeToString(h[:])
}

// DecodeHash parses a hex digest produced by [EncodeHash].
func DecodeHash(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(raw) != len(out) {
		return out, errors.New("invalid hash size")
	}
	copy(out[:], raw)
	return out, nil
}
