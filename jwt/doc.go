// Package jwt issues and validates the three fingate token kinds (access,
// refresh and reset-session) with strict issuer, audience, algorithm and
// expiry checks. Validation failures collapse to a single error so callers
// never learn why a token was refused.
package jwt
