// Package password hashes and verifies passwords with argon2id.
//
// Hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes produced with weaker parameters so
// callers can re-hash after the next successful login.
// [Argon2.VerifyDummy] lets callers spend the same work for unknown
// accounts.
//
// This package owns hashing only. It never stores passwords and never logs
// them.
package password
