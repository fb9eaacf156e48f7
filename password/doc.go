// Package password hashes and verifies account passwords.
//
// New hashes are produced by the configured [Hasher] (Argon2id by default,
// bcrypt optionally). [Verifier] recognises either encoding by its prefix,
// so stored hashes keep verifying after the default algorithm changes and
// [Verifier.NeedsRehash] reports when a hash should be upgraded on the next
// successful login.
//
// Argon2id hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
package password
