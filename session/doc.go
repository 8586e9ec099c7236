// Package session owns the session and refresh-token lifecycle: creating
// sessions, minting token pairs, rotating refresh tokens and terminating
// sessions.
//
// # Refresh rotation
//
// A refresh token is presented as "<refreshTokenId>|<sessionId>". Every
// refresh first deletes all refresh tokens of the named session and only then
// validates the presented one. Two concurrent refreshes of one session can
// therefore never both succeed: the loser finds its token gone and the
// session is terminated. Legitimate double refreshes and replays are treated
// the same way.
//
// # Architecture boundaries
//
// All reads and writes go through the caller's store.Tx so a lifecycle step
// commits or rolls back with the surrounding operation. Expiry is checked
// lazily when an entity is read; nothing is swept.
//
// # What this package must NOT do
//
//   - Import authcore (no upward imports).
//   - Persist access tokens or plaintext secrets.
package session
