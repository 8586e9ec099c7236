// Package jwt issues and verifies the short-lived access tokens handed out
// with every session. The subject claim is "<userId>|<sessionId>" and tokens
// are signed with an asymmetric key (Ed25519 or RS256) so verifiers only need
// the public half, which Manager.JWKS publishes.
package jwt
