// Package authcore is the server-side core of a session authentication
// system: users, accounts, sessions, rotating refresh tokens, one-time
// verification codes and a split-phase OAuth/OIDC sign-in, all persisted in
// a transactional document store.
//
// Every operation goes through [Engine.Dispatch], which runs exactly one
// request inside exactly one store transaction. Expected protocol failures
// are results, not errors: a *[Failure] is returned with a nil error and the
// transaction still commits (so a wrong password still counts against the
// rate limit). A non-nil error is structural and nothing was committed.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// the request and result value types and the failure taxonomy. Flow
// orchestration, account resolution, rate limiting and audit dispatch live
// under internal/ and are never exported. Storage backends live under store/
// and plug in through [store.Store].
//
// # What this package must NOT do
//
//   - Expose store transactions or internal records beyond the documented
//     result types.
//   - Perform network I/O inside a store transaction. OAuth discovery, code
//     exchange and userinfo requests run before the userOAuth dispatch.
//   - Import any sub-package that re-imports authcore (no import cycles).
//
// # Performance contract
//
// Access-token validation is the hot path. In [ModeJWTOnly] it touches no
// store; in [ModeStrict] it costs one read-only transaction. Every other
// operation is a single transaction.
package authcore
