// Package middleware exposes HTTP middleware that authenticates requests
// with authcore access tokens.
//
// # Guards
//
//   - [Guard] validates with the engine's configured mode.
//   - [RequireJWTOnly] checks signature and expiry only, with no store access.
//   - [RequireStrict] additionally requires the token's session to be active.
//   - [GinGuard] is the same check as a gin handler.
//
// Each guard reads the Authorization header, validates the bearer token and
// puts the resulting [authcore.Identity] and the caller's session id into the
// request context, so that handlers can pass that context straight to
// Engine.Dispatch.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Access the store (Engine handles I/O).
//   - Make authorization decisions beyond pass/reject.
package middleware
