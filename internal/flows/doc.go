// Package flows contains one orchestrator per dispatcher operation.
//
// Each Run function takes the open transaction, a typed request and the
// [Deps] wiring, and returns a typed result. Expected protocol failures (bad
// secret, expired code, stale refresh token) are reported in the result's
// Failure field so the caller can commit the bookkeeping writes that came
// with them; returned errors are reserved for store failures and
// configuration mistakes.
//
// # Architecture boundaries
//
// Flow functions coordinate the session manager, account resolver, code and
// verifier stores, rate limiter and secret hasher. They do NOT own any of
// these resources; ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import authcore (to avoid import cycles).
//   - Open transactions, emit metrics or audit events. A transaction may be
//     re-run by the store, so side effects outside it belong to the caller.
package flows
