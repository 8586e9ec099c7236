// Package rate provides the continuous-refill attempt budget that guards
// credential verification.
//
// # Refill semantics
//
// Each identifier owns at most one authRateLimits document holding a
// fractional attemptsLeft and the time of the last failure. On read the
// budget is refilled linearly:
//
//	attemptsLeft = min(capacity, stored + elapsedMs*capacity/3600000)
//
// and the identifier is limited iff attemptsLeft < 1. A missing document
// means the full budget is available. There is no sweeper: decay is derived
// entirely from lazy reads inside the caller's transaction.
//
// # What this package must NOT do
//
//   - Decide what an identifier is (email, phone or account id is the
//     caller's choice).
//   - Be imported outside the authcore module.
package rate
