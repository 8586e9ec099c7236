// Package internal holds random-value helpers shared by the authcore
// packages: one-time codes, opaque tokens and the code digest that is the
// only form of a code ever persisted.
//
// # Sub-packages
//
//   - accounts: user and account resolution, linking and secret checks
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: the per-request flows run inside one store transaction
//   - rate: attempt-budget rate limiting over the authRateLimits table
//   - stores: verification code and verifier persistence helpers
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
//   - Import authcore or any store backend.
package internal
