// Package stores provides the short-lived, single-use records behind code
// and OAuth sign-in: verification codes and OAuth verifiers.
//
// # Design
//
// Records live in the auth tables and are read and written through the
// caller's store.Tx. Verification codes are persisted as SHA-256 digests and
// each account holds at most one live code. Every record is deleted the
// moment it is used, whether or not the use succeeds. Expiry is checked on
// read. Verifier comparisons are constant-time.
//
// # Architecture boundaries
//
// This package owns persistence for transient challenge records. It does NOT
// generate codes, enforce rate limits, or make sign-in decisions; those
// responsibilities belong to the flow functions in internal/flows.
//
// # What this package must NOT do
//
//   - Import authcore or any sibling internal package other than internal.
//   - Log or persist plaintext codes.
package stores
