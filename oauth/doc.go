// Package oauth implements the network half of third-party sign-in: provider
// configuration, single-use check cookies, the authorization-code exchange
// and profile retrieval.
//
// # Split-phase protocol
//
// BeginAuthorization and CompleteAuthorization perform no store writes. Each
// returns a Signature, the space-joined non-empty check values (code
// verifier, state, nonce), which is the only link between the network phase
// and the transaction that later finalizes sign-in.
//
// # What this package must NOT do
//
//   - Touch the store or import the root authcore package.
//   - Log or return check values other than through cookies and Signature.
package oauth
