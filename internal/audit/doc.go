// Package audit buffers audit events and hands them to a sink off the
// request path.
//
// # Components
//
//   - [Event]: one outcome (request, provider, user, session, failure code).
//   - [Sink]: consumer interface with channel, JSON-lines, zap and no-op implementations.
//   - [Dispatcher]: bounded queue drained by a single goroutine, either dropping
//     or blocking when full.
//
// # Architecture boundaries
//
// The engine decides which events exist and emits them only after the
// transaction that produced them has committed. This package owns buffering
// and delivery.
//
// # What this package must NOT do
//
//   - Filter events based on business logic.
//   - Import authcore or any sibling internal package.
package audit
