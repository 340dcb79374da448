// Package core is the session-independent substrate shared by every apid
// service.
//
// It provides the pieces a service is built from:
//
//   - IDFactory: monotonically increasing identifiers that are never reused
//   - Shared: a mutex container whose lock cannot outlive the call that took it
//   - ObjectTracker: the per-instance table of remote-visible objects
//   - EventMap, Broadcaster and EventDispatcher: gated event fan-out
//   - MessageSender: the swappable outbound emitter of a session
//   - Service, ServiceFactory and Registry: the dispatch contract
//   - Responder: exactly-one-response bookkeeping for a request
//   - WorkerPool: bounded background execution for storage work
//
// Nothing in this package performs network I/O. Emitters are expected to
// enqueue and return, so a service may broadcast while holding its own lock.
package core
