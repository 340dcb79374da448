// Package server hosts apid sessions behind a WebSocket endpoint.
//
// A Session is the per-connection router: it decodes each binary frame as a
// protocol.BaseMessage, answers core service requests itself and hands every
// other request to the session's instance of the addressed service, creating
// that instance lazily from the core.Registry.
//
// # Lifecycle
//
// A session starts in StateOpening with a no-op emitter so service
// instances created before the transport is attached can send freely. The
// WebSocket adapter replaces the emitter and the session becomes Active.
// Close releases every tracked object and closes every instance in
// ascending service id order, then closes the transport.
//
// # Goroutines
//
// Sessions own no goroutines. Each connection runs a read loop, which calls
// Session.OnMessage, and a write loop draining a bounded send queue. Emitters
// never block: a full queue drops the frame with ErrSendQueueFull.
//
// # HTTP
//
// Server mounts the WebSocket endpoint at "/", optional Prometheus metrics
// and a static file tree on a chi router, and can also serve the same
// handler on a unix socket.
package server
