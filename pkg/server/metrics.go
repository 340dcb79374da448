package server

import (
	"sync/atomic"
	"time"
)

// ServerMetrics is a point-in-time snapshot of server counters.
type ServerMetrics struct {
	// Sessions
	ActiveSessions int64
	TotalSessions  int64
	SessionCloses  int64
	PeakSessions   int64

	// Frames
	FramesReceived int64
	FramesDropped  int64
	SendDropped    int64

	// Network
	BytesSent     int64
	BytesReceived int64

	// Errors
	WriteErrors int64
	ReadErrors  int64

	// Timestamp
	CollectedAt time.Time
}

// MetricsCollector counts transport and session events. It implements
// SessionObserver. A nil collector ignores every record.
type MetricsCollector struct {
	framesReceived atomic.Int64
	framesDropped  atomic.Int64
	sendDropped    atomic.Int64
	bytesSent      atomic.Int64
	bytesReceived  atomic.Int64
	writeErrors    atomic.Int64
	readErrors     atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// SessionOpened implements SessionObserver.
func (m *MetricsCollector) SessionOpened(*Session) {}

// SessionClosed records the session's frame counts.
func (m *MetricsCollector) SessionClosed(s *Session) {
	if m == nil {
		return
	}
	received, _ := s.Stats()
	m.framesReceived.Add(int64(received))
}

// MessageDropped implements SessionObserver.
func (m *MetricsCollector) MessageDropped(*Session, DropReason) {
	if m == nil {
		return
	}
	m.framesDropped.Add(1)
}

// RecordSendDropped records an outbound frame lost to a full queue.
func (m *MetricsCollector) RecordSendDropped() {
	if m == nil {
		return
	}
	m.sendDropped.Add(1)
}

// RecordBytesSent records bytes written to a client.
func (m *MetricsCollector) RecordBytesSent(n int) {
	if m == nil {
		return
	}
	m.bytesSent.Add(int64(n))
}

// RecordBytesReceived records bytes read from a client.
func (m *MetricsCollector) RecordBytesReceived(n int) {
	if m == nil {
		return
	}
	m.bytesReceived.Add(int64(n))
}

// RecordWriteError records a failed write.
func (m *MetricsCollector) RecordWriteError() {
	if m == nil {
		return
	}
	m.writeErrors.Add(1)
}

// RecordReadError records a failed read.
func (m *MetricsCollector) RecordReadError() {
	if m == nil {
		return
	}
	m.readErrors.Add(1)
}

// Metrics returns a snapshot combining session manager stats and the
// collector's counters.
func (s *Server) Metrics() *ServerMetrics {
	stats := s.sessions.Stats()
	m := s.metrics

	return &ServerMetrics{
		ActiveSessions: int64(stats.Active),
		TotalSessions:  int64(stats.TotalCreated),
		SessionCloses:  int64(stats.TotalClosed),
		PeakSessions:   int64(stats.Peak),
		FramesReceived: m.framesReceived.Load(),
		FramesDropped:  m.framesDropped.Load(),
		SendDropped:    m.sendDropped.Load(),
		BytesSent:      m.bytesSent.Load(),
		BytesReceived:  m.bytesReceived.Load(),
		WriteErrors:    m.writeErrors.Load(),
		ReadErrors:     m.readErrors.Load(),
		CollectedAt:    time.Now(),
	}
}
