// Package relay implements the connection registry and message-routing
// engine: who is online, and who receives each envelope in what form.
package relay

import (
	"log/slog"
	"net"
	"sync"

	"chat-relay/domain"
)

// Session is the server-side state for one live connection. The outbound
// path is exclusively owned by the session: all deliveries go through
// Enqueue and a single writer goroutine, so two concurrent router
// dispatches can never interleave bytes on the transport.
type Session struct {
	UID string

	conn     net.Conn
	log      *slog.Logger
	outbound chan []byte
	done     chan struct{}
	once     sync.Once

	mu    sync.Mutex
	name  string
	state domain.SessionState
}

// NewSession wraps an accepted connection. The identity is issued here,
// once, before any message processing.
func NewSession(conn net.Conn, log *slog.Logger, bufferSize int) *Session {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Session{
		UID:      domain.NewUID(),
		conn:     conn,
		log:      log,
		outbound: make(chan []byte, bufferSize),
		done:     make(chan struct{}),
		state:    domain.Pending,
	}
}

// Name returns the display name, empty until the join step completes.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// State returns the current lifecycle state.
func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Promote moves the session from Pending to Joined under the given display
// name. It reports false if the session already left Pending; the name is
// immutable afterwards.
func (s *Session) Promote(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.Pending {
		return false
	}
	s.name = name
	s.state = domain.Joined
	return true
}

// Enqueue places an encoded frame on the outbound queue without blocking.
// A slow or stalled peer loses frames instead of backpressuring fan-out to
// other sessions.
func (s *Session) Enqueue(frame []byte) domain.DeliveryResult {
	select {
	case <-s.done:
		return domain.WriteFailed
	default:
	}
	select {
	case s.outbound <- frame:
		return domain.Delivered
	default:
		s.log.Warn("outbound queue full, dropping envelope", "uid", s.UID, "name", s.Name())
		return domain.WriteFailed
	}
}

// WriteLoop drains the outbound queue onto the transport. It exits when the
// session closes or a write fails; a failed write closes the connection,
// which in turn unblocks the read loop.
func (s *Session) WriteLoop() {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.outbound:
			if _, err := s.conn.Write(frame); err != nil {
				s.log.Debug("session write failed", "uid", s.UID, "err", err)
				s.Close()
				return
			}
		}
	}
}

// Close tears the session down exactly once: marks it Terminated, stops the
// writer, and closes the connection so a pending read unblocks immediately.
func (s *Session) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.state = domain.Terminated
		s.mu.Unlock()
		close(s.done)
		_ = s.conn.Close()
	})
}
