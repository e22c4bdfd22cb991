package hub

import (
	"context"
	"log"
	"sync"
	"time"

	"supporthub-ws/internal/domain"
)

// Conn is the transport handle for one live connection. The delivery
// layer wraps the actual WebSocket; tests use in-memory fakes.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// delivery is one frame queued for a session's writer, with an optional
// completion callback for pushes whose outcome the router must record.
type delivery struct {
	frame  domain.ServerFrame
	result func(err error)
}

// Session pairs a registered principal with its live connection and a
// single writer goroutine. One writer per destination gives FIFO
// delivery per (sender, destination) pair and keeps concurrent writes
// off the underlying connection.
type Session struct {
	principal domain.Principal
	conn      Conn
	outbound  chan delivery
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(p domain.Principal, conn Conn) *Session {
	return &Session{
		principal: p,
		conn:      conn,
		outbound:  make(chan delivery, 64),
		done:      make(chan struct{}),
	}
}

// Principal returns a copy of the session's identity.
func (s *Session) Principal() domain.Principal {
	return s.principal
}

// run drains the outbound queue until the session is closed. Writes go
// through the connection one at a time; queued deliveries left behind
// at close time are failed, never retried on the stale handle.
func (s *Session) run() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in session writer for %s: %v", s.principal.ID, r)
		}
	}()

	for {
		// Once the handle is stale nothing else may flush to it.
		select {
		case <-s.done:
			s.failPending()
			return
		default:
		}

		select {
		case d := <-s.outbound:
			err := s.write(d.frame)
			if d.result != nil {
				d.result(err)
			}
		case <-s.done:
			s.failPending()
			return
		}
	}
}

func (s *Session) write(frame domain.ServerFrame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic writing to %s: %v", s.principal.ID, r)
			err = domain.ErrTransportFailure
		}
	}()
	return s.conn.WriteJSON(frame)
}

func (s *Session) failPending() {
	for {
		select {
		case d := <-s.outbound:
			if d.result != nil {
				d.result(domain.ErrTransportFailure)
			}
		default:
			return
		}
	}
}

// push queues a frame for the writer. It gives up when the session is
// closed, the context is cancelled, or the queue stays full past the
// timeout, so an unresponsive destination cannot stall the sender.
func (s *Session) push(ctx context.Context, d delivery, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s.outbound <- d:
		return nil
	case <-s.done:
		return domain.ErrTransportFailure
	case <-ctx.Done():
		return domain.ErrTransportFailure
	case <-timer.C:
		return domain.ErrTransportFailure
	}
}

// close marks the session stale. Idempotent; safe to call from both the
// registry (supersede, unregister) and the read loop teardown.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if err := s.conn.Close(); err != nil {
			log.Printf("Error closing connection for %s: %v", s.principal.ID, err)
		}
	})
}

// Done reports session teardown to interested goroutines.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
