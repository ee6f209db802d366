package gateway

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the subset of *websocket.Conn the gateway writes through.
// WriteControl may be called concurrently with WriteMessage.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session is one live client connection. Only its writer goroutine writes
// data frames to conn.
type Session struct {
	UserID      int64
	ConnectedAt time.Time

	conn         Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration

	level atomic.Int32
}

func newSession(userID int64, conn Conn, buffer int, writeTimeout time.Duration) *Session {
	return &Session{
		UserID:       userID,
		ConnectedAt:  time.Now().UTC(),
		conn:         conn,
		send:         make(chan []byte, buffer),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
}

func (s *Session) DefenseLevel() int { return int(s.level.Load()) }

// Done is closed when the session is torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Send queues v as a JSON text frame. It never blocks; false means the
// session is closed or its buffer is full.
func (s *Session) Send(v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return s.enqueue(b)
}

func (s *Session) enqueue(b []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- b:
		return true
	default:
		return false
	}
}

// writeLoop drains the send buffer until the session closes. onError is
// called once if a write fails.
func (s *Session) writeLoop(onError func(error)) {
	for {
		select {
		case <-s.done:
			return
		case b := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				onError(err)
				return
			}
		}
	}
}

func (s *Session) ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout))
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}
