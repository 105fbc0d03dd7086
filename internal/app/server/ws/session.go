package ws

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/core/domain"
)

// Session is the per-connection record: the transport, the server
// assigned id, the registration state machine and the liveness flag the
// monitor flips between pings.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc
	ws     *WebSocket
	id     string

	mu     sync.RWMutex
	state  domain.SessionState
	userID string
	jobs   map[string]struct{}

	alive atomic.Bool
	out   chan []byte
	once  sync.Once
}

func NewSession(parent context.Context, ws *WebSocket, sendBuffer int) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		ctx:    ctx,
		cancel: cancel,
		ws:     ws,
		id:     uuid.NewString(),
		state:  domain.StatePending,
		jobs:   make(map[string]struct{}),
		out:    make(chan []byte, sendBuffer),
	}
	s.alive.Store(true)
	ws.SetPongHandler(func(string) error {
		s.SetAlive(true)
		return nil
	})
	go s.writeLoop()
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() domain.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// Register moves the session from Pending to Registered. The binding
// is permanent: once a user id is attached it cannot change.
func (s *Session) Register(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case domain.StateRegistered:
		return domain.ErrAlreadyRegistered
	case domain.StateClosed:
		return domain.ErrSessionClosed
	}
	s.userID = userID
	s.state = domain.StateRegistered
	return nil
}

func (s *Session) AddJob(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[jobID] = struct{}{}
}

func (s *Session) Jobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		jobs = append(jobs, id)
	}
	return jobs
}

// Send enqueues data for the write loop. It never blocks: a closed
// session or a full buffer surfaces as an error and the caller decides
// whether that recipient is skipped or evicted.
func (s *Session) Send(ctx context.Context, data []byte) error {
	if s.State() == domain.StateClosed {
		return domain.ErrSessionClosed
	}
	select {
	case s.out <- data:
		return nil
	case <-s.ctx.Done():
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
		return domain.ErrSendBufferFull
	}
}

func (s *Session) Alive() bool { return s.alive.Load() }

func (s *Session) SetAlive(alive bool) { s.alive.Store(alive) }

func (s *Session) Ping() error { return s.ws.Ping() }

func (s *Session) CloseWithStatus(code int, reason string) {
	s.ws.CloseWithStatus(code, reason)
	s.Close()
}

func (s *Session) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.state = domain.StateClosed
		s.mu.Unlock()
		s.cancel()
		s.ws.Close()
	})
}

// writeLoop is the single writer on the socket. A failed write means
// the transport is gone, so the loop shuts the session down and lets
// the read side observe the closed connection.
func (s *Session) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case data := <-s.out:
			if err := s.ws.WriteMessage(data); err != nil {
				s.Close()
				return
			}
		}
	}
}
