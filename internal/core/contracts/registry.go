package contracts

import (
	"context"

	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/core/domain"
)

// Registry is the in-memory routing table that maps users and jobs to
// live sessions. All map mutations are funneled through it so the
// multiplicity rules hold under concurrent access.
type Registry interface {
	// Track makes a freshly upgraded session visible to the liveness
	// sweep before it has registered.
	Track(s Session)
	// Register binds the session to a user id. A session may register
	// exactly once; a second attempt fails without touching the maps.
	Register(userID string, s Session) error
	// SubscribeJob points the job's single delivery slot at this
	// session, displacing any previous subscriber.
	SubscribeJob(jobID string, s Session)
	// Remove purges every reference to the session. Safe to call more
	// than once and on sessions that were never registered.
	Remove(s Session)
	// SendToUser fans payload out to every session registered for the
	// user and reports how many accepted it.
	SendToUser(ctx context.Context, userID string, payload []byte) int
	// SendToJob delivers payload to the job's current subscriber, if any.
	SendToJob(ctx context.Context, jobID string, payload []byte) bool
	// Snapshot returns the tracked sessions at this instant.
	Snapshot() []Session
	Stats() domain.RegistryStats
}

// Session is the minimal surface the registry, router and liveness
// monitor need from an individual WebSocket connection.
type Session interface {
	ID() string
	State() domain.SessionState
	// UserID is empty until the session has registered.
	UserID() string
	// Jobs lists every job id the session has subscribed to. Entries
	// may be stale once another session takes over a job; callers are
	// expected to verify current ownership against the registry.
	Jobs() []string
	Register(userID string) error
	AddJob(jobID string)
	Send(ctx context.Context, data []byte) error
	Alive() bool
	SetAlive(alive bool)
	Ping() error
	// CloseWithStatus attempts a close frame with the given RFC 6455
	// code before tearing the transport down.
	CloseWithStatus(code int, reason string)
	Close()
}
