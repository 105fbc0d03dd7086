package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/core/contracts"
	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/core/domain"
)

// Registry owns the routing tables. A user may hold any number of live
// sessions at once; a job id points at exactly one session, and a newer
// subscription silently displaces the older one.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]contracts.Session            // session id → session
	users    map[string]map[string]contracts.Session // user id → session id → session
	jobs     map[string]contracts.Session            // job id → current subscriber
	log      *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]contracts.Session),
		users:    make(map[string]map[string]contracts.Session),
		jobs:     make(map[string]contracts.Session),
		log:      log,
	}
}

// Track records a session that has upgraded but not yet registered, so
// the liveness sweep covers it from its first moment.
func (h *Registry) Track(s contracts.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s.ID()] = s
}

// Register binds the session to userID. The session-level state machine
// decides whether the transition is legal; on failure the maps are left
// untouched.
func (h *Registry) Register(userID string, s contracts.Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := s.Register(userID); err != nil {
		return err
	}
	h.sessions[s.ID()] = s
	if h.users[userID] == nil {
		h.users[userID] = make(map[string]contracts.Session)
	}
	h.users[userID][s.ID()] = s
	return nil
}

// SubscribeJob makes s the job's delivery target. Last writer wins: an
// existing subscriber loses the slot without being notified.
func (h *Registry) SubscribeJob(jobID string, s contracts.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s.ID()] = s
	if prev, ok := h.jobs[jobID]; ok && prev.ID() != s.ID() {
		h.log.Debug("registry - subscribe_job - displaced previous subscriber",
			slog.String("job_id", jobID),
			slog.String("previous_session", prev.ID()),
			slog.String("session", s.ID()))
	}
	h.jobs[jobID] = s
	s.AddJob(jobID)
}

// Remove purges every reference to the session: the tracked set, the
// user bucket (deleting the bucket when it empties) and every job slot
// the session still owns. Idempotent.
func (h *Registry) Remove(s contracts.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, s.ID())
	if uid := s.UserID(); uid != "" {
		if bucket := h.users[uid]; bucket != nil {
			delete(bucket, s.ID())
			if len(bucket) == 0 {
				delete(h.users, uid)
			}
		}
	}
	for _, jobID := range s.Jobs() {
		// Only clear slots the session still holds; a later subscriber
		// keeps the job.
		if cur, ok := h.jobs[jobID]; ok && cur.ID() == s.ID() {
			delete(h.jobs, jobID)
		}
	}
}

// SendToUser delivers payload to every session registered for userID
// and returns the number that accepted it. Sessions are snapshotted
// under the read lock and written to outside it, so one slow socket
// cannot stall the maps. A session that reports itself closed is
// evicted on the way out.
func (h *Registry) SendToUser(ctx context.Context, userID string, payload []byte) int {
	h.mu.RLock()
	targets := make([]contracts.Session, 0, len(h.users[userID]))
	for _, s := range h.users[userID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	delivered := 0
	var dead []contracts.Session
	for _, s := range targets {
		err := s.Send(ctx, payload)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, domain.ErrSessionClosed):
			dead = append(dead, s)
		default:
			h.log.WarnContext(ctx, "registry - send_to_user - recipient skipped",
				slog.String("user_id", userID),
				slog.String("session", s.ID()),
				slog.Any("error", err))
		}
	}
	for _, s := range dead {
		h.Remove(s)
	}
	return delivered
}

// SendToJob delivers payload to the job's current subscriber and
// reports whether anyone accepted it.
func (h *Registry) SendToJob(ctx context.Context, jobID string, payload []byte) bool {
	h.mu.RLock()
	s := h.jobs[jobID]
	h.mu.RUnlock()
	if s == nil {
		return false
	}
	err := s.Send(ctx, payload)
	if err == nil {
		return true
	}
	if errors.Is(err, domain.ErrSessionClosed) {
		h.Remove(s)
	} else {
		h.log.WarnContext(ctx, "registry - send_to_job - recipient skipped",
			slog.String("job_id", jobID),
			slog.String("session", s.ID()),
			slog.Any("error", err))
	}
	return false
}

// Snapshot copies out the tracked sessions for callers that iterate
// without holding the lock, such as the liveness sweep and shutdown.
func (h *Registry) Snapshot() []contracts.Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sessions := make([]contracts.Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

func (h *Registry) Stats() domain.RegistryStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return domain.RegistryStats{
		Sessions:         len(h.sessions),
		Users:            len(h.users),
		JobSubscriptions: len(h.jobs),
	}
}
