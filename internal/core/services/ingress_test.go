package services

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/core/contracts"
	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/core/domain"
)

type fakeSession struct {
	mu      sync.Mutex
	id      string
	state   domain.SessionState
	userID  string
	jobs    []string
	sent    [][]byte
	sendErr error
}

func newFakeSession(id string) *fakeSession {
	return &fakeSession{id: id, state: domain.StatePending}
}

func (f *fakeSession) ID() string { return f.id }

func (f *fakeSession) State() domain.SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) UserID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userID
}

func (f *fakeSession) Jobs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.jobs...)
}

func (f *fakeSession) Register(userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case domain.StateRegistered:
		return domain.ErrAlreadyRegistered
	case domain.StateClosed:
		return domain.ErrSessionClosed
	}
	f.userID = userID
	f.state = domain.StateRegistered
	return nil
}

func (f *fakeSession) AddJob(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, jobID)
}

func (f *fakeSession) Send(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeSession) Alive() bool   { return true }
func (f *fakeSession) SetAlive(bool) {}
func (f *fakeSession) Ping() error   { return nil }

func (f *fakeSession) CloseWithStatus(int, string) { f.Close() }

func (f *fakeSession) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = domain.StateClosed
}

func (f *fakeSession) lastFrame(t *testing.T) map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent, "no frame was sent")
	var frame map[string]any
	require.NoError(t, json.Unmarshal(f.sent[len(f.sent)-1], &frame))
	return frame
}

type fakeRegistry struct {
	mu          sync.Mutex
	registerErr error
	tracked     []string
	registered  map[string]contracts.Session
	subscribed  map[string]contracts.Session
	removed     []string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		registered: make(map[string]contracts.Session),
		subscribed: make(map[string]contracts.Session),
	}
}

func (r *fakeRegistry) Track(s contracts.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracked = append(r.tracked, s.ID())
}

func (r *fakeRegistry) Register(userID string, s contracts.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registerErr != nil {
		return r.registerErr
	}
	if err := s.Register(userID); err != nil {
		return err
	}
	r.registered[userID] = s
	return nil
}

func (r *fakeRegistry) SubscribeJob(jobID string, s contracts.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribed[jobID] = s
	s.AddJob(jobID)
}

func (r *fakeRegistry) Remove(s contracts.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, s.ID())
}

func (r *fakeRegistry) SendToUser(context.Context, string, []byte) int { return 0 }

func (r *fakeRegistry) SendToJob(context.Context, string, []byte) bool { return false }

func (r *fakeRegistry) Snapshot() []contracts.Session { return nil }

func (r *fakeRegistry) Stats() domain.RegistryStats { return domain.RegistryStats{} }

func newTestIngress(reg contracts.Registry) *IngressService {
	return NewIngressService(slog.New(slog.NewTextHandler(io.Discard, nil)), reg)
}

func TestIngressService_HandleOpen_SendsConnectedFrame(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	svc := newTestIngress(reg)
	s := newFakeSession("s1")

	require.NoError(t, svc.HandleOpen(context.Background(), s))

	frame := s.lastFrame(t)
	assert.Equal(t, domain.TypeConnected, frame["type"])
	assert.Equal(t, "s1", frame["clientId"])
	assert.Equal(t, []string{"s1"}, reg.tracked)
}

func TestIngressService_HandleOpen_FailedGreetingLeavesSessionTracked(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	svc := newTestIngress(reg)
	s := newFakeSession("s1")
	s.sendErr = domain.ErrSendBufferFull

	err := svc.HandleOpen(context.Background(), s)
	require.ErrorIs(t, err, domain.ErrSendBufferFull)

	// Tracking happens before the greeting, so the caller still owes a
	// disconnect for the failed open.
	assert.Equal(t, []string{"s1"}, reg.tracked)
	svc.HandleDisconnect(context.Background(), s)
	assert.Equal(t, []string{"s1"}, reg.removed)
}

func TestIngressService_HandleFrame_RegistersPendingSession(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	svc := newTestIngress(reg)
	s := newFakeSession("s1")

	err := svc.HandleFrame(context.Background(), s, []byte(`{"type":"register","userId":"u1"}`))
	require.NoError(t, err)

	assert.Equal(t, domain.StateRegistered, s.State())
	assert.Equal(t, "u1", s.UserID())
	frame := s.lastFrame(t)
	assert.Equal(t, domain.TypeRegistered, frame["type"])
	assert.Equal(t, "u1", frame["userId"])
}

func TestIngressService_HandleFrame_RejectsNonRegisterFirstFrame(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	svc := newTestIngress(reg)
	s := newFakeSession("s1")

	err := svc.HandleFrame(context.Background(), s, []byte(`{"action":"subscribe","jobId":"j1"}`))

	var violation *domain.ProtocolViolationError
	require.ErrorAs(t, err, &violation)
	assert.Contains(t, violation.Reason, "register")
	assert.Empty(t, reg.subscribed, "subscribe before register must not reach the registry")
}

func TestIngressService_HandleFrame_RejectsMalformedFirstFrame(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	svc := newTestIngress(reg)
	s := newFakeSession("s1")

	err := svc.HandleFrame(context.Background(), s, []byte(`not json at all`))

	var violation *domain.ProtocolViolationError
	require.ErrorAs(t, err, &violation)
}

func TestIngressService_HandleFrame_RejectsRegisterWithoutUserID(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	svc := newTestIngress(reg)
	s := newFakeSession("s1")

	err := svc.HandleFrame(context.Background(), s, []byte(`{"type":"register","userId":""}`))

	var violation *domain.ProtocolViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, domain.StatePending, s.State())
}

func TestIngressService_HandleFrame_SurfacesRegistryRejection(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	reg.registerErr = domain.ErrAlreadyRegistered
	svc := newTestIngress(reg)
	s := newFakeSession("s1")

	err := svc.HandleFrame(context.Background(), s, []byte(`{"type":"register","userId":"u1"}`))

	var violation *domain.ProtocolViolationError
	require.ErrorAs(t, err, &violation)
	assert.ErrorIs(t, err, domain.ErrAlreadyRegistered)
}

func TestIngressService_HandleFrame_SubscribesRegisteredSession(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	svc := newTestIngress(reg)
	s := newFakeSession("s1")
	require.NoError(t, s.Register("u1"))

	err := svc.HandleFrame(context.Background(), s, []byte(`{"action":"subscribe","jobId":"j1"}`))
	require.NoError(t, err)

	assert.Contains(t, reg.subscribed, "j1")
	frame := s.lastFrame(t)
	assert.Equal(t, domain.TypeSubscribed, frame["type"])
	assert.Equal(t, "j1", frame["jobId"])
}

func TestIngressService_HandleFrame_IgnoresUnknownFrameAfterRegister(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	svc := newTestIngress(reg)
	s := newFakeSession("s1")
	require.NoError(t, s.Register("u1"))

	require.NoError(t, svc.HandleFrame(context.Background(), s, []byte(`{"type":"bogus"}`)))
	require.NoError(t, svc.HandleFrame(context.Background(), s, []byte(`garbage`)))

	assert.Empty(t, reg.subscribed)
	assert.Empty(t, s.sent, "unknown frames earn no reply")
}

func TestIngressService_HandleFrame_RejectsClosedSession(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	svc := newTestIngress(reg)
	s := newFakeSession("s1")
	s.Close()

	err := svc.HandleFrame(context.Background(), s, []byte(`{"type":"register","userId":"u1"}`))
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
}

func TestIngressService_HandleDisconnect_RemovesSession(t *testing.T) {
	t.Parallel()

	reg := newFakeRegistry()
	svc := newTestIngress(reg)
	s := newFakeSession("s1")
	require.NoError(t, svc.HandleOpen(context.Background(), s))

	svc.HandleDisconnect(context.Background(), s)

	assert.Equal(t, []string{"s1"}, reg.removed)
}
