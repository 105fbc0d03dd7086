package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/core/domain"
	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/pkg/logging"
)

// Monitor drives the ping/pong liveness protocol. Each tick it reaps
// every session that failed to pong since the previous tick, then
// arms the rest: flag down, ping out. Any pong that arrives in between
// flips the flag back up, so a healthy session is never reaped.
type Monitor struct {
	registry *Registry
	interval time.Duration
	log      *slog.Logger
}

func NewMonitor(log *slog.Logger, registry *Registry, interval time.Duration) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		registry: registry,
		interval: interval,
		log:      log,
	}
}

func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.log.Info("monitor - run - started", "interval", m.interval.String())
	for {
		select {
		case <-ctx.Done():
			m.log.Info("monitor - run - stopped")
			return nil
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep probes every tracked session once. Termination only closes the
// transport; the connection's own close path removes it from the
// registry, the same as any other disconnect.
func (m *Monitor) Sweep(ctx context.Context) (probed, reaped int) {
	for _, s := range m.registry.Snapshot() {
		if !s.Alive() {
			m.log.InfoContext(ctx, "monitor - sweep - reaping unresponsive session",
				logging.Session(s.ID()), logging.User(s.UserID()))
			s.CloseWithStatus(domain.CloseGoingAway, "heartbeat timeout")
			reaped++
			continue
		}
		s.SetAlive(false)
		if err := s.Ping(); err != nil {
			m.log.WarnContext(ctx, "monitor - sweep - ping failed, closing session",
				logging.Session(s.ID()), logging.User(s.UserID()), logging.Err(err))
			s.Close()
			reaped++
			continue
		}
		probed++
	}
	if reaped > 0 {
		m.log.InfoContext(ctx, "monitor - sweep - completed", "probed", probed, "reaped", reaped)
	}
	return probed, reaped
}
