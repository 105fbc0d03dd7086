package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/core/contracts"
	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/core/domain"
	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/platform/logger"
)

type HealthHandler struct {
	registry contracts.Registry
	router   contracts.EventRouter
	started  time.Time
}

func NewHealthHandler(registry contracts.Registry, router contracts.EventRouter) *HealthHandler {
	return &HealthHandler{
		registry: registry,
		router:   router,
		started:  time.Now(),
	}
}

// Health reports process occupancy and routing counters. It is the
// fastest way to see whether events are being dropped for parse
// failures or missing recipients.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	resp := struct {
		Status   string               `json:"status"`
		Uptime   string               `json:"uptime"`
		Registry domain.RegistryStats `json:"registry"`
		Router   domain.RouterStats   `json:"router"`
	}{
		Status:   "ok",
		Uptime:   time.Since(h.started).Round(time.Second).String(),
		Registry: h.registry.Stats(),
		Router:   h.router.Stats(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.ErrorContext(r.Context(), "health handler - encode failed", "err", err)
	}
}
