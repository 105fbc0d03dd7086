package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/app/server/handlers"
	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/config"
	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/core/contracts"
	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/core/services"
	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/pkg/middleware"
)

type Server struct {
	mux           *http.ServeMux
	http          *http.Server
	log           *slog.Logger
	wsHandler     *handlers.WSHandler
	healthHandler *handlers.HealthHandler
}

func NewServer(
	log *slog.Logger,
	cfg *config.Config,
	ingress services.IIngressService,
	registry contracts.Registry,
	router contracts.EventRouter,
) *Server {
	s := &Server{
		mux:           http.NewServeMux(),
		log:           log,
		wsHandler:     handlers.NewWSHandler(ingress, cfg.WS),
		healthHandler: handlers.NewHealthHandler(registry, router),
	}
	s.routes()

	// Read/write timeouts cover the handshake and plain HTTP routes
	// only; gorilla clears the deadlines once the socket is hijacked.
	handler := middleware.RequestLogger(log)(middleware.TracerMiddleware(cfg.Service.Name)(s.mux))
	s.http = &http.Server{
		Addr:         cfg.Service.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /ws", s.wsHandler.Handler)
	s.mux.HandleFunc("GET /healthz", s.healthHandler.Health)
}

func (s *Server) Start() error {
	s.log.Info("server - start - listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown stops accepting new upgrades and drains plain HTTP requests.
// Hijacked WebSocket connections are closed separately through the
// registry.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
