package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/app/server/ws"
	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/config"
	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/core/domain"
	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/core/services"
	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/platform/logger"
)

type WSHandler struct {
	ingress services.IIngressService
	cfg     *config.WSConfig
}

func NewWSHandler(ingress services.IIngressService, cfg *config.WSConfig) *WSHandler {
	return &WSHandler{
		ingress: ingress,
		cfg:     cfg,
	}
}

func (h *WSHandler) Handler(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	span := trace.SpanFromContext(r.Context())

	upgrader := websocket.Upgrader{
		ReadBufferSize:  h.cfg.ReadBufferSize,
		WriteBufferSize: h.cfg.WriteBufferSize,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		log.ErrorContext(r.Context(), "ws handler - upgrade - ws upgrade failed", "err", err)
		return
	}

	// The session must outlive the request context once hijacked.
	sessionCtx := context.WithoutCancel(r.Context())
	ctx, cancel := context.WithCancel(sessionCtx)
	defer cancel()

	socket := ws.NewWebSocket(ctx, conn, h.cfg.ReadLimit, h.cfg.WriteTimeout)
	sess := ws.NewSession(ctx, socket, h.cfg.SendBuffer)
	span.SetAttributes(attribute.String("session.id", sess.ID()))

	// HandleOpen tracks the session before greeting it, so the removal
	// is owed from this point even when the handshake fails.
	defer h.ingress.HandleDisconnect(ctx, sess)
	defer sess.Close()

	if err := h.ingress.HandleOpen(ctx, sess); err != nil {
		log.ErrorContext(r.Context(), "ws handler - open - handshake failed", "session", sess.ID(), "err", err)
		sess.CloseWithStatus(domain.CloseInternalServerErr, "handshake failed")
		return
	}
	log.InfoContext(r.Context(), "ws handler - ws connection established", "session", sess.ID())

	// Frames are applied in arrival order; the register-first rule
	// depends on it, so no per-message goroutines here.
	err = socket.ReadLoop(func(data []byte) {
		if err := h.ingress.HandleFrame(ctx, sess, data); err != nil {
			var violation *domain.ProtocolViolationError
			if errors.As(err, &violation) {
				log.WarnContext(ctx, "ws handler - read - protocol violation",
					"session", sess.ID(), "reason", violation.Reason)
				sess.CloseWithStatus(domain.ClosePolicyViolation, violation.Reason)
				return
			}
			log.ErrorContext(ctx, "ws handler - read - frame rejected", "session", sess.ID(), "err", err)
		}
	})
	if err != nil && websocket.IsUnexpectedCloseError(err,
		websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		log.WarnContext(ctx, "ws handler - read - connection ended abnormally", "session", sess.ID(), "err", err)
	}
	log.InfoContext(ctx, "ws handler - ws connection closed",
		"session", sess.ID(), "user_id", sess.UserID())
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}
