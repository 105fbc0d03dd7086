package logger

import (
	"context"
	"log/slog"

	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/pkg/middleware"
)

// FromContext returns the request-scoped logger injected by the
// middleware, falling back to the process default outside a request.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(middleware.LoggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
