package contracts

import (
	"context"

	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/core/domain"
)

// EventRouter consumes bus events and fans them out through the
// registry. One instance runs for the lifetime of the process.
type EventRouter interface {
	// Run blocks until ctx is cancelled or the bus subscription fails.
	Run(ctx context.Context) error
	Stats() domain.RouterStats
}
