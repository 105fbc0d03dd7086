package domain

import (
	"context"
	"time"
)

// DeliveryRepository persists the fanout audit trail. Writes are
// best-effort: a failed insert must never block or fail a delivery.
type DeliveryRepository interface {
	RecordDelivery(ctx context.Context, d *Delivery) error
	// PurgeOlderThan trims audit rows past the retention window and
	// reports how many were removed.
	PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error)
}
