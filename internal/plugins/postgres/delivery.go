package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/Dark-Alpha-Capital/Bitrix-Websocket-Server/internal/core/domain"
)

// DeliveryRepo persists the fanout audit trail.
//
// Expected schema:
//
//	CREATE TABLE deliveries (
//	    id          UUID PRIMARY KEY,
//	    kind        TEXT NOT NULL,
//	    routing_key TEXT NOT NULL,
//	    recipients  INT NOT NULL,
//	    payload     JSONB,
//	    created_at  TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX deliveries_created_at_idx ON deliveries (created_at);
type DeliveryRepo struct {
	db *sql.DB
}

func NewDeliveryRepo(db *sql.DB) *DeliveryRepo {
	return &DeliveryRepo{
		db: db,
	}
}

func (r *DeliveryRepo) RecordDelivery(ctx context.Context, d *domain.Delivery) error {
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO deliveries (
            id, kind, routing_key, recipients, payload, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6)
    `,
		d.ID,
		d.Kind,
		d.RoutingKey,
		d.Recipients,
		string(d.Payload),
		d.CreatedAt,
	)
	return err
}

func (r *DeliveryRepo) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age)
	res, err := r.db.ExecContext(ctx, `
        DELETE FROM deliveries
        WHERE created_at < $1
    `, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
