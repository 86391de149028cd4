package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"log/slog"

	"github.com/m3rciful/bookbot/core/logger"
)

const insertOrder = `
INSERT INTO orders (id, channel, customer_id, lines, bonus, total, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

type postgresRecorder struct {
	db *sqlx.DB
}

// NewPostgres returns a recorder backed by the orders table.
func NewPostgres(db *sqlx.DB) Recorder {
	return &postgresRecorder{db: db}
}

// Record inserts the order row. Lines are stored as a JSONB document.
func (r *postgresRecorder) Record(ctx context.Context, o Order) error {
	lines, err := json.Marshal(o.Lines)
	if err != nil {
		return fmt.Errorf("orders: marshal lines: %w", err)
	}

	start := time.Now()
	_, err = r.db.ExecContext(ctx, insertOrder,
		o.ID, o.Channel, o.CustomerID, lines, o.Bonus, o.Total, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("orders: insert: %w", err)
	}

	logger.ORD.LogAttrs(ctx, slog.LevelInfo, "order.recorded",
		slog.String("status", "ok"),
		slog.String("order_id", o.ID),
		slog.Int("total", o.Total),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}
