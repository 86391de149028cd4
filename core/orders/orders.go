// Package orders records completed sales for bookkeeping. Recording is
// best-effort: the conversation flow never blocks on it.
package orders

import (
	"context"
	"time"
)

// Line is one purchased catalog item with quantity and the unit price paid.
type Line struct {
	ItemID int    `json:"item_id"`
	Name   string `json:"name"`
	Qty    int    `json:"qty"`
	Price  int    `json:"price"`
}

// Order is a completed, fulfilled sale.
type Order struct {
	ID         string
	Channel    string
	CustomerID string
	Lines      []Line
	Bonus      string
	Total      int
	CreatedAt  time.Time
}

// Recorder persists completed orders.
type Recorder interface {
	Record(ctx context.Context, o Order) error
}

type noopRecorder struct{}

// NewNoop returns a recorder that drops orders; used when no database is
// configured.
func NewNoop() Recorder {
	return noopRecorder{}
}

func (noopRecorder) Record(context.Context, Order) error { return nil }
