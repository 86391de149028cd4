// Package fulfill delivers purchased item files to the customer and records
// the completed order.
package fulfill

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"log/slog"

	"github.com/m3rciful/bookbot/core/catalog"
	"github.com/m3rciful/bookbot/core/logger"
	"github.com/m3rciful/bookbot/core/orders"
	"github.com/m3rciful/bookbot/core/session"
	"github.com/m3rciful/bookbot/core/transport"
)

// Fulfiller sends the purchased (and bonus) files sequentially.
type Fulfiller struct {
	cat *catalog.Catalog
	tr  transport.Transport
	rec orders.Recorder
}

// New constructs a fulfiller. rec may be a no-op recorder.
func New(cat *catalog.Catalog, tr transport.Transport, rec orders.Recorder) *Fulfiller {
	return &Fulfiller{cat: cat, tr: tr, rec: rec}
}

// Deliver resolves the session's selection (and bonus) to catalog records and
// sends each file with a caption. A mid-loop send failure aborts delivery and
// is returned so the caller can roll the session back; later items are not
// attempted.
func (f *Fulfiller) Deliver(ctx context.Context, customerID string, sess *session.Session) error {
	items, total := f.resolve(sess)

	for _, item := range items {
		logger.FUL.LogAttrs(ctx, slog.LevelInfo, "file.sending",
			slog.String("file", item.Name),
		)
		caption := fmt.Sprintf("📘 Aqui está: %s", item.Name)
		if err := f.tr.SendFile(ctx, customerID, item.File, item.Name+".pdf", caption); err != nil {
			return fmt.Errorf("fulfill: send %q: %w", item.Name, err)
		}
	}

	f.record(ctx, customerID, sess, total)
	return nil
}

// resolve returns one catalog record per distinct selected item, in selection
// order, with the bonus appended last. Digital goods: quantity affects the
// total, not the number of copies sent.
func (f *Fulfiller) resolve(sess *session.Session) ([]catalog.Item, int) {
	var items []catalog.Item
	total := 0
	for _, sel := range sess.Items {
		item, ok := f.cat.ByID(sel.ID)
		if !ok {
			continue
		}
		items = append(items, item)
		total += item.Price * sel.Qty
	}
	if sess.Bonus != "" {
		if item, ok := f.cat.ByName(sess.Bonus); ok {
			items = append(items, item)
		}
	}
	return items, total
}

func (f *Fulfiller) record(ctx context.Context, customerID string, sess *session.Session, total int) {
	if f.rec == nil {
		return
	}

	lines := make([]orders.Line, 0, len(sess.Items))
	for _, sel := range sess.Items {
		price := 0
		if item, ok := f.cat.ByID(sel.ID); ok {
			price = item.Price
		}
		lines = append(lines, orders.Line{
			ItemID: sel.ID,
			Name:   sel.Name,
			Qty:    sel.Qty,
			Price:  price,
		})
	}

	order := orders.Order{
		ID:         uuid.NewString(),
		Channel:    f.tr.Channel(),
		CustomerID: customerID,
		Lines:      lines,
		Bonus:      sess.Bonus,
		Total:      total,
		CreatedAt:  time.Now().UTC(),
	}

	if err := f.rec.Record(ctx, order); err != nil {
		// Bookkeeping must never block delivery; the files are already sent.
		logger.ORD.LogAttrs(ctx, slog.LevelError, "order.record_failed",
			slog.String("status", "fail"),
			slog.String("order_id", order.ID),
			slog.String("err", err.Error()),
		)
	}
}
