package fulfill

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/m3rciful/bookbot/core/catalog"
	"github.com/m3rciful/bookbot/core/config"
	"github.com/m3rciful/bookbot/core/logger"
	"github.com/m3rciful/bookbot/core/orders"
	"github.com/m3rciful/bookbot/core/session"
)

func TestMain(m *testing.M) {
	_ = logger.InitLogger(nil)
	os.Exit(m.Run())
}

type fakeTransport struct {
	mu        sync.Mutex
	files     []string
	failAfter int
	sent      int
}

func (f *fakeTransport) Channel() string { return "fake" }

func (f *fakeTransport) SendText(context.Context, string, string) error { return nil }

func (f *fakeTransport) SendFile(_ context.Context, _ string, file, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter > 0 && f.sent >= f.failAfter {
		return errors.New("send failed")
	}
	f.sent++
	f.files = append(f.files, file)
	return nil
}

func (f *fakeTransport) FetchMedia(context.Context, string) ([]byte, error) { return nil, nil }

type captureRecorder struct {
	mu     sync.Mutex
	orders []orders.Order
}

func (c *captureRecorder) Record(_ context.Context, o orders.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders = append(c.orders, o)
	return nil
}

func testCatalog() *catalog.Catalog {
	return catalog.FromConfig([]config.ItemConfig{
		{ID: 1, Name: "Livro de Python", File: "books/python.pdf", Price: 12},
		{ID: 2, Name: "Livro de JavaScript", File: "books/javascript.pdf", Price: 12},
		{ID: 3, Name: "Livro de Banco de Dados", File: "books/banco.pdf", Price: 12},
	})
}

func TestDeliverSendsDistinctFilesAndBonus(t *testing.T) {
	tr := &fakeTransport{}
	rec := &captureRecorder{}
	f := New(testCatalog(), tr, rec)

	sess := &session.Session{
		Stage: session.StageAwaitingPayment,
		Items: []session.SelectedItem{
			{ID: 1, Name: "Livro de Python", Qty: 2},
			{ID: 2, Name: "Livro de JavaScript", Qty: 1},
		},
		Bonus: "Livro de Banco de Dados",
	}

	if err := f.Deliver(context.Background(), "c1", sess); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	// One file per distinct item plus the bonus; quantity only affects price.
	want := []string{"books/python.pdf", "books/javascript.pdf", "books/banco.pdf"}
	if len(tr.files) != len(want) {
		t.Fatalf("files = %v, want %v", tr.files, want)
	}
	for i, file := range want {
		if tr.files[i] != file {
			t.Fatalf("file[%d] = %q, want %q", i, tr.files[i], file)
		}
	}

	if len(rec.orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(rec.orders))
	}
	o := rec.orders[0]
	if o.Total != 36 {
		t.Fatalf("total = %d, want 36 (2x12 + 1x12, bonus free)", o.Total)
	}
	if o.Bonus != "Livro de Banco de Dados" {
		t.Fatalf("bonus = %q", o.Bonus)
	}
	if o.ID == "" || o.CustomerID != "c1" || o.Channel != "fake" {
		t.Fatalf("order metadata = %+v", o)
	}
}

func TestDeliverAbortsOnSendFailure(t *testing.T) {
	tr := &fakeTransport{failAfter: 1}
	rec := &captureRecorder{}
	f := New(testCatalog(), tr, rec)

	sess := &session.Session{
		Items: []session.SelectedItem{
			{ID: 1, Name: "Livro de Python", Qty: 1},
			{ID: 2, Name: "Livro de JavaScript", Qty: 1},
		},
	}

	err := f.Deliver(context.Background(), "c1", sess)
	if err == nil {
		t.Fatal("expected delivery error")
	}
	if len(tr.files) != 1 {
		t.Fatalf("files sent before abort = %d, want 1", len(tr.files))
	}
	if len(rec.orders) != 0 {
		t.Fatal("aborted delivery must not record an order")
	}
}
