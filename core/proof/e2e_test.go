package proof

import (
	"context"
	"testing"
	"time"

	"github.com/m3rciful/bookbot/core/catalog"
	"github.com/m3rciful/bookbot/core/config"
	"github.com/m3rciful/bookbot/core/engine"
	"github.com/m3rciful/bookbot/core/fulfill"
	"github.com/m3rciful/bookbot/core/session"
	"github.com/m3rciful/bookbot/core/transport"
)

// Full conversation scenarios: engine and pipeline wired together, only the
// transport and the OCR step faked.

func newBot(t *testing.T, ext *fakeExtractor, tr *fakeTransport) (*engine.Engine, *session.Store, *captureRecorder) {
	t.Helper()
	cat := catalog.FromConfig([]config.ItemConfig{
		{ID: 1, Name: "Livro de Python", File: "books/python.pdf", Price: 12},
		{ID: 2, Name: "Livro de JavaScript", File: "books/javascript.pdf", Price: 12},
		{ID: 3, Name: "Livro de Banco de Dados", File: "books/banco.pdf", Price: 12},
	})
	store := session.NewStore(0)
	t.Cleanup(store.Close)

	rec := &captureRecorder{}
	ful := fulfill.New(cat, tr, rec)
	pipe := New(Config{
		TmpDir:  t.TempDir(),
		Lang:    "por",
		Timeout: 5 * time.Second,
		Token:   "30",
		PixKey:  "chave-pix",
	}, store, tr, ext, ful)

	eng := engine.New(engine.Config{Trigger: "teste", PixKey: "chave-pix"},
		cat, store, engine.NewOutbox(nil, tr), pipe)
	return eng, store, rec
}

func TestEndToEndSingleBook(t *testing.T) {
	tr := &fakeTransport{}
	eng, store, rec := newBot(t, &fakeExtractor{text: "pago, valor 30,00"}, tr)
	ctx := context.Background()

	eng.Handle(ctx, transport.Inbound{From: "c1", Text: "teste"})
	eng.Handle(ctx, transport.Inbound{From: "c1", Text: "quero o livro de python"})

	sess, _ := store.Get("c1")
	if sess.Stage != session.StageAwaitingPayment {
		t.Fatalf("stage = %s, want awaiting_payment", sess.Stage)
	}

	eng.Handle(ctx, transport.Inbound{From: "c1", HasImage: true, MediaRef: "media-1"})

	waitUntil(t, func() bool {
		_, ok := store.Get("c1")
		return !ok
	})

	if tr.fileCount() != 1 {
		t.Fatalf("files = %d, want exactly 1", tr.fileCount())
	}
	if rec.count() != 1 || rec.orders[0].Total != 12 {
		t.Fatalf("order = %+v", rec.orders)
	}
}

func TestEndToEndGiftFlow(t *testing.T) {
	tr := &fakeTransport{}
	eng, store, rec := newBot(t, &fakeExtractor{text: "transferido 30"}, tr)
	ctx := context.Background()

	eng.Handle(ctx, transport.Inbound{From: "c1", Text: "teste"})
	eng.Handle(ctx, transport.Inbound{From: "c1", Text: "livro de python e livro de javascript"})

	sess, _ := store.Get("c1")
	if sess.Stage != session.StageAwaitingGift {
		t.Fatalf("stage = %s, want awaiting_gift", sess.Stage)
	}

	eng.Handle(ctx, transport.Inbound{From: "c1", Text: "livro de banco de dados"})
	eng.Handle(ctx, transport.Inbound{From: "c1", HasImage: true, MediaRef: "media-1"})

	waitUntil(t, func() bool {
		_, ok := store.Get("c1")
		return !ok
	})

	// Two paid books plus the free bonus.
	if tr.fileCount() != 3 {
		t.Fatalf("files = %d, want 3", tr.fileCount())
	}
	if rec.count() != 1 {
		t.Fatalf("orders = %d, want 1", rec.count())
	}
	o := rec.orders[0]
	if o.Total != 24 || o.Bonus != "Livro de Banco de Dados" {
		t.Fatalf("order = %+v", o)
	}
}
