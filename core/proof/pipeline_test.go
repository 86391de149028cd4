package proof

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/m3rciful/bookbot/core/catalog"
	"github.com/m3rciful/bookbot/core/config"
	"github.com/m3rciful/bookbot/core/engine"
	"github.com/m3rciful/bookbot/core/fulfill"
	"github.com/m3rciful/bookbot/core/logger"
	"github.com/m3rciful/bookbot/core/orders"
	"github.com/m3rciful/bookbot/core/session"
)

func TestMain(m *testing.M) {
	_ = logger.InitLogger(nil)
	os.Exit(m.Run())
}

type fakeTransport struct {
	mu       sync.Mutex
	texts    []string
	files    []string
	failFile bool
}

func (f *fakeTransport) Channel() string { return "fake" }

func (f *fakeTransport) SendText(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeTransport) SendFile(_ context.Context, _ string, file, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFile {
		return errors.New("upstream unavailable")
	}
	f.files = append(f.files, file)
	return nil
}

func (f *fakeTransport) FetchMedia(context.Context, string) ([]byte, error) {
	return []byte("jpeg-bytes"), nil
}

func (f *fakeTransport) lastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1]
}

func (f *fakeTransport) textCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

func (f *fakeTransport) fileCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.files)
}

type fakeExtractor struct {
	text string
	err  error
}

func (f *fakeExtractor) Extract(context.Context, string, string) (string, error) {
	return f.text, f.err
}

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

func (c *captureRecorder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.orders)
}

func newTestPipeline(t *testing.T, ext *fakeExtractor, tr *fakeTransport) (*Pipeline, *session.Store, *captureRecorder) {
	t.Helper()
	cat := catalog.FromConfig([]config.ItemConfig{
		{ID: 1, Name: "Livro de Python", File: "books/python.pdf", Price: 12},
		{ID: 2, Name: "Livro de JavaScript", File: "books/javascript.pdf", Price: 12},
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
	return pipe, store, rec
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func payingSession(store *session.Store, customerID string) uint64 {
	store.Put(customerID, &session.Session{
		Stage: session.StageAwaitingPayment,
		Items: []session.SelectedItem{{ID: 1, Name: "Livro de Python", Qty: 1}},
	})
	return store.Version(customerID)
}

func TestAcceptedProofDeliversAndClearsSession(t *testing.T) {
	tr := &fakeTransport{}
	pipe, store, rec := newTestPipeline(t, &fakeExtractor{text: "PIX recebido valor 30,00"}, tr)

	v := payingSession(store, "c1")
	pipe.Submit(context.Background(), "c1", "ref-1", v)

	waitUntil(t, func() bool {
		_, ok := store.Get("c1")
		return !ok
	})

	if rec.count() != 1 {
		t.Fatalf("orders recorded = %d, want 1", rec.count())
	}
	if tr.fileCount() != 1 {
		t.Fatalf("files sent = %d, want 1", tr.fileCount())
	}
	tr.mu.Lock()
	first := tr.texts[0]
	tr.mu.Unlock()
	if first != engine.MsgAccepted {
		t.Fatalf("first text = %q, want accepted verdict", first)
	}
}

func TestRejectedProofKeepsSession(t *testing.T) {
	tr := &fakeTransport{}
	pipe, store, rec := newTestPipeline(t, &fakeExtractor{text: "texto irrelevante"}, tr)

	v := payingSession(store, "c1")
	pipe.Submit(context.Background(), "c1", "ref-1", v)

	waitUntil(t, func() bool { return tr.textCount() == 1 })

	if tr.lastText() != engine.MsgRejected {
		t.Fatalf("text = %q, want rejected verdict", tr.lastText())
	}
	sess, ok := store.Get("c1")
	if !ok || sess.Stage != session.StageAwaitingPayment {
		t.Fatalf("session should stay in awaiting_payment, got %+v ok=%v", sess, ok)
	}
	if rec.count() != 0 {
		t.Fatal("rejected proof must not record an order")
	}
}

func TestPixKeyInTextAccepts(t *testing.T) {
	tr := &fakeTransport{}
	pipe, store, rec := newTestPipeline(t, &fakeExtractor{text: "transferido para chave-pix ontem"}, tr)

	v := payingSession(store, "c1")
	pipe.Submit(context.Background(), "c1", "ref-1", v)

	waitUntil(t, func() bool { return rec.count() == 1 })
}

func TestExtractionErrorRepliesProofError(t *testing.T) {
	tr := &fakeTransport{}
	pipe, store, _ := newTestPipeline(t, &fakeExtractor{err: errors.New("boom")}, tr)

	v := payingSession(store, "c1")
	pipe.Submit(context.Background(), "c1", "ref-1", v)

	waitUntil(t, func() bool { return tr.textCount() == 1 })

	if tr.lastText() != engine.MsgProofError {
		t.Fatalf("text = %q, want proof-error", tr.lastText())
	}
	if _, ok := store.Get("c1"); !ok {
		t.Fatal("session should survive an extraction error")
	}
}

func TestStaleVersionIsDropped(t *testing.T) {
	tr := &fakeTransport{}
	pipe, store, rec := newTestPipeline(t, &fakeExtractor{text: "valor 30"}, tr)

	v := payingSession(store, "c1")
	// The customer restarted the flow while verification was in flight.
	store.Put("c1", &session.Session{Stage: session.StageAwaitingPayment})

	pipe.Submit(context.Background(), "c1", "ref-1", v)

	time.Sleep(200 * time.Millisecond)
	if tr.textCount() != 0 || tr.fileCount() != 0 || rec.count() != 0 {
		t.Fatalf("stale result must be dropped: texts=%d files=%d orders=%d",
			tr.textCount(), tr.fileCount(), rec.count())
	}
}

func TestDeliveryFailureRollsBack(t *testing.T) {
	tr := &fakeTransport{failFile: true}
	pipe, store, rec := newTestPipeline(t, &fakeExtractor{text: "valor 30"}, tr)

	v := payingSession(store, "c1")
	pipe.Submit(context.Background(), "c1", "ref-1", v)

	waitUntil(t, func() bool { return tr.lastText() == engine.MsgDeliverFail })

	sess, ok := store.Get("c1")
	if !ok || sess.Stage != session.StageAwaitingPayment {
		t.Fatalf("session should remain for retry, got %+v ok=%v", sess, ok)
	}
	if rec.count() != 0 {
		t.Fatal("failed delivery must not record an order")
	}
}

func TestAccepted(t *testing.T) {
	cases := []struct {
		name string
		text string
		want bool
	}{
		{"token present", "comprovante valor 30,00", true},
		{"pix key present", "enviado para chave-pix", true},
		{"neither", "comprovante ilegivel", false},
		{"token inside larger number", "protocolo 123055", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Accepted(tc.text, "30", "chave-pix"); got != tc.want {
				t.Fatalf("Accepted(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}
