package engine

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/m3rciful/bookbot/core/catalog"
	"github.com/m3rciful/bookbot/core/config"
	"github.com/m3rciful/bookbot/core/logger"
	"github.com/m3rciful/bookbot/core/session"
	"github.com/m3rciful/bookbot/core/transport"
)

func TestMain(m *testing.M) {
	_ = logger.InitLogger(nil)
	os.Exit(m.Run())
}

type fakeTransport struct {
	mu    sync.Mutex
	texts []string
	files []string
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
	f.files = append(f.files, file)
	return nil
}

func (f *fakeTransport) FetchMedia(context.Context, string) ([]byte, error) {
	return nil, nil
}

func (f *fakeTransport) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.texts))
	copy(out, f.texts)
	return out
}

type fakeVerifier struct {
	mu       sync.Mutex
	customer string
	mediaRef string
	version  uint64
	calls    int
}

func (v *fakeVerifier) Submit(_ context.Context, customerID, mediaRef string, version uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.customer = customerID
	v.mediaRef = mediaRef
	v.version = version
	v.calls++
}

func newTestEngine(t *testing.T) (*Engine, *session.Store, *fakeTransport, *fakeVerifier) {
	t.Helper()
	cat := catalog.FromConfig([]config.ItemConfig{
		{ID: 1, Name: "Livro de Python", File: "books/python.pdf", Price: 12},
		{ID: 2, Name: "Livro de JavaScript", File: "books/javascript.pdf", Price: 12},
		{ID: 3, Name: "Livro de Banco de Dados", File: "books/banco.pdf", Price: 12},
	})
	store := session.NewStore(0)
	t.Cleanup(store.Close)

	tr := &fakeTransport{}
	ver := &fakeVerifier{}
	// A nil dispatcher makes the outbox send synchronously, so tests can
	// assert on ordering without waiting.
	eng := New(Config{Trigger: "teste", PixKey: "chave-pix"}, cat, store, NewOutbox(nil, tr), ver)
	return eng, store, tr, ver
}

func text(from, body string) transport.Inbound {
	return transport.Inbound{From: from, Text: body}
}

func TestTriggerStartsSession(t *testing.T) {
	eng, store, tr, _ := newTestEngine(t)

	eng.Handle(context.Background(), text("c1", "  TESTE "))

	sess, ok := store.Get("c1")
	if !ok || sess.Stage != session.StageStart {
		t.Fatalf("expected start session, got %+v ok=%v", sess, ok)
	}

	sent := tr.sent()
	if len(sent) != 3 {
		t.Fatalf("expected 3 greeting messages, got %d: %q", len(sent), sent)
	}
	if sent[0] != msgGreeting {
		t.Fatalf("first message = %q", sent[0])
	}
	if !strings.Contains(sent[1], "R$12") {
		t.Fatalf("price listing missing prices: %q", sent[1])
	}
}

func TestNoSessionIgnoresMessage(t *testing.T) {
	eng, store, tr, _ := newTestEngine(t)

	eng.Handle(context.Background(), text("c1", "quero o livro de python"))

	if _, ok := store.Get("c1"); ok {
		t.Fatal("no session should be created")
	}
	if sent := tr.sent(); len(sent) != 0 {
		t.Fatalf("no reply expected, got %q", sent)
	}
}

func TestTriggerIgnoredInGroups(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)

	eng.Handle(context.Background(), transport.Inbound{From: "g1", Text: "teste", IsGroup: true})

	if _, ok := store.Get("g1"); ok {
		t.Fatal("group trigger should not open a session")
	}
}

func TestSingleBookGoesToPayment(t *testing.T) {
	eng, store, tr, _ := newTestEngine(t)

	eng.Handle(context.Background(), text("c1", "teste"))
	eng.Handle(context.Background(), text("c1", "quero o livro de python"))

	sess, _ := store.Get("c1")
	if sess.Stage != session.StageAwaitingPayment {
		t.Fatalf("stage = %s, want awaiting_payment", sess.Stage)
	}

	sent := tr.sent()
	found := false
	for _, m := range sent {
		if strings.Contains(m, "R$12,00") {
			found = true
		}
	}
	if !found {
		t.Fatalf("total message missing: %q", sent)
	}
}

func TestUnknownBookKeepsBrowsing(t *testing.T) {
	eng, store, tr, _ := newTestEngine(t)

	eng.Handle(context.Background(), text("c1", "teste"))
	eng.Handle(context.Background(), text("c1", "quero o livro de cobol"))

	sess, _ := store.Get("c1")
	if sess.Stage != session.StageStart {
		t.Fatalf("stage = %s, want start", sess.Stage)
	}
	sent := tr.sent()
	if sent[len(sent)-1] != msgNotFound {
		t.Fatalf("last message = %q, want not-found", sent[len(sent)-1])
	}
}

func TestTwoBooksQualifyForGift(t *testing.T) {
	eng, store, tr, _ := newTestEngine(t)

	eng.Handle(context.Background(), text("c1", "teste"))
	eng.Handle(context.Background(), text("c1", "livro de python e livro de javascript"))

	sess, _ := store.Get("c1")
	if sess.Stage != session.StageAwaitingGift {
		t.Fatalf("stage = %s, want awaiting_gift", sess.Stage)
	}
	if sess.Units() != 2 {
		t.Fatalf("units = %d, want 2", sess.Units())
	}

	sent := tr.sent()
	if sent[len(sent)-2] != msgGiftPrompt {
		t.Fatalf("expected gift prompt, got %q", sent[len(sent)-2])
	}
}

func TestGiftChoiceMovesToPayment(t *testing.T) {
	eng, store, tr, _ := newTestEngine(t)

	eng.Handle(context.Background(), text("c1", "teste"))
	eng.Handle(context.Background(), text("c1", "livro de python e livro de javascript"))
	eng.Handle(context.Background(), text("c1", "livro de banco de dados"))

	sess, _ := store.Get("c1")
	if sess.Stage != session.StageAwaitingPayment {
		t.Fatalf("stage = %s, want awaiting_payment", sess.Stage)
	}
	if sess.Bonus != "Livro de Banco de Dados" {
		t.Fatalf("bonus = %q", sess.Bonus)
	}

	// Bonus stays free: total covers the two paid books only.
	sent := tr.sent()
	found := false
	for _, m := range sent {
		if strings.Contains(m, "R$24,00") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected R$24,00 total, got %q", sent)
	}
}

func TestGiftAlreadyOwnedIsRejected(t *testing.T) {
	eng, store, tr, _ := newTestEngine(t)

	eng.Handle(context.Background(), text("c1", "teste"))
	eng.Handle(context.Background(), text("c1", "livro de python e livro de javascript"))
	eng.Handle(context.Background(), text("c1", "livro de python"))

	sess, _ := store.Get("c1")
	if sess.Stage != session.StageAwaitingGift {
		t.Fatalf("stage = %s, want awaiting_gift", sess.Stage)
	}
	sent := tr.sent()
	if sent[len(sent)-1] != msgGiftInvalid {
		t.Fatalf("last message = %q, want gift-invalid", sent[len(sent)-1])
	}
}

func TestPaymentStageRequiresImage(t *testing.T) {
	eng, _, tr, ver := newTestEngine(t)

	eng.Handle(context.Background(), text("c1", "teste"))
	eng.Handle(context.Background(), text("c1", "livro de python"))
	eng.Handle(context.Background(), text("c1", "ja paguei"))

	sent := tr.sent()
	if sent[len(sent)-1] != msgNeedImage {
		t.Fatalf("last message = %q, want need-image", sent[len(sent)-1])
	}
	if ver.calls != 0 {
		t.Fatalf("verifier should not be called, got %d", ver.calls)
	}
}

func TestProofImageHandsOffToVerifier(t *testing.T) {
	eng, store, tr, ver := newTestEngine(t)

	eng.Handle(context.Background(), text("c1", "teste"))
	eng.Handle(context.Background(), text("c1", "livro de python"))
	eng.Handle(context.Background(), transport.Inbound{From: "c1", HasImage: true, MediaRef: "media-1"})

	sent := tr.sent()
	if sent[len(sent)-1] != msgVerifying {
		t.Fatalf("last message = %q, want verifying", sent[len(sent)-1])
	}
	if ver.calls != 1 || ver.customer != "c1" || ver.mediaRef != "media-1" {
		t.Fatalf("verifier call = %+v", ver)
	}
	if ver.version != store.Version("c1") {
		t.Fatalf("verifier version = %d, store version = %d", ver.version, store.Version("c1"))
	}
}

func TestTriggerRestartsMidSession(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)

	eng.Handle(context.Background(), text("c1", "teste"))
	eng.Handle(context.Background(), text("c1", "livro de python"))
	eng.Handle(context.Background(), text("c1", "teste"))

	sess, _ := store.Get("c1")
	if sess.Stage != session.StageStart {
		t.Fatalf("stage = %s, want start after restart", sess.Stage)
	}
	if len(sess.Items) != 0 {
		t.Fatalf("restart should clear selection, got %+v", sess.Items)
	}
}
