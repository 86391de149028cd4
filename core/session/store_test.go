package session

import (
	"sync"
	"testing"
	"time"
)

func TestPutBumpsVersion(t *testing.T) {
	s := NewStore(0)
	defer s.Close()

	s.Put("c1", &Session{Stage: StageStart})
	if v := s.Version("c1"); v != 1 {
		t.Fatalf("version after first put = %d, want 1", v)
	}

	sess, _ := s.Get("c1")
	sess.Stage = StageAwaitingPayment
	s.Put("c1", sess)
	if v := s.Version("c1"); v != 2 {
		t.Fatalf("version after second put = %d, want 2", v)
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	s := NewStore(0)
	defer s.Close()

	s.Put("c1", &Session{Stage: StageStart, Items: []SelectedItem{{ID: 1, Name: "a", Qty: 1}}})

	snap, ok := s.Get("c1")
	if !ok {
		t.Fatal("expected session")
	}
	snap.Items[0].Qty = 99
	snap.Stage = StageAwaitingGift

	again, _ := s.Get("c1")
	if again.Items[0].Qty != 1 || again.Stage != StageStart {
		t.Fatalf("stored session mutated through snapshot: %+v", again)
	}
}

func TestDeleteAndVersionZero(t *testing.T) {
	s := NewStore(0)
	defer s.Close()

	s.Put("c1", &Session{Stage: StageStart})
	s.Delete("c1")

	if _, ok := s.Get("c1"); ok {
		t.Fatal("session should be gone")
	}
	if v := s.Version("c1"); v != 0 {
		t.Fatalf("version of missing session = %d, want 0", v)
	}
}

func TestDoSerializesPerCustomer(t *testing.T) {
	s := NewStore(0)
	defer s.Close()

	const goroutines = 20
	counter := 0
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			s.Do("c1", func() {
				counter++
			})
		}()
	}
	wg.Wait()

	if counter != goroutines {
		t.Fatalf("counter = %d, want %d", counter, goroutines)
	}
}

func TestEvictIdle(t *testing.T) {
	s := NewStore(0)
	defer s.Close()
	s.idleTTL = 10 * time.Minute

	s.Put("old", &Session{Stage: StageStart})
	s.Put("fresh", &Session{Stage: StageStart})

	s.mu.Lock()
	s.sessions["old"].UpdatedAt = time.Now().Add(-time.Hour)
	s.mu.Unlock()

	s.evictIdle(time.Now())

	if _, ok := s.Get("old"); ok {
		t.Fatal("idle session should be evicted")
	}
	if _, ok := s.Get("fresh"); !ok {
		t.Fatal("fresh session should survive")
	}
}

func TestAddAndUnits(t *testing.T) {
	sess := &Session{}
	sess.Add(1, "a")
	sess.Add(2, "b")
	sess.Add(1, "a")

	if len(sess.Items) != 2 {
		t.Fatalf("expected 2 distinct items, got %d", len(sess.Items))
	}
	if sess.Items[0].Qty != 2 {
		t.Fatalf("repeat selection should bump qty, got %d", sess.Items[0].Qty)
	}
	if sess.Units() != 3 {
		t.Fatalf("Units() = %d, want 3", sess.Units())
	}
	if !sess.Has("b") || sess.Has("c") {
		t.Fatal("Has() misreports membership")
	}
}
