package chat

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/boxbot-dev/boxbot/pkg/models"
)

func TestSessionKey(t *testing.T) {
	key := SessionKey("secret-token")
	if key == "secret-token" {
		t.Error("raw token used as key")
	}
	if len(key) != 64 {
		t.Errorf("key length = %d, want 64 hex chars", len(key))
	}
	if strings.Contains(key, "secret") {
		t.Error("key leaks token material")
	}
	if SessionKey("secret-token") != key {
		t.Error("key not deterministic")
	}
	if SessionKey("other-token") == key {
		t.Error("distinct tokens collide")
	}
}

func TestStoreGetSameTokenSameSession(t *testing.T) {
	s := NewStore()
	first := s.Get("tok-a")
	first.AddMessage(models.ChatMessage{Role: models.RoleUser, Content: "hi"})

	if again := s.Get("tok-a"); again != first {
		t.Error("same token produced a different session")
	}
	if other := s.Get("tok-b"); other == first {
		t.Error("different tokens share a session")
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
}

func TestStoreConcurrentGetSameToken(t *testing.T) {
	s := NewStore()

	const callers = 16
	sessions := make([]*Session, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i] = s.Get("tok")
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if sessions[i] != sessions[0] {
			t.Fatalf("caller %d got a different session instance", i)
		}
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestStoreEvictsIdleSessionOnAccess(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now, advance := fixedClock(base)
	s := NewStore(WithSessionTTL(10 * time.Minute))
	s.now = now

	first := s.Get("tok")
	first.AddMessage(models.ChatMessage{Role: models.RoleUser, Content: "hi"})

	advance(11 * time.Minute)
	replacement := s.Get("tok")
	if replacement == first {
		t.Error("idle session survived past TTL")
	}
	if replacement.Len() != 0 {
		t.Error("replacement session inherited history")
	}
}

func TestStoreKeepsActiveSession(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now, advance := fixedClock(base)
	s := NewStore(WithSessionTTL(10 * time.Minute))
	s.now = now

	first := s.Get("tok")
	advance(6 * time.Minute)
	session := s.Get("tok")
	if session != first {
		t.Fatal("session evicted before TTL")
	}
	// Reading the history counts as activity, so another 6 minutes
	// still lands inside the window.
	session.History(0)
	advance(6 * time.Minute)
	if s.Get("tok") != first {
		t.Error("active session evicted")
	}
}

func TestStoreSweepIsAmortized(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now, advance := fixedClock(base)
	s := NewStore(WithSessionTTL(10*time.Minute), WithSweepInterval(time.Minute))
	s.now = now

	s.Get("idle-1")
	s.Get("idle-2")

	// All sessions idle past TTL. The next access sweeps them out.
	advance(15 * time.Minute)
	s.Get("fresh")
	if got := s.Len(); got != 1 {
		t.Errorf("Len after sweep = %d, want 1", got)
	}

	// Within the sweep interval no second sweep runs: an expired
	// session created just before stays until the interval lapses.
	s.sessions["stale"] = newSessionAt("stale", func() time.Time {
		return base
	})
	advance(30 * time.Second)
	s.Get("fresh")
	if _, ok := s.sessions["stale"]; !ok {
		t.Error("sweep ran inside the interval")
	}
	advance(time.Minute)
	s.Get("fresh")
	if _, ok := s.sessions["stale"]; ok {
		t.Error("stale session survived the next sweep")
	}
}

func TestStoreDeleteAndClear(t *testing.T) {
	s := NewStore()
	s.Get("tok-a")
	s.Get("tok-b")

	s.Delete("tok-a")
	if s.Len() != 1 {
		t.Errorf("Len after Delete = %d, want 1", s.Len())
	}

	s.ClearAll()
	if s.Len() != 0 {
		t.Errorf("Len after ClearAll = %d, want 0", s.Len())
	}
}

func TestStoreNilMetricsSafe(t *testing.T) {
	s := NewStore()
	s.Get("tok")
	s.Delete("tok")
	s.ClearAll()
}
