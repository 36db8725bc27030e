package llm

import (
	"testing"
	"time"
)

func TestCapabilityStoreCachesLookups(t *testing.T) {
	provider := &fakeProvider{catalog: []ModelInfo{{ID: "m1", SupportsTools: true}}}
	store := NewCapabilityStore(time.Minute)

	caps := store.Resolve(provider, "m1")
	if !caps.Tools || caps.Vision {
		t.Fatalf("caps = %+v", caps)
	}

	// A catalog change is invisible until the entry is invalidated.
	provider.catalog = []ModelInfo{{ID: "m1", SupportsTools: true, SupportsVision: true}}
	if caps := store.Resolve(provider, "m1"); caps.Vision {
		t.Error("cached entry bypassed")
	}

	store.Invalidate("fake", "m1")
	if caps := store.Resolve(provider, "m1"); !caps.Vision {
		t.Error("invalidated entry not refreshed")
	}
}

func TestCapabilityStoreUnknownModelFailsClosed(t *testing.T) {
	provider := &fakeProvider{catalog: []ModelInfo{{ID: "m1", SupportsTools: true}}}
	store := NewCapabilityStore(time.Minute)

	caps := store.Resolve(provider, "never-heard-of-it")
	if caps.Tools || caps.Vision || caps.MultiImage || caps.JSONMode {
		t.Errorf("caps = %+v, want empty", caps)
	}
}

func TestCapabilityStoreExpiresEntries(t *testing.T) {
	provider := &fakeProvider{catalog: []ModelInfo{{ID: "m1"}}}
	store := NewCapabilityStore(time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }

	store.Resolve(provider, "m1")
	provider.catalog = []ModelInfo{{ID: "m1", SupportsTools: true}}

	now = now.Add(2 * time.Minute)
	if caps := store.Resolve(provider, "m1"); !caps.Tools {
		t.Error("entry survived past TTL")
	}
}
