package llm

import (
	"sync"
	"time"
)

// Capabilities is the negotiated feature set for one model.
type Capabilities struct {
	Tools      bool
	Vision     bool
	MultiImage bool
	JSONMode   bool
}

type capabilityEntry struct {
	caps      Capabilities
	fetchedAt time.Time
}

// CapabilityStore caches negotiated model capabilities. Lookups hit
// the provider's model catalog once and are cached for ttl; unknown
// models resolve to an empty capability set so requests against them
// fail closed.
type CapabilityStore struct {
	mu      sync.RWMutex
	entries map[string]capabilityEntry
	ttl     time.Duration
	now     func() time.Time
}

const defaultCapabilityTTL = 10 * time.Minute

func NewCapabilityStore(ttl time.Duration) *CapabilityStore {
	if ttl <= 0 {
		ttl = defaultCapabilityTTL
	}
	return &CapabilityStore{
		entries: make(map[string]capabilityEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Resolve returns the capabilities of model under provider, consulting
// the cache first.
func (s *CapabilityStore) Resolve(provider Provider, model string) Capabilities {
	key := provider.Name() + "/" + model

	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if ok && s.now().Sub(entry.fetchedAt) < s.ttl {
		return entry.caps
	}

	caps := Capabilities{}
	for _, info := range provider.Models() {
		if info.ID == model {
			caps = Capabilities{
				Tools:      info.SupportsTools,
				Vision:     info.SupportsVision,
				MultiImage: info.SupportsMultiImage,
				JSONMode:   info.SupportsJSONMode,
			}
			break
		}
	}

	s.mu.Lock()
	s.entries[key] = capabilityEntry{caps: caps, fetchedAt: s.now()}
	s.mu.Unlock()
	return caps
}

// Invalidate drops any cached entry for the given provider/model.
func (s *CapabilityStore) Invalidate(providerName, model string) {
	s.mu.Lock()
	delete(s.entries, providerName+"/"+model)
	s.mu.Unlock()
}
