// Package configstore holds the live Agent Configuration behind
// the same single-owner, RWMutex-guarded snapshot pattern the Container
// Registry uses: readers never block a writer for longer than a copy, and
// a writer never hands out a reference another goroutine could mutate
// concurrently.
package configstore

import (
	"sync"

	"github.com/artpar/watchtower-agent/internal/core/agentconfig"
)

// Store is the single owner of the running Agent Configuration.
type Store struct {
	mu  sync.RWMutex
	cfg agentconfig.Config
}

// New creates a Store seeded with cfg.
func New(cfg agentconfig.Config) *Store {
	return &Store{cfg: cfg}
}

// Get returns a copy of the current configuration.
func (s *Store) Get() agentconfig.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Apply validates patch against the current configuration and, if valid,
// installs the merged result. Returns the resulting configuration.
func (s *Store) Apply(patch agentconfig.Patch) (agentconfig.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := agentconfig.Merge(s.cfg, patch)
	if err := agentconfig.Validate(merged); err != nil {
		return s.cfg, err
	}
	s.cfg = merged
	return s.cfg, nil
}
