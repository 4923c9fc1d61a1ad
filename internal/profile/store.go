// Package profile owns the trust profile lifecycle: creation, evidence
// updates, staleness refresh and violation detection, over a pluggable
// store.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/trustplane/internal/fault"
	"github.com/ppiankov/trustplane/internal/model"
	"github.com/ppiankov/trustplane/internal/trust"
)

// Query filters profile listings. Zero-valued fields do not filter.
type Query struct {
	Band             model.Band
	ObservationTier  model.ObservationTier
	CalculatedBefore time.Time
	Limit            int
}

// Store persists trust profiles keyed by agent ID. Save enforces optimistic
// versioning: a write whose version is not exactly one past the stored
// version is rejected with a conflict, so concurrent updates to the same
// agent cannot silently lose evidence.
type Store interface {
	Get(ctx context.Context, agentID string) (trust.Profile, error)
	Save(ctx context.Context, p trust.Profile) error
	Delete(ctx context.Context, agentID string) error
	Exists(ctx context.Context, agentID string) (bool, error)
	Query(ctx context.Context, q Query) ([]trust.Profile, error)
}

// MemoryStore keeps profiles in memory with an optional JSON snapshot on
// disk, reloaded at construction and rewritten after every mutation.
type MemoryStore struct {
	mu       sync.RWMutex
	path     string
	profiles map[string]trust.Profile
}

// NewMemoryStore builds a store. An empty path disables snapshotting.
func NewMemoryStore(path string) (*MemoryStore, error) {
	s := &MemoryStore{
		path:     path,
		profiles: make(map[string]trust.Profile),
	}
	if strings.TrimSpace(path) == "" {
		return s, nil
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MemoryStore) Get(_ context.Context, agentID string) (trust.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[agentID]
	if !ok {
		return trust.Profile{}, fault.NotFound("no profile for agent %s", agentID)
	}
	return copyProfile(p), nil
}

func (s *MemoryStore) Save(_ context.Context, p trust.Profile) error {
	if p.AgentID == "" {
		return fault.Validation("profile has no agentId")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.profiles[p.AgentID]; ok && p.Version != existing.Version+1 {
		return fault.Conflict("stale write for %s: stored v%d, incoming v%d",
			p.AgentID, existing.Version, p.Version)
	}
	s.profiles[p.AgentID] = copyProfile(p)
	return s.persistLocked()
}

func (s *MemoryStore) Delete(_ context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[agentID]; !ok {
		return fault.NotFound("no profile for agent %s", agentID)
	}
	delete(s.profiles, agentID)
	return s.persistLocked()
}

func (s *MemoryStore) Exists(_ context.Context, agentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.profiles[agentID]
	return ok, nil
}

func (s *MemoryStore) Query(_ context.Context, q Query) ([]trust.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]trust.Profile, 0)
	for _, p := range s.profiles {
		if !matchesQuery(p, q) {
			continue
		}
		out = append(out, copyProfile(p))
	}
	// Oldest first so batch refresh drains the stalest profiles first.
	sort.Slice(out, func(i, j int) bool {
		if out[i].CalculatedAt.Equal(out[j].CalculatedAt) {
			return out[i].AgentID < out[j].AgentID
		}
		return out[i].CalculatedAt.Before(out[j].CalculatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func matchesQuery(p trust.Profile, q Query) bool {
	if q.Band != "" && p.Band != q.Band {
		return false
	}
	if q.ObservationTier != "" && p.ObservationTier != q.ObservationTier {
		return false
	}
	if !q.CalculatedBefore.IsZero() && !p.CalculatedAt.Before(q.CalculatedBefore) {
		return false
	}
	return true
}

func copyProfile(p trust.Profile) trust.Profile {
	p.Evidence = append([]trust.Evidence(nil), p.Evidence...)
	return p
}

type snapshot struct {
	Profiles []trust.Profile `json:"profiles"`
}

func (s *MemoryStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read profile snapshot: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse profile snapshot %s: %w", s.path, err)
	}
	for _, p := range snap.Profiles {
		s.profiles[p.AgentID] = p
	}
	return nil
}

// persistLocked writes the snapshot atomically via temp file + rename.
func (s *MemoryStore) persistLocked() error {
	if s.path == "" {
		return nil
	}
	snap := snapshot{Profiles: make([]trust.Profile, 0, len(s.profiles))}
	for _, p := range s.profiles {
		snap.Profiles = append(snap.Profiles, p)
	}
	sort.Slice(snap.Profiles, func(i, j int) bool {
		return snap.Profiles[i].AgentID < snap.Profiles[j].AgentID
	})

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal profile snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write profile snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace profile snapshot: %w", err)
	}
	return nil
}
