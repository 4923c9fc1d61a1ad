package profile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/trustplane/internal/fault"
	"github.com/ppiankov/trustplane/internal/model"
	"github.com/ppiankov/trustplane/internal/trust"
)

func sampleProfile(agentID string, version int, at time.Time) trust.Profile {
	return trust.Profile{
		AgentID:         agentID,
		Dimensions:      trust.Dimensions{CT: 40, AC: 50},
		Weights:         trust.Canonical(),
		CompositeScore:  269,
		ObservationTier: model.ObservationInstrumented,
		AdjustedScore:   269,
		Band:            model.BandProbationary,
		Evidence: []trust.Evidence{
			{EvidenceID: "evd-1", AgentID: agentID, Dimension: model.DimCumulative, Delta: 40, OccurredAt: at},
		},
		CalculatedAt: at,
		Version:      version,
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemoryStore("")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := s.Save(ctx, sampleProfile("agent-1", 1, now)); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Get(ctx, "agent-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AgentID != "agent-1" || got.Version != 1 {
		t.Fatalf("wrong profile back: %+v", got)
	}

	// Mutating the returned copy must not leak into the store.
	got.Evidence[0].Delta = 999
	again, _ := s.Get(ctx, "agent-1")
	if again.Evidence[0].Delta == 999 {
		t.Fatal("store returned a shared evidence slice")
	}

	ok, err := s.Exists(ctx, "agent-1")
	if err != nil || !ok {
		t.Fatalf("exists = %v, %v", ok, err)
	}
	if err := s.Delete(ctx, "agent-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "agent-1"); fault.CodeOf(err) != fault.CodeNotFound {
		t.Fatalf("get after delete: %v", err)
	}
	if err := s.Delete(ctx, "agent-1"); fault.CodeOf(err) != fault.CodeNotFound {
		t.Fatalf("double delete: %v", err)
	}
}

func TestMemoryStoreOptimisticVersioning(t *testing.T) {
	ctx := context.Background()
	s, _ := NewMemoryStore("")
	now := time.Now().UTC()

	if err := s.Save(ctx, sampleProfile("agent-1", 1, now)); err != nil {
		t.Fatalf("save v1: %v", err)
	}
	if err := s.Save(ctx, sampleProfile("agent-1", 2, now)); err != nil {
		t.Fatalf("save v2: %v", err)
	}
	// A writer that also derived v2 from v1 must lose.
	if err := s.Save(ctx, sampleProfile("agent-1", 2, now)); fault.CodeOf(err) != fault.CodeConflict {
		t.Fatalf("concurrent v2 write: %v", err)
	}
	// Skipping versions is equally stale bookkeeping.
	if err := s.Save(ctx, sampleProfile("agent-1", 5, now)); fault.CodeOf(err) != fault.CodeConflict {
		t.Fatalf("v5 write over v2: %v", err)
	}
}

func TestMemoryStoreQuery(t *testing.T) {
	ctx := context.Background()
	s, _ := NewMemoryStore("")
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	old := sampleProfile("agent-old", 1, base)
	mid := sampleProfile("agent-mid", 1, base.Add(12*time.Hour))
	fresh := sampleProfile("agent-new", 1, base.Add(36*time.Hour))
	fresh.Band = model.BandLimited
	for _, p := range []trust.Profile{fresh, old, mid} {
		if err := s.Save(ctx, p); err != nil {
			t.Fatalf("save %s: %v", p.AgentID, err)
		}
	}

	stale, err := s.Query(ctx, Query{CalculatedBefore: base.Add(24 * time.Hour)})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(stale) != 2 {
		t.Fatalf("stale query returned %d profiles, want 2", len(stale))
	}
	if stale[0].AgentID != "agent-old" || stale[1].AgentID != "agent-mid" {
		t.Fatalf("stale profiles not oldest-first: %s, %s", stale[0].AgentID, stale[1].AgentID)
	}

	banded, err := s.Query(ctx, Query{Band: model.BandLimited})
	if err != nil {
		t.Fatalf("band query: %v", err)
	}
	if len(banded) != 1 || banded[0].AgentID != "agent-new" {
		t.Fatalf("band filter wrong: %+v", banded)
	}

	limited, err := s.Query(ctx, Query{Limit: 1})
	if err != nil {
		t.Fatalf("limit query: %v", err)
	}
	if len(limited) != 1 || limited[0].AgentID != "agent-old" {
		t.Fatalf("limit should keep the oldest: %+v", limited)
	}
}

func TestMemoryStoreSnapshot(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "profiles.json")

	s, err := NewMemoryStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	now := time.Now().UTC()
	if err := s.Save(ctx, sampleProfile("agent-1", 1, now)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, sampleProfile("agent-2", 1, now)); err != nil {
		t.Fatalf("save: %v", err)
	}

	reopened, err := NewMemoryStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	for _, id := range []string{"agent-1", "agent-2"} {
		if _, err := reopened.Get(ctx, id); err != nil {
			t.Fatalf("profile %s lost across reopen: %v", id, err)
		}
	}

	if err := os.WriteFile(path, []byte("{broken"), 0o600); err != nil {
		t.Fatalf("corrupt snapshot: %v", err)
	}
	if _, err := NewMemoryStore(path); err == nil {
		t.Fatal("corrupt snapshot accepted silently")
	}
}

func TestMemoryStoreMissingSnapshotIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never-written.json")
	s, err := NewMemoryStore(path)
	if err != nil {
		t.Fatalf("missing snapshot should not error: %v", err)
	}
	got, err := s.Query(context.Background(), Query{})
	if err != nil || len(got) != 0 {
		t.Fatalf("fresh store not empty: %v, %v", got, err)
	}
}
