package profile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ppiankov/trustplane/internal/config"
	"github.com/ppiankov/trustplane/internal/fault"
	"github.com/ppiankov/trustplane/internal/model"
	"github.com/ppiankov/trustplane/internal/notify"
	"github.com/ppiankov/trustplane/internal/tracer"
	"github.com/ppiankov/trustplane/internal/trust"
)

// ViolationKind distinguishes what kind of drop triggered a violation.
type ViolationKind string

const (
	ViolationBandDrop  ViolationKind = "band_drop"
	ViolationScoreDrop ViolationKind = "score_drop"
)

// Violation describes a trust regression between two profile states.
type Violation struct {
	AgentID      string         `json:"agentId"`
	Kind         ViolationKind  `json:"kind"`
	Severity     model.Severity `json:"severity"`
	PrevBand     model.Band     `json:"prevBand"`
	NewBand      model.Band     `json:"newBand"`
	PrevScore    int            `json:"prevScore"`
	NewScore     int            `json:"newScore"`
	BandDrop     int            `json:"bandDrop,omitempty"`
	ScoreDropPct float64        `json:"scoreDropPct,omitempty"`
	OccurredAt   time.Time      `json:"occurredAt"`
}

// Change describes one profile transition, violating or not.
type Change struct {
	AgentID    string     `json:"agentId"`
	Cause      string     `json:"cause"` // create | update | refresh
	PrevScore  int        `json:"prevScore"`
	NewScore   int        `json:"newScore"`
	PrevBand   model.Band `json:"prevBand,omitempty"`
	NewBand    model.Band `json:"newBand"`
	Version    int        `json:"version"`
	OccurredAt time.Time  `json:"occurredAt"`
}

// CreateParams describes a new agent profile.
type CreateParams struct {
	AgentID         string
	ObservationTier model.ObservationTier
	CreationType    model.CreationType
	Evidence        []trust.Evidence // optional initial evidence, after the seed
	Weights         trust.Weights    // zero value uses the configured base
	DomainPreset    string           // optional named weight preset
}

// Service wraps the calculator with a store, per-agent locking and
// notifications.
type Service struct {
	store        Store
	calc         *trust.Calculator
	hub          *notify.Hub
	baseWeights  trust.Weights
	strategy     trust.Strategy
	presets      map[string][]trust.Delta
	staleness    time.Duration
	bandDropMin  int
	scoreDropPct float64

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

// NewService builds the service from trust configuration. The hub may be
// nil when no listeners exist.
func NewService(store Store, hub *notify.Hub, cfg config.TrustConfig) (*Service, error) {
	presets, err := trust.PresetsFromConfig(cfg.Presets)
	if err != nil {
		return nil, err
	}
	strategy := trust.Strategy(cfg.MergeStrategy)
	if cfg.MergeStrategy == "" {
		strategy = trust.StrategyCanonical
	}
	if !strategy.Valid() {
		return nil, fault.Validation("unknown merge strategy %q", cfg.MergeStrategy)
	}
	s := &Service{
		store:        store,
		calc:         trust.NewCalculator(cfg.DecayRatePct),
		hub:          hub,
		baseWeights:  trust.WeightsFromConfig(cfg.Weights),
		strategy:     strategy,
		presets:      presets,
		staleness:    time.Duration(cfg.StalenessHours) * time.Hour,
		bandDropMin:  cfg.BandDropMin,
		scoreDropPct: cfg.ScoreDropPct,
		locks:        make(map[string]*sync.Mutex),
		now:          time.Now,
	}
	if s.staleness <= 0 {
		s.staleness = 24 * time.Hour
	}
	if s.bandDropMin <= 0 {
		s.bandDropMin = 1
	}
	if s.scoreDropPct <= 0 {
		s.scoreDropPct = 20
	}
	return s, nil
}

// Create builds and stores a profile for a new agent. It conflicts if one
// already exists. The creation-type seed is applied as the first evidence.
func (s *Service) Create(ctx context.Context, params CreateParams) (trust.Profile, error) {
	if params.AgentID == "" {
		return trust.Profile{}, fault.Validation("agentId must not be empty")
	}
	if !params.CreationType.Valid() {
		return trust.Profile{}, fault.Validation("unknown creation type %q", params.CreationType)
	}
	unlock := s.lockAgent(params.AgentID)
	defer unlock()

	exists, err := s.store.Exists(ctx, params.AgentID)
	if err != nil {
		return trust.Profile{}, err
	}
	if exists {
		return trust.Profile{}, fault.Conflict("profile for agent %s already exists", params.AgentID)
	}

	weights, err := s.resolveWeights(params.Weights, params.DomainPreset)
	if err != nil {
		return trust.Profile{}, err
	}

	now := s.now().UTC()
	evidence := append(
		[]trust.Evidence{trust.SeedEvidence(params.AgentID, params.CreationType, now)},
		params.Evidence...)
	s.stampEvidence(params.AgentID, evidence, now)

	p, err := s.calc.Calculate(params.AgentID, params.ObservationTier, evidence, weights)
	if err != nil {
		return trust.Profile{}, err
	}
	p.CreationType = params.CreationType

	if err := s.store.Save(ctx, p); err != nil {
		return trust.Profile{}, err
	}
	s.publishChange(Change{
		AgentID:    p.AgentID,
		Cause:      "create",
		NewScore:   p.AdjustedScore,
		NewBand:    p.Band,
		Version:    p.Version,
		OccurredAt: now,
	})
	return p, nil
}

// Get returns the stored profile for an agent.
func (s *Service) Get(ctx context.Context, agentID string) (trust.Profile, error) {
	return s.store.Get(ctx, agentID)
}

// Update folds new evidence into an existing profile and persists the
// result. Violations detected against the previous state are published.
func (s *Service) Update(ctx context.Context, agentID string, evidence []trust.Evidence) (trust.Profile, error) {
	if agentID == "" {
		return trust.Profile{}, fault.Validation("agentId must not be empty")
	}
	unlock := s.lockAgent(agentID)
	defer unlock()

	prev, err := s.store.Get(ctx, agentID)
	if err != nil {
		return trust.Profile{}, err
	}

	now := s.now().UTC()
	s.stampEvidence(agentID, evidence, now)

	next, err := s.calc.Recalculate(prev, evidence)
	if err != nil {
		return trust.Profile{}, err
	}
	if err := s.store.Save(ctx, next); err != nil {
		return trust.Profile{}, err
	}
	s.publishTransition(prev, next, "update", now)
	return next, nil
}

// Refresh applies decay when the profile is stale or force is set. The
// second return reports whether a refresh actually happened.
func (s *Service) Refresh(ctx context.Context, agentID string, force bool) (trust.Profile, bool, error) {
	if agentID == "" {
		return trust.Profile{}, false, fault.Validation("agentId must not be empty")
	}
	unlock := s.lockAgent(agentID)
	defer unlock()

	prev, err := s.store.Get(ctx, agentID)
	if err != nil {
		return trust.Profile{}, false, err
	}
	now := s.now().UTC()
	if !force && now.Sub(prev.CalculatedAt) <= s.staleness {
		return prev, false, nil
	}

	next, err := s.calc.ApplyDecay(prev, now)
	if err != nil {
		return trust.Profile{}, false, err
	}
	if err := s.store.Save(ctx, next); err != nil {
		return trust.Profile{}, false, err
	}
	s.publishTransition(prev, next, "refresh", now)
	return next, true, nil
}

// Delete removes a profile. Administrative action only.
func (s *Service) Delete(ctx context.Context, agentID string) error {
	unlock := s.lockAgent(agentID)
	defer unlock()
	return s.store.Delete(ctx, agentID)
}

// RefreshStale decays every profile older than the staleness window and
// returns how many were refreshed. Individual failures are logged and do
// not stop the batch.
func (s *Service) RefreshStale(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.staleness)
	stale, err := s.store.Query(ctx, Query{CalculatedBefore: cutoff})
	if err != nil {
		return 0, err
	}
	refreshed := 0
	for _, p := range stale {
		if _, did, err := s.Refresh(ctx, p.AgentID, false); err != nil {
			slog.Warn("stale refresh failed", "agent", p.AgentID, "error", err)
		} else if did {
			refreshed++
		}
	}
	return refreshed, nil
}

// List queries stored profiles. A zero query returns everything the
// backend holds.
func (s *Service) List(ctx context.Context, q Query) ([]trust.Profile, error) {
	return s.store.Query(ctx, q)
}

// Staleness returns the configured staleness window.
func (s *Service) Staleness() time.Duration {
	return s.staleness
}

func (s *Service) resolveWeights(explicit trust.Weights, preset string) (trust.Weights, error) {
	base := s.baseWeights
	if explicit != (trust.Weights{}) {
		base = explicit
	}
	if preset == "" {
		return trust.Merge(base, nil, trust.StrategyCanonical, s.now())
	}
	deltas, ok := s.presets[preset]
	if !ok {
		return trust.Weights{}, fault.NotFound("no weight preset named %q", preset)
	}
	strategy := s.strategy
	if strategy == trust.StrategyCanonical {
		// A named preset is an explicit request to apply deltas.
		strategy = trust.StrategyDeltaOverride
	}
	return trust.Merge(base, deltas, strategy, s.now())
}

// stampEvidence fills in IDs, agent ID and timestamps left empty by the
// caller.
func (s *Service) stampEvidence(agentID string, evidence []trust.Evidence, now time.Time) {
	for i := range evidence {
		if evidence[i].EvidenceID == "" {
			evidence[i].EvidenceID = tracer.NewEvidenceID()
		}
		if evidence[i].AgentID == "" {
			evidence[i].AgentID = agentID
		}
		if evidence[i].OccurredAt.IsZero() {
			evidence[i].OccurredAt = now
		}
	}
}

func (s *Service) publishTransition(prev, next trust.Profile, cause string, now time.Time) {
	s.publishChange(Change{
		AgentID:    next.AgentID,
		Cause:      cause,
		PrevScore:  prev.AdjustedScore,
		NewScore:   next.AdjustedScore,
		PrevBand:   prev.Band,
		NewBand:    next.Band,
		Version:    next.Version,
		OccurredAt: now,
	})
	for _, v := range s.violations(prev, next, now) {
		if s.hub != nil {
			s.hub.Publish(notify.TopicTrustViolation, v)
		}
		slog.Warn("trust violation",
			"agent", v.AgentID, "kind", string(v.Kind), "severity", v.Severity.String(),
			"prevBand", string(v.PrevBand), "newBand", string(v.NewBand),
			"prevScore", v.PrevScore, "newScore", v.NewScore)
	}
}

func (s *Service) publishChange(c Change) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(notify.TopicTrustChange, c)
}

// violations compares two profile states and reports band and score drops
// that cross the configured thresholds.
func (s *Service) violations(prev, next trust.Profile, now time.Time) []Violation {
	var out []Violation

	drop := prev.Band.Rank() - next.Band.Rank()
	if drop >= s.bandDropMin {
		sev := model.SeverityHigh
		if drop >= 2 {
			sev = model.SeverityCritical
		}
		out = append(out, Violation{
			AgentID:    next.AgentID,
			Kind:       ViolationBandDrop,
			Severity:   sev,
			PrevBand:   prev.Band,
			NewBand:    next.Band,
			PrevScore:  prev.AdjustedScore,
			NewScore:   next.AdjustedScore,
			BandDrop:   drop,
			OccurredAt: now,
		})
	}

	if prev.AdjustedScore > 0 && next.AdjustedScore < prev.AdjustedScore {
		pct := float64(prev.AdjustedScore-next.AdjustedScore) / float64(prev.AdjustedScore) * 100
		if pct >= s.scoreDropPct {
			sev := model.SeverityMedium
			switch {
			case pct >= 50:
				sev = model.SeverityCritical
			case pct >= 35:
				sev = model.SeverityHigh
			}
			out = append(out, Violation{
				AgentID:      next.AgentID,
				Kind:         ViolationScoreDrop,
				Severity:     sev,
				PrevBand:     prev.Band,
				NewBand:      next.Band,
				PrevScore:    prev.AdjustedScore,
				NewScore:     next.AdjustedScore,
				ScoreDropPct: pct,
				OccurredAt:   now,
			})
		}
	}
	return out
}

// lockAgent serializes operations on one agent's profile.
func (s *Service) lockAgent(agentID string) func() {
	s.mu.Lock()
	l, ok := s.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[agentID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}
