package ledger

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/trustplane/internal/config"
	"github.com/ppiankov/trustplane/internal/fault"
	"github.com/ppiankov/trustplane/internal/model"
	"github.com/ppiankov/trustplane/internal/notify"
	"github.com/ppiankov/trustplane/internal/redact"
	"github.com/ppiankov/trustplane/internal/tracer"
)

const isoMillis = "2006-01-02T15:04:05.000Z"

// OpenStore builds the configured ledger backend.
func OpenStore(cfg config.LedgerConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, fault.Validation("ledger backend file needs a path")
		}
		return OpenFileStore(cfg.Path)
	case "sqlite":
		if strings.TrimSpace(cfg.SQLitePath) == "" {
			return nil, fault.Validation("ledger backend sqlite needs sqlite_path")
		}
		return OpenSQLiteStore(cfg.SQLitePath)
	}
	return nil, fault.Validation("unknown ledger backend %q", cfg.Backend)
}

// Service owns the chain state: one append at a time, monotonic
// positions, each event linked to the hash of its predecessor. Emitted
// events go to EVENT_EMITTED subscribers after they are persisted.
type Service struct {
	mu       sync.Mutex
	store    Store
	hub      *notify.Hub
	position uint64
	prevHash string
	signer   ed25519.PrivateKey

	now func() time.Time
}

// NewService opens the chain over a store, recovering the tail from the
// stored head. hub may be nil for read-only uses.
func NewService(store Store, hub *notify.Hub, cfg config.LedgerConfig) (*Service, error) {
	s := &Service{store: store, hub: hub, prevHash: GenesisHash, now: time.Now}

	if head, ok, err := store.Head(context.Background()); err != nil {
		return nil, err
	} else if ok {
		s.position = head.ChainPosition
		s.prevHash = head.Hash
	}

	if key := strings.TrimSpace(cfg.SigningKeyHex); key != "" {
		seed, err := hex.DecodeString(key)
		if err != nil || len(seed) != ed25519.SeedSize {
			return nil, fault.Validation("signing_key_hex must be %d bytes of hex", ed25519.SeedSize)
		}
		s.signer = ed25519.NewKeyFromSeed(seed)
	}
	return s, nil
}

// LogEvent appends one event to the chain. An empty correlation ID gets
// a generated one. The event is persisted before subscribers hear about
// it; a failed append leaves the chain untouched and returns the error.
func (s *Service) LogEvent(ctx context.Context, eventType EventType, correlationID string, payload any, agentID string) (Event, error) {
	if !eventType.Valid() {
		return Event{}, fault.Validation("unknown event type %q", eventType)
	}
	if strings.TrimSpace(correlationID) == "" {
		correlationID = tracer.NewCorrelationID()
	}
	var raw json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fault.Validation("unencodable %s payload: %v", eventType, err)
		}
		raw = encoded
	}

	s.mu.Lock()
	e := Event{
		EventID:       tracer.NewEventID(),
		EventType:     eventType,
		CorrelationID: correlationID,
		AgentID:       agentID,
		Payload:       raw,
		OccurredAt:    s.now().UTC().Format(isoMillis),
		ChainPosition: s.position + 1,
		PrevHash:      s.prevHash,
	}
	hash, err := ComputeHash(e)
	if err != nil {
		s.mu.Unlock()
		return Event{}, err
	}
	e.Hash = hash
	if err := s.store.Append(ctx, e); err != nil {
		s.mu.Unlock()
		return Event{}, err
	}
	s.position = e.ChainPosition
	s.prevHash = e.Hash
	s.mu.Unlock()

	if s.hub != nil {
		s.hub.Publish(notify.TopicEventEmitted, e)
	}
	return e, nil
}

// IntentPayload records the intake of one intent. Params are captured
// with credentials scrubbed: the chain is append-only, so a secret
// logged once could never be removed.
type IntentPayload struct {
	IntentID   string         `json:"intentId"`
	ActionType string         `json:"actionType"`
	Domain     string         `json:"domain,omitempty"`
	Role       string         `json:"role,omitempty"`
	Tier       string         `json:"tier,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
}

// DecisionPayload records an authorization outcome.
type DecisionPayload struct {
	Permitted     bool   `json:"permitted"`
	Reason        string `json:"reason"`
	Source        string `json:"source"`
	Role          string `json:"role"`
	Tier          string `json:"tier"`
	Domain        string `json:"domain,omitempty"`
	PolicyVersion string `json:"policyVersion,omitempty"`
}

// TrustDeltaPayload records a score transition.
type TrustDeltaPayload struct {
	Cause     string `json:"cause"`
	PrevScore int    `json:"prevScore"`
	NewScore  int    `json:"newScore"`
	PrevBand  string `json:"prevBand"`
	NewBand   string `json:"newBand"`
}

// ExecutionPayload records an execution phase event.
type ExecutionPayload struct {
	ActionType string `json:"actionType"`
	DurationMS int64  `json:"durationMs,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ProbePayload records a canary probe execution.
type ProbePayload struct {
	ProbeID        string `json:"probeId"`
	Category       string `json:"category"`
	Passed         bool   `json:"passed"`
	LatencyMS      int64  `json:"latencyMs"`
	TrippedBreaker bool   `json:"trippedBreaker"`
}

// BreakerPayload records a breaker transition.
type BreakerPayload struct {
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// PolicyChangePayload records a policy/config mutation.
type PolicyChangePayload struct {
	Version    string `json:"version"`
	ConfigHash string `json:"configHash,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// LogIntent records an accepted intent.
func (s *Service) LogIntent(ctx context.Context, correlationID string, intent model.Intent) (Event, error) {
	return s.LogEvent(ctx, EventIntentReceived, correlationID, IntentPayload{
		IntentID:   intent.IntentID,
		ActionType: intent.ActionType,
		Domain:     intent.Domain,
		Role:       string(intent.Role),
		Tier:       string(intent.Tier),
		Params:     redact.ScrubMap(intent.Params),
	}, intent.AgentID)
}

// LogDecision records an authorization decision.
func (s *Service) LogDecision(ctx context.Context, correlationID, agentID string, d model.Decision) (Event, error) {
	return s.LogEvent(ctx, EventDecisionMade, correlationID, DecisionPayload{
		Permitted:     d.Permitted,
		Reason:        d.Reason,
		Source:        string(d.Source),
		Role:          string(d.Role),
		Tier:          string(d.Tier),
		Domain:        d.Domain,
		PolicyVersion: d.PolicyVersion,
	}, agentID)
}

// LogTrustDelta records a trust score transition.
func (s *Service) LogTrustDelta(ctx context.Context, correlationID, agentID, cause string, prevScore, newScore int, prevBand, newBand model.Band) (Event, error) {
	return s.LogEvent(ctx, EventTrustDelta, correlationID, TrustDeltaPayload{
		Cause:     cause,
		PrevScore: prevScore,
		NewScore:  newScore,
		PrevBand:  string(prevBand),
		NewBand:   string(newBand),
	}, agentID)
}

// LogExecutionStart records the handoff to an executor.
func (s *Service) LogExecutionStart(ctx context.Context, correlationID, agentID, actionType string) (Event, error) {
	return s.LogEvent(ctx, EventExecutionStarted, correlationID, ExecutionPayload{ActionType: actionType}, agentID)
}

// LogExecutionComplete records a successful execution.
func (s *Service) LogExecutionComplete(ctx context.Context, correlationID, agentID, actionType string, durationMS int64) (Event, error) {
	return s.LogEvent(ctx, EventExecutionCompleted, correlationID, ExecutionPayload{
		ActionType: actionType,
		DurationMS: durationMS,
	}, agentID)
}

// LogExecutionFail records a failed execution.
func (s *Service) LogExecutionFail(ctx context.Context, correlationID, agentID, actionType, errMsg string, durationMS int64) (Event, error) {
	return s.LogEvent(ctx, EventExecutionFailed, correlationID, ExecutionPayload{
		ActionType: actionType,
		DurationMS: durationMS,
		Error:      errMsg,
	}, agentID)
}

// LogProbe records a canary probe result.
func (s *Service) LogProbe(ctx context.Context, correlationID, agentID string, p ProbePayload) (Event, error) {
	return s.LogEvent(ctx, EventProbeExecuted, correlationID, p, agentID)
}

// LogBreaker records a breaker trip or reset.
func (s *Service) LogBreaker(ctx context.Context, correlationID, agentID string, tripped bool, state, reason string) (Event, error) {
	eventType := EventBreakerReset
	if tripped {
		eventType = EventBreakerTripped
	}
	return s.LogEvent(ctx, eventType, correlationID, BreakerPayload{State: state, Reason: reason}, agentID)
}

// Event fetches one event by ID.
func (s *Service) Event(ctx context.Context, eventID string) (Event, error) {
	return s.store.ByID(ctx, eventID)
}

// Trace returns the full event chain of one correlation, in emission
// order.
func (s *Service) Trace(ctx context.Context, correlationID string) ([]Event, error) {
	return s.store.ByCorrelation(ctx, correlationID)
}

// AgentHistory returns an agent's most recent events in ascending order.
func (s *Service) AgentHistory(ctx context.Context, agentID string, limit int) ([]Event, error) {
	return s.store.ByAgent(ctx, agentID, limit)
}

// EventsByType returns recent events of one type in ascending order.
func (s *Service) EventsByType(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if !eventType.Valid() {
		return nil, fault.Validation("unknown event type %q", eventType)
	}
	return s.store.ByType(ctx, eventType, limit)
}

// Tail returns the last `limit` events of the whole chain.
func (s *Service) Tail(ctx context.Context, limit int) ([]Event, error) {
	s.mu.Lock()
	head := s.position
	s.mu.Unlock()
	if limit <= 0 || uint64(limit) >= head {
		return s.store.Range(ctx, 1, 0)
	}
	return s.store.Range(ctx, head-uint64(limit)+1, limit)
}

// Stats aggregates ledger contents.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.store.Stats(ctx)
}

// Head returns the current chain position and head hash.
func (s *Service) Head() (uint64, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position, s.prevHash
}
