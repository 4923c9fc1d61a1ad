package trustplane

import (
	"context"
	"fmt"

	"github.com/ppiankov/trustplane/internal/config"
	"github.com/ppiankov/trustplane/internal/kernel"
	"github.com/ppiankov/trustplane/internal/model"
	"github.com/ppiankov/trustplane/internal/orchestrator"
	"github.com/ppiankov/trustplane/internal/profile"
)

// Client is an in-process trust kernel. Thread-safe for concurrent
// guarded calls.
type Client struct {
	k *kernel.Kernel
}

// New builds the kernel with the given options.
func New(opts ...Option) (*Client, error) {
	var cc clientConfig
	for _, o := range opts {
		o(&cc)
	}

	ctx := context.Background()
	var (
		k   *kernel.Kernel
		err error
	)
	if cc.configYAML != nil {
		cfg, hash, perr := config.Parse(cc.configYAML)
		if perr != nil {
			return nil, fmt.Errorf("trustplane: %w", perr)
		}
		k, err = kernel.BuildFromConfig(ctx, cfg, hash)
	} else {
		k, err = kernel.Build(ctx, cc.configPath)
	}
	if err != nil {
		return nil, fmt.Errorf("trustplane: %w", err)
	}
	return &Client{k: k}, nil
}

// Close flushes in-flight trust outcomes and releases kernel resources.
func (c *Client) Close() {
	c.k.Close()
}

// Enroll seeds a trust profile for a new agent.
func (c *Client) Enroll(ctx context.Context, agentID string, params EnrollParams) (TrustSnapshot, error) {
	obs := params.Observation
	if obs == "" {
		obs = string(model.ObservationInstrumented)
	}
	creation := params.Creation
	if creation == "" {
		creation = string(model.CreationFresh)
	}
	p, err := c.k.Profiles.Create(ctx, profile.CreateParams{
		AgentID:         agentID,
		ObservationTier: model.ObservationTier(obs),
		CreationType:    model.CreationType(creation),
		DomainPreset:    params.Preset,
	})
	if err != nil {
		return TrustSnapshot{}, err
	}
	return snapshot(p), nil
}

// Trust returns an agent's current trust state.
func (c *Client) Trust(ctx context.Context, agentID string) (TrustSnapshot, error) {
	p, err := c.k.Profiles.Get(ctx, agentID)
	if err != nil {
		return TrustSnapshot{}, err
	}
	return snapshot(p), nil
}

// Authorize runs the pipeline up to the recorded decision without
// executing anything.
func (c *Client) Authorize(ctx context.Context, actionType string, req Request) (Outcome, error) {
	res, err := c.k.Orch.ProcessIntent(ctx, toIntent(actionType, req, guardConfig{}),
		orchestrator.Options{AuthorizeOnly: true})
	if err != nil {
		return Outcome{}, err
	}
	return fromResult(res), nil
}

// VerifyProof recomputes the whole ledger hash chain.
func (c *Client) VerifyProof(ctx context.Context) (VerifyResult, error) {
	res, err := c.k.Proof.VerifyChain(ctx, 0, 0)
	if err != nil {
		return VerifyResult{}, err
	}
	return VerifyResult{
		Valid:            res.Valid,
		Checked:          res.Checked,
		FirstBadPosition: res.FirstBadPosition,
		Reason:           res.Reason,
	}, nil
}

// ProofHead returns the ledger's chain position and head hash.
func (c *Client) ProofHead() (uint64, string) {
	return c.k.Proof.Head()
}
