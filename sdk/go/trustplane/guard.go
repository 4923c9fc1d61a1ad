package trustplane

import (
	"context"
	"fmt"

	"github.com/ppiankov/trustplane/internal/model"
	"github.com/ppiankov/trustplane/internal/orchestrator"
	"github.com/ppiankov/trustplane/internal/trust"
)

// ActionFunc is the function signature that Guard protects.
type ActionFunc func(ctx context.Context, req Request) (any, error)

// Guard registers fn as the executor for actionType and returns a
// wrapped function that runs every call through the full pipeline. A
// denied call returns *DeniedError without running fn; a call whose fn
// fails returns the execution error after the failure is recorded and
// burned into the agent's trust score. Each action type binds once.
func (c *Client) Guard(actionType string, fn ActionFunc, opts ...GuardOption) (ActionFunc, error) {
	if fn == nil {
		return nil, fmt.Errorf("trustplane: nil action func for %q", actionType)
	}
	var gc guardConfig
	for _, o := range opts {
		o(&gc)
	}

	ex := orchestrator.ExecutorFunc(func(ctx context.Context, intent model.Intent, _ model.Decision, _ trust.Profile) (any, error) {
		return fn(ctx, fromIntent(intent))
	})
	if err := c.k.Orch.RegisterExecutor(actionType, ex); err != nil {
		return nil, err
	}

	return func(ctx context.Context, req Request) (any, error) {
		res, err := c.k.Orch.ProcessIntent(ctx, toIntent(actionType, req, gc), orchestrator.Options{})
		if err != nil {
			return nil, err
		}
		if !res.Decision.Permitted {
			return nil, &DeniedError{
				AgentID:       req.AgentID,
				ActionType:    actionType,
				Reason:        res.Decision.Reason,
				Source:        string(res.Decision.Source),
				CorrelationID: res.CorrelationID,
			}
		}
		if res.ExecutionErr != "" {
			return res.Output, fmt.Errorf("trustplane: execution failed: %s", res.ExecutionErr)
		}
		return res.Output, nil
	}, nil
}
