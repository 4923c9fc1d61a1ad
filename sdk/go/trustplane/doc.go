// Package trustplane embeds the trust kernel in Go agent frameworks. It
// wraps action functions, runs each call through the full authorization
// pipeline (trust profile, breaker admission, role-gate policy), records
// every decision in the hash-chained proof ledger, and feeds execution
// outcomes back into the agent's trust score.
//
// Usage:
//
//	tp, err := trustplane.New(trustplane.WithConfigFile("~/.trustplane/trustplane.yaml"))
//	deploy, err := tp.Guard("deploy", myDeploy, trustplane.GuardWithRole("TASK_EXECUTOR"))
//	out, err := deploy(ctx, trustplane.Request{AgentID: "agent-1", Domain: "general"})
//
// The SDK links directly against internal packages for zero-subprocess
// overhead. External users import github.com/ppiankov/trustplane/sdk/go/trustplane.
package trustplane
