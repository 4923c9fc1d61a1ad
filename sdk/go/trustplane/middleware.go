package trustplane

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
)

// Request identity and override headers for the HTTP middleware.
const (
	HeaderAgentID = "X-Trustplane-Agent"
	HeaderRole    = "X-Trustplane-Role"
	HeaderTier    = "X-Trustplane-Tier"
)

// Middleware returns an http.Handler that authorizes each request
// before passing it on. The agent identifies itself via HeaderAgentID;
// a request without one is refused. Denied requests get a 403 with a
// JSON body carrying the reason and the proof-plane correlation ID.
func (c *Client) Middleware(actionType string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agentID := r.Header.Get(HeaderAgentID)
		if agentID == "" {
			writeBlocked(w, http.StatusUnauthorized, map[string]any{
				"blocked": true,
				"reason":  "no agent identity, set " + HeaderAgentID,
			})
			return
		}

		out, err := c.Authorize(r.Context(), actionType, requestFromHTTP(agentID, r))
		if err != nil {
			writeBlocked(w, http.StatusForbidden, map[string]any{
				"blocked": true,
				"reason":  err.Error(),
			})
			return
		}
		if !out.Permitted {
			writeBlocked(w, http.StatusForbidden, map[string]any{
				"blocked":        true,
				"reason":         out.Reason,
				"source":         out.Source,
				"policy_version": out.PolicyVersion,
				"correlation_id": out.CorrelationID,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeBlocked(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// requestFromHTTP maps an HTTP request onto a kernel request. The
// domain is the target host, the method and path ride as params.
func requestFromHTTP(agentID string, r *http.Request) Request {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	return Request{
		AgentID: agentID,
		Domain:  host,
		Role:    r.Header.Get(HeaderRole),
		Tier:    r.Header.Get(HeaderTier),
		Params: map[string]any{
			"method": strings.ToLower(r.Method),
			"path":   r.URL.Path,
		},
	}
}
