package canary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/trustplane/internal/config"
	"github.com/ppiankov/trustplane/internal/fault"
	"github.com/ppiankov/trustplane/internal/redact"
)

// Judge decides whether an actual response is semantically equivalent to
// the expected answer. Used only by SEMANTIC probes.
type Judge interface {
	Equivalent(ctx context.Context, prompt, expected, actual string) (bool, error)
}

const judgeSystemPrompt = `You are a strict answer equivalence judge. You receive a question, the expected answer, and an actual answer, and must decide whether the actual answer conveys the same meaning as the expected one.

Judge meaning, not wording. Extra politeness or phrasing differences do not matter. A missing, contradictory, or evasive answer is not equivalent.

Return ONLY valid JSON, no markdown fences, no commentary:
{"equivalent":true,"reason":"<one sentence>"}
or
{"equivalent":false,"reason":"<one sentence>"}`

// judgeVerdict is the expected JSON from the judge model.
type judgeVerdict struct {
	Equivalent bool   `json:"equivalent"`
	Reason     string `json:"reason"`
}

// HTTPJudge calls an OpenAI-compatible chat endpoint and parses a
// strict-JSON verdict. Transient provider failures retry with backoff;
// auth and request-shape failures do not. Agent responses bound for a
// remote endpoint are scrubbed of credentials first.
type HTTPJudge struct {
	cfg    config.JudgeConfig
	client *http.Client
	retry  fault.RetryConfig
	scrub  bool
}

// NewHTTPJudge builds a judge from config. The API URL is required.
// TRUSTPLANE_REDACT=always|never overrides the localhost auto-detection.
func NewHTTPJudge(cfg config.JudgeConfig) (*HTTPJudge, error) {
	if strings.TrimSpace(cfg.APIURL) == "" {
		return nil, fault.Validation("judge api_url is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 200
	}
	timeout := 60 * time.Second
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}
	mode := redact.ResolveMode(cfg.APIURL, os.Getenv("TRUSTPLANE_REDACT"))
	return &HTTPJudge{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		retry:  fault.DefaultRetryConfig(),
		scrub:  mode == redact.ModeCloud,
	}, nil
}

// Equivalent asks the judge model for a verdict.
func (j *HTTPJudge) Equivalent(ctx context.Context, prompt, expected, actual string) (bool, error) {
	if j.scrub {
		actual = redact.ScrubText(actual)
	}
	question := fmt.Sprintf("Question: %s\nExpected answer: %s\nActual answer: %s", prompt, expected, actual)

	raw, err := fault.Do(ctx, j.retry, func() (string, error) {
		return j.complete(ctx, question)
	})
	if err != nil {
		return false, err
	}

	var verdict judgeVerdict
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &verdict); err != nil {
		return false, fault.Internal(err, "cannot parse judge verdict: %s", truncate(raw, 200))
	}
	return verdict.Equivalent, nil
}

// complete performs one chat completion round trip.
func (j *HTTPJudge) complete(ctx context.Context, userContent string) (string, error) {
	messages := []map[string]string{
		{"role": "system", "content": judgeSystemPrompt},
		{"role": "user", "content": userContent},
	}
	body, _ := json.Marshal(map[string]any{
		"model":       j.cfg.Model,
		"messages":    messages,
		"max_tokens":  j.cfg.MaxTokens,
		"temperature": 0,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return "", fault.Validation("create judge request: %v", err)
	}
	if j.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+j.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := j.client.Do(req)
	if err != nil {
		if fault.ClassifyErr(err).Retryable() {
			return "", fault.Transient(err, "judge request")
		}
		return "", fault.Internal(err, "judge request")
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		detail := strings.TrimSpace(string(respBody))
		f := fmt.Errorf("judge HTTP %d: %s", resp.StatusCode, truncate(detail, 200))
		if fault.ClassifyStatus(resp.StatusCode).Retryable() {
			tf := fault.Transient(f, "judge call")
			tf.RetryAfter = retryAfterHint(resp)
			return "", tf
		}
		return "", fault.Internal(f, "judge call")
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil || len(result.Choices) == 0 {
		return "", fault.Internal(fmt.Errorf("empty judge response"), "judge call")
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

// retryAfterHint reads the provider's Retry-After header, seconds form.
func retryAfterHint(resp *http.Response) time.Duration {
	raw := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// cleanJSON strips markdown fences and leading/trailing whitespace.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
