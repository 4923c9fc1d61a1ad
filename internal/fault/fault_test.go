package fault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestFaultCarriesCodeAndTraceID(t *testing.T) {
	f := NotFound("no profile for agent %s", "agent-1")
	if f.Code != CodeNotFound {
		t.Errorf("expected code not_found, got %s", f.Code)
	}
	if !strings.HasPrefix(f.TraceID, "tr-") {
		t.Errorf("trace ID missing tr- prefix: %s", f.TraceID)
	}
	if !strings.Contains(f.Error(), "agent-1") {
		t.Errorf("message lost: %s", f.Error())
	}
	if !strings.Contains(f.Error(), f.TraceID) {
		t.Errorf("trace ID not surfaced in message: %s", f.Error())
	}
}

func TestFaultMatchesByCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", Conflict("profile exists"))
	if !errors.Is(err, Of(CodeConflict)) {
		t.Error("wrapped conflict should match CodeConflict sentinel")
	}
	if errors.Is(err, Of(CodeNotFound)) {
		t.Error("conflict should not match CodeNotFound")
	}
	if CodeOf(err) != CodeConflict {
		t.Errorf("CodeOf: expected conflict, got %s", CodeOf(err))
	}
	if CodeOf(errors.New("plain")) != CodeInternal {
		t.Error("unclassified errors should read as internal")
	}
}

func TestTransientUnwrapsCause(t *testing.T) {
	cause := errors.New("connection reset by peer")
	f := Transient(cause, "store write failed")
	if !errors.Is(f, cause) {
		t.Error("fault should unwrap to its cause")
	}
	if !IsRetryable(f) {
		t.Error("transient fault should be retryable")
	}
	if IsRetryable(Validation("bad role")) {
		t.Error("validation fault should not be retryable")
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		want   Class
	}{
		{429, ClassRateLimit},
		{401, ClassAuth},
		{403, ClassAuth},
		{400, ClassMalformed},
		{422, ClassMalformed},
		{500, ClassServerError},
		{503, ClassServerError},
		{200, ClassUnknown},
	}
	for _, c := range cases {
		if got := ClassifyStatus(c.status); got != c.want {
			t.Errorf("status %d: expected %s, got %s", c.status, c.want, got)
		}
	}
	if !ClassRateLimit.Retryable() || !ClassTimeout.Retryable() {
		t.Error("rate limit and timeout must be retryable")
	}
	if ClassAuth.Retryable() || ClassContentFilter.Retryable() || ClassMalformed.Retryable() {
		t.Error("auth, content filter, malformed must not be retryable")
	}
}

func TestClassifyErr(t *testing.T) {
	if got := ClassifyErr(context.DeadlineExceeded); got != ClassTimeout {
		t.Errorf("deadline exceeded: expected timeout, got %s", got)
	}
	if got := ClassifyErr(errors.New("dial tcp: connection refused")); got != ClassNetwork {
		t.Errorf("connection refused: expected network, got %s", got)
	}
	if got := ClassifyErr(errors.New("something odd")); got != ClassUnknown {
		t.Errorf("expected unknown, got %s", got)
	}
}

func TestDoRetriesTransientOnly(t *testing.T) {
	cfg := RetryConfig{MaxTries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

	attempts := 0
	got, err := Do(context.Background(), cfg, func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", Transient(errors.New("flaky"), "store unavailable")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if got != "ok" || attempts != 3 {
		t.Errorf("expected ok after 3 attempts, got %q after %d", got, attempts)
	}

	attempts = 0
	_, err = Do(context.Background(), cfg, func() (string, error) {
		attempts++
		return "", Validation("malformed request")
	})
	if err == nil {
		t.Fatal("expected validation error to surface")
	}
	if attempts != 1 {
		t.Errorf("validation error must not be retried, got %d attempts", attempts)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	cfg := RetryConfig{MaxTries: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
	attempts := 0
	_, err := Do(context.Background(), cfg, func() (int, error) {
		attempts++
		return 0, Transient(nil, "still down")
	})
	if err == nil {
		t.Fatal("expected failure after budget exhausted")
	}
	if attempts != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", attempts)
	}
}

func TestDoHonorsRetryAfterHint(t *testing.T) {
	cfg := RetryConfig{MaxTries: 4, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

	// The hint stretches the wait far past the backoff interval, so a
	// short deadline expires during the pause after the first attempt.
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	attempts := 0
	_, err := Do(ctx, cfg, func() (string, error) {
		attempts++
		f := Transient(nil, "rate limited upstream")
		f.RetryAfter = time.Second
		return "", f
	})
	if err == nil {
		t.Fatal("expected the deadline to cut the retry loop short")
	}
	if attempts != 1 {
		t.Errorf("1s hint should block the second attempt, got %d attempts", attempts)
	}
}
