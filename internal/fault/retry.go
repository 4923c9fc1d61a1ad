package fault

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Class refines a transient failure for retry decisions. Only rate limits,
// timeouts, network drops, and server errors are worth retrying; auth
// failures, content filters, and malformed requests will fail the same way
// every time.
type Class string

const (
	ClassRateLimit     Class = "rate_limit"
	ClassTimeout       Class = "timeout"
	ClassNetwork       Class = "network"
	ClassServerError   Class = "server_error"
	ClassAuth          Class = "auth"
	ClassContentFilter Class = "content_filter"
	ClassMalformed     Class = "malformed"
	ClassUnknown       Class = "unknown"
)

// Retryable reports whether a class is a candidate for backoff retry.
func (c Class) Retryable() bool {
	switch c {
	case ClassRateLimit, ClassTimeout, ClassNetwork, ClassServerError:
		return true
	}
	return false
}

// ClassifyStatus maps an HTTP status from an external provider to a Class.
func ClassifyStatus(status int) Class {
	switch {
	case status == 429:
		return ClassRateLimit
	case status == 401 || status == 403:
		return ClassAuth
	case status == 400 || status == 404 || status == 422:
		return ClassMalformed
	case status >= 500:
		return ClassServerError
	default:
		return ClassUnknown
	}
}

// ClassifyErr maps a transport-level error to a Class.
func ClassifyErr(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ClassTimeout
		}
		return ClassNetwork
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return ClassTimeout
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "broken pipe"):
		return ClassNetwork
	default:
		return ClassUnknown
	}
}

// RetryConfig bounds the backoff loop.
type RetryConfig struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig matches the provider call defaults: up to 4 attempts,
// starting at half a second, capped at 15s between tries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxTries:        4,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     15 * time.Second,
	}
}

// Do runs op under exponential backoff with jitter. Only errors classified
// CodeTransient are retried; a RetryAfter hint on the fault schedules the
// next attempt at the provider's requested delay. Everything else stops the
// loop immediately.
func Do[T any](ctx context.Context, cfg RetryConfig, op func() (T, error)) (T, error) {
	expo := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		expo.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		expo.MaxInterval = cfg.MaxInterval
	}

	wrapped := func() (T, error) {
		v, err := op()
		if err == nil {
			return v, nil
		}
		var f *Fault
		if errors.As(err, &f) && f.Code == CodeTransient {
			if f.RetryAfter > 0 {
				return v, backoff.RetryAfter(int(f.RetryAfter / time.Second))
			}
			return v, err
		}
		return v, backoff.Permanent(err)
	}

	opts := []backoff.RetryOption{backoff.WithBackOff(expo)}
	if cfg.MaxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(cfg.MaxTries))
	}
	return backoff.Retry(ctx, wrapped, opts...)
}
