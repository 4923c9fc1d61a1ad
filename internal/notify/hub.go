// Package notify fans out kernel events to registered listeners. Delivery
// is synchronous in registration order; a failing or panicking listener is
// logged and never affects siblings or the emitting call.
package notify

import (
	"fmt"
	"log/slog"
	"sync"
)

// Topic names one listener channel.
type Topic string

const (
	TopicTrustChange    Topic = "trust_change"
	TopicTrustViolation Topic = "trust_violation"
	TopicCanaryFailure  Topic = "canary_failure"
	TopicEventEmitted   Topic = "event_emitted"
)

// Handler receives one published payload. The payload's concrete type is
// fixed per topic by the publishing package.
type Handler func(payload any) error

type registration struct {
	name string
	fn   Handler
}

// Hub is the process-local listener registry. The zero value is not usable;
// construct with NewHub.
type Hub struct {
	mu       sync.RWMutex
	handlers map[Topic][]registration
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{handlers: make(map[Topic][]registration)}
}

// Subscribe registers a named handler on a topic. Handlers run in
// registration order on every publish. The name only serves diagnostics.
func (h *Hub) Subscribe(topic Topic, name string, fn Handler) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[topic] = append(h.handlers[topic], registration{name: name, fn: fn})
}

// Publish delivers the payload to every handler on the topic and returns
// how many failed. Errors and panics are logged, never propagated.
func (h *Hub) Publish(topic Topic, payload any) int {
	h.mu.RLock()
	regs := h.handlers[topic]
	h.mu.RUnlock()

	failed := 0
	for _, reg := range regs {
		if err := invoke(reg, payload); err != nil {
			failed++
			slog.Warn("notify listener failed",
				"topic", string(topic), "listener", reg.name, "error", err)
		}
	}
	return failed
}

// Listeners returns how many handlers a topic has.
func (h *Hub) Listeners(topic Topic) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers[topic])
}

func invoke(reg registration, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()
	return reg.fn(payload)
}
