// Package breaker provides a keyed circuit breaker registry: one
// [resilience.CircuitBreaker] per (operation, provider, model) triple, so
// that a failing provider+model combination trips independently of other
// combinations sharing the same operation or provider.
package breaker

import (
	"fmt"
	"sync"

	"github.com/hellosales/coachkernel/internal/resilience"
)

// Key identifies one breaker instance.
type Key struct {
	Operation string // "stt" | "llm" | "tts"
	Provider  string
	Model     string
}

// String renders the key as "operation/provider/model", used in log fields
// and event payloads.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Operation, k.Provider, k.Model)
}

// Registry lazily creates and caches one [resilience.CircuitBreaker] per
// [Key]. Safe for concurrent use.
type Registry struct {
	breakers sync.Map // Key -> *resilience.CircuitBreaker
	cfg      resilience.CircuitBreakerConfig
}

// NewRegistry returns a [Registry] that creates new breakers using cfg as a
// template (cfg.Name is overridden per-key).
func NewRegistry(cfg resilience.CircuitBreakerConfig) *Registry {
	return &Registry{cfg: cfg}
}

// Get returns the breaker for key, creating it on first use.
func (r *Registry) Get(key Key) *resilience.CircuitBreaker {
	if cb, ok := r.breakers.Load(key); ok {
		return cb.(*resilience.CircuitBreaker)
	}
	cfg := r.cfg
	cfg.Name = key.String()
	cb, _ := r.breakers.LoadOrStore(key, resilience.NewCircuitBreaker(cfg))
	return cb.(*resilience.CircuitBreaker)
}

// IsOpen reports whether key's breaker currently denies calls.
func (r *Registry) IsOpen(key Key) bool {
	return r.Get(key).State() == resilience.StateOpen
}

// RecordSuccess and RecordFailure report an outcome observed out-of-band —
// e.g. a streaming call whose success is only known after the stream
// completes, too late to wrap in an [Registry.Execute] closure. Prefer
// Execute when the call is synchronous; it performs attempt and outcome
// accounting atomically.
func (r *Registry) RecordSuccess(key Key) {
	r.Get(key).Execute(func() error { return nil })
}

func (r *Registry) RecordFailure(key Key, reason error) {
	r.Get(key).Execute(func() error {
		if reason != nil {
			return reason
		}
		return fmt.Errorf("breaker: recorded failure for %s", key)
	})
}

// Execute runs fn through key's breaker, denying the call with
// [resilience.ErrCircuitOpen] if the breaker is open.
func (r *Registry) Execute(key Key, fn func() error) error {
	return r.Get(key).Execute(fn)
}

// State returns the current state of key's breaker.
func (r *Registry) State(key Key) resilience.State {
	return r.Get(key).State()
}
