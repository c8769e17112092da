package llm

import (
	"context"
	"sync"
	"time"

	"github.com/sebastienvg/claude-mem/pkg/models"
)

// CircuitBreakerConfig tunes when a provider is treated as down long
// enough to skip straight to a fallback instead of retrying it.
type CircuitBreakerConfig struct {
	FailureThreshold int
	OpenDuration     time.Duration
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.OpenDuration <= 0 {
		c.OpenDuration = 30 * time.Second
	}
	return c
}

// CircuitBreaker wraps a single Provider, grounded on
// internal/agent/failover.go's ProviderState/FailoverOrchestrator: after
// FailureThreshold consecutive recoverable failures within one process
// lifetime, the circuit opens and every call fails fast (as a
// RecoverableError, so a configured fallback is tried immediately)
// until OpenDuration has elapsed, at which point one probe call is
// allowed through.
type CircuitBreaker struct {
	name     string
	provider Provider
	cfg      CircuitBreakerConfig

	mu       sync.Mutex
	failures int
	openedAt time.Time
}

func NewCircuitBreaker(name string, provider Provider, cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{name: name, provider: provider, cfg: cfg.withDefaults()}
}

func (b *CircuitBreaker) Run(ctx context.Context, history []models.Message) (Result, error) {
	if !b.allow() {
		return Result{}, &RecoverableError{Provider: b.name, Reason: ReasonServerError, Err: errCircuitOpen}
	}

	result, err := b.provider.Run(ctx, history)
	if err == nil {
		b.recordSuccess()
		return result, nil
	}
	b.recordFailure()
	return Result{}, err
}

func (b *CircuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.cfg.FailureThreshold {
		return true
	}
	return time.Since(b.openedAt) > b.cfg.OpenDuration
}

// Allow reports whether the circuit would currently let a call through,
// without making one. httpapi.Config.ProviderReachable is the intended
// caller: a readiness probe needs a cheap signal, not a real request.
func (b *CircuitBreaker) Allow() bool {
	return b.allow()
}

func (b *CircuitBreaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

func (b *CircuitBreaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.cfg.FailureThreshold {
		b.openedAt = time.Now()
	}
}

var errCircuitOpen = circuitOpenError{}

type circuitOpenError struct{}

func (circuitOpenError) Error() string { return "llm: circuit open, provider skipped" }
