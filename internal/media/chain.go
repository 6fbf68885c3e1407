// Package media runs ordered provider fallback chains for generated
// artifacts. A chain tries each configured provider in turn and returns the
// first success together with the failures that preceded it.
package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/davidbz/librarian/internal/domain"
	"github.com/davidbz/librarian/internal/observability"
)

// ErrChainDisabled is returned by a chain configured with no providers.
var ErrChainDisabled = errors.New("media chain is disabled: no providers configured")

// ExhaustedError is returned when every provider in a chain failed. It keeps
// each provider's failure reason, in attempt order.
type ExhaustedError struct {
	Kind     string
	Failures []domain.ProviderFailure
}

func (e *ExhaustedError) Error() string {
	reasons := make([]string, 0, len(e.Failures))
	for _, failure := range e.Failures {
		reasons = append(reasons, failure.Provider+": "+failure.Reason)
	}
	return fmt.Sprintf("all %s providers failed [%s]", e.Kind, strings.Join(reasons, "; "))
}

// Provider is one attemptable backend in a fallback chain.
type Provider[I, O any] interface {
	Name() string
	Attempt(ctx context.Context, input I) (O, error)
}

// Outcome is a successful chain run: the winning provider's value plus the
// failures recorded before it.
type Outcome[O any] struct {
	Value        O
	ProviderUsed string
	Failed       []domain.ProviderFailure
}

// Chain tries providers in configured order until one succeeds. It also
// tracks the last observed health of each provider for status reporting.
type Chain[I, O any] struct {
	kind      string
	providers []Provider[I, O]
	timeout   time.Duration

	mu     sync.RWMutex
	health map[string]bool
}

// NewChain creates a fallback chain. kind names the artifact family ("tts",
// "stt", "image") for logs and errors; timeout bounds each provider attempt
// individually (0 means no per-attempt bound).
func NewChain[I, O any](kind string, providers []Provider[I, O], timeout time.Duration) *Chain[I, O] {
	health := make(map[string]bool, len(providers))
	for _, provider := range providers {
		health[provider.Name()] = true
	}

	return &Chain[I, O]{
		kind:      kind,
		providers: providers,
		timeout:   timeout,
		health:    health,
	}
}

// Kind returns the artifact family this chain produces.
func (c *Chain[I, O]) Kind() string {
	return c.kind
}

// Enabled reports whether the chain has any providers configured.
func (c *Chain[I, O]) Enabled() bool {
	return len(c.providers) > 0
}

// Generate runs the chain. It returns ErrChainDisabled when no providers are
// configured and an *ExhaustedError naming every failure when all providers
// fail. A provider timeout counts as that provider failing; the next provider
// still gets its full attempt.
func (c *Chain[I, O]) Generate(ctx context.Context, input I) (*Outcome[O], error) {
	if len(c.providers) == 0 {
		return nil, fmt.Errorf("%w (%s)", ErrChainDisabled, c.kind)
	}

	logger := observability.FromContext(ctx)
	var failures []domain.ProviderFailure

	for _, provider := range c.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		value, err := c.attempt(ctx, provider, input)
		if err != nil {
			logger.Warn("media provider failed, falling back",
				observability.String("kind", c.kind),
				observability.String("provider", provider.Name()),
				observability.Error(err))
			failures = append(failures, domain.ProviderFailure{
				Provider: provider.Name(),
				Reason:   err.Error(),
			})
			c.setHealth(provider.Name(), false)
			continue
		}

		c.setHealth(provider.Name(), true)
		logger.Info("media provider succeeded",
			observability.String("kind", c.kind),
			observability.String("provider", provider.Name()),
			observability.Int("failed_before", len(failures)))

		return &Outcome[O]{
			Value:        value,
			ProviderUsed: provider.Name(),
			Failed:       failures,
		}, nil
	}

	return nil, &ExhaustedError{Kind: c.kind, Failures: failures}
}

func (c *Chain[I, O]) attempt(ctx context.Context, provider Provider[I, O], input I) (O, error) {
	attemptCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return provider.Attempt(observability.WithProvider(attemptCtx, provider.Name()), input)
}

// Health returns the last observed health per provider. Providers never yet
// attempted report healthy.
func (c *Chain[I, O]) Health() map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := make(map[string]bool, len(c.health))
	for name, healthy := range c.health {
		snapshot[name] = healthy
	}
	return snapshot
}

func (c *Chain[I, O]) setHealth(name string, healthy bool) {
	c.mu.Lock()
	c.health[name] = healthy
	c.mu.Unlock()
}
