// Package providers lets an external system observe a codex's converged
// operations without the core CRDT code special-casing it. A provider
// is typically an AI coding assistant or another automation surface
// that wants a read-only view of what changed.
package providers

import (
	"context"

	"go.uber.org/zap"

	"github.com/codexsync/codex/internal/types"
)

// Provider observes converged operations. HandleOperation must return
// promptly: it runs on the Sync Coordinator's lifecycle-event feed
// alongside every other subscriber, so a slow provider delays the rest.
type Provider interface {
	Name() string
	HandleOperation(ctx context.Context, op types.CRDTOperation) error
}

// Registry fans a single OnApply callback out to every registered
// Provider, so the coordinator only needs one subscription slot no
// matter how many providers are attached.
type Registry struct {
	providers []Provider
	logger    *zap.Logger
}

// NewRegistry returns an empty provider registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{logger: logger}
}

// Register adds p to the set of providers notified by HandleOperation.
func (r *Registry) Register(p Provider) {
	r.providers = append(r.providers, p)
}

// HandleOperation is the callback to register with a Coordinator via
// OnApply. Errors from individual providers are logged rather than
// propagated: a broken provider must not stop other providers, or the
// core CRDT write path, from making progress.
func (r *Registry) HandleOperation(op types.CRDTOperation) {
	ctx := context.Background()
	for _, p := range r.providers {
		if err := p.HandleOperation(ctx, op); err != nil {
			r.logger.Warn("provider failed to handle operation",
				zap.String("provider", p.Name()),
				zap.Error(err))
		}
	}
}

// LoggingProvider is a reference Provider that only logs the operations
// it observes, via fn. It exists mainly to exercise the Provider
// contract in tests and as a template for a real integration (e.g. an
// LLM coding assistant watching a codex's text layer).
type LoggingProvider struct {
	name string
	fn   func(types.CRDTOperation)
}

// NewLoggingProvider returns a Provider named name that calls fn for
// every operation it observes.
func NewLoggingProvider(name string, fn func(types.CRDTOperation)) *LoggingProvider {
	return &LoggingProvider{name: name, fn: fn}
}

func (p *LoggingProvider) Name() string { return p.name }

func (p *LoggingProvider) HandleOperation(ctx context.Context, op types.CRDTOperation) error {
	if p.fn != nil {
		p.fn(op)
	}
	return nil
}
