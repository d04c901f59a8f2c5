// Package providers keeps the registry of RPC providers, scores their
// health, and routes operations to the best one with failover. Health
// is the only shared mutable state here; every update happens under the
// owning provider's lock.
package providers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/keeperhq/recoveryd/internal/chain"
	"github.com/keeperhq/recoveryd/internal/pkg/logger"
	"github.com/keeperhq/recoveryd/internal/pkg/resilience/retry"
	"github.com/keeperhq/recoveryd/internal/pkg/transport/jsonrpc"
	"github.com/keeperhq/recoveryd/internal/pkg/types"
)

var (
	// ErrDuplicateProvider is returned when registering a name that
	// already exists.
	ErrDuplicateProvider = errors.New("duplicate provider")
	// ErrUnknownProvider is returned when probing a name that was never
	// registered.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrNoHealthyProvider is returned when no provider is Healthy or
	// Degraded.
	ErrNoHealthyProvider = errors.New("no healthy provider")
	// ErrExecutionFailed wraps the last provider error once failover has
	// run out of candidates.
	ErrExecutionFailed = errors.New("execution failed")
)

// defaultProbeFanOut bounds how many probes run concurrently in
// ProbeAll.
const defaultProbeFanOut = 4

// ClientFactory builds a chain client for a descriptor. Construction
// happens lazily, on first use, so registering a provider with an
// unreachable endpoint does not fail until it is probed.
type ClientFactory func(Descriptor) (chain.Client, error)

// Operation is a unit of work executed against a provider's client.
type Operation func(ctx context.Context, c chain.Client) error

type execConfig struct {
	mutating bool
}

// ExecOption adjusts how ExecuteWithFailover treats an operation.
type ExecOption func(*execConfig)

// Mutating marks the operation as state-changing. Mutating operations
// are never retried against the same provider, and they fail over only
// on errors known to be definite endpoint verdicts, since an ambiguous
// failure may mean the transaction already landed.
func Mutating() ExecOption {
	return func(c *execConfig) {
		c.mutating = true
	}
}

// Registry tracks providers and their health and executes operations
// against the best available one.
type Registry interface {
	// Register adds a provider. It fails with ErrDuplicateProvider if
	// the name is already taken.
	Register(desc Descriptor) error

	// Probe runs a liveness check against one provider and returns its
	// updated health.
	Probe(ctx context.Context, name string) (Health, error)

	// ProbeAll probes every enabled provider with bounded concurrency.
	// Individual probe failures are recorded in health, never returned.
	ProbeAll(ctx context.Context) map[string]Health

	// SelectBest returns the most preferable selectable provider,
	// favoring Healthy over Degraded, or ErrNoHealthyProvider.
	SelectBest() (Descriptor, error)

	// ExecuteWithFailover runs op against the best provider, failing
	// over to the next best until one succeeds or every provider has
	// been tried once.
	ExecuteWithFailover(ctx context.Context, op Operation, opts ...ExecOption) error

	// HealthSnapshot returns a copy of every provider's current health.
	HealthSnapshot() map[string]Health

	// Descriptors returns all registered descriptors.
	Descriptors() []Descriptor
}

type provider struct {
	desc Descriptor

	mu     sync.Mutex
	client chain.Client
	health Health
}

type registry struct {
	factory     ClientFactory
	probeFanOut int

	mu        sync.RWMutex
	providers map[string]*provider
}

var _ Registry = (*registry)(nil)

// Option adjusts the registry configuration.
type Option func(*registry)

// WithProbeFanOut bounds ProbeAll concurrency. Default: 4.
func WithProbeFanOut(n int) Option {
	return func(r *registry) {
		if n > 0 {
			r.probeFanOut = n
		}
	}
}

// NewRegistry builds an empty Registry using factory to construct
// clients on demand.
func NewRegistry(factory ClientFactory, opts ...Option) Registry {
	r := &registry{
		factory:     factory,
		probeFanOut: defaultProbeFanOut,
		providers:   make(map[string]*provider),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *registry) Register(desc Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[desc.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, desc.Name)
	}

	r.providers[desc.Name] = &provider{
		desc:   desc,
		health: newHealth(),
	}
	return nil
}

func (r *registry) lookup(name string) (*provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	return p, ok
}

// clientLocked returns the provider's client, constructing it on first
// use. Caller must hold p.mu.
func (r *registry) clientLocked(p *provider) (chain.Client, error) {
	if p.client != nil {
		return p.client, nil
	}

	client, err := r.factory(p.desc)
	if err != nil {
		return nil, err
	}
	p.client = client
	return client, nil
}

func (r *registry) Probe(ctx context.Context, name string) (Health, error) {
	p, ok := r.lookup(name)
	if !ok {
		return Health{}, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	client, err := r.clientLocked(p)
	if err != nil {
		p.health.recordProbeFailure(err)
		return p.health, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, p.desc.Timeout)
	defer cancel()

	start := time.Now()
	if _, err := client.BlockNumber(callCtx); err != nil {
		p.health.recordProbeFailure(err)
		logger.Warn(ctx, "provider probe failed", "provider", name, "error", err)
		return p.health, nil
	}

	p.health.recordSuccess(time.Since(start))
	return p.health, nil
}

func (r *registry) ProbeAll(ctx context.Context) map[string]Health {
	r.mu.RLock()
	names := make([]string, 0, len(r.providers))
	for name, p := range r.providers {
		if p.desc.Enabled {
			names = append(names, name)
		}
	}
	r.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		sem     = make(chan struct{}, r.probeFanOut)
		mu      sync.Mutex
		results = make(map[string]Health, len(names))
	)
	for _, name := range names {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			health, err := r.Probe(ctx, name)
			if err != nil {
				return
			}

			mu.Lock()
			results[name] = health
			mu.Unlock()
		}()
	}
	wg.Wait()

	return results
}

func (r *registry) SelectBest() (Descriptor, error) {
	return r.selectBest(nil)
}

// selectBest picks the most preferable selectable provider not in
// exclude. Healthy providers always beat Degraded ones; within a tier,
// ordering is priority, then weight, then success rate, then latency,
// with name as the deterministic tie-break.
func (r *registry) selectBest(exclude types.Set[string]) (Descriptor, error) {
	type candidate struct {
		desc   Descriptor
		health Health
	}

	r.mu.RLock()
	all := make([]*provider, 0, len(r.providers))
	for _, p := range r.providers {
		all = append(all, p)
	}
	r.mu.RUnlock()

	var healthy, degraded []candidate
	for _, p := range all {
		if !p.desc.Enabled || exclude.Has(p.desc.Name) {
			continue
		}

		p.mu.Lock()
		health := p.health
		p.mu.Unlock()

		switch health.Status {
		case StatusHealthy:
			healthy = append(healthy, candidate{p.desc, health})
		case StatusDegraded:
			degraded = append(degraded, candidate{p.desc, health})
		}
	}

	candidates := healthy
	if len(candidates) == 0 {
		candidates = degraded
	}
	if len(candidates) == 0 {
		return Descriptor{}, ErrNoHealthyProvider
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.desc.Priority != b.desc.Priority {
			return a.desc.Priority < b.desc.Priority
		}
		if a.desc.Weight != b.desc.Weight {
			return a.desc.Weight > b.desc.Weight
		}
		if a.health.SuccessRate != b.health.SuccessRate {
			return a.health.SuccessRate > b.health.SuccessRate
		}
		if a.health.Latency != b.health.Latency {
			return a.health.Latency < b.health.Latency
		}
		return a.desc.Name < b.desc.Name
	})

	return candidates[0].desc, nil
}

func (r *registry) ExecuteWithFailover(ctx context.Context, op Operation, opts ...ExecOption) error {
	var cfg execConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	tried := types.NewSet[string]()
	var lastErr error
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		desc, err := r.selectBest(tried)
		if err != nil {
			break
		}
		tried.Add(desc.Name)

		err = r.attempt(ctx, desc, op, cfg)
		if err == nil {
			return nil
		}
		lastErr = err

		logger.Warn(ctx, "operation failed, considering failover", "provider", desc.Name, "error", err)

		if cfg.mutating && !isDefinite(err) {
			// The endpoint may have accepted the transaction before
			// failing. Re-submitting elsewhere could double-spend, so
			// surface the ambiguity instead.
			return fmt.Errorf("%w: ambiguous failure on %s: %w", ErrExecutionFailed, desc.Name, err)
		}
	}

	if lastErr == nil {
		return ErrNoHealthyProvider
	}
	return fmt.Errorf("%w: all providers exhausted: %w", ErrExecutionFailed, lastErr)
}

// attempt runs op against one provider, with per-provider retry for
// read operations, and records the outcome in its health.
func (r *registry) attempt(ctx context.Context, desc Descriptor, op Operation, cfg execConfig) error {
	p, ok := r.lookup(desc.Name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, desc.Name)
	}

	p.mu.Lock()
	client, err := r.clientLocked(p)
	if err != nil {
		p.health.recordProbeFailure(err)
		p.mu.Unlock()
		return err
	}
	p.mu.Unlock()

	run := func() error {
		callCtx, cancel := context.WithTimeout(ctx, desc.Timeout)
		defer cancel()
		return op(callCtx, client)
	}

	start := time.Now()
	if cfg.mutating {
		err = run()
	} else {
		attempts := max(desc.MaxRetries, 1)
		err = retry.New(retry.WithAttempts(attempts)).Execute(ctx, run)
	}
	elapsed := time.Since(start)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.health.recordOperationFailure(err)
		return err
	}
	p.health.recordSuccess(elapsed)
	return nil
}

// isDefinite reports whether err is a final verdict from the endpoint
// rather than a transport condition of unknown outcome.
func isDefinite(err error) bool {
	return errors.Is(err, jsonrpc.ErrEndpointReturnedError) || errors.Is(err, chain.ErrRejected)
}

func (r *registry) HealthSnapshot() map[string]Health {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[string]Health, len(r.providers))
	for name, p := range r.providers {
		p.mu.Lock()
		snapshot[name] = p.health
		p.mu.Unlock()
	}
	return snapshot
}

func (r *registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descs := make([]Descriptor, 0, len(r.providers))
	for _, p := range r.providers {
		descs = append(descs, p.desc)
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].Name < descs[j].Name })
	return descs
}
