package checks

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/de-tools/account-monitor/pkg/services/runner"
)

var ErrUnknownJob = errors.New("job is not registered")

// Factory builds a ready-to-run job. It is called once per invocation.
type Factory func(ctx context.Context) (runner.Job, error)

// Registry manages checker job factories
type Registry interface {
	// Register adds a new job factory
	Register(name string, factory Factory) error
	// Create instantiates the named job
	Create(ctx context.Context, name string) (runner.Job, error)
	// List returns the registered job names in sorted order
	List() []string
}

type registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a new job registry
func NewRegistry() Registry {
	return &registry{
		factories: make(map[string]Factory),
	}
}

func (r *registry) Register(name string, factory Factory) error {
	if name == "" {
		return fmt.Errorf("job name cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("job %q is already registered", name)
	}

	r.factories[name] = factory
	return nil
}

func (r *registry) Create(ctx context.Context, name string) (runner.Job, error) {
	r.mu.RLock()
	factory, exists := r.factories[name]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}

	job, err := factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create job %q: %w", name, err)
	}
	return job, nil
}

func (r *registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
