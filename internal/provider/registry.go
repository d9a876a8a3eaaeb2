package provider

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/corralhq/corral/internal/common/logger"
	"github.com/corralhq/corral/internal/ids"
)

// ErrBackendNotFound is returned when a requested instance name has no
// registered backend.
var ErrBackendNotFound = fmt.Errorf("provider backend not found")

// Registry is the process-global mapping from a configured provider
// instance name (spec §4.5, "[providers.<name>]") to its live Backend.
// It is loaded once at start-up; ResetForTesting exists so tests don't
// leak backends across cases.
type Registry struct {
	backends map[ids.ProviderInstanceName]Backend
	mu       sync.RWMutex
	logger   *logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Default()
	}
	return &Registry{backends: make(map[ids.ProviderInstanceName]Backend), logger: log}
}

// Register binds instance to backend, replacing any prior binding.
func (r *Registry) Register(instance ids.ProviderInstanceName, backend Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[instance] = backend
	r.logger.Info("registered provider instance", zap.String("instance", string(instance)), zap.String("backend", string(backend.Name())))
}

// Get returns the backend bound to instance.
func (r *Registry) Get(instance ids.ProviderInstanceName) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	backend, ok := r.backends[instance]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBackendNotFound, instance)
	}
	return backend, nil
}

// List returns every registered instance name.
func (r *Registry) List() []ids.ProviderInstanceName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]ids.ProviderInstanceName, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	return names
}

// ResetForTesting clears every registered backend, closing any that hold
// resources. Tests call this between cases so backend state never leaks.
func (r *Registry) ResetForTesting() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, backend := range r.backends {
		if closer, ok := backend.(Closeable); ok {
			if err := closer.Close(); err != nil {
				r.logger.Warn("failed to close provider backend", zap.String("instance", string(name)), zap.Error(err))
			}
		}
	}
	r.backends = make(map[ids.ProviderInstanceName]Backend)
}

// CloseAll closes every registered backend implementing Closeable,
// called once at process shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, backend := range r.backends {
		if closer, ok := backend.(Closeable); ok {
			if err := closer.Close(); err != nil {
				r.logger.Warn("failed to close provider backend", zap.String("instance", string(name)), zap.Error(err))
			}
		}
	}
}

// HealthCheckAll reports, per instance, whether its backend is currently
// reachable: the error its ListHosts returns, or nil. Unauthorized/
// unreachable backends surface as that error rather than panicking the
// caller (spec §4.5).
func (r *Registry) HealthCheckAll(ctx context.Context) map[ids.ProviderInstanceName]error {
	r.mu.RLock()
	backends := make(map[ids.ProviderInstanceName]Backend, len(r.backends))
	for name, b := range r.backends {
		backends[name] = b
	}
	r.mu.RUnlock()

	results := make(map[ids.ProviderInstanceName]error, len(backends))
	for name, b := range backends {
		_, err := b.ListHosts(ctx, false)
		results[name] = err
	}
	return results
}
