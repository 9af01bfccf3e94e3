/**
 * Backend Registry
 *
 * Owns the set of constructed backends and answers "what can be used right now".
 * Construction failures are absorbed: a backend that cannot start is kept as an
 * unavailable entry so it still shows up in Describe.
 */

package recognition

import (
	"fmt"
	"sort"
	"sync"

	apperrors "github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
)

// Registry holds backends in registration order
type Registry struct {
	mu       sync.RWMutex
	backends []Backend
	byName   map[string]Backend
	noop     Backend
	logger   *logging.Logger
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Backend),
		noop:   NewNoopBackend(),
		logger: logging.NewLogger("BackendRegistry"),
	}
}

// Register constructs a backend through factory and adds it.
// Errors and panics from the factory produce an unavailable placeholder named name.
// A name that is already registered is ignored.
func (r *Registry) Register(name string, factory Factory) Backend {
	backend, err := construct(factory)
	switch {
	case err != nil:
		r.logger.Warn("Backend construction failed, registering as unavailable", "backend", name, "error", err)
		backend = &unavailableBackend{name: name, cause: err.Error()}
	case backend == nil:
		r.logger.Warn("Backend factory returned nil, registering as unavailable", "backend", name)
		backend = &unavailableBackend{name: name, cause: "factory returned nil"}
	}
	return r.Add(backend)
}

// Add registers an already constructed backend and returns the registered instance
func (r *Registry) Add(backend Backend) Backend {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := backend.Name()
	if existing, ok := r.byName[name]; ok {
		r.logger.Warn("Backend already registered, keeping the first instance", "backend", name)
		return existing
	}

	r.backends = append(r.backends, backend)
	r.byName[name] = backend

	r.logger.Info("Backend registered", "backend", name, "available", backend.Available())
	return backend
}

func construct(factory Factory) (backend Backend, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			backend = nil
			err = fmt.Errorf("panic during construction: %v", rec)
		}
	}()
	return factory()
}

// AvailableBackends returns usable backends in registration order.
// When none is usable the noop fallback is returned alone.
func (r *Registry) AvailableBackends() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()

	available := make([]Backend, 0, len(r.backends))
	for _, b := range r.backends {
		if b.Available() {
			available = append(available, b)
		}
	}
	if len(available) == 0 {
		return []Backend{r.noop}
	}
	return available
}

// Get resolves a backend by name. The noop fallback resolves only while it is active.
func (r *Registry) Get(name string) (Backend, bool) {
	r.mu.RLock()
	b, ok := r.byName[name]
	r.mu.RUnlock()
	if ok {
		return b, true
	}

	if name == NoopBackendName && r.fallbackActive() {
		return r.noop, true
	}
	return nil, false
}

// Names lists registered backend names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.backends))
	for _, b := range r.backends {
		names = append(names, b.Name())
	}
	return names
}

// Describe reports metadata for every registered backend, plus the fallback while active
func (r *Registry) Describe() map[string]EngineInfo {
	r.mu.RLock()
	backends := append([]Backend(nil), r.backends...)
	r.mu.RUnlock()

	out := make(map[string]EngineInfo, len(backends)+1)
	for _, b := range backends {
		out[b.Name()] = describe(b)
	}
	if r.fallbackActive() {
		out[NoopBackendName] = describe(r.noop)
	}
	return out
}

func (r *Registry) fallbackActive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.backends {
		if b.Available() {
			return false
		}
	}
	return true
}

func describe(b Backend) EngineInfo {
	info := EngineInfo{
		Name:               b.Name(),
		Available:          b.Available(),
		SupportedLanguages: []string{},
	}
	if !info.Available {
		return info
	}

	seen := make(map[string]bool)
	for _, lang := range b.SupportedLanguages() {
		if !seen[lang] {
			seen[lang] = true
			info.SupportedLanguages = append(info.SupportedLanguages, lang)
		}
	}
	sort.Strings(info.SupportedLanguages)
	return info
}

func errUnavailable(name string) error {
	return apperrors.NewBackendUnavailableError(name)
}
