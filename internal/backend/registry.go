package backend

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/seantiz/procjoin/internal/model"
)

// ErrUnknownBackend is returned when a backend name has no registration.
var ErrUnknownBackend = errors.New("unknown backend")

// BackendInfo pairs a backend name with its capabilities.
type BackendInfo struct {
	Name         string       `json:"name"`
	Default      bool         `json:"default"`
	Capabilities Capabilities `json:"capabilities"`
}

// Registry holds registered backends and resolves which one to use for a run.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
	fallback string
}

// NewRegistry creates an empty backend registry. defaultName is the backend
// that "auto" and the empty name resolve to.
func NewRegistry(defaultName string) *Registry {
	return &Registry{
		backends: make(map[string]Backend),
		fallback: defaultName,
	}
}

// Register adds a backend to the registry under the given name.
func (r *Registry) Register(name string, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = b
}

// Resolve returns the canonical name and backend for name. "auto" and ""
// resolve to the registry default.
func (r *Registry) Resolve(name string) (string, Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	target := name
	if target == "" || target == model.BackendAuto {
		target = r.fallback
	}

	b, ok := r.backends[target]
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownBackend, target)
	}
	return target, b, nil
}

// List returns information about all registered backends, sorted by name
// for a stable API response.
func (r *Registry) List() []BackendInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]BackendInfo, 0, len(r.backends))
	for name, b := range r.backends {
		infos = append(infos, BackendInfo{
			Name:         name,
			Default:      name == r.fallback,
			Capabilities: b.Capabilities(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
