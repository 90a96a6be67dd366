// internal/infra/provider/registry.go
package provider

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"ai-orchestrator/internal/domain"
)

// HostedModelName selects the hosted provider with its default text model.
const HostedModelName = "gemini"

// Registry maps model names from requests to provider variants. Names
// without an explicit entry go to the fallback provider, which receives
// the name itself as the model to run.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]domain.Provider
	fallback domain.Provider
}

var _ domain.ProviderSelector = (*Registry)(nil)

// NewRegistry creates a registry. fallback may be nil, in which case
// unknown names are rejected.
func NewRegistry(fallback domain.Provider) *Registry {
	return &Registry{
		entries:  make(map[string]domain.Provider),
		fallback: fallback,
	}
}

// Register binds name to p. The provider is called with its default model.
func (r *Registry) Register(name string, p domain.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[strings.ToLower(name)] = p
}

// Select returns the provider serving name and the model to pass to it.
func (r *Registry) Select(name string) (domain.Provider, string, error) {
	r.mu.RLock()
	p, ok := r.entries[strings.ToLower(name)]
	r.mu.RUnlock()
	if ok {
		return p, "", nil
	}
	if r.fallback == nil {
		return nil, "", domain.ValidationFailure("provider.Select", "no provider registered for model", name)
	}
	return r.fallback, name, nil
}

func detectMIMEType(path string, data []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		return t
	}
	return http.DetectContentType(data)
}
