// internal/worker/handler.go
package worker

import (
	"context"
	"sort"
	"sync"

	"ai-orchestrator/internal/domain"
)

// Handler executes one task. The returned value is stored as the task's
// JSON result; a returned error marks the task FAILURE.
type Handler func(ctx context.Context, msg *domain.TaskMessage) (any, error)

// Handlers is the set of task names a worker can execute.
type Handlers struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlers creates an empty handler set.
func NewHandlers() *Handlers {
	return &Handlers{handlers: make(map[string]Handler)}
}

// Register binds name to h, replacing any earlier handler.
func (h *Handlers) Register(name string, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[name] = handler
}

// Lookup returns the handler registered for name.
func (h *Handlers) Lookup(name string) (Handler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	handler, ok := h.handlers[name]
	return handler, ok
}

// Names returns the registered task names, sorted.
func (h *Handlers) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.handlers))
	for name := range h.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
