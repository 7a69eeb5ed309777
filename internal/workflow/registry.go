package workflow

import (
	"context"
	"sort"
	"sync"

	"github.com/arctrany/ai-product-selector-sub007/internal/logging"
)

// Handler is the contract business code implements for PYTHON nodes. The
// returned map is merged into the run data. A handler that loops internally
// should call state.Checkpoint at each iteration boundary so pause and cancel
// requests can take effect; without that the handler runs to completion
// before any pending signal is honored.
type Handler func(ctx context.Context, state *ExecState, logger *logging.Logger, args map[string]any) (map[string]any, error)

// Registry resolves a code_ref string to a registered handler. The host
// application builds one at process start and hands it to the engine;
// resolution happens at dispatch time, so a definition may reference a
// handler that does not exist yet.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Register binds a code_ref to a handler, replacing any previous binding.
func (r *Registry) Register(codeRef string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[codeRef] = handler
}

// Resolve looks up the handler for a code_ref.
func (r *Registry) Resolve(codeRef string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[codeRef]
	return handler, ok
}

// Names returns the registered code_refs in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
