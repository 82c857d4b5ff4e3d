package source

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tokligence/quotabar/internal/usage"
)

// Registry maps each source to its client. It is the single dispatch point
// for "which client serves this source"; nothing else branches per source.
type Registry struct {
	mu      sync.RWMutex
	clients map[usage.Source]Client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[usage.Source]Client)}
}

// Register adds a client keyed by its own Source(). Registering the same
// source twice is an error; the set of clients is fixed at startup.
func (r *Registry) Register(c Client) error {
	if c == nil {
		return errors.New("registry: client cannot be nil")
	}
	src := c.Source()
	if _, err := usage.ParseSource(string(src)); err != nil {
		return fmt.Errorf("registry: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[src]; exists {
		return fmt.Errorf("registry: source %q already registered", src)
	}
	r.clients[src] = c
	return nil
}

// Client returns the client for a source, if registered.
func (r *Registry) Client(src usage.Source) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[src]
	return c, ok
}

// Sources returns the registered sources in the canonical enumeration order.
func (r *Registry) Sources() []usage.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []usage.Source
	for _, src := range usage.AllSources() {
		if _, ok := r.clients[src]; ok {
			out = append(out, src)
		}
	}
	return out
}
