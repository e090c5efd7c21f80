// ABOUTME: Thread-safe registry of connected tool backends and their tools.
// ABOUTME: Keeps the search index and health prober in sync with the catalogue.

package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/glinthq/glint-gateway/internal/search"
)

// ErrBackendAlreadyRegistered indicates a backend with the same ID is already connected.
var ErrBackendAlreadyRegistered = errors.New("backend already registered")

// ErrBackendNotFound indicates the specified backend was not found.
var ErrBackendNotFound = errors.New("backend not found")

// ErrToolCollision indicates a tool name already exists from another backend.
var ErrToolCollision = errors.New("tool name collision")

// ToolDefinition describes a single tool offered by a backend.
type ToolDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Tool is a registered tool together with its owning backend.
type Tool struct {
	Definition ToolDefinition
	BackendID  string
}

// Backend is a registered tool backend.
type Backend struct {
	ID    string
	Name  string
	Tools []ToolDefinition
}

// Indexer receives the full catalogue whenever it changes. Satisfied by
// *search.Index.
type Indexer interface {
	Reindex(tools []search.Tool)
}

// ProbeSet maintains the set of backends the health prober watches.
// Satisfied by *health.Prober.
type ProbeSet interface {
	Register(backendID string)
	Unregister(backendID string)
}

// Registry tracks connected backends and their tools. Tool names are
// globally unique across backends. Registration changes propagate to the
// bound search index (wholesale reindex) and health prober.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]*Backend
	order    []string         // backend IDs in registration order
	tools    map[string]*Tool // global tool name -> tool

	indexer  Indexer  // optional
	probeSet ProbeSet // optional
	logger   *slog.Logger
}

// Config contains the registry's collaborators. Indexer and ProbeSet are
// optional; a nil Logger falls back to slog.Default.
type Config struct {
	Indexer  Indexer
	ProbeSet ProbeSet
	Logger   *slog.Logger
}

// New creates a Registry.
func New(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		backends: make(map[string]*Backend),
		tools:    make(map[string]*Tool),
		indexer:  cfg.Indexer,
		probeSet: cfg.ProbeSet,
		logger:   logger.With("component", "registry"),
	}
}

// RegisterBackend validates and stores a backend and its tools, then
// rebuilds the search index and adds the backend to the probed set.
// Returns ErrBackendAlreadyRegistered if the ID is taken and ErrToolCollision
// if any tool name is already owned by another backend.
func (r *Registry) RegisterBackend(id, name string, tools []ToolDefinition) error {
	r.mu.Lock()

	if _, exists := r.backends[id]; exists {
		r.mu.Unlock()
		return ErrBackendAlreadyRegistered
	}

	for _, def := range tools {
		if existing, exists := r.tools[def.Name]; exists {
			r.mu.Unlock()
			return fmt.Errorf("%w: tool %q already registered by backend %q",
				ErrToolCollision, def.Name, existing.BackendID)
		}
	}

	// Copy so later mutation of the caller's slice cannot corrupt the
	// catalogue.
	backend := &Backend{ID: id, Name: name, Tools: slices.Clone(tools)}
	r.backends[id] = backend
	r.order = append(r.order, id)
	for _, def := range tools {
		r.tools[def.Name] = &Tool{Definition: def, BackendID: id}
	}

	catalogue := r.catalogueLocked()
	r.logger.Info("backend registered",
		"backend_id", id,
		"name", name,
		"tool_count", len(tools),
		"total_backends", len(r.backends),
		"total_tools", len(r.tools),
	)
	r.mu.Unlock()

	if r.probeSet != nil {
		r.probeSet.Register(id)
	}
	if r.indexer != nil {
		r.indexer.Reindex(catalogue)
	}
	return nil
}

// UnregisterBackend removes a backend and all its tools, rebuilds the search
// index, and drops the backend from the probed set. No-op for unknown IDs.
func (r *Registry) UnregisterBackend(id string) {
	r.mu.Lock()

	backend, exists := r.backends[id]
	if !exists {
		r.mu.Unlock()
		return
	}

	for _, def := range backend.Tools {
		delete(r.tools, def.Name)
	}
	delete(r.backends, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	catalogue := r.catalogueLocked()
	r.logger.Info("backend unregistered",
		"backend_id", id,
		"total_backends", len(r.backends),
		"total_tools", len(r.tools),
	)
	r.mu.Unlock()

	if r.probeSet != nil {
		r.probeSet.Unregister(id)
	}
	if r.indexer != nil {
		r.indexer.Reindex(catalogue)
	}
}

// GetBackend retrieves a backend by ID, or nil if not registered.
func (r *Registry) GetBackend(id string) *Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.backends[id]
}

// GetToolByName finds a tool by name and its owning backend. Returns
// (nil, nil) when the tool is unknown.
func (r *Registry) GetToolByName(name string) (*Tool, *Backend) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	if !exists {
		return nil, nil
	}
	return tool, r.backends[tool.BackendID]
}

// ListBackends returns all registered backends in registration order.
func (r *Registry) ListBackends() []*Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Backend, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.backends[id])
	}
	return out
}

// Catalogue returns the current tool catalogue in registration order.
func (r *Registry) Catalogue() []search.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.catalogueLocked()
}

// catalogueLocked assembles the catalogue. Must be called with mu held.
func (r *Registry) catalogueLocked() []search.Tool {
	out := make([]search.Tool, 0, len(r.tools))
	for _, id := range r.order {
		backend := r.backends[id]
		for _, def := range backend.Tools {
			out = append(out, search.Tool{
				BackendID:   backend.ID,
				BackendName: backend.Name,
				ToolName:    def.Name,
				Description: def.Description,
			})
		}
	}
	return out
}
