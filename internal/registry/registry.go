// Package registry owns the live mapping from service name to its definition
// and API client.
package registry

import (
	"sort"
	"sync"

	"github.com/sunqi/platform-mcp/internal/client"
	"github.com/sunqi/platform-mcp/internal/common"
	"github.com/sunqi/platform-mcp/internal/service"
)

// Entry pairs one service definition with its live client.
type Entry struct {
	Definition *service.ServiceDefinition
	Client     *client.Client
}

// Registry is the live service table. Mutated by the config watcher and read
// by concurrently executing tool invocations; all access goes through the
// read-write lock so a reload never hands out a torn entry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	logger  *common.Logger
}

// New creates an empty registry.
func New(logger *common.Logger) *Registry {
	return &Registry{
		entries: make(map[string]Entry),
		logger:  logger,
	}
}

// Register stores a definition with a fresh client bound to cfg, replacing
// any prior entry of the same name wholesale. The prior client's cache and
// rate-limit state are discarded, not migrated. Disabled definitions are a
// logged no-op.
func (r *Registry) Register(def *service.ServiceDefinition, cfg *service.ServiceConfig) {
	if !def.Enabled {
		r.logger.Info().Str("service", def.Name).Msg("service is disabled, skipping registration")
		return
	}

	c := client.New(cfg, r.logger)

	r.mu.Lock()
	old, existed := r.entries[def.Name]
	r.entries[def.Name] = Entry{Definition: def, Client: c}
	r.mu.Unlock()

	if existed {
		// In-flight calls holding the old client finish against it;
		// this only drops its idle connections.
		old.Client.Close()
		r.logger.Info().Str("service", def.Name).Msg("replaced service registration")
		return
	}
	r.logger.Info().Str("service", def.Name).Msg("registered service")
}

// Get returns the definition registered under name, or nil.
func (r *Registry) Get(name string) *service.ServiceDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.Definition
	}
	return nil
}

// GetClient returns the client registered under name, or nil.
func (r *Registry) GetClient(name string) *client.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.Client
	}
	return nil
}

// Lookup returns the definition and client under one lock acquisition, so a
// caller always observes a consistent pre- or post-reload pair.
func (r *Registry) Lookup(name string) (*service.ServiceDefinition, *client.Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, nil, false
	}
	return e.Definition, e.Client, true
}

// List returns the sorted names of all registered services.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Services returns all registered definitions sorted by name.
func (r *Registry) Services() []*service.ServiceDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]*service.ServiceDefinition, 0, len(r.entries))
	for _, e := range r.entries {
		defs = append(defs, e.Definition)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
