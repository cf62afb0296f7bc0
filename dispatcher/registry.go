package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/courier-rpc/courier/internal/protocol/logging"
)

// Config is the slice of service configuration the dispatcher builders need.
type Config interface {
	GetDispatcherSystem() string
	GetNATSURL() string
	GetNATSName() string
	GetNATSQueueGroup() string
	GetSubjectPrefix() string
}

// Builder constructs a dispatcher from configuration.
type Builder func(ctx context.Context, cfg Config, log logging.ServiceLogger) (Dispatcher, error)

// Registry maintains a mapping of dispatcher names to their builders and
// capabilities. Dispatcher packages should register themselves using Register.
type Registry struct {
	mu           sync.RWMutex
	builders     map[string]Builder
	capabilities map[string]Capabilities
}

// DefaultRegistry is the global dispatcher registry.
var DefaultRegistry = NewRegistry()

// NewRegistry creates a new dispatcher registry.
func NewRegistry() *Registry {
	return &Registry{
		builders:     make(map[string]Builder),
		capabilities: make(map[string]Capabilities),
	}
}

// Register adds a dispatcher builder to the registry.
// The name should match the DispatcherSystem config value (e.g., "channel",
// "nats").
func (r *Registry) Register(name string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
}

// RegisterWithCapabilities adds a dispatcher builder and its capabilities to
// the registry.
func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
	r.capabilities[name] = caps
}

// GetCapabilities returns the capabilities for a registered dispatcher.
// Returns a zero Capabilities struct if the dispatcher is unknown.
func (r *Registry) GetCapabilities(name string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if caps, ok := r.capabilities[name]; ok {
		return caps
	}
	return Capabilities{Name: name}
}

// Build creates a dispatcher using the registered builder for the config's
// DispatcherSystem.
func (r *Registry) Build(ctx context.Context, cfg Config, log logging.ServiceLogger) (Dispatcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("dispatcher: config is required")
	}

	name := cfg.GetDispatcherSystem()

	r.mu.RLock()
	builder, ok := r.builders[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("dispatcher: unknown dispatcher %q (registered: %v)", name, r.Names())
	}

	return builder(ctx, cfg, log)
}

// Names returns the list of registered dispatcher names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	return names
}

// Has returns true if a dispatcher is registered with the given name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[name]
	return ok
}

// Register adds a dispatcher builder to the default registry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// RegisterWithCapabilities adds a dispatcher builder and its capabilities to
// the default registry.
func RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, builder, caps)
}

// Build creates a dispatcher using the default registry.
func Build(ctx context.Context, cfg Config, log logging.ServiceLogger) (Dispatcher, error) {
	return DefaultRegistry.Build(ctx, cfg, log)
}
