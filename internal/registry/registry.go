// Package registry owns the lifecycle of gatesync plugins: registration,
// configuration, ordered start and reverse-order shutdown.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/HerbHall/gatesync/pkg/plugin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Registry manages the lifecycle of all registered plugins.
type Registry struct {
	mu       sync.RWMutex
	plugins  map[string]plugin.Plugin
	order    []string
	disabled map[string]bool
	started  []string
	logger   *zap.Logger
}

// New creates a new plugin registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		plugins:  make(map[string]plugin.Plugin),
		disabled: make(map[string]bool),
		logger:   logger,
	}
}

// Register adds a plugin to the registry.
func (r *Registry) Register(p plugin.Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := p.Info()
	if info.Name == "" {
		return fmt.Errorf("plugin name must not be empty")
	}
	if _, exists := r.plugins[info.Name]; exists {
		return fmt.Errorf("plugin %q already registered", info.Name)
	}

	r.plugins[info.Name] = p
	r.order = append(r.order, info.Name)
	r.logger.Info("plugin registered", zap.String("name", info.Name), zap.String("version", info.Version))
	return nil
}

// InitAll initializes every registered plugin with its sub-tree of config
// ("plugins.<name>"). A plugin with plugins.<name>.enabled=false is skipped
// and stays disabled for the rest of the lifecycle. Plugins are enabled
// unless configured otherwise.
func (r *Registry) InitAll(config *viper.Viper) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if config == nil {
		config = viper.New()
	}

	for _, name := range r.order {
		p := r.plugins[name]

		key := "plugins." + name + ".enabled"
		if config.IsSet(key) && !config.GetBool(key) {
			r.logger.Info("plugin disabled, skipping", zap.String("name", name))
			r.disabled[name] = true
			continue
		}

		pluginConfig := config.Sub("plugins." + name)
		if pluginConfig == nil {
			pluginConfig = viper.New()
		}

		r.logger.Info("initializing plugin", zap.String("name", name))
		if err := p.Init(pluginConfig, r.logger.Named(name)); err != nil {
			return fmt.Errorf("failed to initialize plugin %q: %w", name, err)
		}
		if v, ok := p.(plugin.Validator); ok {
			if err := v.ValidateConfig(); err != nil {
				return fmt.Errorf("invalid config for plugin %q: %w", name, err)
			}
		}
	}
	return nil
}

// StartAll starts all enabled plugins in registration order. If one fails
// to start, the plugins already started are stopped before returning.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range r.order {
		if r.disabled[name] {
			continue
		}
		p := r.plugins[name]
		r.logger.Info("starting plugin", zap.String("name", name))
		if err := p.Start(ctx); err != nil {
			r.stopStartedLocked()
			return fmt.Errorf("failed to start plugin %q: %w", name, err)
		}
		r.started = append(r.started, name)
	}
	return nil
}

// StopAll stops all started plugins in reverse order.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopStartedLocked()
}

func (r *Registry) stopStartedLocked() {
	for i := len(r.started) - 1; i >= 0; i-- {
		name := r.started[i]
		r.logger.Info("stopping plugin", zap.String("name", name))
		if err := r.plugins[name].Stop(); err != nil {
			r.logger.Error("failed to stop plugin", zap.String("name", name), zap.Error(err))
		}
	}
	r.started = nil
}

// IsDisabled reports whether the named plugin was disabled by config.
func (r *Registry) IsDisabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.disabled[name]
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) (plugin.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// All returns all registered plugins in registration order.
func (r *Registry) All() []plugin.Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]plugin.Plugin, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.plugins[name])
	}
	return result
}

// AllRoutes returns the routes of every enabled plugin that implements
// plugin.HTTPProvider, keyed by plugin name.
func (r *Registry) AllRoutes() map[string][]plugin.Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	routes := make(map[string][]plugin.Route)
	for _, name := range r.order {
		if r.disabled[name] {
			continue
		}
		hp, ok := r.plugins[name].(plugin.HTTPProvider)
		if !ok {
			continue
		}
		if pr := hp.Routes(); len(pr) > 0 {
			routes[name] = pr
		}
	}
	return routes
}

// HealthAll collects health from plugins that implement plugin.HealthChecker.
func (r *Registry) HealthAll(ctx context.Context) map[string]plugin.HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]plugin.HealthStatus)
	for _, name := range r.order {
		if r.disabled[name] {
			out[name] = plugin.HealthStatus{Status: "disabled"}
			continue
		}
		if hc, ok := r.plugins[name].(plugin.HealthChecker); ok {
			out[name] = hc.Health(ctx)
		}
	}
	return out
}
