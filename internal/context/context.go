package context

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	v1 "github.com/headlamp-k8s/headlamp-sub003/configuration/v1"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/manager"
	"github.com/headlamp-k8s/headlamp-sub003/internal/plugin/orchestrator"
)

type ctxKey string

const key ctxKey = "github.com/headlamp-k8s/headlamp-sub003/internal/context"

// Context is the plugctl command line context.
// It contains pointers to centrally managed structures that are created
// once in the root pre-run hook and used by the sub commands.
//
// The Context should only be used to transfer centrally passed struct pointers.
type Context struct {
	mu sync.RWMutex

	// configuration is the resolved configuration, with flag overrides applied.
	// It is always available first.
	configuration *v1.Config

	// pluginManager installs, updates, lists and removes single plugins
	// in the configured plugin directory.
	pluginManager *manager.Manager

	// orchestrator applies desired-state configurations on top of the plugin manager.
	orchestrator *orchestrator.Orchestrator

	// metrics gathers the plugin operation metrics of this invocation.
	metrics *prometheus.Registry
}

// WithConfiguration creates a new context with the given configuration.
func WithConfiguration(ctx context.Context, cfg *v1.Config) context.Context {
	ctx, pctx := retrieveOrCreateContext(ctx)
	pctx.mu.Lock()
	defer pctx.mu.Unlock()
	pctx.configuration = cfg
	return ctx
}

// WithPluginManager creates a new context with the given plugin manager.
func WithPluginManager(ctx context.Context, m *manager.Manager) context.Context {
	ctx, pctx := retrieveOrCreateContext(ctx)
	pctx.mu.Lock()
	defer pctx.mu.Unlock()
	pctx.pluginManager = m
	return ctx
}

// WithOrchestrator creates a new context with the given orchestrator.
func WithOrchestrator(ctx context.Context, o *orchestrator.Orchestrator) context.Context {
	ctx, pctx := retrieveOrCreateContext(ctx)
	pctx.mu.Lock()
	defer pctx.mu.Unlock()
	pctx.orchestrator = o
	return ctx
}

// WithMetrics creates a new context with the given metrics registry.
func WithMetrics(ctx context.Context, registry *prometheus.Registry) context.Context {
	ctx, pctx := retrieveOrCreateContext(ctx)
	pctx.mu.Lock()
	defer pctx.mu.Unlock()
	pctx.metrics = registry
	return ctx
}

// Register registers the command to contain a new Context object.
// From this point on any call to [FromContext] based on [cobra.Command.Context]
// will return this context.
func Register(cmd *cobra.Command) {
	ctx, pctx := retrieveOrCreateContext(cmd.Context())
	pctx.mu.Lock()
	defer pctx.mu.Unlock()
	cmd.SetContext(ctx)
}

func (ctx *Context) Configuration() *v1.Config {
	if ctx == nil {
		return nil
	}
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return ctx.configuration
}

func (ctx *Context) PluginManager() *manager.Manager {
	if ctx == nil {
		return nil
	}
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return ctx.pluginManager
}

func (ctx *Context) Orchestrator() *orchestrator.Orchestrator {
	if ctx == nil {
		return nil
	}
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return ctx.orchestrator
}

func (ctx *Context) Metrics() *prometheus.Registry {
	if ctx == nil {
		return nil
	}
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return ctx.metrics
}

// FromContext retrieves the plugctl context from the given context.
// If the plugctl context does not exist, it returns nil.
func FromContext(ctx context.Context) *Context {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(key).(*Context); ok {
		return v
	}
	return nil
}

// WithContext creates a new context with the given plugctl context.
func WithContext(ctx context.Context, c *Context) context.Context {
	if c == nil {
		return nil
	}
	return context.WithValue(ctx, key, c)
}

func retrieveOrCreateContext(ctx context.Context) (context.Context, *Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	pctx := FromContext(ctx)
	if pctx == nil {
		pctx = &Context{}
		ctx = WithContext(ctx, pctx)
	}
	return ctx, pctx
}
