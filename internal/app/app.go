// Package app implements the openrouter command's subcommands on top of a
// ready client.
//
// The App struct owns the optional subsystems: the response cache and the
// MCP tool host. New creates and connects them from the config, the command
// methods ([App.Chat], [App.Complete], [App.Models]) use them, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithProvider,
// WithMCPHost, WithCache, ...). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/openrouter/internal/cache"
	"github.com/MrWong99/openrouter/internal/config"
	"github.com/MrWong99/openrouter/internal/health"
	"github.com/MrWong99/openrouter/internal/mcp"
	"github.com/MrWong99/openrouter/internal/mcp/mcphost"
	"github.com/MrWong99/openrouter/internal/observe"
	"github.com/MrWong99/openrouter/internal/resilience"
	"github.com/MrWong99/openrouter/pkg/openrouter"
	"github.com/MrWong99/openrouter/pkg/provider/llm"
)

// App owns the subsystem lifetimes behind the CLI commands.
type App struct {
	cfg    *config.Config
	client *openrouter.Client

	provider llm.Provider
	tools    mcp.Host
	cache    cache.Cache
	metrics  *observe.Metrics
	out      io.Writer

	// checkers are served on /readyz by the metrics endpoint.
	checkers []health.Checker

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithProvider injects the chat provider instead of building one on the
// client for the selected model.
func WithProvider(p llm.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithMCPHost injects a tool host instead of connecting the configured
// servers.
func WithMCPHost(h mcp.Host) Option {
	return func(a *App) { a.tools = h }
}

// WithCache injects a response cache instead of creating one from config.
func WithCache(c cache.Cache) Option {
	return func(a *App) { a.cache = c }
}

// WithMetrics overrides the metric instruments. Default:
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithOutput redirects command output. Default: os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// New creates an App around a ready client. It connects the configured MCP
// servers and the Redis cache unless replacements were injected.
func New(ctx context.Context, cfg *config.Config, client *openrouter.Client, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if client == nil {
		return nil, errors.New("app: client must not be nil")
	}
	a := &App{cfg: cfg, client: client}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.out == nil {
		a.out = os.Stdout
	}

	a.initCache()

	if err := a.initMCP(ctx); err != nil {
		_ = a.Shutdown()
		return nil, fmt.Errorf("app: init mcp: %w", err)
	}
	return a, nil
}

// initCache connects the Redis cache behind a circuit breaker when an
// address is configured.
func (a *App) initCache() {
	if a.cache != nil || a.cfg.Cache.RedisAddr == "" {
		return
	}
	r := cache.NewRedis(a.cfg.Cache.RedisAddr, a.cfg.Cache.Password, a.cfg.Cache.DB, a.cfg.Cache.TTL)
	a.cache = cache.NewGuarded(r, resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "redis-cache",
		MaxFailures:  3,
		ResetTimeout: 30 * time.Second,
	}))
	a.closers = append(a.closers, r.Close)
	a.checkers = append(a.checkers, health.Checker{Name: "cache", Check: r.Ping})
	slog.Info("response cache enabled", "redis_addr", a.cfg.Cache.RedisAddr, "ttl", a.cfg.Cache.TTL)
}

// initMCP connects every configured MCP server.
func (a *App) initMCP(ctx context.Context) error {
	if a.tools != nil || len(a.cfg.MCP.Servers) == 0 {
		return nil
	}
	host := mcphost.New(mcphost.WithCallObserver(a.observeToolCall))
	a.tools = host
	a.closers = append(a.closers, host.Close)

	cfgs := make([]mcp.ServerConfig, 0, len(a.cfg.MCP.Servers))
	for _, s := range a.cfg.MCP.Servers {
		cfgs = append(cfgs, s.ServerConfig())
	}
	if err := host.ConnectAll(ctx, cfgs); err != nil {
		return err
	}
	slog.Info("mcp servers connected", "servers", len(cfgs), "tools", len(host.Tools()))
	return nil
}

func (a *App) observeToolCall(ctx context.Context, tool string, d time.Duration, failed bool) {
	status := "ok"
	if failed {
		status = "error"
	}
	a.metrics.RecordToolCall(ctx, tool, status, d)
}

// Checkers returns the readiness checks of the connected subsystems.
func (a *App) Checkers() []health.Checker {
	return append([]health.Checker(nil), a.checkers...)
}

// Shutdown releases all subsystems. Safe to call more than once.
func (a *App) Shutdown() error {
	var errs []error
	a.stopOnce.Do(func() {
		for _, c := range a.closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// model resolves the model of a command: the explicit flag, the config's
// default model, the routing primary, then [openrouter.DefaultModel].
func (a *App) model(flag string) string {
	switch {
	case flag != "":
		return flag
	case a.cfg.Model != "":
		return a.cfg.Model
	case a.cfg.Routing.Primary != "":
		return a.cfg.Routing.Primary
	}
	if p, ok, err := a.cfg.RoutingProfile(); err == nil && ok && p.Primary != "" {
		return p.Primary
	}
	return openrouter.DefaultModel
}
