// Command openrouter is a terminal client for OpenRouter-compatible completion
// services: an interactive chat with MCP tools, one-shot (optionally
// schema-constrained) completions, and model listing.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/openrouter/internal/app"
	"github.com/MrWong99/openrouter/internal/config"
	"github.com/MrWong99/openrouter/internal/health"
	"github.com/MrWong99/openrouter/internal/observe"
)

const defaultConfigPath = "openrouter.yaml"

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const usage = `usage: openrouter [-config path] <command> [flags]

commands:
  chat      interactive chat session with MCP tools
  complete  one-shot completion of PROMPT, optionally constrained by a JSON Schema
  models    list the models offered by the service

run "openrouter <command> -h" for command flags
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// ── Global flags ──────────────────────────────────────────────────────────
	global := flag.NewFlagSet("openrouter", flag.ContinueOnError)
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	configPath := global.String("config", defaultConfigPath, "path to the YAML configuration file")
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		global.Usage()
		return 2
	}
	command, cmdArgs := global.Arg(0), global.Args()[1:]

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath, isFlagSet(global, "config"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "openrouter: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.LogLevel))

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Client ────────────────────────────────────────────────────────────────
	builder, err := cfg.ClientBuilder()
	if err != nil {
		slog.Error("invalid client configuration", "err", err)
		return 1
	}
	client, err := builder.
		WithRoundTripper(observe.Transport(nil, metrics)).
		WithAPIKey(cfg.APIKey(os.Getenv))
	if err != nil {
		slog.Error("failed to configure client", "err", err)
		return 1
	}

	application, err := app.New(ctx, cfg, client, app.WithMetrics(metrics))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer func() {
		if err := application.Shutdown(); err != nil {
			slog.Warn("shutdown error", "err", err)
		}
	}()

	// ── Metrics endpoint (optional) ───────────────────────────────────────────
	if addr := cfg.Telemetry.MetricsAddr; addr != "" {
		srv := newMetricsServer(addr, metrics, application.Checkers())
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "addr", addr, "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		slog.Info("metrics endpoint listening", "addr", addr)
	}

	// ── Dispatch ──────────────────────────────────────────────────────────────
	switch command {
	case "chat":
		err = runChat(ctx, application, cmdArgs)
	case "complete":
		err = runComplete(ctx, application, cmdArgs)
	case "models":
		err = runModels(ctx, application, cmdArgs)
	default:
		fmt.Fprintf(os.Stderr, "openrouter: unknown command %q\n\n", command)
		global.Usage()
		return 2
	}
	switch {
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		return 2
	case errors.Is(err, context.Canceled):
		return 130
	case err != nil:
		fmt.Fprintf(os.Stderr, "openrouter: %v\n", err)
		return 1
	}
	return 0
}

// errUsage marks command-line mistakes already reported by a flag set.
var errUsage = errors.New("usage error")

func runChat(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	model := fs.String("model", "", "model to chat with (overrides the config)")
	system := fs.String("system", "", "system prompt")
	maxRounds := fs.Int("max-tool-rounds", 0, "maximum consecutive tool-call rounds per message (0 = 8)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	return a.Chat(ctx, os.Stdin, app.ChatOptions{Model: *model, System: *system, MaxToolRounds: *maxRounds})
}

func runComplete(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("complete", flag.ContinueOnError)
	model := fs.String("model", "", "model to use (overrides the config)")
	system := fs.String("system", "", "system prompt")
	schemaPath := fs.String("schema", "", "JSON Schema file constraining the response")
	noValidate := fs.Bool("no-validate", false, "skip client-side validation of structured responses")
	fallback := fs.Bool("fallback", false, "print non-conforming structured responses instead of failing")
	noCache := fs.Bool("no-cache", false, "bypass the response cache")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	prompt := strings.Join(fs.Args(), " ")
	if prompt == "" {
		fmt.Fprintln(os.Stderr, "openrouter complete: PROMPT is required")
		return errUsage
	}

	opts := app.CompleteOptions{
		Model:      *model,
		System:     *system,
		Prompt:     prompt,
		NoValidate: *noValidate,
		Fallback:   *fallback,
		NoCache:    *noCache,
	}
	if *schemaPath != "" {
		name, schema, err := app.LoadSchema(*schemaPath)
		if err != nil {
			return err
		}
		opts.Schema, opts.SchemaName = schema, name
	}
	return a.Complete(ctx, opts)
}

func runModels(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("models", flag.ContinueOnError)
	filter := fs.String("filter", "", "only list models whose id contains this text")
	structured := fs.Bool("structured", false, "only list models that accept a response schema")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	return a.Models(ctx, app.ModelsOptions{Filter: *filter, Structured: *structured})
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return errUsage
	}
	return nil
}

// loadConfig reads the config file. A missing file at the default location
// yields the zero config so the client runs on environment variables alone.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if explicit {
		return nil, fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", path)
	}
	cfg = &config.Config{}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isFlagSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// newMetricsServer serves Prometheus metrics and the health probes.
func newMetricsServer(addr string, m *observe.Metrics, checkers []health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(checkers...).Register(mux)
	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(m)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// newLogger creates an [slog.Logger] writing text to stderr at the given
// level.
func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
