package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/openrouter/internal/mcp"
	"github.com/MrWong99/openrouter/pkg/openrouter"
)

var (
	validDataCollection = []string{string(openrouter.DataCollectionAllow), string(openrouter.DataCollectionDeny)}
	validSort           = []string{string(openrouter.SortPrice), string(openrouter.SortThroughput), string(openrouter.SortLatency)}
	validQuantizations  = []string{
		string(openrouter.QuantInt4), string(openrouter.QuantInt8), string(openrouter.QuantFP6),
		string(openrouter.QuantFP8), string(openrouter.QuantFP16), string(openrouter.QuantBF16),
		string(openrouter.QuantFP32), string(openrouter.QuantUnknown),
	}
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// An empty document yields the zero [Config].
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// API
	if cfg.API.BaseURL != "" {
		if _, err := openrouter.New().WithBaseURL(cfg.API.BaseURL); err != nil {
			errs = append(errs, fmt.Errorf("api.base_url: %w", err))
		}
	}
	if cfg.API.Timeout < 0 {
		errs = append(errs, fmt.Errorf("api.timeout %s must not be negative", cfg.API.Timeout))
	}
	for name := range cfg.API.Headers {
		if name == "" {
			errs = append(errs, errors.New("api.headers contains an empty header name"))
		}
	}
	if cfg.API.APIKey == "" && os.Getenv(EnvAPIKey) == "" && os.Getenv(EnvAPIKeyShort) == "" {
		slog.Warn("no API key configured; set api.api_key or the " + EnvAPIKey + " environment variable")
	}

	// Routing
	if cfg.Routing.Profile != "" {
		if _, err := openrouter.ProfileByName(cfg.Routing.Profile, cfg.Routing.Primary, cfg.Routing.Fallbacks); err != nil {
			errs = append(errs, fmt.Errorf("routing.profile: %w", err))
		}
	} else if cfg.Routing.Primary != "" || len(cfg.Routing.Fallbacks) > 0 {
		slog.Warn("routing.primary and routing.fallbacks are ignored without routing.profile")
	}
	for i, m := range cfg.Routing.Fallbacks {
		if m == "" {
			errs = append(errs, fmt.Errorf("routing.fallbacks[%d] must not be empty", i))
		}
	}
	if p := cfg.Routing.Provider; p != nil {
		errs = append(errs, validateProvider(p)...)
	}

	// Cache
	if cfg.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl %s must not be negative", cfg.Cache.TTL))
	}
	if cfg.Cache.DB < 0 {
		errs = append(errs, fmt.Errorf("cache.db %d must not be negative", cfg.Cache.DB))
	}
	if cfg.Cache.RedisAddr == "" && (cfg.Cache.TTL != 0 || cfg.Cache.Password != "") {
		slog.Warn("cache settings present but cache.redis_addr is empty; response caching is disabled")
	}

	// MCP servers
	serverNamesSeen := make(map[string]int, len(cfg.MCP.Servers))
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := serverNamesSeen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of mcp.servers[%d]", prefix, srv.Name, prev))
			}
			serverNamesSeen[srv.Name] = i
		}
		if !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == mcp.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == mcp.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}

func validateProvider(p *ProviderPreferences) []error {
	var errs []error
	if p.DataCollection != "" && !slices.Contains(validDataCollection, p.DataCollection) {
		errs = append(errs, fmt.Errorf("routing.provider.data_collection %q is invalid; valid values: %v", p.DataCollection, validDataCollection))
	}
	if p.Sort != "" && !slices.Contains(validSort, p.Sort) {
		errs = append(errs, fmt.Errorf("routing.provider.sort %q is invalid; valid values: %v", p.Sort, validSort))
	}
	for i, q := range p.Quantizations {
		if !slices.Contains(validQuantizations, q) {
			errs = append(errs, fmt.Errorf("routing.provider.quantizations[%d] %q is invalid; valid values: %v", i, q, validQuantizations))
		}
	}
	seen := make(map[string]int, len(p.Order))
	for i, name := range p.Order {
		if prev, ok := seen[name]; ok {
			errs = append(errs, fmt.Errorf("routing.provider.order[%d] %q is a duplicate of order[%d]", i, name, prev))
		}
		seen[name] = i
	}
	return errs
}
