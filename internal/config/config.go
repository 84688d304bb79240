// Package config provides the configuration schema and loader for the
// openrouter command.
package config

import (
	"time"

	"github.com/MrWong99/openrouter/internal/mcp"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Environment variables consulted when api.api_key is empty, in order.
const (
	EnvAPIKey      = "OPENROUTER_API_KEY"
	EnvAPIKeyShort = "OR_API_KEY"
)

// Config is the root configuration structure.
type Config struct {
	LogLevel LogLevel `yaml:"log_level"`

	API API `yaml:"api"`

	// Model is the default model for the complete subcommand. When empty the
	// routing profile's primary model is used.
	Model string `yaml:"model"`

	Routing Routing `yaml:"routing"`

	Cache Cache `yaml:"cache"`

	MCP MCPConfig `yaml:"mcp"`

	Telemetry Telemetry `yaml:"telemetry"`
}

// API holds connection and identification settings for the completion
// service.
type API struct {
	// BaseURL must end in "/". Empty selects the public endpoint.
	BaseURL string `yaml:"base_url"`

	// APIKey is the bearer credential. When empty, the OPENROUTER_API_KEY and
	// OR_API_KEY environment variables are consulted.
	APIKey string `yaml:"api_key"`

	// Timeout bounds one request including reading the body (e.g. "30s").
	Timeout time.Duration `yaml:"timeout"`

	HTTPReferer string `yaml:"http_referer"`
	SiteTitle   string `yaml:"site_title"`
	UserID      string `yaml:"user_id"`

	// Headers are sent on every request.
	Headers map[string]string `yaml:"headers"`
}

// Routing selects the primary model, fallbacks, and provider preferences of
// chat requests.
type Routing struct {
	// Profile is one of lowest_latency, lowest_cost, highest_quality, or
	// custom. Empty disables profile routing.
	Profile string `yaml:"profile"`

	Primary   string   `yaml:"primary"`
	Fallbacks []string `yaml:"fallbacks"`

	Provider *ProviderPreferences `yaml:"provider"`
}

// ProviderPreferences mirrors the provider routing hints of a request.
type ProviderPreferences struct {
	Order             []string `yaml:"order"`
	AllowFallbacks    *bool    `yaml:"allow_fallbacks"`
	RequireParameters *bool    `yaml:"require_parameters"`
	DataCollection    string   `yaml:"data_collection"`
	Ignore            []string `yaml:"ignore"`
	Quantizations     []string `yaml:"quantizations"`
	Sort              string   `yaml:"sort"`
}

// Cache configures the optional Redis response cache. An empty RedisAddr
// disables caching.
type Cache struct {
	RedisAddr string        `yaml:"redis_addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	TTL       time.Duration `yaml:"ttl"`
}

// MCPConfig holds the list of Model Context Protocol servers whose tools are
// offered to the model in chat sessions.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes how to connect to a single MCP tool server.
type MCPServerConfig struct {
	// Name is a unique identifier for this server (used in logs).
	Name string `yaml:"name"`

	Transport mcp.Transport `yaml:"transport"`

	// Command is the executable (with optional arguments) launched when
	// Transport is "stdio".
	Command string `yaml:"command"`

	// URL is the MCP endpoint used when Transport is "streamable-http".
	URL string `yaml:"url"`

	// Env holds additional environment variables injected into the
	// subprocess when Transport is "stdio". May be nil.
	Env map[string]string `yaml:"env"`
}

// ServerConfig converts s into the host's connection description.
func (s MCPServerConfig) ServerConfig() mcp.ServerConfig {
	return mcp.ServerConfig{
		Name:      s.Name,
		Transport: s.Transport,
		Command:   s.Command,
		URL:       s.URL,
		Env:       s.Env,
	}
}

// Telemetry configures the metrics endpoint.
type Telemetry struct {
	// MetricsAddr is the listen address of the Prometheus /metrics endpoint
	// (e.g. ":9090"). Empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`

	// ServiceName is reported as the OTel service.name resource attribute.
	ServiceName string `yaml:"service_name"`
}
