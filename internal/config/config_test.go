package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/openrouter/internal/config"
	"github.com/MrWong99/openrouter/internal/mcp"
	"github.com/MrWong99/openrouter/pkg/openrouter"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
log_level: debug

api:
  base_url: https://gateway.example.com/api/v1/
  api_key: sk-test
  timeout: 45s
  http_referer: https://example.com
  site_title: Example
  user_id: user-7
  headers:
    X-Team: research

model: openai/gpt-4o-mini

routing:
  profile: custom
  primary: anthropic/claude-3.5-sonnet
  fallbacks:
    - openai/gpt-4o
  provider:
    order: [anthropic, openai]
    allow_fallbacks: false
    data_collection: deny
    quantizations: [fp8, bf16]
    sort: latency

cache:
  redis_addr: localhost:6379
  db: 2
  ttl: 10m

mcp:
  servers:
    - name: tools
      transport: stdio
      command: /usr/local/bin/mcp-tools --verbose
      env:
        TOOLS_HOME: /srv/tools
    - name: web
      transport: streamable-http
      url: https://tools.example.com/mcp

telemetry:
  metrics_addr: ":9090"
  service_name: openrouter-cli
`

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q, want %q", cfg.LogLevel, config.LogDebug)
	}
	if cfg.API.Timeout != 45*time.Second {
		t.Errorf("api.timeout: got %s, want 45s", cfg.API.Timeout)
	}
	if cfg.API.Headers["X-Team"] != "research" {
		t.Errorf("api.headers: got %v", cfg.API.Headers)
	}
	if cfg.Routing.Provider == nil || cfg.Routing.Provider.AllowFallbacks == nil || *cfg.Routing.Provider.AllowFallbacks {
		t.Errorf("routing.provider.allow_fallbacks: got %+v", cfg.Routing.Provider)
	}
	if cfg.Cache.TTL != 10*time.Minute || cfg.Cache.DB != 2 {
		t.Errorf("cache: got %+v", cfg.Cache)
	}
	if len(cfg.MCP.Servers) != 2 {
		t.Fatalf("mcp.servers: got %d, want 2", len(cfg.MCP.Servers))
	}
	if cfg.MCP.Servers[0].Env["TOOLS_HOME"] != "/srv/tools" {
		t.Errorf("mcp.servers[0].env: got %v", cfg.MCP.Servers[0].Env)
	}
	if cfg.Telemetry.MetricsAddr != ":9090" {
		t.Errorf("telemetry.metrics_addr: got %q", cfg.Telemetry.MetricsAddr)
	}
}

func TestLoadFromReader_EmptyIsValid(t *testing.T) {
	for _, doc := range []string{"", "{}"} {
		if _, err := config.LoadFromReader(strings.NewReader(doc)); err != nil {
			t.Fatalf("unexpected error for %q: %v", doc, err)
		}
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("api:\n  api_kye: typo\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "api_kye") {
		t.Errorf("error should mention the unknown field, got: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openrouter.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model != "openai/gpt-4o-mini" {
		t.Errorf("model: got %q", cfg.Model)
	}

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

// ── Conversion ────────────────────────────────────────────────────────────────

func TestAPIKey_Fallback(t *testing.T) {
	env := map[string]string{}
	getenv := func(k string) string { return env[k] }

	cfg := &config.Config{}
	if got := cfg.APIKey(getenv); got != "" {
		t.Errorf("expected empty key, got %q", got)
	}
	env[config.EnvAPIKeyShort] = "short"
	if got := cfg.APIKey(getenv); got != "short" {
		t.Errorf("expected OR_API_KEY value, got %q", got)
	}
	env[config.EnvAPIKey] = "long"
	if got := cfg.APIKey(getenv); got != "long" {
		t.Errorf("expected OPENROUTER_API_KEY to win, got %q", got)
	}
	cfg.API.APIKey = "file"
	if got := cfg.APIKey(getenv); got != "file" {
		t.Errorf("expected configured key to win, got %q", got)
	}
}

func TestClientBuilder(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a, err := cfg.ClientBuilder()
	if err != nil {
		t.Fatalf("ClientBuilder: %v", err)
	}
	c, err := a.WithAPIKey(cfg.APIKey(nil))
	if err != nil {
		t.Fatalf("WithAPIKey: %v", err)
	}

	got := c.Config()
	if got.BaseURL.String() != "https://gateway.example.com/api/v1/" {
		t.Errorf("base url: got %s", got.BaseURL)
	}
	if got.Timeout != 45*time.Second || got.SiteTitle != "Example" || got.UserID != "user-7" {
		t.Errorf("unexpected config %+v", got)
	}
	if got.Headers.Get("X-Team") != "research" {
		t.Errorf("headers: got %v", got.Headers)
	}

	payload, err := c.NewChatRequest([]openrouter.Message{openrouter.UserMessage("hi")}).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if payload.Model() != "anthropic/claude-3.5-sonnet" {
		t.Errorf("model: got %q", payload.Model())
	}
	body := string(payload.Bytes())
	for _, want := range []string{`"models":["openai/gpt-4o"]`, `"sort":"latency"`, `"data_collection":"deny"`, `"allow_fallbacks":false`} {
		if !strings.Contains(body, want) {
			t.Errorf("payload %s missing %s", body, want)
		}
	}
}

func TestClientBuilder_Defaults(t *testing.T) {
	a, err := (&config.Config{}).ClientBuilder()
	if err != nil {
		t.Fatalf("ClientBuilder: %v", err)
	}
	got := a.Config()
	if got.BaseURL.String() != openrouter.DefaultBaseURL || got.Timeout != openrouter.DefaultTimeout {
		t.Errorf("unexpected defaults %+v", got)
	}
}

func TestMCPServerConfig(t *testing.T) {
	s := config.MCPServerConfig{Name: "web", Transport: mcp.TransportStreamableHTTP, URL: "https://x/mcp"}
	got := s.ServerConfig()
	if got.Name != "web" || got.Transport != mcp.TransportStreamableHTTP || got.URL != "https://x/mcp" {
		t.Errorf("unexpected server config %+v", got)
	}
}
