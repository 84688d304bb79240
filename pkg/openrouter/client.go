// Package openrouter is a client for OpenRouter-compatible LLM completion
// services.
//
// A client is configured in stages, each a distinct type, so that a call
// against a client without an address or credential does not compile:
//
//	client, err := openrouter.New().
//		WithDefaultBaseURL().
//		WithSiteTitle("my-app").
//		WithAPIKey(os.Getenv("OPENROUTER_API_KEY"))
//
// Requests are assembled with a [RequestBuilder] into an immutable
// [RequestPayload] and submitted through [ChatAPI], [CompletionsAPI], or
// [StructuredAPI]. Streaming responses are decoded incrementally by a
// [Decoder] and exposed as a [Stream].
//
// All exported errors are concrete types to be inspected with [errors.As].
package openrouter

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// DefaultBaseURL is the public OpenRouter API root.
	DefaultBaseURL = "https://openrouter.ai/api/v1/"

	// DefaultTimeout bounds every HTTP exchange, including the full read of a
	// streaming body.
	DefaultTimeout = 30 * time.Second
)

// Config is a read-only view of a client's configuration.
type Config struct {
	// BaseURL is set once the address stage has been passed.
	BaseURL *url.URL

	// APIKey is set only on a ready [Client].
	APIKey string

	HTTPReferer string
	SiteTitle   string
	UserID      string

	// Headers are extra headers sent with every request.
	Headers http.Header

	Timeout time.Duration
}

func (c Config) clone() Config {
	if c.BaseURL != nil {
		u := *c.BaseURL
		c.BaseURL = &u
	}
	c.Headers = c.Headers.Clone()
	return c
}

// settings carries everything that is not part of [Config] but is fixed at
// construction time.
type settings struct {
	cfg          Config
	roundTripper http.RoundTripper
	logger       *slog.Logger
	routing      *RoutingProfile
}

func (s settings) clone() settings {
	s.cfg = s.cfg.clone()
	if s.routing != nil {
		r := s.routing.clone()
		s.routing = &r
	}
	return s
}

// Unconfigured is the initial configuration stage. Its only transitions set
// the base address.
type Unconfigured struct {
	s settings
}

// New returns an unconfigured client with the default timeout.
func New() Unconfigured {
	return Unconfigured{s: settings{cfg: Config{Timeout: DefaultTimeout}}}
}

// WithBaseURL validates raw and advances to [AddressSet]. The address must be
// absolute and its path must end in "/", so that endpoint paths resolve
// beneath it.
func (u Unconfigured) WithBaseURL(raw string) (AddressSet, error) {
	base, err := parseBaseURL(raw)
	if err != nil {
		return AddressSet{}, err
	}
	s := u.s.clone()
	s.cfg.BaseURL = base
	return AddressSet{s: s}, nil
}

// WithDefaultBaseURL advances to [AddressSet] with [DefaultBaseURL].
func (u Unconfigured) WithDefaultBaseURL() AddressSet {
	a, err := u.WithBaseURL(DefaultBaseURL)
	if err != nil {
		panic("openrouter: default base URL is invalid: " + err.Error())
	}
	return a
}

func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &ConfigurationError{Field: "base_url", Reason: "must not be empty"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &ConfigurationError{Field: "base_url", Reason: "cannot parse", Err: err}
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, &ConfigurationError{Field: "base_url", Reason: "must be an absolute URL with scheme and host"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &ConfigurationError{Field: "base_url", Reason: "scheme must be http or https, got " + u.Scheme}
	}
	if !strings.HasSuffix(u.Path, "/") {
		return nil, &ConfigurationError{Field: "base_url", Reason: "path must end with a trailing slash"}
	}
	return u, nil
}

// AddressSet is the stage after a base address has been accepted. Optional
// settings may be applied any number of times; the stage only advances once a
// credential is supplied.
type AddressSet struct {
	s settings
}

// Config returns a copy of the configuration accumulated so far.
func (a AddressSet) Config() Config { return a.s.cfg.clone() }

// WithTimeout sets the per-request timeout. Non-positive values restore
// [DefaultTimeout].
func (a AddressSet) WithTimeout(d time.Duration) AddressSet {
	if d <= 0 {
		d = DefaultTimeout
	}
	s := a.s.clone()
	s.cfg.Timeout = d
	return AddressSet{s: s}
}

// WithHTTPReferer sets the HTTP-Referer identification header.
func (a AddressSet) WithHTTPReferer(referer string) AddressSet {
	s := a.s.clone()
	s.cfg.HTTPReferer = referer
	return AddressSet{s: s}
}

// WithSiteTitle sets the X-Title identification header.
func (a AddressSet) WithSiteTitle(title string) AddressSet {
	s := a.s.clone()
	s.cfg.SiteTitle = title
	return AddressSet{s: s}
}

// WithUserID sets the X-User-ID header.
func (a AddressSet) WithUserID(id string) AddressSet {
	s := a.s.clone()
	s.cfg.UserID = id
	return AddressSet{s: s}
}

// WithHeader adds a custom header sent with every request. Repeated calls with
// the same name replace the earlier value. Invalid names or values are
// reported by [AddressSet.WithAPIKey].
func (a AddressSet) WithHeader(name, value string) AddressSet {
	s := a.s.clone()
	if s.cfg.Headers == nil {
		s.cfg.Headers = make(http.Header)
	}
	s.cfg.Headers[http.CanonicalHeaderKey(name)] = []string{value}
	return AddressSet{s: s}
}

// WithRoundTripper replaces the underlying HTTP transport. The default is
// [http.DefaultTransport]. The transport is always wrapped with OpenTelemetry
// instrumentation.
func (a AddressSet) WithRoundTripper(rt http.RoundTripper) AddressSet {
	s := a.s.clone()
	s.roundTripper = rt
	return AddressSet{s: s}
}

// WithLogger sets the logger used for debug output. The default is
// [slog.Default].
func (a AddressSet) WithLogger(l *slog.Logger) AddressSet {
	s := a.s.clone()
	s.logger = l
	return AddressSet{s: s}
}

// WithRouting sets the profile applied by [Client.NewChatRequest].
func (a AddressSet) WithRouting(p RoutingProfile) AddressSet {
	s := a.s.clone()
	p = p.clone()
	s.routing = &p
	return AddressSet{s: s}
}

// WithAPIKey validates the credential and every configured header, builds the
// HTTP transport, and returns a ready [Client].
func (a AddressSet) WithAPIKey(key string) (*Client, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, &ConfigurationError{Field: "api_key", Reason: "must not be empty"}
	}
	if !httpguts.ValidHeaderFieldValue(key) {
		return nil, &ConfigurationError{Field: "api_key", Reason: "contains characters not allowed in an HTTP header"}
	}
	s := a.s.clone()
	s.cfg.APIKey = key

	for field, v := range map[string]string{
		"http_referer": s.cfg.HTTPReferer,
		"site_title":   s.cfg.SiteTitle,
		"user_id":      s.cfg.UserID,
	} {
		if !httpguts.ValidHeaderFieldValue(v) {
			return nil, &ConfigurationError{Field: field, Reason: "contains characters not allowed in an HTTP header"}
		}
	}
	for name, values := range s.cfg.Headers {
		if !httpguts.ValidHeaderFieldName(name) {
			return nil, &ConfigurationError{Field: "headers", Reason: "invalid header name " + name}
		}
		for _, v := range values {
			if !httpguts.ValidHeaderFieldValue(v) {
				return nil, &ConfigurationError{Field: "headers", Reason: "invalid value for header " + name}
			}
		}
	}

	rt := s.roundTripper
	if rt == nil {
		rt = http.DefaultTransport
	}
	logger := s.logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		cfg: s.cfg,
		http: &http.Client{
			Timeout:   s.cfg.Timeout,
			Transport: otelhttp.NewTransport(rt),
		},
		logger:  logger,
		routing: s.routing,
		caps:    DefaultCapabilities(),
	}
	return c, nil
}

// Client is a ready client. It is immutable and safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	logger  *slog.Logger
	routing *RoutingProfile
	caps    CapabilityResolver
}

// Config returns a copy of the client configuration.
func (c *Client) Config() Config { return c.cfg.clone() }

// WithCapabilities returns a copy of c that uses r for structured-output
// pre-flight checks.
func (c *Client) WithCapabilities(r CapabilityResolver) *Client {
	cp := *c
	cp.caps = r
	return &cp
}

// Chat returns the chat completion API.
func (c *Client) Chat() *ChatAPI { return &ChatAPI{c: c} }

// Completions returns the prompt completion API.
func (c *Client) Completions() *CompletionsAPI { return &CompletionsAPI{c: c} }

// Structured returns the schema-constrained generation API.
func (c *Client) Structured() *StructuredAPI { return &StructuredAPI{c: c} }

// Models returns the model listing API.
func (c *Client) Models() *ModelsAPI { return &ModelsAPI{c: c} }

// NewChatRequest returns a non-interactive chat builder with the routing
// profile applied: its primary model, fallbacks, and provider preferences.
// Without a profile it targets [DefaultModel].
func (c *Client) NewChatRequest(messages []Message) *RequestBuilder {
	if c.routing == nil {
		return NewRequestBuilder(DefaultModel, messages, ModeNonInteractive)
	}
	p := c.routing
	model := p.Primary
	if model == "" {
		model = DefaultModel
	}
	b := NewRequestBuilder(model, messages, ModeNonInteractive)
	if len(p.Fallbacks) > 0 {
		b = b.WithFallbackModels(p.Fallbacks...)
	}
	if p.Provider != nil {
		b = b.WithProviderPreferences(*p.Provider)
	}
	return b
}

// headerValues returns the headers sent with every request: credential,
// content type, identification and custom headers.
func (c *Client) headerValues() http.Header {
	h := c.cfg.Headers.Clone()
	if h == nil {
		h = make(http.Header)
	}
	if c.cfg.HTTPReferer != "" {
		h.Set("HTTP-Referer", c.cfg.HTTPReferer)
	}
	if c.cfg.SiteTitle != "" {
		h.Set("X-Title", c.cfg.SiteTitle)
	}
	if c.cfg.UserID != "" {
		h.Set("X-User-ID", c.cfg.UserID)
	}
	h.Set("Authorization", "Bearer "+c.cfg.APIKey)
	h.Set("Content-Type", "application/json")
	return h
}
