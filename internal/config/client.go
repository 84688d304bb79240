package config

import (
	"fmt"

	"github.com/MrWong99/openrouter/pkg/openrouter"
)

// APIKey returns the configured key, falling back to the OPENROUTER_API_KEY
// and OR_API_KEY variables looked up through getenv.
func (c *Config) APIKey(getenv func(string) string) string {
	if c.API.APIKey != "" {
		return c.API.APIKey
	}
	if getenv == nil {
		return ""
	}
	if k := getenv(EnvAPIKey); k != "" {
		return k
	}
	return getenv(EnvAPIKeyShort)
}

// RoutingProfile builds the configured profile. ok is false when no profile
// is configured.
func (c *Config) RoutingProfile() (p openrouter.RoutingProfile, ok bool, err error) {
	if c.Routing.Profile == "" {
		return openrouter.RoutingProfile{}, false, nil
	}
	p, err = openrouter.ProfileByName(c.Routing.Profile, c.Routing.Primary, c.Routing.Fallbacks)
	if err != nil {
		return openrouter.RoutingProfile{}, false, fmt.Errorf("config: routing: %w", err)
	}
	if c.Routing.Provider != nil {
		prefs := c.Routing.Provider.Preferences()
		p.Provider = &prefs
	}
	return p, true, nil
}

// Preferences converts p into request routing hints.
func (p *ProviderPreferences) Preferences() openrouter.ProviderPreferences {
	out := openrouter.ProviderPreferences{
		Order:             p.Order,
		AllowFallbacks:    p.AllowFallbacks,
		RequireParameters: p.RequireParameters,
		DataCollection:    openrouter.DataCollection(p.DataCollection),
		Ignore:            p.Ignore,
		Sort:              openrouter.ProviderSort(p.Sort),
	}
	for _, q := range p.Quantizations {
		out.Quantizations = append(out.Quantizations, openrouter.Quantization(q))
	}
	return out
}

// ClientBuilder applies the api and routing sections to a fresh client
// configuration. The result still needs an API key; see [Config.APIKey].
func (c *Config) ClientBuilder() (openrouter.AddressSet, error) {
	var (
		a   openrouter.AddressSet
		err error
	)
	if c.API.BaseURL == "" {
		a = openrouter.New().WithDefaultBaseURL()
	} else if a, err = openrouter.New().WithBaseURL(c.API.BaseURL); err != nil {
		return openrouter.AddressSet{}, fmt.Errorf("config: api.base_url: %w", err)
	}

	a = a.WithTimeout(c.API.Timeout).
		WithHTTPReferer(c.API.HTTPReferer).
		WithSiteTitle(c.API.SiteTitle).
		WithUserID(c.API.UserID)
	for name, value := range c.API.Headers {
		a = a.WithHeader(name, value)
	}

	profile, ok, err := c.RoutingProfile()
	if err != nil {
		return openrouter.AddressSet{}, err
	}
	if ok {
		a = a.WithRouting(profile)
	}
	return a, nil
}
