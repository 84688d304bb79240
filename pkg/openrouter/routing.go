package openrouter

import (
	"fmt"
	"slices"
)

// DefaultModel is the primary model used by [Client.NewChatRequest] when no
// routing profile is configured.
const DefaultModel = "openai/gpt-4o"

// Predefined routing profile names accepted by [ProfileByName].
const (
	ProfileLowestLatency  = "lowest_latency"
	ProfileLowestCost     = "lowest_cost"
	ProfileHighestQuality = "highest_quality"
	ProfileCustom         = "custom"
)

// RoutingProfile selects the primary model of a chat request, the ordered
// fallback models the service may try, and optional provider preferences.
type RoutingProfile struct {
	// Name is the profile name, one of the Profile* constants.
	Name string

	Primary string

	// Fallbacks are serialised under "models" in the request body.
	Fallbacks []string

	Provider *ProviderPreferences
}

// ProfileByName returns the predefined profile with the given name. The
// predefined primaries all accept a response schema. The
// "custom" profile requires primary; the predefined ones ignore primary and
// fallbacks unless they are non-empty, in which case they override the
// defaults.
func ProfileByName(name, primary string, fallbacks []string) (RoutingProfile, error) {
	var p RoutingProfile
	switch name {
	case ProfileLowestLatency, ProfileLowestCost:
		p = RoutingProfile{Name: name, Primary: "openai/gpt-4o-mini"}
	case ProfileHighestQuality:
		p = RoutingProfile{Name: name, Primary: "openai/gpt-4.1"}
	case ProfileCustom:
		if primary == "" {
			return RoutingProfile{}, fmt.Errorf("openrouter: routing profile %q requires a primary model", name)
		}
		p = RoutingProfile{Name: name}
	default:
		return RoutingProfile{}, fmt.Errorf("openrouter: unknown routing profile %q", name)
	}
	if primary != "" {
		p.Primary = primary
	}
	if len(fallbacks) > 0 {
		p.Fallbacks = slices.Clone(fallbacks)
	}
	return p, nil
}

func (p RoutingProfile) clone() RoutingProfile {
	p.Fallbacks = slices.Clone(p.Fallbacks)
	if p.Provider != nil {
		pp := p.Provider.clone()
		p.Provider = &pp
	}
	return p
}

func (p ProviderPreferences) clone() ProviderPreferences {
	p.Order = slices.Clone(p.Order)
	p.Ignore = slices.Clone(p.Ignore)
	p.Quantizations = slices.Clone(p.Quantizations)
	if p.AllowFallbacks != nil {
		v := *p.AllowFallbacks
		p.AllowFallbacks = &v
	}
	if p.RequireParameters != nil {
		v := *p.RequireParameters
		p.RequireParameters = &v
	}
	return p
}
