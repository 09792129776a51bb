package router

import (
	"errors"
	"fmt"

	"github.com/pario-ai/steer/pkg/config"
	"github.com/pario-ai/steer/pkg/models"
)

// ErrNoRoute is returned when no target of a decision has a configured provider.
var ErrNoRoute = errors.New("no configured provider for route")

// Route is a configured provider and the model to request from it.
type Route struct {
	Provider config.ProviderConfig
	Model    string
}

// Resolve maps a decision onto configured providers: the primary target
// first, then its fallback. Targets without a configured provider are skipped.
func Resolve(providers []config.ProviderConfig, dec models.RoutingDecision) ([]Route, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", ErrNoRoute)
	}

	providerIndex := make(map[string]config.ProviderConfig, len(providers))
	for _, p := range providers {
		providerIndex[p.Name] = p
	}

	targets := [][2]string{{dec.Provider, dec.Model}}
	if dec.FallbackProvider != "" && dec.FallbackModel != "" {
		targets = append(targets, [2]string{dec.FallbackProvider, dec.FallbackModel})
	}

	var routes []Route
	for _, t := range targets {
		provider, ok := providerIndex[t[0]]
		if !ok {
			continue
		}
		routes = append(routes, Route{Provider: provider, Model: t[1]})
	}
	if len(routes) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoRoute, dec.Provider, dec.Model)
	}
	return routes, nil
}
