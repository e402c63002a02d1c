package config

import (
	"time"

	"github.com/crystaldolphin/memshard/internal/providers"
)

// ProviderSpec resolves the registry backend for the provider section.
// An explicit name wins; otherwise it is detected from the API key, the
// base URL and the model, in that order. Returns nil if nothing matches.
func (c *Config) ProviderSpec() *providers.Spec {
	p := c.Provider
	if p.Name != "" {
		if spec := providers.FindByName(p.Name); spec != nil {
			return spec
		}
	}
	return providers.Detect(p.APIKey, p.APIBase, p.Model)
}

// GetAPIBase resolves the effective API base URL.
// Precedence: configured apiBase > the matched backend's default.
func (c *Config) GetAPIBase() string {
	if c.Provider.APIBase != "" {
		return c.Provider.APIBase
	}
	if spec := c.ProviderSpec(); spec != nil {
		return spec.DefaultAPIBase
	}
	return ""
}

// ProviderParams returns the constructor parameters for providers.New.
func (c *Config) ProviderParams() providers.Params {
	return providers.Params{
		APIKey:            c.Provider.APIKey,
		APIBase:           c.GetAPIBase(),
		DefaultModel:      c.Provider.Model,
		ExtraHeaders:      c.Provider.ExtraHeaders,
		RequestsPerMinute: c.Provider.RequestsPerMinute,
		Timeout:           time.Duration(c.Provider.TimeoutSeconds) * time.Second,
	}
}
