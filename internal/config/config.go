// Package config defines the gateway's runtime configuration.
package config

import "time"

// ProviderConfig holds the default (non-BYOK) credentials for one upstream
// provider, plus its base URL override.
type ProviderConfig struct {
	Name    string
	APIKey  string
	BaseURL string
}

// UpstreamConfig groups every provider the router can fan out to.
type UpstreamConfig struct {
	Providers []ProviderConfig

	// FirstChunkTimeout / OtherChunkTimeout are the unclamped operator
	// defaults loaded from the environment. internal/httpapi does not read
	// them; it passes its own fixed timeouts to UpstreamClient, which clamps
	// whatever it receives (see internal/upstream/client).
	FirstChunkTimeout time.Duration
	OtherChunkTimeout time.Duration
}

// RetryConfig holds the operator's backoff budget settings. RetryController
// (C6) does not read it; its callers use retry.DefaultOptions.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          float64
	MaxElapsedTime  time.Duration
}

// FetcherConfig holds EnsembleLlmFetcher (C7) settings loaded from the
// environment; no package reads PreWarm.
type FetcherConfig struct {
	PreWarm bool
}

// ObsConfig controls logging/tracing/metrics wiring.
type ObsConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	LogLevel       string
	LogPath        string
	OTLP           string // empty disables OTel export
}

// HTTPConfig controls the gateway's own listening HTTP surface.
type HTTPConfig struct {
	Addr string
}

// Config is the fully-resolved gateway configuration.
type Config struct {
	HTTP     HTTPConfig
	Upstream UpstreamConfig
	Retry    RetryConfig
	Fetcher  FetcherConfig
	Obs      ObsConfig
}

// DefaultRetryConfig mirrors the clamps described in spec §4.6/§6's budget caps.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		Jitter:          0.2,
		MaxElapsedTime:  2 * time.Minute,
	}
}
