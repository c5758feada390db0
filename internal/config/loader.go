package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

func envTrim(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// Load reads configuration from environment variables (optionally .env).
//
// Use Overload so .env values override existing OS environment variables.
// This lets a repository-local .env deterministically control behavior in
// development; a value set in .env wins even over one the operator has
// explicitly exported.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		Retry:   DefaultRetryConfig(),
		Fetcher: FetcherConfig{PreWarm: true},
	}

	cfg.HTTP.Addr = firstNonEmpty(envTrim("GATEWAY_ADDR"), ":8089")

	cfg.Upstream.FirstChunkTimeout = durationFromEnv("UPSTREAM_FIRST_CHUNK_TIMEOUT_MS", 10_000*time.Millisecond)
	cfg.Upstream.OtherChunkTimeout = durationFromEnv("UPSTREAM_OTHER_CHUNK_TIMEOUT_MS", 40_000*time.Millisecond)

	if v := envTrim("OPENROUTER_API_KEY"); v != "" {
		cfg.Upstream.Providers = append(cfg.Upstream.Providers, ProviderConfig{
			Name:    "openrouter",
			APIKey:  v,
			BaseURL: firstNonEmpty(envTrim("OPENROUTER_BASE_URL"), "https://openrouter.ai/api/v1"),
		})
	}

	if v := intFromEnv("RETRY_MAX_ELAPSED_MS", 0); v > 0 {
		cfg.Retry.MaxElapsedTime = clampDuration(time.Duration(v)*time.Millisecond, 0, 600_000*time.Millisecond)
	}
	if v := envTrim("RETRY_INITIAL_INTERVAL_MS"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Retry.InitialInterval = time.Duration(n) * time.Millisecond
		}
	}
	if v := envTrim("RETRY_MAX_INTERVAL_MS"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Retry.MaxInterval = time.Duration(n) * time.Millisecond
		}
	}
	if v := envTrim("RETRY_MULTIPLIER"); v != "" {
		if f, err := parseFloat(v); err == nil {
			cfg.Retry.Multiplier = f
		}
	}
	if v := envTrim("RETRY_JITTER"); v != "" {
		if f, err := parseFloat(v); err == nil {
			cfg.Retry.Jitter = f
		}
	}

	cfg.Fetcher.PreWarm = boolFromEnv("FETCHER_PREWARM", true)

	cfg.Obs.ServiceName = firstNonEmpty(envTrim("OTEL_SERVICE_NAME"), "ensemble-gateway")
	cfg.Obs.ServiceVersion = firstNonEmpty(envTrim("GATEWAY_VERSION"), "dev")
	cfg.Obs.Environment = firstNonEmpty(envTrim("GATEWAY_ENV"), "development")
	cfg.Obs.LogLevel = firstNonEmpty(envTrim("LOG_LEVEL"), "info")
	cfg.Obs.LogPath = envTrim("LOG_PATH")
	cfg.Obs.OTLP = envTrim("OTEL_EXPORTER_OTLP_ENDPOINT")

	return cfg, nil
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

func durationFromEnv(key string, def time.Duration) time.Duration {
	v := envTrim(key)
	if v == "" {
		return def
	}
	n, err := parseInt(v)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Millisecond
}

func boolFromEnv(key string, def bool) bool {
	v := strings.ToLower(envTrim(key))
	switch v {
	case "":
		return def
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func intFromEnv(key string, def int) int {
	v := envTrim(key)
	if v == "" {
		return def
	}
	n, err := parseInt(v)
	if err != nil {
		return def
	}
	return n
}

func parseInt(s string) (int, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return int(n), err
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
