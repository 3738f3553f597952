package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the idvault wallet daemon.
type Config struct {
	Port    int
	Version string

	// DataDir is where the kv snapshot lives. Empty means memory-only.
	DataDir string

	// ClearOnRegenerate controls whether generating a new identity
	// drops the current profile and agent list.
	ClearOnRegenerate bool

	// APITokens, when non-empty, gates /api/v1/* behind a shared token.
	APITokens []string

	// HandshakeTTL is how long settled handshakes are kept before the
	// janitor prunes them. Zero disables pruning.
	HandshakeTTL time.Duration

	Gateway   GatewayConfig
	Telemetry TelemetryConfig
}

// GatewayConfig configures the language-model provider.
type GatewayConfig struct {
	Kind     string // currently "gemini"
	Endpoint string
	APIKey   string
	Model    string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:              envInt("IDVAULT_PORT", 7337),
		Version:           envStr("IDVAULT_VERSION", "0.1.0"),
		DataDir:           envStr("IDVAULT_DATA_DIR", defaultDataDir()),
		ClearOnRegenerate: envBool("IDVAULT_CLEAR_ON_REGENERATE", true),
		APITokens:         envList("IDVAULT_API_TOKENS"),
		HandshakeTTL:      envDur("IDVAULT_HANDSHAKE_TTL", 30*24*time.Hour),
		Gateway: GatewayConfig{
			Kind:     envStr("IDVAULT_GATEWAY_KIND", "gemini"),
			Endpoint: envStr("IDVAULT_GATEWAY_ENDPOINT", ""),
			APIKey:   envStr("IDVAULT_GATEWAY_API_KEY", ""),
			Model:    envStr("IDVAULT_GATEWAY_MODEL", "gemini-1.5-flash"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "idvault"),
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".idvault")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
