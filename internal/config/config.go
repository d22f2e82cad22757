// Package config centralizes how the gateway reads environment variables and
// exposes them as typed values.
package config

import (
	"os"
	"strconv"
)

// Config represents runtime configuration for the service.
type Config struct {
	Address string

	// S3-compatible decentralized-storage gateway.
	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageBucket    string
	StorageRegion    string
	StorageUseSSL    bool

	// Public retrieval base for stored pieces; cid is appended.
	GatewayBaseURL string

	// Backend notified after each successful upload.
	BackendBaseURL string
	BackendAPIKey  string

	LogLevel string
}

const (
	defaultAddress    = ":8080"
	defaultBucket     = "uploads"
	defaultGatewayURL = "https://ipfs.filebase.io/ipfs"
	defaultLogLevel   = "info"
)

// Load reads configuration from environment variables falling back to
// defaults. Storage credentials are allowed to be absent so the service can
// boot in environments where uploads are expected to fail loudly per request.
func Load() (*Config, error) {
	cfg := &Config{
		Address:          readEnv("UPLOADGATE_ADDRESS", defaultAddress),
		StorageEndpoint:  readEnv("UPLOADGATE_STORAGE_ENDPOINT", ""),
		StorageAccessKey: readEnv("UPLOADGATE_STORAGE_ACCESS_KEY", ""),
		StorageSecretKey: readEnv("UPLOADGATE_STORAGE_SECRET_KEY", ""),
		StorageBucket:    readEnv("UPLOADGATE_STORAGE_BUCKET", defaultBucket),
		StorageRegion:    readEnv("UPLOADGATE_STORAGE_REGION", ""),
		StorageUseSSL:    parseBool("UPLOADGATE_STORAGE_USE_SSL", true),
		GatewayBaseURL:   readEnv("UPLOADGATE_GATEWAY_URL", defaultGatewayURL),
		BackendBaseURL:   readEnv("UPLOADGATE_BACKEND_URL", ""),
		BackendAPIKey:    readEnv("UPLOADGATE_BACKEND_API_KEY", ""),
		LogLevel:         readEnv("UPLOADGATE_LOG_LEVEL", defaultLogLevel),
	}
	return cfg, nil
}

// StorageConfigured reports whether the piece store can be constructed.
func (c *Config) StorageConfigured() bool {
	return c.StorageEndpoint != "" && c.StorageAccessKey != "" && c.StorageSecretKey != ""
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}
