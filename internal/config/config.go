// Package config loads the service's environment-variable configuration.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration, sourced from environment
// variables with defaults.
type Config struct {
	Port        string
	Environment string // development, production

	DatabaseURL string
	CacheURL    string

	// EncryptionKey is the 32-byte AES-256-GCM key for PII at rest,
	// decoded from base64.
	EncryptionKey []byte
	HMACKey       []byte

	JWTSigningKey []byte
	JWTAlgorithm  string
	JWTTTL        time.Duration
	JWTIssuer     string

	AllowedHosts []string
	IPAllowList  []string

	SchedulerWorkers    int
	SchedulerQueueDepth int
	L1CacheCapacity     int
}

// Load creates configuration from environment variables with defaults.
func Load() (*Config, error) {
	encKey, err := decodeKey("ENCRYPTION_KEY", getEnv("ENCRYPTION_KEY", ""), 32)
	if err != nil {
		return nil, err
	}
	hmacKey, err := decodeKey("HMAC_KEY", getEnv("HMAC_KEY", ""), 0)
	if err != nil {
		return nil, err
	}
	jwtKey, err := decodeKey("JWT_SIGNING_KEY", getEnv("JWT_SIGNING_KEY", ""), 0)
	if err != nil {
		return nil, err
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/casino"),
		CacheURL:    getEnv("CACHE_URL", "redis://localhost:6379/0"),

		EncryptionKey: encKey,
		HMACKey:       hmacKey,

		JWTSigningKey: jwtKey,
		JWTAlgorithm:  getEnv("JWT_ALGORITHM", "HS256"),
		JWTTTL:        getEnvDuration("JWT_TTL", 24*time.Hour),
		JWTIssuer:     getEnv("JWT_ISSUER", "casino-wallet-core"),

		AllowedHosts: splitList(getEnv("ALLOWED_HOSTS", "localhost,127.0.0.1")),
		IPAllowList:  splitList(getEnv("IP_ALLOW_LIST", "")),

		SchedulerWorkers:    getEnvInt("SCHEDULER_WORKERS", 8),
		SchedulerQueueDepth: getEnvInt("SCHEDULER_QUEUE_DEPTH", 1024),
		L1CacheCapacity:     getEnvInt("L1_CACHE_CAPACITY", 5000),
	}, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decodeKey base64-decodes a configured key. An empty value falls back
// to an all-zero development key; production must set the real one.
func decodeKey(name, value string, requiredLen int) ([]byte, error) {
	if value == "" {
		return make([]byte, maxInt(requiredLen, 32)), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("config: %s is not valid base64: %w", name, err)
	}
	if requiredLen > 0 && len(decoded) != requiredLen {
		return nil, fmt.Errorf("config: %s must decode to %d bytes, got %d", name, requiredLen, len(decoded))
	}
	return decoded, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Helper functions.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
