// Package config loads the relay's runtime configuration from environment
// variables, following the TEZ_-prefixed convention and the defaults named
// in the external interface spec for this service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	defaultPort            = "8080"
	defaultMaxTezSizeBytes = 1 << 20 // 1 MiB
	defaultMaxContextItems = 50
	defaultMaxRecipients   = 100
	defaultFederationMode  = "allowlist"
	defaultDataDir         = "./data"
)

// Config holds every externally-tunable setting this relay instance reads
// at startup. Nothing here is mutated after Load returns.
type Config struct {
	Port              string
	RelayHost         string
	JWTSecret         string
	JWTIssuer         string
	MaxTezSizeBytes   int
	MaxContextItems   int
	MaxRecipients     int
	FederationEnabled bool
	FederationMode    string
	DataDir           string
	AdminUserIDs      []string
	PostgresDSN       string
}

// Load reads configuration from the process environment, applying defaults
// for anything unset. relayHost and jwtSecret are required; everything
// else is optional.
func Load() (*Config, error) {
	c := &Config{
		Port:              getenv("TEZ_PORT", defaultPort),
		RelayHost:         os.Getenv("TEZ_RELAY_HOST"),
		JWTSecret:         os.Getenv("TEZ_JWT_SECRET"),
		JWTIssuer:         getenv("TEZ_JWT_ISSUER", "tezrelay"),
		MaxTezSizeBytes:   defaultMaxTezSizeBytes,
		MaxContextItems:   defaultMaxContextItems,
		MaxRecipients:     defaultMaxRecipients,
		FederationEnabled: getenvBool("TEZ_FEDERATION_ENABLED", true),
		FederationMode:    getenv("TEZ_FEDERATION_MODE", defaultFederationMode),
		DataDir:           getenv("TEZ_DATA_DIR", defaultDataDir),
		AdminUserIDs:      getenvList("TEZ_ADMIN_USER_IDS"),
		PostgresDSN:       os.Getenv("TEZ_PG_DSN"),
	}

	if v := os.Getenv("TEZ_MAX_TEZ_SIZE_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: TEZ_MAX_TEZ_SIZE_BYTES: %w", err)
		}
		c.MaxTezSizeBytes = n
	}
	if v := os.Getenv("TEZ_MAX_CONTEXT_ITEMS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: TEZ_MAX_CONTEXT_ITEMS: %w", err)
		}
		c.MaxContextItems = n
	}
	if v := os.Getenv("TEZ_MAX_RECIPIENTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: TEZ_MAX_RECIPIENTS: %w", err)
		}
		c.MaxRecipients = n
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.RelayHost == "" {
		return fmt.Errorf("config: TEZ_RELAY_HOST is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("config: TEZ_JWT_SECRET is required")
	}
	if c.FederationMode != "allowlist" && c.FederationMode != "open" {
		return fmt.Errorf("config: TEZ_FEDERATION_MODE must be allowlist or open, got %q", c.FederationMode)
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getenvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
