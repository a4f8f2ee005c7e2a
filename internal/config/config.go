// Package config loads process configuration from the environment.
// Vault contract addresses are not configured here — they come from the
// vaults table at startup.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Chain is one chain's connection endpoints: a websocket URL for the log
// subscription and an HTTP(S) RPC URL for synchronous reads.
type Chain struct {
	Name   string
	WSURL  string
	RPCURL string
}

// Config aggregates all process configuration.
type Config struct {
	DatabaseURL    string
	RedisURL       string // empty disables the cache layer
	ListenAddr     string // ops endpoint (/health, /metrics)
	ReconnectDelay time.Duration
	CacheTTL       time.Duration
	Chains         []Chain
}

// Load reads configuration from the environment, sourcing a .env file
// first when present.
func Load() (*Config, error) {
	_ = godotenv.Load() // optional; real env vars win

	cfg := &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		ListenAddr:     envOr("LISTEN_ADDR", ":9090"),
		ReconnectDelay: durationOr("RECONNECT_DELAY", 5*time.Second),
		CacheTTL:       durationOr("CACHE_TTL", 30*time.Second),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}

	wsURLs, err := parsePairs(os.Getenv("CHAIN_WS_URLS"))
	if err != nil {
		return nil, fmt.Errorf("config: CHAIN_WS_URLS: %w", err)
	}
	rpcURLs, err := parsePairs(os.Getenv("CHAIN_RPC_URLS"))
	if err != nil {
		return nil, fmt.Errorf("config: CHAIN_RPC_URLS: %w", err)
	}
	if len(wsURLs) == 0 {
		return nil, fmt.Errorf("config: CHAIN_WS_URLS is required (name=url, comma-separated)")
	}

	for name, ws := range wsURLs {
		rpc, ok := rpcURLs[name]
		if !ok {
			return nil, fmt.Errorf("config: chain %s has a websocket URL but no RPC URL", name)
		}
		cfg.Chains = append(cfg.Chains, Chain{Name: name, WSURL: ws, RPCURL: rpc})
	}
	return cfg, nil
}

// RPCURLs returns the per-chain RPC endpoint map for the read client.
func (c *Config) RPCURLs() map[string]string {
	out := make(map[string]string, len(c.Chains))
	for _, ch := range c.Chains {
		out[ch.Name] = ch.RPCURL
	}
	return out
}

// parsePairs parses "name=url,name=url" lists.
func parsePairs(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, url, ok := strings.Cut(part, "=")
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("malformed entry %q, want name=url", part)
		}
		out[strings.TrimSpace(name)] = strings.TrimSpace(url)
	}
	return out, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationOr(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
