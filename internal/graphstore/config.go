package graphstore

import (
	"os"
	"strconv"
)

// Config holds the graph store configuration
type Config struct {
	URL            string
	AuthToken      string
	MaxOpenConns   int
	MaxIdleConns   int
	ConnMaxIdleSec int
	ConnMaxLifeSec int
	// NodeCacheSize bounds the hot-node read cache (number of entries).
	// Zero disables the cache.
	NodeCacheSize int64
}

// NewConfig creates a new Config from environment variables
func NewConfig() *Config {
	url := os.Getenv("LIBSQL_URL")
	if url == "" {
		url = "file:./hybridkg.db"
	}

	cfg := &Config{
		URL:           url,
		AuthToken:     os.Getenv("LIBSQL_AUTH_TOKEN"),
		NodeCacheSize: 4096,
	}
	if v := os.Getenv("DB_MAX_OPEN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxOpenConns = n
		}
	}
	if v := os.Getenv("DB_MAX_IDLE_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxIdleConns = n
		}
	}
	if v := os.Getenv("DB_CONN_MAX_IDLE_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ConnMaxIdleSec = n
		}
	}
	if v := os.Getenv("DB_CONN_MAX_LIFE_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ConnMaxLifeSec = n
		}
	}
	if v := os.Getenv("NODE_CACHE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.NodeCacheSize = n
		}
	}
	return cfg
}
