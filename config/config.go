package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ModeAzure  = "azure"
	ModeMemory = "memory"

	defaultTable      = "todos"
	defaultPrefix     = "/.netlify/functions"
	defaultPort       = "8080"
	defaultCacheTTL   = 30 * time.Second
	defaultAPIBaseURL = "http://localhost:8888/.netlify/functions"
)

// Config holds settings for the functions server.
type Config struct {
	Debug            bool
	StorageMode      string
	ConnectionString string
	TodosTable       string
	EventsQueue      string
	RedisConnection  string
	CacheTTL         time.Duration
	PathPrefix       string
	ListenAddr       string
}

// Load reads the server configuration from the environment. A .env file in
// the working directory, when present, seeds variables that are not already
// set.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Debug:            envBool("DEBUG"),
		StorageMode:      strings.ToLower(envString("STORAGE_MODE", ModeAzure)),
		ConnectionString: os.Getenv("STORAGE_CONNECTION_STRING"),
		TodosTable:       envString("TODOS_TABLE", defaultTable),
		EventsQueue:      os.Getenv("TODO_EVENTS_QUEUE"),
		RedisConnection:  os.Getenv("REDIS_CONNECTION_STRING"),
		PathPrefix:       strings.TrimRight(envString("FUNCTIONS_PATH_PREFIX", defaultPrefix), "/"),
		ListenAddr:       ":" + envString("FUNCTIONS_CUSTOMHANDLER_PORT", defaultPort),
	}

	ttl, err := envDuration("CACHE_TTL", defaultCacheTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheTTL = ttl

	switch cfg.StorageMode {
	case ModeAzure:
		if cfg.ConnectionString == "" {
			return Config{}, errors.New("missing STORAGE_CONNECTION_STRING")
		}
	case ModeMemory:
	default:
		return Config{}, fmt.Errorf("invalid STORAGE_MODE %q", cfg.StorageMode)
	}
	return cfg, nil
}

// ClientBaseURL returns the functions base URL used by the todo client.
func ClientBaseURL() string {
	_ = godotenv.Load()
	return strings.TrimRight(envString("TODO_API_URL", defaultAPIBaseURL), "/")
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}
