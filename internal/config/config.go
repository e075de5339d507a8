package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	Environment string

	// Storage
	StorageDriver  string // postgres, leveldb or memory
	DatabaseURL    string
	LevelDBPath    string
	MigrateOnStart bool

	// Redis
	RedisURL      string
	EventsChannel string

	// Server
	Port        string
	FrontendURL string

	// Ledger
	CustodyAccount     string
	ExistentialDeposit uint64
	GameCacheSize      int

	// Locking
	LockBackend    string // local or redis
	LockTTLSeconds int
	LockWaitMillis int

	// Security
	JWTSecret       string
	TokenTTLMinutes int

	// Rate limiting (requests per second per client, and burst)
	RateLimitPerSecond int
	RateLimitBurst     int

	// Logging
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	// Optional TOML file with genesis endowments and council members
	ConfigFile string
	Genesis    Genesis
}

// Genesis is the part of the configuration that only a file can carry.
type Genesis struct {
	Endowments []Endowment `toml:"endowment"`
	Council    []string    `toml:"council"`
}

type Endowment struct {
	Account string `toml:"account"`
	Balance uint64 `toml:"balance"`
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		// Environment
		Environment: getEnv("APP_ENV", "development"),

		// Storage
		StorageDriver:  getEnv("STORAGE_DRIVER", "postgres"),
		DatabaseURL:    getEnv("DATABASE_URL", "postgres://localhost:5432/escrow?sslmode=disable"),
		LevelDBPath:    getEnv("LEVELDB_PATH", "data/ledger"),
		MigrateOnStart: getEnvBool("MIGRATE_ON_START", true),

		// Redis
		RedisURL:      getEnv("REDIS_URL", ""),
		EventsChannel: getEnv("EVENTS_CHANNEL", "ledger_events"),

		// Server
		Port:        getEnv("APP_PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),

		// Ledger
		CustodyAccount:     getEnv("CUSTODY_ACCOUNT", "escrow/custody"),
		ExistentialDeposit: getEnvUint64("EXISTENTIAL_DEPOSIT", 1),
		GameCacheSize:      getEnvInt("GAME_CACHE_SIZE", 1024),

		// Locking
		LockBackend:    getEnv("LOCK_BACKEND", "local"),
		LockTTLSeconds: getEnvInt("LOCK_TTL_SECONDS", 10),
		LockWaitMillis: getEnvInt("LOCK_WAIT_MS", 3000),

		// Security
		JWTSecret:       getEnv("JWT_SECRET", "change-me-in-production"),
		TokenTTLMinutes: getEnvInt("TOKEN_TTL_MINUTES", 60),

		// Rate limiting
		RateLimitPerSecond: getEnvInt("RATE_LIMIT_PER_SECOND", 10),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 20),

		// Logging
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),

		ConfigFile: getEnv("CONFIG_FILE", ""),
	}
}

// LoadFile reads genesis endowments and council members from a TOML file.
func (c *Config) LoadFile(path string) error {
	var g Genesis
	if _, err := toml.DecodeFile(path, &g); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	seen := make(map[string]bool, len(g.Endowments))
	for _, e := range g.Endowments {
		if e.Account == "" {
			return fmt.Errorf("config file %s: endowment without account", path)
		}
		if seen[e.Account] {
			return fmt.Errorf("config file %s: duplicate endowment for %s", path, e.Account)
		}
		seen[e.Account] = true
	}
	c.Genesis = g
	return nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case "postgres", "leveldb", "memory":
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	switch c.LockBackend {
	case "local":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("LOCK_BACKEND=redis needs REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown LOCK_BACKEND %q", c.LockBackend)
	}
	if c.CustodyAccount == "" {
		return fmt.Errorf("CUSTODY_ACCOUNT is empty")
	}
	if c.IsProduction() && c.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseUint(value, 10, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return defaultValue
}
