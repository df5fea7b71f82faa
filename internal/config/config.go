// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config collects everything read from the environment at startup.
type Config struct {
	Port string

	PostgresURL string
	RedisAddr   string
	RedisDB     int

	TickInterval time.Duration
	MinGroupSize int
	MaxQueueAge  time.Duration

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
}

// Load reads the environment. Postgres connection parts follow the usual
// POSTGRES_*/PG_* variables unless DATABASE_URL overrides them wholesale.
func Load() Config {
	cfg := Config{
		Port:         getEnv("PORT", "8080"),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:      getEnvInt("REDIS_DB", 0),
		TickInterval: getEnvDuration("MATCH_TICK_INTERVAL", 5*time.Second),
		MinGroupSize: getEnvInt("MATCH_MIN_GROUP_SIZE", 2),
		MaxQueueAge:  getEnvDuration("MATCH_MAX_QUEUE_AGE", 30*time.Minute),

		JWTPrivateKeyPath: os.Getenv("JWT_PRIVATE_KEY_PATH"),
		JWTPublicKeyPath:  os.Getenv("JWT_PUBLIC_KEY_PATH"),
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.PostgresURL = url
	} else {
		cfg.PostgresURL = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s",
			os.Getenv("POSTGRES_USER"),
			os.Getenv("POSTGRES_PASSWORD"),
			getEnv("PG_HOST", "localhost"),
			getEnv("PG_PORT", "5432"),
			os.Getenv("PG_DATABASE"),
		)
	}
	return cfg
}

// getEnv retrieves an environment variable's value or returns a default.
func getEnv(key, defVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defVal
}

// getEnvInt retrieves an integer value from an environment variable or returns a default value.
func getEnvInt(key string, defVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defVal
	}
	return n
}

// getEnvDuration retrieves a time.Duration from an environment variable or returns a default value.
func getEnvDuration(key string, defVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defVal
	}
	return d
}
