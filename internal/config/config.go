// internal/config/config.go
//
// Process configuration.
// Responsibilities:
//   - Load an optional .env file, then read the environment with defaults.
//   - Validate the handful of enumerated settings before anything starts.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/robalobadob/gallows/internal/words"
)

// Config is everything main needs to wire the server.
type Config struct {
	Env          string
	Port         string
	LogLevel     string
	ClientOrigin string

	JWTSecret  string
	CookieName string

	DBDriver    string // sqlite3 | postgres | mysql | memory
	DBPath      string
	DatabaseURL string
	WordSource  string // db | memory

	DefaultDifficulty string
	ChronoLimit       time.Duration
	FinishedRoomTTL   time.Duration
	IdleRoomTTL       time.Duration
	SweepInterval     time.Duration

	WSMessagesPerSecond float64
	WSBurst             int
	StatsQueue          int
}

// Load reads the configuration. A missing .env file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:                 strings.ToLower(getEnv("APP_ENV", "development")),
		Port:                getEnv("PORT", "5175"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		ClientOrigin:        getEnv("CLIENT_ORIGIN", "http://localhost:5173"),
		JWTSecret:           getEnv("JWT_SECRET", "dev_secret_change_me"),
		CookieName:          getEnv("COOKIE_NAME", "gallows_token"),
		DBDriver:            strings.ToLower(getEnv("DB_DRIVER", "sqlite3")),
		DBPath:              getEnv("DB_PATH", "./data/gallows.db"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		WordSource:          strings.ToLower(getEnv("WORD_SOURCE", "db")),
		DefaultDifficulty:   strings.ToLower(getEnv("DEFAULT_DIFFICULTY", words.Medium)),
		ChronoLimit:         time.Duration(getInt("CHRONO_SECONDS", 30)) * time.Second,
		FinishedRoomTTL:     getDuration("FINISHED_ROOM_TTL", 5*time.Minute),
		IdleRoomTTL:         getDuration("IDLE_ROOM_TTL", 30*time.Minute),
		SweepInterval:       getDuration("SWEEP_INTERVAL", time.Minute),
		WSMessagesPerSecond: getFloat("WS_MESSAGES_PER_SECOND", 5),
		WSBurst:             getInt("WS_BURST", 10),
		StatsQueue:          getInt("STATS_QUEUE", 256),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case "sqlite", "sqlite3", "postgres", "postgresql", "pgx", "mysql", "memory":
	default:
		return fmt.Errorf("config: unknown DB_DRIVER %q", c.DBDriver)
	}
	switch c.WordSource {
	case "db", "memory":
	default:
		return fmt.Errorf("config: unknown WORD_SOURCE %q", c.WordSource)
	}
	if c.DBDriver == "memory" {
		c.WordSource = "memory"
	}
	if (c.DBDriver == "postgres" || c.DBDriver == "postgresql" || c.DBDriver == "pgx" || c.DBDriver == "mysql") && c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required for %s", c.DBDriver)
	}
	if !words.ValidDifficulty(c.DefaultDifficulty) {
		return fmt.Errorf("config: unknown DEFAULT_DIFFICULTY %q", c.DefaultDifficulty)
	}
	if c.ChronoLimit <= 0 {
		return fmt.Errorf("config: CHRONO_SECONDS must be positive")
	}
	if c.WSMessagesPerSecond <= 0 || c.WSBurst <= 0 {
		return fmt.Errorf("config: websocket rate limit must be positive")
	}
	return nil
}

// Production reports whether cookies must be Secure/SameSite=None.
func (c *Config) Production() bool { return c.Env == "production" }

// Addr is the listen address.
func (c *Config) Addr() string { return ":" + c.Port }

// ------------------------------- small util --------------------------------

// getEnv returns the value of k or def if unset/empty.
func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return n
	}
	return def
}

func getFloat(k string, def float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(k), 64); err == nil {
		return f
	}
	return def
}

// getDuration accepts Go durations ("90s") or plain seconds ("90").
func getDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}
