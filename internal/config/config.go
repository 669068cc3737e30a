package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverPebble   = "pebble"
	DriverMemory   = "memory"
)

type Config struct {
	Port            string
	Host            string
	Env             string
	StoreDriver     string
	DatabaseURL     string
	PebblePath      string
	AutoMigrate     bool
	AuthKey         string
	AllowedOrigins  []string
	RateBurst       int
	RateInterval    time.Duration
	SendBuffer      int
	MaxMessageBytes int64
	StoreTimeout    time.Duration
}

func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	log.Println("[CONFIG] Attempting to load .env file...")

	err := godotenv.Load()
	if err != nil {
		log.Println("[CONFIG] ℹ️ No .env file found, relying on system environment variables")
	} else {
		log.Println("[CONFIG] ✅ Successfully loaded .env file")
	}

	return FromEnv()
}

// FromEnv builds a Config from the current environment without touching .env.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Host:        getEnv("HOST", ""),
		Env:         getEnv("APP_ENV", "development"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		PebblePath:  getEnv("PEBBLE_PATH", "data/chat.pebble"),
		AuthKey:     getEnv("AUTH_KEY", ""),
	}

	defaultDriver := DriverMemory
	if cfg.DatabaseURL != "" {
		defaultDriver = DriverPostgres
	}
	cfg.StoreDriver = strings.ToLower(getEnv("STORE_DRIVER", defaultDriver))

	var errs []string
	parse := func(key string, fn func(string) error) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			if err := fn(v); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", key, err))
			}
		}
	}

	cfg.AutoMigrate = true
	cfg.RateBurst = 10
	cfg.RateInterval = 200 * time.Millisecond
	cfg.SendBuffer = 256
	cfg.MaxMessageBytes = 8192
	cfg.StoreTimeout = 5 * time.Second

	parse("AUTO_MIGRATE", func(v string) (err error) {
		cfg.AutoMigrate, err = strconv.ParseBool(v)
		return err
	})
	parse("RATE_BURST", func(v string) error { return positiveInt(v, &cfg.RateBurst) })
	parse("RATE_INTERVAL", func(v string) error { return positiveDuration(v, &cfg.RateInterval) })
	parse("SEND_BUFFER", func(v string) error { return positiveInt(v, &cfg.SendBuffer) })
	parse("MAX_MESSAGE_BYTES", func(v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return fmt.Errorf("must be a positive integer, got %q", v)
		}
		cfg.MaxMessageBytes = n
		return nil
	})
	parse("STORE_TIMEOUT", func(v string) error { return positiveDuration(v, &cfg.StoreTimeout) })

	cfg.AllowedOrigins = splitList(getEnv("ALLOWED_ORIGINS", "*"))

	switch cfg.StoreDriver {
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case DriverPebble:
		if cfg.PebblePath == "" {
			errs = append(errs, "PEBBLE_PATH is required when STORE_DRIVER=pebble")
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Sprintf("STORE_DRIVER: unknown driver %q", cfg.StoreDriver))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}

	log.Printf("[CONFIG] Environment: %s", cfg.Env)
	log.Printf("[CONFIG] Target Port: %s", cfg.Port)
	log.Printf("[CONFIG] Store driver: %s", cfg.StoreDriver)

	if cfg.StoreDriver == DriverPostgres {
		log.Printf("[CONFIG] Database URL detected: %s", maskDBSource(cfg.DatabaseURL))
	}

	if cfg.AuthKey == "" {
		log.Println("[CONFIG] ⚠️  AUTH_KEY not set, handshake tokens disabled (guest identities only)")
	} else {
		log.Println("[CONFIG] ✅ AUTH_KEY loaded successfully")
	}

	log.Println("[CONFIG] All configuration variables successfully initialized")
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}

	return value
}

func positiveInt(v string, dst *int) error {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fmt.Errorf("must be a positive integer, got %q", v)
	}
	*dst = n
	return nil
}

func positiveDuration(v string, dst *time.Duration) error {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fmt.Errorf("must be a positive duration, got %q", v)
	}
	*dst = d
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func maskDBSource(dsn string) string {
	parts := strings.Split(dsn, "@")
	if len(parts) < 2 {
		return "invalid-dsn-format"
	}
	return "postgres://****:****@" + parts[len(parts)-1]
}
