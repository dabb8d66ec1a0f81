package app

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config contains all runtime configuration, loaded from PARLEY_*
// environment variables with optional .env support.
type Config struct {
	HTTPAddr  string `envconfig:"HTTP_ADDR" default:"0.0.0.0:8080"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	ReadHeaderTimeout time.Duration `envconfig:"HTTP_READ_HEADER_TIMEOUT" default:"5s"`
	ReadTimeout       time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout      time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"15s"`
	IdleTimeout       time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes    int           `envconfig:"HTTP_MAX_HEADER_BYTES" default:"1048576"`

	// Empty DatabaseURL selects the in-memory store (dev mode).
	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBSchema    string `envconfig:"DB_SCHEMA" default:"parley"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	DBMinConns  int32  `envconfig:"DB_MIN_CONNS" default:"0"`

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool `envconfig:"READINESS_REQUIRE_DB" default:"false"`

	// Dev-mode seed users for the in-memory store, "id:name" CSV.
	DevSeedUsers []string `envconfig:"DEV_SEED_USERS"`
}

// LoadConfig loads Config from the environment. A missing .env file is
// not an error.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("parley", &cfg); err != nil {
		return Config{}, fmt.Errorf("app: load config: %w", err)
	}
	return cfg, nil
}
