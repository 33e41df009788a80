package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v9"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Proxmox   ProxmoxConfig
	Scheduler SchedulerConfig
	API       APIConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" envDefault:"8080"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"sqlite3"`
	DSN    string `env:"DB_DSN" envDefault:"data/proxtag.db"`
}

// ProxmoxConfig holds Proxmox VE API configuration.
type ProxmoxConfig struct {
	APIURL      string        `env:"PROXMOX_API_URL"`
	APIToken    string        `env:"PROXMOX_API_TOKEN"`
	InsecureTLS bool          `env:"PROXMOX_INSECURE_TLS" envDefault:"false"`
	Timeout     time.Duration `env:"PROXMOX_TIMEOUT" envDefault:"30s"`
	FileShim    string        `env:"PROXMOX_FILE_SHIM"` // Path to file for testing shim (disables real API)
}

// SchedulerConfig holds scheduler behavior configuration.
type SchedulerConfig struct {
	TickInterval time.Duration `env:"SCHEDULER_TICK_INTERVAL" envDefault:"1m"`
}

// APIConfig holds API authentication configuration.
type APIConfig struct {
	// AuthToken protects the /api/v1 surface when set. Empty disables auth.
	AuthToken string `env:"API_AUTH_TOKEN"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(&cfg.Server); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}
	if err := env.Parse(&cfg.Database); err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if err := env.Parse(&cfg.Proxmox); err != nil {
		return nil, fmt.Errorf("parsing proxmox config: %w", err)
	}
	if err := env.Parse(&cfg.Scheduler); err != nil {
		return nil, fmt.Errorf("parsing scheduler config: %w", err)
	}
	if err := env.Parse(&cfg.API); err != nil {
		return nil, fmt.Errorf("parsing api config: %w", err)
	}

	return cfg, nil
}

// Addr returns the server address in host:port format.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	// If using file shim, Proxmox credentials are not required
	if c.Proxmox.FileShim == "" {
		if c.Proxmox.APIURL == "" {
			return fmt.Errorf("PROXMOX_API_URL is required (or set PROXMOX_FILE_SHIM for testing)")
		}
		if c.Proxmox.APIToken == "" {
			return fmt.Errorf("PROXMOX_API_TOKEN is required (or set PROXMOX_FILE_SHIM for testing)")
		}
	}

	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("SCHEDULER_TICK_INTERVAL must be positive")
	}

	return nil
}

// UseFileShim returns true if the file shim should be used instead of the real API.
func (c *Config) UseFileShim() bool {
	return c.Proxmox.FileShim != ""
}
