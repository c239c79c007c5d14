// config/config.go
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment variables that override file values.
const (
	EnvConfigPath  = "MAILTRIAGE_CONFIG"
	EnvBackendURL  = "MAILTRIAGE_BACKEND_URL"
	EnvTokenSecret = "MAILTRIAGE_TOKEN_SECRET"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Backend   BackendConfig   `toml:"backend"`
	Storage   StorageConfig   `toml:"storage"`
	Security  SecurityConfig  `toml:"security"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

type ServerConfig struct {
	Host            string        `toml:"host"`
	Port            int           `toml:"port"`
	ReadTimeout     time.Duration `toml:"read_timeout"`
	WriteTimeout    time.Duration `toml:"write_timeout"`
	IdleTimeout     time.Duration `toml:"idle_timeout"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
	RateLimit       float64       `toml:"rate_limit"` // POST requests per second per client, 0 disables
	RateBurst       int           `toml:"rate_burst"`
}

type BackendConfig struct {
	BaseURL string        `toml:"base_url"`
	Timeout time.Duration `toml:"timeout"`
}

type StorageConfig struct {
	Driver     string        `toml:"driver"`    // "file" or "sqlite"
	Directory  string        `toml:"directory"` // file driver
	Path       string        `toml:"path"`      // sqlite driver
	Expiration time.Duration `toml:"expiration"`
}

type SecurityConfig struct {
	TokenSecret  string `toml:"token_secret"`
	CookieSecure bool   `toml:"cookie_secure"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type TelemetryConfig struct {
	Enabled         bool   `toml:"enabled"`
	ServiceName     string `toml:"service_name"`
	MetricsExporter string `toml:"metrics_exporter"` // prometheus, stdout
	TracingExporter string `toml:"tracing_exporter"` // none, stdout, otlp
	OTLPEndpoint    string `toml:"otlp_endpoint"`
	OTLPInsecure    bool   `toml:"otlp_insecure"`
}

// Default configuration values
var defaultConfig = Config{
	Server: ServerConfig{
		Host:            "0.0.0.0",
		Port:            3000,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		RateLimit:       5,
		RateBurst:       10,
	},
	Backend: BackendConfig{
		BaseURL: "http://email-backend-service:8080",
		Timeout: 15 * time.Second,
	},
	Storage: StorageConfig{
		Driver:     "file",
		Directory:  "./sessions",
		Path:       "./mailtriage.db",
		Expiration: 24 * time.Hour,
	},
	Logging: LoggingConfig{
		Level:  "info",
		Format: "text",
	},
	Telemetry: TelemetryConfig{
		ServiceName:     "mailtriage",
		MetricsExporter: "prometheus",
		TracingExporter: "none",
	},
}

// Default returns a copy of the built-in configuration.
func Default() *Config {
	c := defaultConfig
	return &c
}

// Load loads the configuration from the specified path. An empty path
// searches the standard locations and falls back to the defaults.
func Load(path string) (*Config, error) {
	config := defaultConfig

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	if path == "" {
		// Try standard config locations
		configLocations := []string{
			"./config.toml",
			"~/.config/mailtriage/config.toml",
			"/etc/mailtriage/config.toml",
		}

		for _, loc := range configLocations {
			expanded, err := expandPath(loc)
			if err != nil {
				continue
			}
			if _, err := os.Stat(expanded); err == nil {
				path = expanded
				break
			}
		}
	}

	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return nil, err
		}
		if _, err := toml.DecodeFile(expanded, &config); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	}

	config.applyEnv()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvBackendURL); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv(EnvTokenSecret); v != "" {
		c.Security.TokenSecret = v
	}
}

// Validate checks the configuration after flags have been applied on top.
func (c *Config) Validate() error {
	return c.validate()
}

// validate checks if the configuration is valid
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", c.Server.Port)
	}

	if c.Server.RateLimit < 0 || (c.Server.RateLimit > 0 && c.Server.RateBurst < 1) {
		return fmt.Errorf("invalid rate limit: %v/s burst %d", c.Server.RateLimit, c.Server.RateBurst)
	}

	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid backend base URL: %q", c.Backend.BaseURL)
	}

	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend timeout must be positive")
	}

	switch c.Storage.Driver {
	case "file":
		if c.Storage.Directory == "" {
			return fmt.Errorf("storage directory is required for the file driver")
		}
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported storage driver: %q", c.Storage.Driver)
	}

	if c.Storage.Expiration < time.Minute {
		return fmt.Errorf("storage expiration must be at least 1 minute")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format: %q", c.Logging.Format)
	}

	return nil
}

// Addr is the listen address of the web server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// expandPath expands the ~ in paths to the user's home directory
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}

// Save saves the current configuration to a file
func (c *Config) Save(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(expanded)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(expanded, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(c)
}
