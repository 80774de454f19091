// Package config loads the server configuration from the environment.
package config

import (
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/pkg/errors"
)

// Config is the process configuration. Every field can be set through the
// environment variable named in its tag.
type Config struct {
	// Port to listen on. ENV: PORT
	Port int `env:"PORT,default=3000"`
	// CORSOrigins is a comma separated list of accepted origins; "*" accepts
	// any origin. ENV: CORS_ORIGINS
	CORSOrigins string `env:"CORS_ORIGINS,default=*"`
	// BaseURL, when set, prefixes the postback endpoint announced to clients.
	// ENV: BASE_URL
	BaseURL string `env:"BASE_URL"`

	LogLevel       string `env:"LOG_LEVEL,default=info"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT,default=false"`

	// GeoIPBaseURL is the upstream lookup endpoint. ENV: GEOIP_BASE_URL
	GeoIPBaseURL string        `env:"GEOIP_BASE_URL,default=https://api.ip.sb/geoip"`
	GeoIPTimeout time.Duration `env:"GEOIP_TIMEOUT,default=10s"`
	// GeoIPUserAgent is sent with every upstream request. ENV: GEOIP_USER_AGENT
	GeoIPUserAgent string `env:"GEOIP_USER_AGENT,default=MCP-IP-Geolocation-Server/1.0"`

	// HandlerTimeout bounds a single tool invocation. ENV: HANDLER_TIMEOUT
	HandlerTimeout    time.Duration `env:"HANDLER_TIMEOUT,default=30s"`
	SessionQueueSize  int           `env:"SESSION_QUEUE_SIZE,default=100"`
	KeepAliveInterval time.Duration `env:"KEEPALIVE_INTERVAL,default=25s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	// StrictArguments rejects tool arguments that are not in the schema.
	StrictArguments bool `env:"STRICT_ARGUMENTS,default=false"`
}

// Default returns the configuration used when the environment sets nothing.
func Default() Config {
	return Config{
		Port:              3000,
		CORSOrigins:       "*",
		LogLevel:          "info",
		GeoIPBaseURL:      "https://api.ip.sb/geoip",
		GeoIPTimeout:      10 * time.Second,
		GeoIPUserAgent:    "MCP-IP-Geolocation-Server/1.0",
		HandlerTimeout:    30 * time.Second,
		SessionQueueSize:  100,
		KeepAliveInterval: 25 * time.Second,
		ShutdownTimeout:   10 * time.Second,
	}
}

// Load decodes the configuration from the environment and validates it.
func Load() (Config, error) {
	cfg := Default()
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, errors.Wrap(err, "decode environment")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants the server relies on.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("invalid port %d", c.Port)
	}
	if c.SessionQueueSize <= 0 {
		return errors.Errorf("session queue size must be positive, got %d", c.SessionQueueSize)
	}
	if c.HandlerTimeout < 0 || c.KeepAliveInterval < 0 || c.GeoIPTimeout < 0 || c.ShutdownTimeout < 0 {
		return errors.New("durations must not be negative")
	}
	if strings.TrimSpace(c.GeoIPBaseURL) == "" {
		return errors.New("geoip base url must not be empty")
	}
	if len(c.AllowedOrigins()) == 0 {
		return errors.New("at least one CORS origin is required")
	}
	return nil
}

// AllowedOrigins splits CORSOrigins into its non-empty entries.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
