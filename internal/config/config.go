// Package config loads runtime settings from defaults, an optional YAML file
// and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all service settings.
type Config struct {
	Port        string   `yaml:"port"`
	BaseURL     string   `yaml:"base_url"`
	FrontendURL []string `yaml:"frontend_url"`
	AppEnv      string   `yaml:"app_env"`
	LogLevel    string   `yaml:"log_level"`

	Store     StoreConfig     `yaml:"store"`
	JWT       JWTConfig       `yaml:"jwt"`
	Upload    UploadConfig    `yaml:"upload"`
	Socket    SocketConfig    `yaml:"socket"`
	TLS       TLSConfig       `yaml:"tls"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// GRPCHealthPort is the port of the gRPC health service; empty disables it.
	GRPCHealthPort string `yaml:"grpc_health_port"`
}

// StoreConfig selects and locates the persistence backend.
type StoreConfig struct {
	Driver        string `yaml:"driver"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
	DatabaseURL   string `yaml:"database_url"`
}

// JWTConfig configures token signing. Keys maps kid to secret and enables
// rotation; Secret is the single key fallback.
type JWTConfig struct {
	Secret    string            `yaml:"secret"`
	Keys      map[string]string `yaml:"keys"`
	ActiveKid string            `yaml:"active_kid"`
	TTL       time.Duration     `yaml:"ttl"`
}

// UploadConfig configures media storage.
type UploadConfig struct {
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// SocketConfig tunes websocket connections.
type SocketConfig struct {
	MaxMessageSize  int64   `yaml:"max_message_size"`
	SendBuffer      int     `yaml:"send_buffer"`
	EventsPerSecond float64 `yaml:"events_per_second"`
	EventBurst      int     `yaml:"event_burst"`
}

// TLSConfig enables TLS on the HTTP and gRPC listeners.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	Require  bool   `yaml:"require"`
}

// RateLimitConfig throttles the register and login routes.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// Default returns the built in configuration.
func Default() *Config {
	return &Config{
		Port:        "4000",
		FrontendURL: []string{"*"},
		AppEnv:      "production",
		LogLevel:    "info",
		Store: StoreConfig{
			Driver:        DriverMongo,
			MongoDatabase: "chat_db",
		},
		JWT: JWTConfig{TTL: 24 * time.Hour},
		Upload: UploadConfig{
			Dir:      "uploads",
			MaxBytes: 20 << 20,
		},
		Socket: SocketConfig{
			MaxMessageSize:  8192,
			SendBuffer:      256,
			EventsPerSecond: 20,
			EventBurst:      40,
		},
		RateLimit:      RateLimitConfig{RequestsPerMinute: 10, Burst: 3},
		GRPCHealthPort: "50051",
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:" + cfg.Port
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	setString(&c.Port, "PORT")
	setString(&c.BaseURL, "BASE_URL")
	if v := os.Getenv("FRONTEND_URL"); v != "" {
		c.FrontendURL = splitList(v)
	}
	setString(&c.AppEnv, "APP_ENV")
	setString(&c.LogLevel, "LOG_LEVEL")

	setString(&c.Store.Driver, "STORE_DRIVER")
	setString(&c.Store.MongoURI, "MONGODB_URI")
	setString(&c.Store.MongoDatabase, "MONGODB_DATABASE")
	setString(&c.Store.DatabaseURL, "DATABASE_URL")

	setString(&c.JWT.Secret, "JWT_SECRET")
	setString(&c.JWT.ActiveKid, "JWT_ACTIVE_KID")
	if v := os.Getenv("JWT_KEYS"); v != "" {
		keys, err := ParseKeys(v)
		if err != nil {
			return err
		}
		c.JWT.Keys = keys
	}
	if v := os.Getenv("JWT_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid JWT_TTL %q", v)
		}
		c.JWT.TTL = d
	}

	setString(&c.Upload.Dir, "UPLOAD_DIR")
	if err := setInt64(&c.Upload.MaxBytes, "MAX_UPLOAD_BYTES"); err != nil {
		return err
	}
	if err := setInt64(&c.Socket.MaxMessageSize, "WS_MAX_MESSAGE_SIZE"); err != nil {
		return err
	}
	if err := setInt(&c.Socket.SendBuffer, "WS_SEND_BUFFER"); err != nil {
		return err
	}
	if v := os.Getenv("WS_EVENTS_PER_SECOND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return fmt.Errorf("invalid WS_EVENTS_PER_SECOND %q", v)
		}
		c.Socket.EventsPerSecond = f
	}
	if err := setInt(&c.Socket.EventBurst, "WS_EVENT_BURST"); err != nil {
		return err
	}
	if err := setInt(&c.RateLimit.RequestsPerMinute, "RATE_LIMIT_RPM"); err != nil {
		return err
	}

	setString(&c.TLS.CertFile, "TLS_CERT")
	setString(&c.TLS.KeyFile, "TLS_KEY")
	if v := os.Getenv("REQUIRE_TLS"); v != "" {
		c.TLS.Require = v == "true"
	}
	if v, ok := os.LookupEnv("GRPC_HEALTH_PORT"); ok {
		c.GRPCHealthPort = v
	}
	return nil
}

// Validate reports settings that make the service unable to start.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" && len(c.JWT.Keys) == 0 {
		return errors.New("either JWT_SECRET or JWT_KEYS must be set")
	}
	if len(c.JWT.Keys) > 0 && c.JWT.ActiveKid != "" {
		if _, ok := c.JWT.Keys[c.JWT.ActiveKid]; !ok {
			return fmt.Errorf("JWT_ACTIVE_KID %q is not present in JWT_KEYS", c.JWT.ActiveKid)
		}
	}
	switch c.Store.Driver {
	case DriverMongo:
		if c.Store.MongoURI == "" {
			return errors.New("MONGODB_URI must be set for the mongo store")
		}
	case DriverPostgres, DriverSQLite:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set for the %s store", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	if c.TLS.Require && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return errors.New("REQUIRE_TLS is true but TLS_CERT/TLS_KEY are not configured")
	}
	if c.Upload.MaxBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

// Development reports whether error details may be shown to clients.
func (c *Config) Development() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

// TLSEnabled reports whether both certificate and key are configured.
func (c *Config) TLSEnabled() bool {
	return c.TLS.CertFile != "" && c.TLS.KeyFile != ""
}

// ParseKeys parses "kid:secret,kid2:secret2".
func ParseKeys(s string) (map[string]string, error) {
	keys := map[string]string{}
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid JWT_KEYS entry: %s", p)
		}
		keys[parts[0]] = parts[1]
	}
	return keys, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fmt.Errorf("invalid %s %q", key, v)
	}
	*dst = n
	return nil
}

func setInt64(dst *int64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return fmt.Errorf("invalid %s %q", key, v)
	}
	*dst = n
	return nil
}
