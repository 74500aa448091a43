package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so the host environment does not
// leak into assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CONFIG_FILE", "PORT", "BASE_URL", "FRONTEND_URL", "APP_ENV", "LOG_LEVEL",
		"STORE_DRIVER", "MONGODB_URI", "MONGODB_DATABASE", "DATABASE_URL",
		"JWT_SECRET", "JWT_KEYS", "JWT_ACTIVE_KID", "JWT_TTL", "UPLOAD_DIR",
		"MAX_UPLOAD_BYTES", "WS_MAX_MESSAGE_SIZE", "WS_SEND_BUFFER",
		"WS_EVENTS_PER_SECOND", "WS_EVENT_BURST", "RATE_LIMIT_RPM",
		"TLS_CERT", "TLS_KEY", "REQUIRE_TLS",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "4000", cfg.Port)
	assert.Equal(t, "http://localhost:4000", cfg.BaseURL)
	assert.Equal(t, DriverMongo, cfg.Store.Driver)
	assert.Equal(t, "chat_db", cfg.Store.MongoDatabase)
	assert.Equal(t, 24*time.Hour, cfg.JWT.TTL)
	assert.Equal(t, int64(20<<20), cfg.Upload.MaxBytes)
	assert.Equal(t, 10, cfg.RateLimit.RequestsPerMinute)
	assert.False(t, cfg.Development())
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("BASE_URL", "https://chat.example.com/")
	t.Setenv("FRONTEND_URL", "https://a.example.com, https://b.example.com")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "chat.db")
	t.Setenv("JWT_KEYS", "k1:one,k2:two")
	t.Setenv("JWT_ACTIVE_KID", "k2")
	t.Setenv("JWT_TTL", "1h")
	t.Setenv("RATE_LIMIT_RPM", "30")
	t.Setenv("APP_ENV", "development")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "https://chat.example.com", cfg.BaseURL)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.FrontendURL)
	assert.Equal(t, map[string]string{"k1": "one", "k2": "two"}, cfg.JWT.Keys)
	assert.Equal(t, time.Hour, cfg.JWT.TTL)
	assert.Equal(t, 30, cfg.RateLimit.RequestsPerMinute)
	assert.True(t, cfg.Development())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "pairchat.yaml")
	yml := `
port: "5000"
store:
  driver: postgres
  database_url: postgres://localhost/chat
jwt:
  secret: from-file
  ttl: 2h
upload:
  dir: /var/lib/pairchat
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	t.Setenv("JWT_SECRET", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "5000", cfg.Port)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "from-env", cfg.JWT.Secret)
	assert.Equal(t, 2*time.Hour, cfg.JWT.TTL)
	assert.Equal(t, "/var/lib/pairchat", cfg.Upload.Dir)
}

func TestLoad_InvalidEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_KEYS", "broken")
	_, err := Load("")
	assert.Error(t, err)

	clearEnv(t)
	t.Setenv("RATE_LIMIT_RPM", "-1")
	_, err = Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate(), "missing jwt secret")

	cfg.JWT.Secret = "s"
	assert.Error(t, cfg.Validate(), "mongo without uri")

	cfg.Store.MongoURI = "mongodb://localhost"
	assert.NoError(t, cfg.Validate())

	cfg.Store.Driver = "cassandra"
	assert.Error(t, cfg.Validate())

	cfg.Store.Driver = DriverSQLite
	cfg.Store.DatabaseURL = "chat.db"
	cfg.TLS.Require = true
	assert.Error(t, cfg.Validate())

	cfg.TLS.Require = false
	cfg.JWT.Keys = map[string]string{"k1": "a"}
	cfg.JWT.ActiveKid = "k9"
	assert.Error(t, cfg.Validate())
}
