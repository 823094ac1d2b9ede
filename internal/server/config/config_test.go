package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/authkeeper/internal/server/ratelimit"
)

// isolate keeps the developer's environment and .env files out of a test.
func isolate(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, envPrefix) {
			t.Setenv(name, "")
			require.NoError(t, os.Unsetenv(name))
		}
	}
	old := dotenvFiles
	dotenvFiles = nil
	t.Cleanup(func() { dotenvFiles = old })
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, ":8080", c.HTTPAddr)
	assert.Equal(t, ":50051", c.GRPCAddr)
	assert.Equal(t, "pgx", c.DatabaseDriver)
	assert.Equal(t, "medium", c.PasswordTier)
	assert.Equal(t, "EdDSA", c.JWTAlgorithm)
	assert.Equal(t, 15*time.Minute, c.AccessTokenTTL)
	assert.Equal(t, 30*24*time.Hour, c.RefreshTokenTTL)
	assert.True(t, c.EmailConfirmation)
	assert.True(t, c.CookieSecure)
	assert.Equal(t, 5.0, c.SMTPSendRate)
	assert.Equal(t, ratelimit.DefaultPolicies(), c.RateLimits)
	require.NoError(t, c.Validate())
}

func TestLoad_DefaultsOnly(t *testing.T) {
	isolate(t)

	got, err := Load(nil)
	require.NoError(t, err)

	var want Config
	want.LoadDefaults()
	if diff := cmp.Diff(&want, got); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_JSONFile(t *testing.T) {
	isolate(t)
	path := writeFile(t, "cfg.json", `{
		"http_addr": ":9090",
		"database_driver": "sqlite",
		"database_dsn": "file:auth.db",
		"access_token_ttl": "5m",
		"reset_token_ttl": 600000000000,
		"email_confirmation": false,
		"rate_limits": {"login": {"limit": 3, "window": "30s"}}
	}`)

	got, err := Load([]string{"-c", path})
	require.NoError(t, err)

	assert.Equal(t, ":9090", got.HTTPAddr)
	assert.Equal(t, ":50051", got.GRPCAddr, "unset keys keep defaults")
	assert.Equal(t, "sqlite", got.DatabaseDriver)
	assert.Equal(t, 5*time.Minute, got.AccessTokenTTL)
	assert.Equal(t, 10*time.Minute, got.ResetTokenTTL)
	assert.False(t, got.EmailConfirmation)
	assert.Equal(t, ratelimit.Policy{Limit: 3, Window: 30 * time.Second}, got.RateLimits[ratelimit.RouteLogin])
	assert.Equal(t, ratelimit.DefaultPolicies()[ratelimit.RouteRegister], got.RateLimits[ratelimit.RouteRegister])
}

func TestLoad_YAMLFile(t *testing.T) {
	isolate(t)
	path := writeFile(t, "cfg.yaml", `
grpc_addr: ":6000"
password_tier: strong
jwt_algorithm: RS256
refresh_token_ttl: 168h
cookie_secure: false
smtp_host: mail.example.com
smtp_from: no-reply@example.com
smtp_send_rate: 0
`)

	got, err := Load([]string{"-config=" + path})
	require.NoError(t, err)

	assert.Equal(t, ":6000", got.GRPCAddr)
	assert.Equal(t, "strong", got.PasswordTier)
	assert.Equal(t, "RS256", got.JWTAlgorithm)
	assert.Equal(t, 7*24*time.Hour, got.RefreshTokenTTL)
	assert.False(t, got.CookieSecure)
	assert.Equal(t, "mail.example.com", got.SMTPHost)
	assert.Zero(t, got.SMTPSendRate)
}

func TestLoad_TrustedProxies(t *testing.T) {
	isolate(t)

	got, err := Load(nil)
	require.NoError(t, err)
	assert.Nil(t, got.TrustedProxies)

	path := writeFile(t, "cfg.yaml", "trusted_proxies:\n  - 10.0.0.0/8\n  - 127.0.0.1\n")
	got, err = Load([]string{"-c", path})
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, got.TrustedProxies)

	t.Setenv("AUTHKEEPER_TRUSTED_PROXIES", "172.16.0.0/12,::1")
	got, err = Load([]string{"-c", path})
	require.NoError(t, err)
	assert.Equal(t, []string{"172.16.0.0/12", "::1"}, got.TrustedProxies)
}

func TestLoad_BadFile(t *testing.T) {
	isolate(t)

	_, err := Load([]string{"-c", filepath.Join(t.TempDir(), "missing.json")})
	assert.Error(t, err)

	_, err = Load([]string{"-c", writeFile(t, "bad.json", `{"http_addr": `)})
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	isolate(t)
	path := writeFile(t, "cfg.json", `{"http_addr": ":9090", "log_level": "debug"}`)
	t.Setenv("AUTHKEEPER_HTTP_ADDR", ":7070")
	t.Setenv("AUTHKEEPER_ACCESS_TOKEN_TTL", "2m")
	t.Setenv("AUTHKEEPER_DB_TIMEOUT", "750ms")
	t.Setenv("AUTHKEEPER_RATE_LIMIT_ENABLED", "false")

	got, err := Load([]string{"-c", path})
	require.NoError(t, err)

	assert.Equal(t, ":7070", got.HTTPAddr)
	assert.Equal(t, "debug", got.LogLevel)
	assert.Equal(t, 2*time.Minute, got.AccessTokenTTL)
	assert.Equal(t, 750*time.Millisecond, got.DBTimeout)
	assert.False(t, got.RateLimitEnabled)
}

func TestLoad_DotEnvDoesNotOverrideEnv(t *testing.T) {
	isolate(t)
	dotenvFiles = []string{writeFile(t, ".env", "AUTHKEEPER_GRPC_ADDR=:5555\nAUTHKEEPER_LOG_LEVEL=warn\n")}
	t.Setenv("AUTHKEEPER_LOG_LEVEL", "error")
	t.Cleanup(func() { _ = os.Unsetenv("AUTHKEEPER_GRPC_ADDR") })

	got, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, ":5555", got.GRPCAddr)
	assert.Equal(t, "error", got.LogLevel)
}

func TestLoad_FlagsWin(t *testing.T) {
	isolate(t)
	t.Setenv("AUTHKEEPER_HTTP_ADDR", ":7070")

	got, err := Load([]string{"-a", ":1234", "-t", "10", "-r", "14", "-driver", "sqlite", "-unknown", "x"})
	require.NoError(t, err)

	assert.Equal(t, ":1234", got.HTTPAddr)
	assert.Equal(t, 10*time.Minute, got.AccessTokenTTL)
	assert.Equal(t, 14*24*time.Hour, got.RefreshTokenTTL)
	assert.Equal(t, "sqlite", got.DatabaseDriver)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"tier", func(c *Config) { c.PasswordTier = "extreme" }},
		{"symmetric alg", func(c *Config) { c.JWTAlgorithm = "HS256" }},
		{"zero access", func(c *Config) { c.AccessTokenTTL = 0 }},
		{"zero db timeout", func(c *Config) { c.DBTimeout = 0 }},
		{"refresh not longer", func(c *Config) { c.RefreshTokenTTL = c.AccessTokenTTL }},
		{"driver", func(c *Config) { c.DatabaseDriver = "mysql" }},
		{"limiter", func(c *Config) { c.RateLimitBackend = "memcached" }},
		{"smtp from", func(c *Config) { c.SMTPHost = "mail.example.com" }},
		{"smtp send rate", func(c *Config) { c.SMTPSendRate = -1 }},
		{"keys", func(c *Config) { c.JWTPublicKeyPath = "" }},
		{"trusted proxy", func(c *Config) { c.TrustedProxies = []string{"10.0.0.0/8", "proxy.local"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Config
			c.LoadDefaults()
			tt.modify(&c)
			assert.Error(t, c.Validate())
		})
	}
}
