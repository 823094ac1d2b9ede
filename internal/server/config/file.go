package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dmitrijs2005/authkeeper/internal/server/ratelimit"
	"github.com/dmitrijs2005/authkeeper/internal/timex"
)

// FileConfig is the on-disk shape of the configuration. Empty values leave
// the defaults in place; booleans are pointers so false can be stated.
type FileConfig struct {
	HTTPAddr string `json:"http_addr" yaml:"http_addr"`
	GRPCAddr string `json:"grpc_addr" yaml:"grpc_addr"`

	DatabaseDriver string         `json:"database_driver" yaml:"database_driver"`
	DatabaseDSN    string         `json:"database_dsn" yaml:"database_dsn"`
	DBTimeout      timex.Duration `json:"db_timeout" yaml:"db_timeout"`

	PasswordTier        string `json:"password_tier" yaml:"password_tier"`
	CommonPasswordsPath string `json:"common_passwords_path" yaml:"common_passwords_path"`
	BcryptCost          int    `json:"bcrypt_cost" yaml:"bcrypt_cost"`

	JWTAlgorithm      string         `json:"jwt_algorithm" yaml:"jwt_algorithm"`
	JWTPrivateKeyPath string         `json:"jwt_private_key_path" yaml:"jwt_private_key_path"`
	JWTPublicKeyPath  string         `json:"jwt_public_key_path" yaml:"jwt_public_key_path"`
	AccessTokenTTL    timex.Duration `json:"access_token_ttl" yaml:"access_token_ttl"`
	RefreshTokenTTL   timex.Duration `json:"refresh_token_ttl" yaml:"refresh_token_ttl"`
	ResetTokenTTL     timex.Duration `json:"reset_token_ttl" yaml:"reset_token_ttl"`
	RefreshMaxAge     timex.Duration `json:"refresh_max_age" yaml:"refresh_max_age"`

	EmailConfirmation *bool          `json:"email_confirmation" yaml:"email_confirmation"`
	ConfirmationTTL   timex.Duration `json:"confirmation_ttl" yaml:"confirmation_ttl"`
	FrontendURL       string         `json:"frontend_url" yaml:"frontend_url"`
	TemplatesDir      string         `json:"templates_dir" yaml:"templates_dir"`

	SMTPHost     string   `json:"smtp_host" yaml:"smtp_host"`
	SMTPPort     int      `json:"smtp_port" yaml:"smtp_port"`
	SMTPUsername string   `json:"smtp_username" yaml:"smtp_username"`
	SMTPPassword string   `json:"smtp_password" yaml:"smtp_password"`
	SMTPFrom     string   `json:"smtp_from" yaml:"smtp_from"`
	SMTPSendRate *float64 `json:"smtp_send_rate" yaml:"smtp_send_rate"`

	CookieSecure   *bool  `json:"cookie_secure" yaml:"cookie_secure"`
	CookieSameSite string `json:"cookie_same_site" yaml:"cookie_same_site"`
	CookieDomain   string `json:"cookie_domain" yaml:"cookie_domain"`

	TrustedProxies []string `json:"trusted_proxies" yaml:"trusted_proxies"`

	RateLimitEnabled *bool                 `json:"rate_limit_enabled" yaml:"rate_limit_enabled"`
	RateLimitBackend string                `json:"rate_limit_backend" yaml:"rate_limit_backend"`
	RedisAddr        string                `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword    string                `json:"redis_password" yaml:"redis_password"`
	RedisDB          int                   `json:"redis_db" yaml:"redis_db"`
	RateLimits       map[string]FilePolicy `json:"rate_limits" yaml:"rate_limits"`

	S3Region    string `json:"s3_region" yaml:"s3_region"`
	S3Endpoint  string `json:"s3_endpoint" yaml:"s3_endpoint"`
	S3AccessKey string `json:"s3_access_key" yaml:"s3_access_key"`
	S3SecretKey string `json:"s3_secret_key" yaml:"s3_secret_key"`

	LogLevel        string         `json:"log_level" yaml:"log_level"`
	JanitorInterval timex.Duration `json:"janitor_interval" yaml:"janitor_interval"`
}

// FilePolicy overrides one rate-limit route.
type FilePolicy struct {
	Limit  int            `json:"limit" yaml:"limit"`
	Window timex.Duration `json:"window" yaml:"window"`
}

// parseFile overlays the JSON or YAML file at path onto config. The format
// is chosen by extension; anything but .yaml/.yml is read as JSON.
func parseFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	c := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	c.apply(config)
	return nil
}

func (c *FileConfig) apply(config *Config) {
	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.GRPCAddr, c.GRPCAddr)
	setString(&config.DatabaseDriver, c.DatabaseDriver)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setDuration(&config.DBTimeout, c.DBTimeout)
	setString(&config.PasswordTier, c.PasswordTier)
	setString(&config.CommonPasswordsPath, c.CommonPasswordsPath)
	setInt(&config.BcryptCost, c.BcryptCost)
	setString(&config.JWTAlgorithm, c.JWTAlgorithm)
	setString(&config.JWTPrivateKeyPath, c.JWTPrivateKeyPath)
	setString(&config.JWTPublicKeyPath, c.JWTPublicKeyPath)
	setDuration(&config.AccessTokenTTL, c.AccessTokenTTL)
	setDuration(&config.RefreshTokenTTL, c.RefreshTokenTTL)
	setDuration(&config.ResetTokenTTL, c.ResetTokenTTL)
	setDuration(&config.RefreshMaxAge, c.RefreshMaxAge)
	setBool(&config.EmailConfirmation, c.EmailConfirmation)
	setDuration(&config.ConfirmationTTL, c.ConfirmationTTL)
	setString(&config.FrontendURL, c.FrontendURL)
	setString(&config.TemplatesDir, c.TemplatesDir)
	setString(&config.SMTPHost, c.SMTPHost)
	setInt(&config.SMTPPort, c.SMTPPort)
	setString(&config.SMTPUsername, c.SMTPUsername)
	setString(&config.SMTPPassword, c.SMTPPassword)
	setString(&config.SMTPFrom, c.SMTPFrom)
	if c.SMTPSendRate != nil {
		config.SMTPSendRate = *c.SMTPSendRate
	}
	setBool(&config.CookieSecure, c.CookieSecure)
	setString(&config.CookieSameSite, c.CookieSameSite)
	setString(&config.CookieDomain, c.CookieDomain)
	if len(c.TrustedProxies) > 0 {
		config.TrustedProxies = c.TrustedProxies
	}
	setBool(&config.RateLimitEnabled, c.RateLimitEnabled)
	setString(&config.RateLimitBackend, c.RateLimitBackend)
	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.RedisPassword, c.RedisPassword)
	setInt(&config.RedisDB, c.RedisDB)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3Endpoint, c.S3Endpoint)
	setString(&config.S3AccessKey, c.S3AccessKey)
	setString(&config.S3SecretKey, c.S3SecretKey)
	setString(&config.LogLevel, c.LogLevel)
	setDuration(&config.JanitorInterval, c.JanitorInterval)

	if len(c.RateLimits) > 0 {
		overrides := make(ratelimit.Policies, len(c.RateLimits))
		for route, p := range c.RateLimits {
			overrides[ratelimit.Route(route)] = ratelimit.Policy{Limit: p.Limit, Window: p.Window.Duration}
		}
		config.RateLimits = config.RateLimits.With(overrides)
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
