// Package config loads service settings from the environment.
//
// Values come from, highest priority first:
//  1. process environment variables
//  2. a .env file in the working directory, if present
//  3. the defaults in setDefaults
//
// Every setting has a flat environment name (SECRET_KEY, DB_HOST, ...) that
// is bound explicitly to its nested viper key, so existing deployment files
// keep working unchanged.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port           int            `mapstructure:"port"`
	Environment    string         `mapstructure:"environment"`
	AllowedOrigins []string       `mapstructure:"allowed_origins"`
	Log            LogConfig      `mapstructure:"log"`
	Database       DatabaseConfig `mapstructure:"database"`
	Token          TokenConfig    `mapstructure:"token"`
	OTP            OTPConfig      `mapstructure:"otp"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text or json
}

// DatabaseConfig selects the backend and sizes the pool.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // postgres or sqlite
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
	Path     string `mapstructure:"path"` // SQLite file, or ":memory:"

	PoolSize        int           `mapstructure:"pool_size"`
	PoolIdle        int           `mapstructure:"pool_idle"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	PoolTimeout     time.Duration `mapstructure:"pool_timeout"`
	ConnectAttempts int           `mapstructure:"connect_attempts"`
	ConnectDelay    time.Duration `mapstructure:"connect_delay"`
}

type TokenConfig struct {
	Secret     string        `mapstructure:"secret"`
	Algorithm  string        `mapstructure:"algorithm"`
	TTL        time.Duration `mapstructure:"ttl"`
	Issuer     string        `mapstructure:"issuer"`
	Audience   string        `mapstructure:"audience"`
	BcryptCost int           `mapstructure:"bcrypt_cost"`
}

type OTPConfig struct {
	Mode      string        `mapstructure:"mode"` // fixed or random
	FixedCode string        `mapstructure:"fixed_code"`
	Length    int           `mapstructure:"length"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// envBindings maps each viper key to its environment variable.
var envBindings = map[string]string{
	"port":            "PORT",
	"environment":     "ENVIRONMENT",
	"allowed_origins": "ALLOWED_ORIGINS",

	"log.level":  "LOG_LEVEL",
	"log.format": "LOG_FORMAT",

	"database.driver":            "DB_DRIVER",
	"database.url":               "DATABASE_URL",
	"database.host":              "DB_HOST",
	"database.port":              "DB_PORT",
	"database.user":              "DB_USERNAME",
	"database.password":          "DB_PASSWORD",
	"database.name":              "DB_NAME",
	"database.ssl_mode":          "DB_SSLMODE",
	"database.path":              "DB_PATH",
	"database.pool_size":         "DB_POOL_SIZE",
	"database.pool_idle":         "DB_POOL_IDLE",
	"database.conn_max_lifetime": "DB_CONN_MAX_LIFETIME",
	"database.pool_timeout":      "DB_POOL_TIMEOUT",
	"database.connect_attempts":  "DB_CONNECT_ATTEMPTS",
	"database.connect_delay":     "DB_CONNECT_DELAY",

	"token.secret":      "SECRET_KEY",
	"token.algorithm":   "ALGORITHM",
	"token.ttl":         "TOKEN_TTL",
	"token.issuer":      "TOKEN_ISSUER",
	"token.audience":    "TOKEN_AUDIENCE",
	"token.bcrypt_cost": "BCRYPT_COST",

	"otp.mode":       "OTP_MODE",
	"otp.fixed_code": "OTP_FIXED_CODE",
	"otp.length":     "OTP_LENGTH",
	"otp.ttl":        "OTP_TTL",
}

// Load reads .env (if any) and the environment, then validates the result.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: reading .env: %w", err)
	}
	return load(viper.New())
}

// load is Load without the .env step, so tests can drive it with t.Setenv.
func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("config: binding %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}

	cfg.AllowedOrigins = splitList(cfg.AllowedOrigins)
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	cfg.OTP.Mode = strings.ToLower(strings.TrimSpace(cfg.OTP.Mode))
	cfg.Token.Algorithm = strings.ToUpper(strings.TrimSpace(cfg.Token.Algorithm))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8000)
	v.SetDefault("environment", "development")
	v.SetDefault("allowed_origins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "michelanglo")
	v.SetDefault("database.ssl_mode", "")
	v.SetDefault("database.path", "data/accounts.db")
	v.SetDefault("database.pool_size", 15) // 5 steady + 10 overflow
	v.SetDefault("database.pool_idle", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.pool_timeout", 30*time.Second)
	v.SetDefault("database.connect_attempts", 5)
	v.SetDefault("database.connect_delay", 2*time.Second)

	v.SetDefault("token.secret", "")
	v.SetDefault("token.algorithm", "HS256")
	v.SetDefault("token.ttl", 30*24*time.Hour)
	v.SetDefault("token.issuer", "Issuer of the JWT")
	v.SetDefault("token.audience", "Audience that the JWT")
	v.SetDefault("token.bcrypt_cost", 12)

	v.SetDefault("otp.mode", "fixed")
	v.SetDefault("otp.fixed_code", "9999")
	v.SetDefault("otp.length", 4)
	v.SetDefault("otp.ttl", 5*time.Minute)
}

// Validate reports the first setting the service cannot start with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: PORT %d out of range", c.Port)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown LOG_LEVEL %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown LOG_FORMAT %q", c.Log.Format)
	}

	if err := c.Database.validate(); err != nil {
		return err
	}

	if len(c.Token.Secret) < 16 {
		return errors.New("config: SECRET_KEY must be set to at least 16 characters")
	}
	switch c.Token.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("config: unsupported ALGORITHM %q (want HS256, HS384 or HS512)", c.Token.Algorithm)
	}
	if c.Token.TTL <= 0 {
		return errors.New("config: TOKEN_TTL must be positive")
	}

	switch c.OTP.Mode {
	case "fixed", "random":
	default:
		return fmt.Errorf("config: unknown OTP_MODE %q (want fixed or random)", c.OTP.Mode)
	}
	if c.OTP.TTL <= 0 {
		return errors.New("config: OTP_TTL must be positive")
	}

	return nil
}

func (d DatabaseConfig) validate() error {
	switch d.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unknown DB_DRIVER %q (want postgres or sqlite)", d.Driver)
	}
	if d.PoolSize < 1 {
		return errors.New("config: DB_POOL_SIZE must be positive")
	}
	if d.PoolIdle < 0 || d.PoolIdle > d.PoolSize {
		return fmt.Errorf("config: DB_POOL_IDLE must be between 0 and DB_POOL_SIZE (%d)", d.PoolSize)
	}
	if d.PoolTimeout <= 0 {
		return errors.New("config: DB_POOL_TIMEOUT must be positive")
	}
	if d.ConnectAttempts < 1 {
		return errors.New("config: DB_CONNECT_ATTEMPTS must be at least 1")
	}
	if d.ConnectDelay < 0 {
		return errors.New("config: DB_CONNECT_DELAY must not be negative")
	}
	return nil
}

// DSN returns the connection string for the configured driver.
// For Postgres an explicit DATABASE_URL wins; otherwise the URL is
// assembled from the DB_* parts.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path
	}
	if d.URL != "" {
		return d.URL
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	if d.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {d.SSLMode}}.Encode()
	}
	return u.String()
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// splitList flattens comma-separated entries and drops blanks.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
