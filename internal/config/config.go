package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App   AppConfig
	DB    DBConfig
	Redis RedisConfig
	Auth  AuthConfig
	PBX   PBXConfig
	WA    WAConfig
	Hub   HubConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for managed-Postgres posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	// Pool tuning; zero values fall back to the pool's own defaults.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	TokenTTL    time.Duration
}

type PBXConfig struct {
	Host     string
	Port     int
	Username string
	Secret   string

	ReconnectDelay time.Duration
	DialTimeout    time.Duration

	// InboundContextPrefix classifies a signaling context as inbound-route.
	InboundContextPrefix string

	// Extension numbering convention: an extension is an all-digit endpoint
	// name of this length range.
	ExtensionMinDigits int
	ExtensionMaxDigits int

	// StoreTimeout bounds each correlator persistence round-trip.
	StoreTimeout time.Duration
}

type WAConfig struct {
	// Shared-secret tokens per provider; empty disables the check.
	ZapToken   string
	CloudToken string

	// AccountCategories maps an owning-account identifier to its routing
	// category, parsed from "account=category" comma pairs.
	AccountCategories map[string]string
}

type HubConfig struct {
	HeartbeatInterval time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	c.DB.MaxOpenConns = optInt("DB_MAX_OPEN_CONNS")
	c.DB.MaxIdleConns = optInt("DB_MAX_IDLE_CONNS")
	c.DB.ConnMaxLifetime = mustDuration("DB_CONN_MAX_LIFETIME")
	c.DB.ConnMaxIdleTime = mustDuration("DB_CONN_MAX_IDLE_TIME")

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.TokenTTL = mustDuration("JWT_TOKEN_TTL")

	c.PBX.Host = strings.TrimSpace(os.Getenv("PBX_HOST"))
	{
		n, err := mustInt("PBX_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.PBX.Port = n
	}
	c.PBX.Username = strings.TrimSpace(os.Getenv("PBX_USERNAME"))
	c.PBX.Secret = os.Getenv("PBX_SECRET")
	c.PBX.ReconnectDelay = mustDuration("PBX_RECONNECT_DELAY")
	c.PBX.DialTimeout = mustDuration("PBX_DIAL_TIMEOUT")
	c.PBX.InboundContextPrefix = strings.TrimSpace(os.Getenv("PBX_INBOUND_CONTEXT_PREFIX"))
	c.PBX.ExtensionMinDigits = optInt("PBX_EXTENSION_MIN_DIGITS")
	c.PBX.ExtensionMaxDigits = optInt("PBX_EXTENSION_MAX_DIGITS")
	c.PBX.StoreTimeout = mustDuration("PBX_STORE_TIMEOUT")

	c.WA.ZapToken = os.Getenv("WA_ZAP_TOKEN")
	c.WA.CloudToken = os.Getenv("WA_CLOUD_TOKEN")
	c.WA.AccountCategories = parseAccountCategories(os.Getenv("WA_ACCOUNT_CATEGORIES"))

	c.Hub.HeartbeatInterval = mustDuration("HUB_HEARTBEAT_INTERVAL")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 12 * time.Hour
	}

	if c.PBX.Host == "" {
		errs = append(errs, errors.New("PBX_HOST is required"))
	}
	if c.PBX.Port <= 0 || c.PBX.Port > 65535 {
		errs = append(errs, fmt.Errorf("PBX_PORT must be a valid port, got %d", c.PBX.Port))
	}
	if c.PBX.Username == "" {
		errs = append(errs, errors.New("PBX_USERNAME is required"))
	}
	if c.PBX.ReconnectDelay <= 0 {
		c.PBX.ReconnectDelay = 10 * time.Second
	}
	if c.PBX.DialTimeout <= 0 {
		c.PBX.DialTimeout = 5 * time.Second
	}
	if c.PBX.InboundContextPrefix == "" {
		c.PBX.InboundContextPrefix = "from-"
	}
	if c.PBX.ExtensionMinDigits <= 0 {
		c.PBX.ExtensionMinDigits = 2
	}
	if c.PBX.ExtensionMaxDigits <= 0 {
		c.PBX.ExtensionMaxDigits = 6
	}
	if c.PBX.ExtensionMaxDigits < c.PBX.ExtensionMinDigits {
		errs = append(errs, fmt.Errorf("PBX_EXTENSION_MAX_DIGITS must be >= PBX_EXTENSION_MIN_DIGITS, got %d < %d",
			c.PBX.ExtensionMaxDigits, c.PBX.ExtensionMinDigits))
	}
	if c.PBX.StoreTimeout <= 0 {
		c.PBX.StoreTimeout = 5 * time.Second
	}

	if c.Hub.HeartbeatInterval <= 0 {
		c.Hub.HeartbeatInterval = 30 * time.Second
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func (c Config) PBXAddr() string {
	return fmt.Sprintf("%s:%d", c.PBX.Host, c.PBX.Port)
}

// parseAccountCategories parses "account=category" comma pairs. Malformed
// pairs are skipped rather than fatal; a missing table just routes every
// conversation to the default category.
func parseAccountCategories(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		account, category, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		account = strings.TrimSpace(account)
		category = strings.TrimSpace(category)
		if account == "" || category == "" {
			continue
		}
		out[account] = category
	}
	return out
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

// optInt parses an optional integer env var. Empty or malformed values yield
// zero so the validator's default applies.
func optInt(key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return 0
	}
	return n
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
