package internal

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Security      SecurityConfig      `mapstructure:"security" validate:"required"`
	Lockout       LockoutConfig       `mapstructure:"lockout"`
	Password      PasswordConfig      `mapstructure:"password"`
	Workflow      WorkflowConfig      `mapstructure:"workflow"`
	BOM           BOMConfig           `mapstructure:"bom"`
	Notification  NotificationConfig  `mapstructure:"notification"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	// AuthRateLimit is the sustained requests per second allowed per client IP on /auth routes.
	AuthRateLimit float64 `mapstructure:"auth_rate_limit"`
	AuthRateBurst int     `mapstructure:"auth_rate_burst"`
	// TrustedProxies is a comma separated list of CIDRs or addresses whose
	// X-Forwarded-For and X-Real-IP headers are believed.
	TrustedProxies string `mapstructure:"trusted_proxies"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"required,min=1m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" validate:"required,min=1m"`
	Source          string        `mapstructure:"source"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SecurityConfig struct {
	SessionSecret  string        `mapstructure:"session_secret" validate:"required,min=32"`
	SessionIssuer  string        `mapstructure:"session_issuer"`
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
	BCryptCost     int           `mapstructure:"bcrypt_cost" validate:"required,min=10,max=15"`
	ResetTokenTTL  time.Duration `mapstructure:"reset_token_ttl"`
	ResetKeyPrefix string        `mapstructure:"reset_key_prefix"`
}

type LockoutConfig struct {
	Threshold int           `mapstructure:"threshold"`
	Duration  time.Duration `mapstructure:"duration"`
}

type PasswordConfig struct {
	MinLength int           `mapstructure:"min_length"`
	MaxAge    time.Duration `mapstructure:"max_age"`
}

type WorkflowConfig struct {
	BOMTimeout time.Duration `mapstructure:"bom_timeout"`
}

type BOMConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

type NotificationConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxWorkers int           `mapstructure:"max_workers"`
	QueueSize  int           `mapstructure:"queue_size"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// DefaultConfig carries the regulatory defaults of the manufacturing domain:
// 8h sessions, 5 attempts / 30 minute lockout, 12 character passwords rotated
// every 90 days, 1h reset tokens and a 5s budget for BOM generation.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
			AuthRateLimit:     5,
			AuthRateBurst:     10,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Security: SecurityConfig{
			SessionIssuer:  "meddevice-orders",
			SessionTTL:     8 * time.Hour,
			BCryptCost:     12,
			ResetTokenTTL:  time.Hour,
			ResetKeyPrefix: "pwreset",
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Duration:  30 * time.Minute,
		},
		Password: PasswordConfig{
			MinLength: 12,
			MaxAge:    90 * 24 * time.Hour,
		},
		Workflow: WorkflowConfig{
			BOMTimeout: 5 * time.Second,
		},
		Notification: NotificationConfig{
			Timeout:    10 * time.Second,
			MaxWorkers: 4,
			QueueSize:  100,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
			Logging: LoggingConfig{Level: "info", Format: "json"},
		},
	}
}

// ----------------- ENV LOADING -----------------

// LoadConfigFromEnv builds the configuration for container deployments where no
// config file is mounted.
func LoadConfigFromEnv() *Config {
	cfg := DefaultConfig()

	cfg.Server.Port = getEnvAsInt("HTTP_PORT", cfg.Server.Port)
	cfg.Server.BaseURL = getEnv("BASE_URL", cfg.Server.BaseURL)
	cfg.Server.AllowedOrigins = getEnv("ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)
	cfg.Server.TrustedProxies = getEnv("TRUSTED_PROXIES", cfg.Server.TrustedProxies)

	cfg.Database.Source = getEnv("DATABASE_URL", cfg.Database.Source)
	cfg.Database.MaxOpenConns = getEnvAsInt("DATABASE_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = getEnvAsInt("DATABASE_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Redis.DB)

	cfg.Security.SessionSecret = getEnv("SESSION_SECRET", cfg.Security.SessionSecret)
	cfg.Security.SessionTTL = getEnvAsDuration("SESSION_TTL", cfg.Security.SessionTTL)
	cfg.Security.BCryptCost = getEnvAsInt("BCRYPT_COST", cfg.Security.BCryptCost)
	cfg.Security.ResetTokenTTL = getEnvAsDuration("RESET_TOKEN_TTL", cfg.Security.ResetTokenTTL)

	cfg.Lockout.Threshold = getEnvAsInt("LOCKOUT_THRESHOLD", cfg.Lockout.Threshold)
	cfg.Lockout.Duration = getEnvAsDuration("LOCKOUT_DURATION", cfg.Lockout.Duration)

	cfg.Password.MinLength = getEnvAsInt("PASSWORD_MIN_LENGTH", cfg.Password.MinLength)
	cfg.Password.MaxAge = getEnvAsDuration("PASSWORD_MAX_AGE", cfg.Password.MaxAge)

	cfg.Workflow.BOMTimeout = getEnvAsDuration("BOM_TIMEOUT", cfg.Workflow.BOMTimeout)
	cfg.BOM.BaseURL = getEnv("BOM_BASE_URL", cfg.BOM.BaseURL)
	cfg.BOM.APIKey = getEnv("BOM_API_KEY", cfg.BOM.APIKey)

	cfg.Notification.WebhookURL = getEnv("NOTIFICATION_WEBHOOK_URL", cfg.Notification.WebhookURL)

	cfg.Observability.Logging.Level = getEnv("LOG_LEVEL", cfg.Observability.Logging.Level)
	cfg.Observability.Logging.Format = getEnv("LOG_FORMAT", cfg.Observability.Logging.Format)
	cfg.Observability.Metrics.Enabled = getEnvAsBool("METRICS_ENABLED", cfg.Observability.Metrics.Enabled)

	return cfg
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Lockout.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("lockout config: %v", err))
	}

	if err := c.Password.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("password config: %v", err))
	}

	if c.Workflow.BOMTimeout <= 0 {
		errs = append(errs, "workflow config: bom_timeout must be positive")
	}

	if c.Notification.WebhookURL != "" {
		if _, err := url.ParseRequestURI(c.Notification.WebhookURL); err != nil {
			errs = append(errs, fmt.Sprintf("notification config: invalid webhook_url: %v", err))
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		return err
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is a single
// host prefix.
func (c *ServerConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, entry := range strings.Split(c.TrustedProxies, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %s: %w", entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %s: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func (c *DatabaseConfig) Validate() error {
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *SecurityConfig) Validate() error {
	if len(c.SessionSecret) < 32 {
		return errors.New("session secret must be at least 32 characters")
	}
	if c.SessionTTL <= 0 {
		return errors.New("session_ttl must be positive")
	}
	if c.BCryptCost < 10 || c.BCryptCost > 15 {
		return errors.New("bcrypt_cost must be between 10 and 15")
	}
	if c.ResetTokenTTL <= 0 {
		return errors.New("reset_token_ttl must be positive")
	}
	return nil
}

func (c *LockoutConfig) Validate() error {
	if c.Threshold < 1 {
		return errors.New("threshold must be at least 1")
	}
	if c.Duration <= 0 {
		return errors.New("duration must be positive")
	}
	return nil
}

func (c *PasswordConfig) Validate() error {
	if c.MinLength < 12 {
		return errors.New("min_length cannot be lower than 12")
	}
	if c.MaxAge <= 0 {
		return errors.New("max_age must be positive")
	}
	return nil
}
