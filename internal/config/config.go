package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"tradehub-backend/internal/limits"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
	JWT       JWTConfig       `yaml:"jwt"`
	Stripe    StripeConfig    `yaml:"stripe"`
	SendGrid  SendGridConfig  `yaml:"sendgrid"`
	Credits   CreditsConfig   `yaml:"credits"`
	Limits    LimitsConfig    `yaml:"limits"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig contains PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// JWTConfig contains JWT token settings
type JWTConfig struct {
	Secret            string `yaml:"secret"`
	AccessTokenExpiry int    `yaml:"access_token_expiry_minutes"`
}

// StripeConfig contains payment gateway settings
type StripeConfig struct {
	SecretKey     string `yaml:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret"`
}

// SendGridConfig contains notification email settings
type SendGridConfig struct {
	APIKey    string `yaml:"api_key"`
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
}

// CreditsConfig contains credit engine settings
type CreditsConfig struct {
	CostTolerance            int64 `yaml:"cost_tolerance"`
	RefundWindowDays         int   `yaml:"refund_window_days"`
	LowBalanceThreshold      int64 `yaml:"low_balance_threshold"`
	CriticalBalanceThreshold int64 `yaml:"critical_balance_threshold"`
	ChargeTimeoutSeconds     int   `yaml:"charge_timeout_seconds"`
	ProcessingTTLMinutes     int   `yaml:"processing_ttl_minutes"`
	BalanceCacheTTLSeconds   int   `yaml:"balance_cache_ttl_seconds"`
	ConflictRetries          int   `yaml:"conflict_retries"`
	TrialGrantCredits        int64 `yaml:"trial_grant_credits"`
}

// LimitsConfig maps roles to usage transaction caps
type LimitsConfig struct {
	Roles map[string]limits.RoleCaps `yaml:"roles"`
}

// SchedulerConfig contains cron schedule settings
type SchedulerConfig struct {
	ReapStaleTopups   string `yaml:"reap_stale_topups"`
	AuditLedger       string `yaml:"audit_ledger"`
	SendBalanceAlerts string `yaml:"send_balance_alerts"`
}

// Load reads configuration from a YAML file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.overrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() {
	// Database
	if val := os.Getenv("DB_HOST"); val != "" {
		c.Database.Host = val
	}
	if val := os.Getenv("DB_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Database.Port)
	}
	if val := os.Getenv("DB_USER"); val != "" {
		c.Database.User = val
	}
	if val := os.Getenv("DB_PASSWORD"); val != "" {
		c.Database.Password = val
	}
	if val := os.Getenv("DB_NAME"); val != "" {
		c.Database.Database = val
	}
	if val := os.Getenv("DB_SSL_MODE"); val != "" {
		c.Database.SSLMode = val
	}

	// Server
	if val := os.Getenv("SERVER_HOST"); val != "" {
		c.Server.Host = val
	}
	if val := os.Getenv("SERVER_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Server.Port)
	}

	// JWT
	if val := os.Getenv("JWT_SECRET"); val != "" {
		c.JWT.Secret = val
	}

	// Stripe
	if val := os.Getenv("STRIPE_SECRET_KEY"); val != "" {
		c.Stripe.SecretKey = val
	}
	if val := os.Getenv("STRIPE_WEBHOOK_SECRET"); val != "" {
		c.Stripe.WebhookSecret = val
	}

	// SendGrid
	if val := os.Getenv("SENDGRID_API_KEY"); val != "" {
		c.SendGrid.APIKey = val
	}

	// Log
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}

	// Set defaults for log if not configured
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	// Database validation
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database user is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	// JWT validation
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}

	// Credits defaults
	if c.Credits.RefundWindowDays == 0 {
		c.Credits.RefundWindowDays = 30
	}
	if c.Credits.ChargeTimeoutSeconds == 0 {
		c.Credits.ChargeTimeoutSeconds = 30
	}
	if c.Credits.ProcessingTTLMinutes == 0 {
		c.Credits.ProcessingTTLMinutes = 10
	}
	if c.Credits.BalanceCacheTTLSeconds == 0 {
		c.Credits.BalanceCacheTTLSeconds = 5
	}
	if c.Credits.ConflictRetries == 0 {
		c.Credits.ConflictRetries = 3
	}
	if c.Credits.LowBalanceThreshold == 0 {
		c.Credits.LowBalanceThreshold = 10
	}

	// Scheduler defaults
	if c.Scheduler.ReapStaleTopups == "" {
		c.Scheduler.ReapStaleTopups = "0 */5 * * * *" // every 5 minutes
	}
	if c.Scheduler.AuditLedger == "" {
		c.Scheduler.AuditLedger = "0 0 2 * * *" // 2 AM UTC
	}
	if c.Scheduler.SendBalanceAlerts == "" {
		c.Scheduler.SendBalanceAlerts = "0 0 9 * * *" // 9 AM UTC
	}

	return nil
}

// GetDatabaseConnectionString returns a PostgreSQL connection string
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetServerAddress returns the HTTP server address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ChargeTimeout returns the payment gateway call timeout
func (c *Config) ChargeTimeout() time.Duration {
	return time.Duration(c.Credits.ChargeTimeoutSeconds) * time.Second
}

// ProcessingTTL returns the age beyond which a topup processing lock is stale
func (c *Config) ProcessingTTL() time.Duration {
	return time.Duration(c.Credits.ProcessingTTLMinutes) * time.Minute
}

// BalanceCacheTTL returns the display-read cache staleness bound
func (c *Config) BalanceCacheTTL() time.Duration {
	return time.Duration(c.Credits.BalanceCacheTTLSeconds) * time.Second
}

// RefundWindow returns the maximum age of a refundable transaction
func (c *Config) RefundWindow() time.Duration {
	return time.Duration(c.Credits.RefundWindowDays) * 24 * time.Hour
}
