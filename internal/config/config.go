// Package config defines the global configuration structure for the Opsight
// backend. Configuration is loaded once at process startup and is immutable
// thereafter, following 12-Factor principles: OS environment takes priority
// over a local .env file. Any missing required value or invalid format fails
// the process immediately.
package config

import (
	"time"

	"opsight/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. It is populated once during
// startup and never modified. Sub-components receive only the specific config
// subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"opsight-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server   ServerConfig
	Database DatabaseConfig
	Stripe   StripeConfig
	PayPal   PayPalConfig
	Razorpay RazorpayConfig
	AI       AIConfig
	Email    EmailConfig
	Auth     AuthConfig
	Security SecurityConfig

	// Build metadata (injected via ldflags, not env).
	Build BuildInfo
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public URLs for checkout redirects (no trailing slash).
	APIExternalURL string `envconfig:"API_EXTERNAL_URL" validate:"required,url"`
	DashboardURL   string `envconfig:"DASHBOARD_URL" validate:"required,url"`

	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"15s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// StripeConfig holds Stripe payment integration credentials.
type StripeConfig struct {
	SecretKey      SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	WebhookSecret  SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	PublishableKey string       `envconfig:"STRIPE_PUBLISHABLE_KEY"`
}

// PayPalConfig holds PayPal REST API credentials.
type PayPalConfig struct {
	ClientID  string       `envconfig:"PAYPAL_CLIENT_ID" validate:"required"`
	Secret    SecretString `envconfig:"PAYPAL_SECRET" validate:"required"`
	WebhookID string       `envconfig:"PAYPAL_WEBHOOK_ID" validate:"required"`
	// Live toggles the production API base; sandbox otherwise.
	Live bool `envconfig:"PAYPAL_LIVE" default:"false"`
}

// RazorpayConfig holds Razorpay API credentials.
type RazorpayConfig struct {
	KeyID         string       `envconfig:"RAZORPAY_KEY_ID" validate:"required"`
	KeySecret     SecretString `envconfig:"RAZORPAY_KEY_SECRET" validate:"required"`
	WebhookSecret SecretString `envconfig:"RAZORPAY_WEBHOOK_SECRET" validate:"required"`
}

// AIConfig holds the AI insight provider credentials and model selection.
type AIConfig struct {
	OpenAIAPIKey SecretString  `envconfig:"OPENAI_API_KEY" validate:"required"`
	Model        string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	Timeout      time.Duration `envconfig:"OPENAI_TIMEOUT" default:"30s"`
}

// EmailConfig holds email delivery provider credentials.
type EmailConfig struct {
	SendGridAPIKey SecretString `envconfig:"SENDGRID_API_KEY" validate:"required"`
	FromAddress    string       `envconfig:"EMAIL_FROM_ADDRESS" default:"alerts@opsight.io"`
	FromName       string       `envconfig:"EMAIL_FROM_NAME" default:"Opsight Alerts"`
}

// AuthConfig holds session management settings.
type AuthConfig struct {
	SessionTTL        time.Duration `envconfig:"SESSION_TTL" default:"720h"`
	SessionCookieName string        `envconfig:"SESSION_COOKIE_NAME" default:"opsight_session"`
	CookieSecure      bool          `envconfig:"SESSION_COOKIE_SECURE" default:"true"`
	BcryptCost        int           `envconfig:"BCRYPT_COST" default:"12" validate:"min=4,max=31"`
}

// SecurityConfig holds CORS settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
