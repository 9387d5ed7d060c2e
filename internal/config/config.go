// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Dispute policy
	ResponseWindow    time.Duration // seller must respond within this window
	NegotiationWindow time.Duration // parties must converge within this window
	CloseGracePeriod  time.Duration // resolved non-refund disputes close after this
	SweepInterval     time.Duration // deadline sweep tick
	MinDescriptionLen int
	MinResponseLen    int
	MinReasoningLen   int
	MaxEvidencePerMsg int
	MaxOpenPerSeller  int // 0 = unlimited

	// Reputation policy (magnitudes, applied to a 0-100 score)
	OpenPenalty       int // subtracted from seller when a dispute opens
	FaultPenalty      int // subtracted when an admin decision goes against the seller
	VindicationReward int // added when the seller is vindicated

	// Disbursement gateway
	GatewayURL       string // mobile-money disbursement API base URL
	GatewayAPIKey    string
	GatewaySecret    string // HMAC secret for settlement callbacks
	StripeAPIKey     string // optional Stripe driver for card-settled orders
	DisburseRetryCap int
	DisburseBackoff  time.Duration

	// Security
	AdminSecret   string // bootstrap secret for issuing the first admin key
	WebhookSecret string
	RateLimitRPM  int

	// Observability
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultResponseWindow    = 7 * 24 * time.Hour
	DefaultNegotiationWindow = 7 * 24 * time.Hour
	DefaultCloseGracePeriod  = 24 * time.Hour
	DefaultSweepInterval     = time.Minute
	DefaultMinDescriptionLen = 20
	DefaultMinResponseLen    = 20
	DefaultMinReasoningLen   = 30
	DefaultMaxEvidencePerMsg = 5
	DefaultOpenPenalty       = 5
	DefaultFaultPenalty      = 15
	DefaultVindicationReward = 5
	DefaultDisburseRetryCap  = 3
	DefaultDisburseBackoff   = 2 * time.Second
	DefaultRateLimitRPM      = 120
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		ResponseWindow:    getEnvDuration("RESPONSE_WINDOW", DefaultResponseWindow),
		NegotiationWindow: getEnvDuration("NEGOTIATION_WINDOW", DefaultNegotiationWindow),
		CloseGracePeriod:  getEnvDuration("CLOSE_GRACE_PERIOD", DefaultCloseGracePeriod),
		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		MinDescriptionLen: getEnvInt("MIN_DESCRIPTION_LEN", DefaultMinDescriptionLen),
		MinResponseLen:    getEnvInt("MIN_RESPONSE_LEN", DefaultMinResponseLen),
		MinReasoningLen:   getEnvInt("MIN_REASONING_LEN", DefaultMinReasoningLen),
		MaxEvidencePerMsg: getEnvInt("MAX_EVIDENCE_PER_MSG", DefaultMaxEvidencePerMsg),
		MaxOpenPerSeller:  getEnvInt("MAX_OPEN_PER_SELLER", 0),
		OpenPenalty:       getEnvInt("REPUTATION_OPEN_PENALTY", DefaultOpenPenalty),
		FaultPenalty:      getEnvInt("REPUTATION_FAULT_PENALTY", DefaultFaultPenalty),
		VindicationReward: getEnvInt("REPUTATION_VINDICATION_REWARD", DefaultVindicationReward),
		GatewayURL:        os.Getenv("GATEWAY_URL"),
		GatewayAPIKey:     os.Getenv("GATEWAY_API_KEY"),
		GatewaySecret:     os.Getenv("GATEWAY_SECRET"),
		StripeAPIKey:      os.Getenv("STRIPE_API_KEY"),
		DisburseRetryCap:  getEnvInt("DISBURSE_RETRY_CAP", DefaultDisburseRetryCap),
		DisburseBackoff:   getEnvDuration("DISBURSE_BACKOFF", DefaultDisburseBackoff),
		AdminSecret:       os.Getenv("ADMIN_SECRET"),
		WebhookSecret:     os.Getenv("WEBHOOK_SECRET"),
		RateLimitRPM:      getEnvInt("RATE_LIMIT_RPM", DefaultRateLimitRPM),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is coherent
func (c *Config) Validate() error {
	if c.ResponseWindow <= 0 {
		return fmt.Errorf("RESPONSE_WINDOW must be positive")
	}
	if c.NegotiationWindow <= 0 {
		return fmt.Errorf("NEGOTIATION_WINDOW must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.OpenPenalty < 0 || c.FaultPenalty < 0 || c.VindicationReward < 0 {
		return fmt.Errorf("reputation deltas are magnitudes and must be non-negative")
	}
	if c.DisburseRetryCap < 1 {
		return fmt.Errorf("DISBURSE_RETRY_CAP must be at least 1")
	}
	if c.MaxOpenPerSeller < 0 {
		return fmt.Errorf("MAX_OPEN_PER_SELLER must not be negative")
	}
	if c.IsProduction() && c.GatewayURL == "" && c.StripeAPIKey == "" {
		return fmt.Errorf("a disbursement gateway (GATEWAY_URL or STRIPE_API_KEY) is required in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
