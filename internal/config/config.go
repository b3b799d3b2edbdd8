package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Environment
	RunMode string // Set via flag, not env

	// MongoDB
	MongoURI    string
	MongoDbName string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWT
	JwtSecret string
	JwtTTL    time.Duration

	// Server
	ApiPort        string
	ServiceApiPort string

	// Pricing
	SiteRepFeeCents   int64   // flat per-booking fee, minor units
	ProcessingFeeRate float64 // fraction of base price, e.g. 0.11

	// Booking policy
	FreeCancellationWindow time.Duration // before start, renter may cancel without penalty
	OfferTTL               time.Duration // pending custom offers expire after this
	BookingLockTTL         time.Duration // per-location create lock held in Redis

	// Payments
	PaymentAPIBaseURL    string
	PaymentAPIKey        string
	PaymentWebhookSecret string
	CheckoutSuccessURL   string
	CheckoutCancelURL    string

	// Email
	SmtpHost        string
	SmtpPort        int
	SmtpUsername    string
	SmtpPassword    string
	SmtpFromAddress string

	// AWS S3
	AwsAccessKeyID     string
	AwsSecretAccessKey string
	AwsRegion          string
	AwsS3Bucket        string
	PhotoMaxDimension  int
	PhotoMaxSizeMB     int

	// App Defaults
	AppName string

	// Rate Limiting Defaults
	RateLimitBucketSize int
	RateLimitRefillRate int // tokens per second
}

// Load configuration from environment variables.
// RunMode needs to be passed in as it comes from command-line flags.
func Load(runMode string) (*Config, error) {
	// Load .env file, ignoring errors if it doesn't exist
	godotenv.Load()

	cfg := &Config{
		RunMode: runMode, // Set from flag
	}

	var err error

	// Helper function to get env var or default
	getEnv := func(key, defaultValue string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return defaultValue
	}

	// Helper function to get required env var
	getRequiredEnv := func(key string) (string, error) {
		value, exists := os.LookupEnv(key)
		if !exists {
			return "", fmt.Errorf("missing required environment variable: %s", key)
		}
		return value, nil
	}

	// Load basic string values
	cfg.MongoURI, err = getRequiredEnv("MONGO_URI")
	if err != nil {
		return nil, err
	}
	cfg.MongoDbName = getEnv("MONGO_DB_NAME", "blocmark")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.JwtSecret, err = getRequiredEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}
	cfg.ApiPort = getEnv("API_PORT", "8080")
	cfg.ServiceApiPort = getEnv("SERVICE_API_PORT", "12345")
	cfg.PaymentAPIBaseURL = getEnv("PAYMENT_API_BASE_URL", "https://api.stripe.com/v1")
	cfg.PaymentAPIKey = getEnv("PAYMENT_API_KEY", "")
	cfg.PaymentWebhookSecret = getEnv("PAYMENT_WEBHOOK_SECRET", "")
	cfg.CheckoutSuccessURL = getEnv("CHECKOUT_SUCCESS_URL", "https://blocmark.example.com/bookings?checkout=success")
	cfg.CheckoutCancelURL = getEnv("CHECKOUT_CANCEL_URL", "https://blocmark.example.com/bookings?checkout=cancelled")
	cfg.SmtpHost = getEnv("SMTP_HOST", "")
	cfg.SmtpUsername = getEnv("SMTP_USERNAME", "")
	cfg.SmtpPassword = getEnv("SMTP_PASSWORD", "")
	cfg.SmtpFromAddress = getEnv("SMTP_FROM_ADDRESS", "noreply@blocmark.example.com")
	cfg.AwsAccessKeyID = getEnv("AWS_ACCESS_KEY_ID", "")
	cfg.AwsSecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", "")
	cfg.AwsRegion = getEnv("AWS_REGION", "")
	cfg.AwsS3Bucket = getEnv("AWS_S3_BUCKET", "")
	cfg.AppName = getEnv("APP_NAME", "Blocmark")

	// Load numeric and time duration values with defaults and parsing
	cfg.RedisDB, err = strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	jwtTTLSeconds, err := strconv.ParseInt(getEnv("JWT_TTL_SECONDS", "3600"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_TTL_SECONDS: %w", err)
	}
	cfg.JwtTTL = time.Duration(jwtTTLSeconds) * time.Second

	cfg.SmtpPort, err = strconv.Atoi(getEnv("SMTP_PORT", "587"))
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
	}

	cfg.SiteRepFeeCents, err = strconv.ParseInt(getEnv("SITE_REP_FEE_CENTS", "19500"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid SITE_REP_FEE_CENTS: %w", err)
	}

	cfg.ProcessingFeeRate, err = strconv.ParseFloat(getEnv("PROCESSING_FEE_RATE", "0.11"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid PROCESSING_FEE_RATE: %w", err)
	}
	if cfg.ProcessingFeeRate < 0 || cfg.ProcessingFeeRate >= 1 {
		return nil, fmt.Errorf("PROCESSING_FEE_RATE out of range: %f", cfg.ProcessingFeeRate)
	}

	freeCancelHours, err := strconv.ParseInt(getEnv("FREE_CANCELLATION_HOURS", "24"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid FREE_CANCELLATION_HOURS: %w", err)
	}
	cfg.FreeCancellationWindow = time.Duration(freeCancelHours) * time.Hour

	offerTTLHours, err := strconv.ParseInt(getEnv("OFFER_TTL_HOURS", "168"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid OFFER_TTL_HOURS: %w", err)
	}
	cfg.OfferTTL = time.Duration(offerTTLHours) * time.Hour

	bookingLockSeconds, err := strconv.ParseInt(getEnv("BOOKING_LOCK_TTL_SECONDS", "10"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid BOOKING_LOCK_TTL_SECONDS: %w", err)
	}
	cfg.BookingLockTTL = time.Duration(bookingLockSeconds) * time.Second

	cfg.PhotoMaxDimension, err = strconv.Atoi(getEnv("PHOTO_MAX_DIMENSION", "2048"))
	if err != nil {
		return nil, fmt.Errorf("invalid PHOTO_MAX_DIMENSION: %w", err)
	}

	cfg.PhotoMaxSizeMB, err = strconv.Atoi(getEnv("PHOTO_MAX_SIZE_MB", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid PHOTO_MAX_SIZE_MB: %w", err)
	}

	// Rate Limiting
	cfg.RateLimitBucketSize, err = strconv.Atoi(getEnv("RATE_LIMIT_BUCKET_SIZE", "8"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BUCKET_SIZE: %w", err)
	}
	cfg.RateLimitRefillRate, err = strconv.Atoi(getEnv("RATE_LIMIT_REFILL_RATE", "4"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_REFILL_RATE: %w", err)
	}

	return cfg, nil
}
