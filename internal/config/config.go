package config

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration (availability cache and counters)
	Redis RedisConfig

	// JWT configuration
	JWT JWTConfig

	// Payment gateway configuration
	Payment PaymentConfig

	// Booking rules
	Booking BookingConfig

	// Cache configuration
	Cache CacheConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// CORS configuration
	CORS CORSConfig

	// Security configuration
	Security SecurityConfig

	// Background jobs
	Jobs JobsConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error

	// TrustedProxies may set X-Forwarded-For and X-Real-IP
	TrustedProxies []string
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	URL                string
	Driver             string // "postgres" (lib/pq) or "pgx"
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
	MigrationsPath     string
}

// RedisConfig holds Redis connection configuration. An empty URL selects the in-memory cache.
type RedisConfig struct {
	URL string
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
	Issuer            string
}

// PaymentConfig holds payment gateway configuration
type PaymentConfig struct {
	BaseURL      string
	SecretKey    string // never exposed to clients
	Currency     string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// DiscountTier gives PercentOff of the total once at least MinSessions are bought
type DiscountTier struct {
	MinSessions int
	PercentOff  float64
}

// BookingConfig holds the booking and pricing rules
type BookingConfig struct {
	PlatformFeeRate float64
	SlotDuration    time.Duration
	HorizonDays     int
	Timezone        string
	DiscountTiers   []DiscountTier
	PendingTTL      time.Duration
	NumberPrefix    string

	// PhoneCountryCode is applied to contact numbers given without one
	PhoneCountryCode string
}

// CacheConfig holds the availability cache configuration
type CacheConfig struct {
	AvailabilityTTL time.Duration
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Requests      int
	WindowSeconds int
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	BcryptCost       int
	EnableRequestLog bool
}

// JobsConfig holds cron schedules for the background jobs
type JobsConfig struct {
	Enabled                bool
	StalePendingSchedule   string
	ReconciliationSchedule string
	DispatcherWorkers      int
	DispatcherQueueSize    int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	tiers, err := parseDiscountTiers(getEnv("BOOKING_DISCOUNT_TIERS", "5:10"))
	if err != nil {
		return nil, err
	}

	config := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Environment:    getEnv("ENVIRONMENT", "development"),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			TrustedProxies: getEnvAsSlice("TRUSTED_PROXIES", []string{"127.0.0.1", "::1"}),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			Driver:             getEnv("DATABASE_DRIVER", "postgres"),
			MaxConnections:     getEnvAsInt("DATABASE_MAX_CONNECTIONS", 10),
			MaxIdleConnections: getEnvAsInt("DATABASE_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    time.Duration(getEnvAsInt("DATABASE_CONN_MAX_LIFETIME", 300)) * time.Second,
			MigrationsPath:     getEnv("DATABASE_MIGRATIONS_PATH", "file://migrations"),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		JWT: JWTConfig{
			Secret:            getEnv("JWT_SECRET", ""),
			AccessTokenExpiry: time.Duration(getEnvAsInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)) * time.Second,
			Issuer:            getEnv("JWT_ISSUER", "booking-engine"),
		},
		Payment: PaymentConfig{
			BaseURL:      getEnv("PAYMENT_GATEWAY_URL", "https://api.stripe.com"),
			SecretKey:    getEnv("PAYMENT_SECRET_KEY", ""),
			Currency:     getEnv("PAYMENT_CURRENCY", "usd"),
			Timeout:      getEnvAsDuration("PAYMENT_TIMEOUT", 30*time.Second),
			MaxRetries:   getEnvAsInt("PAYMENT_MAX_RETRIES", 3),
			RetryBackoff: getEnvAsDuration("PAYMENT_RETRY_BACKOFF", 200*time.Millisecond),
		},
		Booking: BookingConfig{
			PlatformFeeRate:  getEnvAsFloat("BOOKING_PLATFORM_FEE_RATE", 0.25),
			SlotDuration:     time.Duration(getEnvAsInt("BOOKING_SLOT_MINUTES", 60)) * time.Minute,
			HorizonDays:      getEnvAsInt("BOOKING_HORIZON_DAYS", 90),
			Timezone:         getEnv("BOOKING_TIMEZONE", "America/New_York"),
			DiscountTiers:    tiers,
			PendingTTL:       getEnvAsDuration("BOOKING_PENDING_TTL", 30*time.Minute),
			NumberPrefix:     getEnv("BOOKING_NUMBER_PREFIX", "TB"),
			PhoneCountryCode: getEnv("PHONE_DEFAULT_COUNTRY_CODE", "1"),
		},
		Cache: CacheConfig{
			AvailabilityTTL: getEnvAsDuration("AVAILABILITY_CACHE_TTL", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			Requests:      getEnvAsInt("RATE_LIMIT_REQUESTS", 100),
			WindowSeconds: getEnvAsInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods: getEnvAsSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
			AllowedHeaders: getEnvAsSlice("CORS_ALLOWED_HEADERS", []string{"Content-Type", "Authorization"}),
		},
		Security: SecurityConfig{
			BcryptCost:       getEnvAsInt("BCRYPT_COST", 12),
			EnableRequestLog: getEnvAsBool("ENABLE_REQUEST_LOGGING", true),
		},
		Jobs: JobsConfig{
			Enabled:                getEnvAsBool("JOBS_ENABLED", true),
			StalePendingSchedule:   getEnv("JOBS_STALE_PENDING_SCHEDULE", "0 */5 * * * *"),
			ReconciliationSchedule: getEnv("JOBS_RECONCILIATION_SCHEDULE", "0 */10 * * * *"),
			DispatcherWorkers:      getEnvAsInt("DISPATCHER_WORKERS", 4),
			DispatcherQueueSize:    getEnvAsInt("DISPATCHER_QUEUE_SIZE", 1024),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Database.Driver != "postgres" && c.Database.Driver != "pgx" {
		return fmt.Errorf("invalid DATABASE_DRIVER: %s (must be 'postgres' or 'pgx')", c.Database.Driver)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Server.Environment == "production" && c.Payment.SecretKey == "" {
		return fmt.Errorf("PAYMENT_SECRET_KEY is required in production")
	}

	if c.Booking.PlatformFeeRate < 0 || c.Booking.PlatformFeeRate >= 1 {
		return fmt.Errorf("BOOKING_PLATFORM_FEE_RATE must be in [0, 1)")
	}

	if c.Booking.SlotDuration <= 0 {
		return fmt.Errorf("BOOKING_SLOT_MINUTES must be positive")
	}

	if c.Booking.HorizonDays <= 0 {
		return fmt.Errorf("BOOKING_HORIZON_DAYS must be positive")
	}

	if _, err := time.LoadLocation(c.Booking.Timezone); err != nil {
		return fmt.Errorf("invalid BOOKING_TIMEZONE %q: %w", c.Booking.Timezone, err)
	}

	if c.Payment.MaxRetries < 0 {
		return fmt.Errorf("PAYMENT_MAX_RETRIES cannot be negative")
	}

	return nil
}

// Location returns the business time zone used to decide what "today" is
func (b BookingConfig) Location() *time.Location {
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// parseDiscountTiers parses "5:10,10:15" into tiers sorted by MinSessions
func parseDiscountTiers(value string) ([]DiscountTier, error) {
	var tiers []DiscountTier
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pieces := strings.SplitN(part, ":", 2)
		if len(pieces) != 2 {
			return nil, fmt.Errorf("invalid BOOKING_DISCOUNT_TIERS entry %q (want sessions:percent)", part)
		}
		sessions, err := strconv.Atoi(strings.TrimSpace(pieces[0]))
		if err != nil || sessions < 1 {
			return nil, fmt.Errorf("invalid session count in BOOKING_DISCOUNT_TIERS entry %q", part)
		}
		percent, err := strconv.ParseFloat(strings.TrimSpace(pieces[1]), 64)
		if err != nil || percent < 0 || percent >= 100 {
			return nil, fmt.Errorf("invalid percent in BOOKING_DISCOUNT_TIERS entry %q", part)
		}
		tiers = append(tiers, DiscountTier{MinSessions: sessions, PercentOff: percent})
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinSessions < tiers[j].MinSessions })
	return tiers, nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Invalid float value for %s, using default: %g", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean value for %s, using default: %t", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid duration value for %s, using default: %s", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
