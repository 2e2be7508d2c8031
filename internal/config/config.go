package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	LogLevel      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string

	// Mindbody API credentials. All upstream calls carry the API key and
	// site ID; token issuance uses the staff credential pair.
	MindbodyBaseURL  string
	MindbodyAPIKey   string
	MindbodySiteID   string
	StaffUsername    string
	StaffPassword    string
	UserUsername     string
	UserPassword     string
	UpstreamTimeout  time.Duration
	DebugAPILogging  bool

	// Booking defaults forwarded to upstream.
	DefaultLocationID int
	TaxRate           float64
	PromoCode         string
	PromoDiscountPct  float64

	// VenueTimezone is the IANA zone slot times are presented in.
	VenueTimezone string

	// Widget session handling.
	SessionSecret string
	SessionTTL    time.Duration
	WizardTTL     time.Duration

	// Per-session API throttling; zero disables it.
	RateLimitPerSecond float64
	RateLimitBurst     int

	CORSAllowedOrigins []string

	// DemoMode enables synthetic availability fallbacks when upstream
	// returns nothing. Never enable in production.
	DemoMode bool
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		MindbodyBaseURL: getEnv("MINDBODY_BASE_URL", "https://api.mindbodyonline.com/public/v6"),
		MindbodyAPIKey:  getEnv("MINDBODY_API_KEY", ""),
		MindbodySiteID:  getEnv("MINDBODY_SITE_ID", ""),
		StaffUsername:   getEnv("MINDBODY_STAFF_USERNAME", ""),
		StaffPassword:   getEnv("MINDBODY_STAFF_PASSWORD", ""),
		UserUsername:    getEnv("MINDBODY_USER_USERNAME", ""),
		UserPassword:    getEnv("MINDBODY_USER_PASSWORD", ""),
		UpstreamTimeout: getEnvAsDuration("MINDBODY_TIMEOUT", 20*time.Second),
		DebugAPILogging: getEnvAsBool("MINDBODY_DEBUG_LOGGING", false),

		DefaultLocationID: getEnvAsInt("DEFAULT_LOCATION_ID", -99),
		TaxRate:           getEnvAsFloat("TAX_RATE", 0.06),
		PromoCode:         getEnv("PROMO_CODE", ""),
		PromoDiscountPct:  getEnvAsFloat("PROMO_DISCOUNT_PCT", 0.10),

		VenueTimezone: getEnv("VENUE_TIMEZONE", "UTC"),

		SessionSecret: getEnv("SESSION_SECRET", ""),
		SessionTTL:    getEnvAsDuration("SESSION_TTL", 24*time.Hour),
		WizardTTL:     getEnvAsDuration("WIZARD_TTL", 48*time.Hour),

		RateLimitPerSecond: getEnvAsFloat("RATE_LIMIT_PER_SECOND", 5),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),

		CORSAllowedOrigins: splitAndTrim(getEnv("CORS_ALLOWED_ORIGINS", "")),

		DemoMode: getEnvAsBool("DEMO_MODE", false),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func splitAndTrim(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
