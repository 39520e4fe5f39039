// Package config loads the client configuration from the environment, after an
// optional .env file, and validates it before the client is built.
//
// Environment Variables:
//
// Credentials:
//   - TWITTER_CONSUMER_KEY, TWITTER_CONSUMER_SECRET: application consumer pair
//   - TWITTER_ACCESS_TOKEN, TWITTER_ACCESS_TOKEN_SECRET: user context, set both or neither
//   - TWITTER_BEARER_TOKEN: application-only bearer
//   - TWITTER_API_BASE_URL: API root (default: https://api.twitter.com/)
//
// Behaviour:
//   - TWEETCORE_LOG_LEVEL: debug, info, warn or error (default: info)
//   - TWEETCORE_SWALLOW_EXCEPTIONS: turn failures into neutral results (default: false)
//   - TWEETCORE_LOG_EXCEPTIONS: keep the in-memory failure log (default: true)
//   - TWEETCORE_RATE_LIMIT_TRACKING: none, track or await (default: none)
//   - TWEETCORE_HTTP_TIMEOUT: per-request timeout (default: 10s)
//   - TWEETCORE_CIRCUIT_BREAKER: guard each API host with a breaker (default: false)
//   - TWEETCORE_REQUESTS_PER_SECOND: client-side pacing per identity, 0 disables (default: 0)
//   - TWEETCORE_BURST: pacing burst (default: 1)
//   - TWEETCORE_SINGLEFLIGHT: collapse concurrent rate limit refreshes (default: false)
//
// Shared rate limit cache:
//   - TWEETCORE_REDIS_ADDRESS: Redis host:port, empty keeps the cache in process
//   - TWEETCORE_REDIS_PASSWORD: Redis password
//   - TWEETCORE_REDIS_DB: Redis database number 0-15 (default: 0)
//
// Example usage:
//
//	cfg := config.Load()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"tweetcore/internal/common/logging"
	"tweetcore/internal/common/pacer"
	"tweetcore/internal/credentials"
	"tweetcore/internal/executor"
	"tweetcore/internal/faults"
	"tweetcore/internal/redis"
)

// DefaultBaseURL is the production API root
const DefaultBaseURL = "https://api.twitter.com/"

// Config holds every setting of the client
type Config struct {
	// Credentials
	ConsumerKey       string
	ConsumerSecret    string
	AccessToken       string
	AccessTokenSecret string
	BearerToken       string
	BaseURL           string

	// Logging and fault policy
	LogLevel          string
	SwallowExceptions bool
	LogExceptions     bool

	// Request execution
	RateLimitTracking string // none, track or await
	HTTPTimeout       time.Duration
	CircuitBreaker    bool
	RequestsPerSecond float64
	Burst             int
	Singleflight      bool

	// Shared rate limit cache
	RedisAddress  string
	RedisPassword string
	RedisDB       int
}

// Load reads the configuration from the environment. envFiles are loaded
// first when present (".env" when none is given); variables already set in the
// environment win.
//
// Load does not validate; call Validate on the result.
func Load(envFiles ...string) *Config {
	_ = godotenv.Load(envFiles...)

	return &Config{
		ConsumerKey:       getEnv("TWITTER_CONSUMER_KEY", ""),
		ConsumerSecret:    getEnv("TWITTER_CONSUMER_SECRET", ""),
		AccessToken:       getEnv("TWITTER_ACCESS_TOKEN", ""),
		AccessTokenSecret: getEnv("TWITTER_ACCESS_TOKEN_SECRET", ""),
		BearerToken:       getEnv("TWITTER_BEARER_TOKEN", ""),
		BaseURL:           getEnv("TWITTER_API_BASE_URL", DefaultBaseURL),

		LogLevel:          getEnv("TWEETCORE_LOG_LEVEL", "info"),
		SwallowExceptions: getBoolEnv("TWEETCORE_SWALLOW_EXCEPTIONS", false),
		LogExceptions:     getBoolEnv("TWEETCORE_LOG_EXCEPTIONS", true),

		RateLimitTracking: getEnv("TWEETCORE_RATE_LIMIT_TRACKING", "none"),
		HTTPTimeout:       getDurationEnv("TWEETCORE_HTTP_TIMEOUT", 10*time.Second),
		CircuitBreaker:    getBoolEnv("TWEETCORE_CIRCUIT_BREAKER", false),
		RequestsPerSecond: getFloatEnv("TWEETCORE_REQUESTS_PER_SECOND", 0),
		Burst:             getIntEnv("TWEETCORE_BURST", 1),
		Singleflight:      getBoolEnv("TWEETCORE_SINGLEFLIGHT", false),

		RedisAddress:  getEnv("TWEETCORE_REDIS_ADDRESS", ""),
		RedisPassword: getEnv("TWEETCORE_REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("TWEETCORE_REDIS_DB", 0),
	}
}

// Default returns the configuration Load produces from an empty environment
func Default() *Config {
	return &Config{
		BaseURL:           DefaultBaseURL,
		LogLevel:          "info",
		LogExceptions:     true,
		RateLimitTracking: "none",
		HTTPTimeout:       10 * time.Second,
		Burst:             1,
	}
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv accepts the strconv.ParseBool spellings; anything else keeps the default
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate checks formats, ranges and paired fields
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("TWITTER_API_BASE_URL must be an absolute http(s) url, got %q", c.BaseURL)
	}

	if (c.AccessToken == "") != (c.AccessTokenSecret == "") {
		return fmt.Errorf("TWITTER_ACCESS_TOKEN and TWITTER_ACCESS_TOKEN_SECRET must be set together")
	}
	if c.AccessToken != "" && (c.ConsumerKey == "" || c.ConsumerSecret == "") {
		return fmt.Errorf("TWITTER_CONSUMER_KEY and TWITTER_CONSUMER_SECRET are required with an access token")
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("TWEETCORE_LOG_LEVEL must be debug, info, warn or error")
	}

	if _, err := c.TrackerMode(); err != nil {
		return fmt.Errorf("TWEETCORE_RATE_LIMIT_TRACKING must be none, track or await: %w", err)
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("TWEETCORE_HTTP_TIMEOUT must be a positive duration")
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("TWEETCORE_REQUESTS_PER_SECOND must not be negative")
	}
	if c.Burst < 1 {
		return fmt.Errorf("TWEETCORE_BURST must be at least 1")
	}

	if c.RedisAddress != "" && (c.RedisDB < 0 || c.RedisDB > 15) {
		return fmt.Errorf("TWEETCORE_REDIS_DB must be a number between 0 and 15")
	}
	return nil
}

// TrackerMode returns the rate limit tracking mode
func (c *Config) TrackerMode() (executor.TrackerMode, error) {
	return executor.ParseTrackerMode(c.RateLimitTracking)
}

// Credentials returns the credential set described by the environment
func (c *Config) Credentials() credentials.CredentialSet {
	return credentials.CredentialSet{
		ConsumerKey:       c.ConsumerKey,
		ConsumerSecret:    c.ConsumerSecret,
		AccessToken:       c.AccessToken,
		AccessTokenSecret: c.AccessTokenSecret,
		BearerToken:       c.BearerToken,
	}
}

// FaultConfig returns the fault policy switches
func (c *Config) FaultConfig() faults.Config {
	return faults.Config{
		LogExceptions:     c.LogExceptions,
		SwallowExceptions: c.SwallowExceptions,
	}
}

// PacerConfig returns the pacing settings; pacing is off when no rate is set
func (c *Config) PacerConfig() pacer.Config {
	return pacer.Config{
		RequestsPerSecond: c.RequestsPerSecond,
		BurstSize:         c.Burst,
		Enabled:           c.RequestsPerSecond > 0,
	}
}

// RedisConfig returns nil when the rate limit cache stays in process
func (c *Config) RedisConfig() *redis.Config {
	if c.RedisAddress == "" {
		return nil
	}
	return &redis.Config{
		Address:  c.RedisAddress,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

// LogConfig returns the logger settings
func (c *Config) LogConfig() logging.LogConfig {
	config := logging.DefaultLogConfig()
	config.Level = logging.ParseLevel(c.LogLevel)
	return config
}
