package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var testEnvVars = []string{
	"TWITTER_CONSUMER_KEY",
	"TWITTER_CONSUMER_SECRET",
	"TWITTER_ACCESS_TOKEN",
	"TWITTER_ACCESS_TOKEN_SECRET",
	"TWITTER_BEARER_TOKEN",
	"TWITTER_API_BASE_URL",
	"TWEETCORE_LOG_LEVEL",
	"TWEETCORE_SWALLOW_EXCEPTIONS",
	"TWEETCORE_LOG_EXCEPTIONS",
	"TWEETCORE_RATE_LIMIT_TRACKING",
	"TWEETCORE_HTTP_TIMEOUT",
	"TWEETCORE_CIRCUIT_BREAKER",
	"TWEETCORE_REQUESTS_PER_SECOND",
	"TWEETCORE_BURST",
	"TWEETCORE_SINGLEFLIGHT",
	"TWEETCORE_REDIS_ADDRESS",
	"TWEETCORE_REDIS_PASSWORD",
	"TWEETCORE_REDIS_DB",
}

// clearTestEnvVars unsets every variable for the duration of the test
func clearTestEnvVars(t *testing.T) {
	t.Helper()
	for _, key := range testEnvVars {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad(t *testing.T) {
	clearTestEnvVars(t)

	config := Load(filepath.Join(t.TempDir(), "missing.env"))

	if config.BaseURL != DefaultBaseURL {
		t.Errorf("Load() BaseURL = %v, want %v", config.BaseURL, DefaultBaseURL)
	}
	if config.LogLevel != "info" {
		t.Errorf("Load() LogLevel = %v, want %v", config.LogLevel, "info")
	}
	if config.SwallowExceptions {
		t.Errorf("Load() SwallowExceptions = %v, want false", config.SwallowExceptions)
	}
	if !config.LogExceptions {
		t.Errorf("Load() LogExceptions = %v, want true", config.LogExceptions)
	}
	if config.RateLimitTracking != "none" {
		t.Errorf("Load() RateLimitTracking = %v, want none", config.RateLimitTracking)
	}
	if config.HTTPTimeout != 10*time.Second {
		t.Errorf("Load() HTTPTimeout = %v, want 10s", config.HTTPTimeout)
	}
	if config.Burst != 1 {
		t.Errorf("Load() Burst = %v, want 1", config.Burst)
	}
	if config.RedisAddress != "" {
		t.Errorf("Load() RedisAddress = %v, want empty", config.RedisAddress)
	}

	if *config != *Default() {
		t.Errorf("Load() from an empty environment = %+v, want %+v", *config, *Default())
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Validate() on defaults = %v", err)
	}
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	clearTestEnvVars(t)

	t.Setenv("TWITTER_CONSUMER_KEY", "ck")
	t.Setenv("TWITTER_CONSUMER_SECRET", "cs")
	t.Setenv("TWITTER_ACCESS_TOKEN", "at")
	t.Setenv("TWITTER_ACCESS_TOKEN_SECRET", "ats")
	t.Setenv("TWITTER_API_BASE_URL", "http://localhost:9000/")
	t.Setenv("TWEETCORE_LOG_LEVEL", "debug")
	t.Setenv("TWEETCORE_SWALLOW_EXCEPTIONS", "true")
	t.Setenv("TWEETCORE_LOG_EXCEPTIONS", "0")
	t.Setenv("TWEETCORE_RATE_LIMIT_TRACKING", "await")
	t.Setenv("TWEETCORE_HTTP_TIMEOUT", "3s")
	t.Setenv("TWEETCORE_CIRCUIT_BREAKER", "true")
	t.Setenv("TWEETCORE_REQUESTS_PER_SECOND", "2.5")
	t.Setenv("TWEETCORE_BURST", "5")
	t.Setenv("TWEETCORE_SINGLEFLIGHT", "true")
	t.Setenv("TWEETCORE_REDIS_ADDRESS", "redis:6379")
	t.Setenv("TWEETCORE_REDIS_DB", "3")

	config := Load(filepath.Join(t.TempDir(), "missing.env"))

	creds := config.Credentials()
	if creds.ConsumerKey != "ck" || creds.AccessTokenSecret != "ats" {
		t.Errorf("Credentials() = %+v", creds)
	}
	if !creds.HasUserContext() {
		t.Errorf("Credentials() should carry a user context")
	}

	faults := config.FaultConfig()
	if !faults.SwallowExceptions || faults.LogExceptions {
		t.Errorf("FaultConfig() = %+v", faults)
	}
	if config.RateLimitTracking != "await" {
		t.Errorf("RateLimitTracking = %v, want await", config.RateLimitTracking)
	}
	if config.HTTPTimeout != 3*time.Second {
		t.Errorf("HTTPTimeout = %v, want 3s", config.HTTPTimeout)
	}
	if !config.CircuitBreaker || !config.Singleflight {
		t.Errorf("CircuitBreaker = %v, Singleflight = %v, want both true", config.CircuitBreaker, config.Singleflight)
	}

	p := config.PacerConfig()
	if !p.Enabled || p.RequestsPerSecond != 2.5 || p.BurstSize != 5 {
		t.Errorf("PacerConfig() = %+v", p)
	}

	redis := config.RedisConfig()
	if redis == nil || redis.Address != "redis:6379" || redis.DB != 3 {
		t.Errorf("RedisConfig() = %+v", redis)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadInvalidNumbersKeepDefaults(t *testing.T) {
	clearTestEnvVars(t)

	t.Setenv("TWEETCORE_HTTP_TIMEOUT", "soon")
	t.Setenv("TWEETCORE_BURST", "many")
	t.Setenv("TWEETCORE_LOG_EXCEPTIONS", "maybe")

	config := Load(filepath.Join(t.TempDir(), "missing.env"))

	if config.HTTPTimeout != 10*time.Second {
		t.Errorf("HTTPTimeout = %v, want default", config.HTTPTimeout)
	}
	if config.Burst != 1 {
		t.Errorf("Burst = %v, want default", config.Burst)
	}
	if !config.LogExceptions {
		t.Errorf("LogExceptions = %v, want default", config.LogExceptions)
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearTestEnvVars(t)

	path := filepath.Join(t.TempDir(), "test.env")
	content := strings.Join([]string{
		"TWITTER_CONSUMER_KEY=from-file",
		"TWITTER_BEARER_TOKEN=AAAA1234",
		"TWEETCORE_RATE_LIMIT_TRACKING=track",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TWEETCORE_RATE_LIMIT_TRACKING", "await")

	config := Load(path)

	if config.ConsumerKey != "from-file" {
		t.Errorf("ConsumerKey = %v, want from-file", config.ConsumerKey)
	}
	if config.BearerToken != "AAAA1234" {
		t.Errorf("BearerToken = %v, want AAAA1234", config.BearerToken)
	}
	if config.RateLimitTracking != "await" {
		t.Errorf("RateLimitTracking = %v, the environment should win over the file", config.RateLimitTracking)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"relative base url", func(c *Config) { c.BaseURL = "api.twitter.com" }, "TWITTER_API_BASE_URL"},
		{"ftp base url", func(c *Config) { c.BaseURL = "ftp://api.twitter.com/" }, "TWITTER_API_BASE_URL"},
		{"token without secret", func(c *Config) {
			c.ConsumerKey, c.ConsumerSecret = "ck", "cs"
			c.AccessToken = "at"
		}, "set together"},
		{"token without consumer", func(c *Config) {
			c.AccessToken, c.AccessTokenSecret = "at", "ats"
		}, "TWITTER_CONSUMER_KEY"},
		{"bearer only", func(c *Config) { c.BearerToken = "AAAA1234" }, ""},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "TWEETCORE_LOG_LEVEL"},
		{"bad tracking", func(c *Config) { c.RateLimitTracking = "sometimes" }, "TWEETCORE_RATE_LIMIT_TRACKING"},
		{"track_only spelling", func(c *Config) { c.RateLimitTracking = "track_only" }, ""},
		{"track_and_await spelling", func(c *Config) { c.RateLimitTracking = "Track_And_Await" }, ""},
		{"zero timeout", func(c *Config) { c.HTTPTimeout = 0 }, "TWEETCORE_HTTP_TIMEOUT"},
		{"negative rate", func(c *Config) { c.RequestsPerSecond = -1 }, "TWEETCORE_REQUESTS_PER_SECOND"},
		{"zero burst", func(c *Config) { c.Burst = 0 }, "TWEETCORE_BURST"},
		{"redis db out of range", func(c *Config) {
			c.RedisAddress = "localhost:6379"
			c.RedisDB = 16
		}, "TWEETCORE_REDIS_DB"},
		{"redis db ignored without redis", func(c *Config) { c.RedisDB = 16 }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.modify(config)

			err := config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestDerivedConfigs(t *testing.T) {
	config := Default()

	if config.PacerConfig().Enabled {
		t.Errorf("PacerConfig() should be disabled without a rate")
	}
	if config.RedisConfig() != nil {
		t.Errorf("RedisConfig() should be nil without an address")
	}
	if !config.Credentials().IsZero() {
		t.Errorf("Credentials() should be empty")
	}
	config.LogLevel = "warn"
	if got := config.LogConfig().Level.String(); !strings.EqualFold(got, "warn") {
		t.Errorf("LogConfig().Level = %v, want warn", got)
	}
}
