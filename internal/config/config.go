package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPolicyHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	Cookie    CookieConfig
	Redis     RedisConfig
	Geo       GeoConfig
	RateLimit RateLimitConfig
	Telemetry TelemetryConfig

	// PolicyPaths are searched in order for tracking.yml.
	PolicyPaths []string
}

type CookieConfig struct {
	Domain   string
	Secure   bool
	HTTPOnly bool
	// AllowedOrigins may call the tracking API with credentials.
	AllowedOrigins []string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type GeoConfig struct {
	Endpoint        string
	Timeout         time.Duration
	CacheTTL        time.Duration
	DefaultCountry  string
	DefaultCurrency string
}

type RateLimitConfig struct {
	Enabled bool
	Rate    float64
	Burst   int
}

// TelemetryConfig selects log output and the span exporter.
type TelemetryConfig struct {
	LogLevel  string
	LogFormat string

	TraceExporter string // otlp-grpc, otlp-http, stdout or none
	TraceEndpoint string
	TraceSampling float64
	// TraceAlways lists route fragments sampled regardless of TraceSampling.
	TraceAlways []string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")
	cookieSecure := environment == "production"
	if !cookieSecure {
		cookieSecure = getenvBool("TRACKING_COOKIE_SECURE", false)
	}

	return Config{
		AppName:     getenv("APP_SERVICE", "attribution"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: environment,
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		NodeID:      getenvInt64("SNOWFLAKE_NODE", 1),
		Cookie: CookieConfig{
			Domain:   strings.TrimSpace(getenv("TRACKING_COOKIE_DOMAIN", "")),
			Secure:   cookieSecure,
			HTTPOnly: getenvBool("TRACKING_COOKIE_HTTP_ONLY", false),

			AllowedOrigins: parseList(getenv("TRACKING_ALLOWED_ORIGINS", "")),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       int(getenvInt64("REDIS_DB", 0)),
		},
		Geo: GeoConfig{
			Endpoint:        strings.TrimSpace(getenv("GEO_ENDPOINT", "https://ipapi.co/{ip}/country/")),
			Timeout:         getenvDuration("GEO_TIMEOUT", 2*time.Second),
			CacheTTL:        getenvDuration("GEO_CACHE_TTL", 24*time.Hour),
			DefaultCountry:  strings.ToUpper(getenv("GEO_DEFAULT_COUNTRY", "US")),
			DefaultCurrency: strings.ToUpper(getenv("GEO_DEFAULT_CURRENCY", "USD")),
		},
		RateLimit: RateLimitConfig{
			Enabled: getenvBool("TRACKING_RATE_LIMIT_ENABLED", false),
			Rate:    getenvFloat("TRACKING_RATE_LIMIT_RATE", 5),
			Burst:   int(getenvInt64("TRACKING_RATE_LIMIT_BURST", 20)),
		},
		Telemetry: TelemetryConfig{
			LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			TraceExporter: strings.ToLower(strings.TrimSpace(getenv("TRACE_EXPORTER", "none"))),
			TraceEndpoint: strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")),
			TraceSampling: getenvFloat("TRACE_SAMPLING_RATIO", 0.1),
			TraceAlways:   parseList(getenv("TRACE_ALWAYS_ROUTES", "/purchase,/checkout")),
		},
		PolicyPaths: parseList(getenv("TRACKING_POLICY_PATHS", "/etc/attribution,.")),
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// Debug is true for verbose log levels and non-production environments.
func (c Config) Debug() bool {
	if c.Telemetry.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
