package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds runtime settings read from the environment.
type Config struct {
	AppEnv         string
	LogLevel       string
	LogFormat      string
	HTTPListenAddr string
	PublicBasePath string
	RequestTimeout time.Duration

	DatabaseDriver string
	DatabaseURL    string
	DatabaseSchema string
	SQLitePath     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	GeminiAPIKey string
	GeminiModel  string
	// TranslationCacheTTL of zero disables translation caching.
	TranslationCacheTTL time.Duration

	GeocoderBaseURL   string
	GeocoderUserAgent string
	GeocoderTimeout   time.Duration
	GeocoderRetries   int
	GeocoderCacheTTL  time.Duration

	PriceTablePath string

	TwilioAuthToken  string
	TwilioWebhookURL string

	WhatsAppEnabled   bool
	WhatsAppStorePath string
	WhatsAppLogLevel  string

	MetricsNamespace string
	DepotName        string
}

// Load reads configuration from environment variables, applying defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		AppEnv:         v.GetString("APP_ENV"),
		LogLevel:       v.GetString("LOG_LEVEL"),
		LogFormat:      v.GetString("LOG_FORMAT"),
		HTTPListenAddr: v.GetString("HTTP_LISTEN_ADDR"),
		PublicBasePath: v.GetString("PUBLIC_BASE_PATH"),
		RequestTimeout: v.GetDuration("REQUEST_TIMEOUT"),

		DatabaseDriver: strings.ToLower(strings.TrimSpace(v.GetString("DATABASE_DRIVER"))),
		DatabaseURL:    v.GetString("DATABASE_URL"),
		DatabaseSchema: v.GetString("DATABASE_SCHEMA"),
		SQLitePath:     v.GetString("SQLITE_PATH"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),
		RedisTLS:      v.GetBool("REDIS_TLS"),

		GeminiAPIKey:        v.GetString("GEMINI_API_KEY"),
		GeminiModel:         v.GetString("GEMINI_MODEL"),
		TranslationCacheTTL: v.GetDuration("TRANSLATION_CACHE_TTL"),

		GeocoderBaseURL:   v.GetString("GEOCODER_BASE_URL"),
		GeocoderUserAgent: v.GetString("GEOCODER_USER_AGENT"),
		GeocoderTimeout:   v.GetDuration("GEOCODER_TIMEOUT"),
		GeocoderRetries:   v.GetInt("GEOCODER_RETRIES"),
		GeocoderCacheTTL:  v.GetDuration("GEOCODER_CACHE_TTL"),

		PriceTablePath: v.GetString("PRICE_TABLE_PATH"),

		TwilioAuthToken:  v.GetString("TWILIO_AUTH_TOKEN"),
		TwilioWebhookURL: v.GetString("TWILIO_WEBHOOK_URL"),

		WhatsAppEnabled:   v.GetBool("WHATSAPP_ENABLED"),
		WhatsAppStorePath: v.GetString("WHATSAPP_STORE_PATH"),
		WhatsAppLogLevel:  v.GetString("WHATSAPP_LOG_LEVEL"),

		MetricsNamespace: v.GetString("METRICS_NAMESPACE"),
		DepotName:        v.GetString("DEPOT_NAME"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("HTTP_LISTEN_ADDR", ":8000")
	v.SetDefault("REQUEST_TIMEOUT", 30*time.Second)
	v.SetDefault("DATABASE_DRIVER", DriverPostgres)
	v.SetDefault("SQLITE_PATH", "data/agrisync.db")
	v.SetDefault("GEMINI_MODEL", "gemini-2.5-flash")
	v.SetDefault("TRANSLATION_CACHE_TTL", 6*time.Hour)
	v.SetDefault("GEOCODER_BASE_URL", "https://nominatim.openstreetmap.org")
	v.SetDefault("GEOCODER_USER_AGENT", "agrisync_production_bot_v1")
	v.SetDefault("GEOCODER_TIMEOUT", 5*time.Second)
	v.SetDefault("GEOCODER_RETRIES", 2)
	v.SetDefault("GEOCODER_CACHE_TTL", 24*time.Hour)
	v.SetDefault("PRICE_TABLE_PATH", "models/market_price_trends.csv")
	v.SetDefault("WHATSAPP_STORE_PATH", "data/whatsapp.db")
	v.SetDefault("WHATSAPP_LOG_LEVEL", "WARN")
	v.SetDefault("METRICS_NAMESPACE", "agrisync")
	v.SetDefault("DEPOT_NAME", "Kolar Cold Storage")
}

func (c *Config) validate() error {
	switch c.DatabaseDriver {
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s driver", DriverPostgres)
		}
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("SQLITE_PATH is required for the %s driver", DriverSQLite)
		}
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if c.GeocoderRetries < 1 {
		return fmt.Errorf("GEOCODER_RETRIES must be at least 1")
	}
	return nil
}
