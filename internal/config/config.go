package config

import (
	"os"
	"strconv"
	"time"
)

// Tuning constants shared across components.
const (
	TokenRefreshMargin = 5 * time.Minute
	RequestTimeout     = 30 * time.Second
	DefaultTokenTTL    = 3600 // seconds, when the token response omits expiresIn
	AmountTolerance    = 10   // minor units, order-matching heuristic
	RecentOrderWindow  = 30 * time.Minute
	OrderLockTTL       = 30 * time.Second
	TempStateTTL       = 24 * time.Hour
)

type Config struct {
	DatabaseURL  string
	RedisURL     string
	KafkaBrokers string
	NatsURL      string
	Port         string

	GatewayBaseURL string
	TenantKey      string
	ClientID       string
	Username       string
	Credentials    string
	OAuthBasicUser string
	OAuthBasicPass string
	TestMode       bool

	CallbackSecret string
	WebhookSecret  string

	Currency  string
	PointRate int64
	MinAmount int64

	PublicBaseURL   string
	CompletePageURL string
	CartPageURL     string

	JaegerEndpoint string
}

func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8084"
	}

	baseURL := os.Getenv("GRANDPAY_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.payment-gateway.asia"
	}

	completeURL := os.Getenv("COMPLETE_PAGE_URL")
	if completeURL == "" {
		completeURL = "http://localhost:8084/checkout/complete"
	}

	cartURL := os.Getenv("CART_PAGE_URL")
	if cartURL == "" {
		cartURL = "http://localhost:8084/cart"
	}

	return &Config{
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		KafkaBrokers: os.Getenv("KAFKA_BROKERS"),
		NatsURL:      os.Getenv("NATS_URL"),
		Port:         port,

		GatewayBaseURL: baseURL,
		TenantKey:      os.Getenv("GRANDPAY_TENANT_KEY"),
		ClientID:       os.Getenv("GRANDPAY_CLIENT_ID"),
		Username:       os.Getenv("GRANDPAY_USERNAME"),
		Credentials:    os.Getenv("GRANDPAY_CREDENTIALS"),
		OAuthBasicUser: envOr("GRANDPAY_OAUTH_CLIENT", "client"),
		OAuthBasicPass: envOr("GRANDPAY_OAUTH_SECRET", "secret"),
		TestMode:       envBool("GRANDPAY_TEST_MODE", true),

		CallbackSecret: os.Getenv("CALLBACK_SECRET"),
		WebhookSecret:  os.Getenv("WEBHOOK_SECRET"),

		Currency:  envOr("SETTLEMENT_CURRENCY", "JPY"),
		PointRate: envInt("POINT_RATE", 1),
		MinAmount: envInt("MIN_CHARGE_AMOUNT", 1400),

		PublicBaseURL:   envOr("PUBLIC_BASE_URL", "http://localhost:"+port),
		CompletePageURL: completeURL,
		CartPageURL:     cartURL,

		JaegerEndpoint: os.Getenv("JAEGER_ENDPOINT"),
	}
}

// MissingCredentials lists the gateway settings that are required before any
// remote call may be attempted.
func (c *Config) MissingCredentials() []string {
	var missing []string
	if c.TenantKey == "" {
		missing = append(missing, "tenant_key")
	}
	if c.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if c.Username == "" {
		missing = append(missing, "username")
	}
	if c.Credentials == "" {
		missing = append(missing, "credentials")
	}
	return missing
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
