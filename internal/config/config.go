// Package config reads service settings from the process environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the settings shared by the storefront and account services.
type Config struct {
	Port        string
	ServiceName string

	LogLevel  string
	LogFormat string

	Database Database
	RedisURL string
	NATSURL  string

	Shopify Shopify

	CacheTTL        time.Duration
	CatalogCacheTTL time.Duration
	CatalogPoolSize int

	CookieSecure   bool
	CookieDomain   string
	AllowedOrigins []string
	AuthRateLimit  int

	MaxPetsPerCustomer int
	MaxWishlistItems   int
}

// Database mirrors the DATABASE_URL / DB_* variables.
type Database struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdle     time.Duration
	ConnMaxLifetime time.Duration
}

// Shopify configures the Storefront API client.
type Shopify struct {
	StoreDomain     string
	StorefrontToken string
	APIVersion      string
	Timeout         time.Duration
}

// Load reads .env (when present) and then the environment. serviceName is
// used when SERVICE_NAME is unset.
func Load(serviceName string) Config {
	_ = godotenv.Load()

	return Config{
		Port:        Env("PORT", "8080"),
		ServiceName: Env("SERVICE_NAME", serviceName),
		LogLevel:    Env("LOG_LEVEL", "info"),
		LogFormat:   Env("LOG_FORMAT", "json"),
		Database: Database{
			URL:             DatabaseURL(),
			MaxOpenConns:    IntEnv("DB_MAX_OPEN_CONNS", 60),
			MaxIdleConns:    IntEnv("DB_MAX_IDLE_CONNS", 20),
			ConnMaxIdle:     DurationEnv("DB_CONN_MAX_IDLE", 5*time.Minute),
			ConnMaxLifetime: DurationEnv("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		RedisURL: Env("REDIS_URL", ""),
		NATSURL:  Env("NATS_URL", ""),
		Shopify: Shopify{
			StoreDomain:     Env("SHOPIFY_STORE_DOMAIN", ""),
			StorefrontToken: Env("SHOPIFY_STOREFRONT_TOKEN", ""),
			APIVersion:      Env("SHOPIFY_API_VERSION", "2024-04"),
			Timeout:         DurationEnv("SHOPIFY_TIMEOUT", 15*time.Second),
		},
		CacheTTL:           DurationEnv("CACHE_TTL", 45*time.Second),
		CatalogCacheTTL:    DurationEnv("CATALOG_CACHE_TTL", 2*time.Minute),
		CatalogPoolSize:    IntEnv("CATALOG_POOL_SIZE", 250),
		CookieSecure:       BoolEnv("COOKIE_SECURE", true),
		CookieDomain:       Env("COOKIE_DOMAIN", ""),
		AllowedOrigins:     ListEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		AuthRateLimit:      IntEnv("AUTH_RATE_LIMIT", 10),
		MaxPetsPerCustomer: IntEnv("MAX_PETS_PER_CUSTOMER", 20),
		MaxWishlistItems:   IntEnv("MAX_WISHLIST_ITEMS", 200),
	}
}

// DatabaseURL returns DATABASE_URL, or a DSN assembled from DB_HOST and
// friends. It is empty when neither is configured.
func DatabaseURL() string {
	if dsn := Env("DATABASE_URL", ""); dsn != "" {
		return dsn
	}
	host := Env("DB_HOST", "")
	if host == "" {
		return ""
	}
	port := Env("DB_PORT", "5432")
	user := Env("DB_USER", "postgres")
	pass := Env("DB_PASSWORD", "postgres")
	name := Env("DB_NAME", "pet_pawket")
	ssl := Env("DB_SSLMODE", "disable")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, name, ssl)
}

func Env(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func IntEnv(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func DurationEnv(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func BoolEnv(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

// ListEnv splits a comma separated variable, dropping empty entries.
func ListEnv(key string, def []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	out := make([]string, 0, 4)
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
