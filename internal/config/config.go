package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// defaultPublicPaths are the static/document paths served without a session:
// the SPA shell, its compiled assets, and the websocket upgrade endpoints.
const defaultPublicPaths = "/,/*.css,/*.js,/favicon.ico,/assets/**,/*.webp,/websocket,/app/websocket,/topic/*"

// defaultPublicDataPaths are application data endpoints that are readable
// without a session. Kept separate from the static list so the policy can be
// tightened per path without touching the asset rules.
const defaultPublicDataPaths = "/history,/history/page/*,/game,/game/*,/get/game/*"

// Config holds gateway configuration
type Config struct {
	Port            string
	BaseURL         string // externally visible origin of this gateway
	UpstreamURL     string // where gated traffic is forwarded
	DatabaseURL     string // optional; empty means in-memory sessions
	AllowedOrigins  string
	PublicPaths     string // static/document paths, comma-separated patterns
	PublicDataPaths string // read-only data paths open without a session
	LoginFailureURL string // where the browser lands after a failed login
	SessionTTL      time.Duration
	Environment     string // development, staging, production

	OIDC OIDCConfig
}

// OIDCConfig is the client registration for the identity provider.
type OIDCConfig struct {
	ProviderName string
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       string
}

// Load loads configuration from environment variables and validates for production
func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		BaseURL:         getEnv("BASE_URL", "http://localhost:8080"),
		UpstreamURL:     getEnv("UPSTREAM_URL", "http://localhost:9000"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		AllowedOrigins:  getEnv("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:8080"),
		PublicPaths:     getEnv("PUBLIC_PATHS", defaultPublicPaths),
		PublicDataPaths: getEnv("PUBLIC_DATA_PATHS", defaultPublicDataPaths),
		LoginFailureURL: getEnv("LOGIN_FAILURE_REDIRECT", "/?error=login_failed"),
		SessionTTL:      getEnvDuration("SESSION_TTL_HOURS", 24) * time.Hour,
		Environment:     getEnv("ENVIRONMENT", "development"),
		OIDC: OIDCConfig{
			ProviderName: getEnv("OIDC_PROVIDER_NAME", "keycloak"),
			IssuerURL:    getEnv("OIDC_ISSUER_URL", "http://localhost:8180/realms/gateway"),
			ClientID:     getEnv("OIDC_CLIENT_ID", "spa-gateway"),
			ClientSecret: getEnv("OIDC_CLIENT_SECRET", ""),
			RedirectURL:  getEnv("OIDC_REDIRECT_URL", ""),
			Scopes:       getEnv("OIDC_SCOPES", "openid,profile"),
		},
	}

	if cfg.OIDC.RedirectURL == "" {
		cfg.OIDC.RedirectURL = strings.TrimRight(cfg.BaseURL, "/") + "/login/oauth2/code"
	}

	// Validate production configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	return cfg
}

// Validate checks configuration for security and correctness
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.OIDC.ClientSecret == "" {
			return fmt.Errorf("OIDC_CLIENT_SECRET must be set in production")
		}

		if !strings.HasPrefix(c.BaseURL, "https://") {
			return fmt.Errorf("BASE_URL must use HTTPS in production (got %q)", c.BaseURL)
		}

		if strings.Contains(c.AllowedOrigins, "http://") {
			log.Println("WARNING: Ensure ALLOWED_ORIGINS uses HTTPS in production")
		}
	} else if c.OIDC.ClientSecret == "" {
		// Development/staging: public client, code exchange protected by PKCE only
		log.Println("OIDC_CLIENT_SECRET not set, running as a public client")
	}

	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL_HOURS must be positive")
	}

	return nil
}

// PublicPatterns returns the combined static and data path patterns,
// static rules first.
func (c *Config) PublicPatterns() []string {
	patterns := splitList(c.PublicPaths)
	return append(patterns, splitList(c.PublicDataPaths)...)
}

// Origins returns the parsed allowed CORS origins.
func (c *Config) Origins() []string {
	return splitList(c.AllowedOrigins)
}

// OIDCScopes returns the parsed OIDC scope list.
func (c *Config) OIDCScopes() []string {
	return splitList(c.OIDC.Scopes)
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev" || c.Environment == ""
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultHours int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if hours, err := strconv.Atoi(value); err == nil && hours > 0 {
			return time.Duration(hours)
		}
		log.Printf("Invalid %s value %q, using default %d", key, value, defaultHours)
	}
	return time.Duration(defaultHours)
}
