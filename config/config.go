// Package config loads the runtime configuration of the gateway and the chat
// API from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/raine/reellytics-gateway/internal/auth"
)

const (
	AppName     = "reellytics"
	EnvFileName = "config.env"
)

const (
	SessionBackendSQLite = "sqlite"
	SessionBackendRedis  = "redis"
)

type Config struct {
	KeycloakIssuer     string `env:"KEYCLOAK_ISSUER"`
	KeycloakID         string `env:"KEYCLOAK_ID"`
	KeycloakSecret     string `env:"KEYCLOAK_SECRET"`
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`

	// NextAuthSecret seeds the cookie and storage encryption keys.
	NextAuthSecret string `env:"NEXTAUTH_SECRET" env-required:"true"`
	// NextAuthURL is the public base URL of the gateway, used for the OAuth redirect.
	NextAuthURL string `env:"NEXTAUTH_URL" env-default:"http://localhost:3000"`

	APIBaseURL    string `env:"API_BASE_URL" env-default:"http://localhost:8000"`
	APIAuthScheme string `env:"API_AUTH_SCHEME" env-default:"bearer"`

	HTTPAddr    string `env:"HTTP_ADDR" env-default:":3000"`
	ChatAPIAddr string `env:"CHAT_API_ADDR" env-default:":8000"`
	DBPath      string `env:"DB_PATH" env-default:"reellytics.db"`

	SessionBackend string        `env:"SESSION_BACKEND" env-default:"sqlite"`
	RedisAddr      string        `env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisDB        int           `env:"REDIS_DB" env-default:"0"`
	SessionMaxAge  time.Duration `env:"SESSION_MAX_AGE" env-default:"720h"`
	LogoutTimeout  time.Duration `env:"LOGOUT_TIMEOUT" env-default:"5s"`

	GeminiAPIKey string   `env:"GEMINI_API_KEY"`
	CORSOrigins  []string `env:"CORS_ORIGINS" env-separator:"," env-default:"http://localhost:3000"`
}

// LoadEnvFile loads environment variables from the config file in the user's
// config directory and from .env in the working directory. Variables already
// set in the environment win. Errors are ignored since the files may not exist.
func LoadEnvFile() {
	_ = godotenv.Load(".env")

	configBase, err := os.UserConfigDir()
	if err != nil {
		return
	}
	configPath := filepath.Join(configBase, AppName, EnvFileName)
	_ = godotenv.Load(configPath)
}

// Load reads the gateway configuration from the environment.
func Load() (*Config, error) {
	return load(true)
}

// LoadChatAPI reads the configuration of the chat API, which does not talk
// to the identity provider.
func LoadChatAPI() (*Config, error) {
	return load(false)
}

func load(needProvider bool) (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.validate(needProvider); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate(needProvider bool) error {
	if c.NextAuthSecret == "" {
		return errors.New("NEXTAUTH_SECRET must not be empty")
	}
	switch c.SessionBackend {
	case SessionBackendSQLite, SessionBackendRedis:
	default:
		return fmt.Errorf("unknown SESSION_BACKEND %q", c.SessionBackend)
	}
	if !needProvider {
		return nil
	}
	if c.KeycloakIssuer == "" && c.GoogleClientID == "" {
		return errors.New("either KEYCLOAK_ISSUER or GOOGLE_CLIENT_ID must be set")
	}
	if c.KeycloakIssuer != "" && c.KeycloakID == "" {
		return errors.New("KEYCLOAK_ID is required with KEYCLOAK_ISSUER")
	}
	return nil
}

// Provider returns the configured identity provider. Keycloak is preferred
// when both are configured.
func (c *Config) Provider() auth.Provider {
	if c.KeycloakIssuer != "" {
		return auth.KeycloakProvider(c.KeycloakIssuer, c.KeycloakID, c.KeycloakSecret)
	}
	return auth.GoogleProvider(c.GoogleClientID, c.GoogleClientSecret)
}

func (c *Config) AuthScheme() auth.AuthScheme {
	return auth.ParseAuthScheme(c.APIAuthScheme)
}

// CallbackURL is the OAuth redirect URI registered with the provider.
func (c *Config) CallbackURL() string {
	return strings.TrimRight(c.NextAuthURL, "/") + "/auth/callback"
}

// SecureCookies reports whether session cookies should be marked Secure.
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(c.NextAuthURL, "https://")
}
