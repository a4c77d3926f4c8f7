// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// セッションストアの種類。
const (
	SessionStorePostgres = "postgres"
	SessionStoreRedis    = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// Session store（"postgres" or "redis"）
	SessionStore  string `envconfig:"SESSION_STORE" default:"postgres"`
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Cognito
	CognitoRegion       string `envconfig:"COGNITO_REGION" required:"true"`
	CognitoUserPoolID   string `envconfig:"COGNITO_USER_POOL_ID" required:"true"`
	CognitoClientID     string `envconfig:"COGNITO_USER_POOL_CLIENT_ID" required:"true"`
	CognitoClientSecret string `envconfig:"COGNITO_USER_POOL_CLIENT_SECRET"`
	CognitoEndpoint     string `envconfig:"COGNITO_ENDPOINT"`

	// 脆弱性情報API
	APIBaseURL string `envconfig:"API_BASE_URL" required:"true"`

	// Session
	SessionMaxAge    time.Duration `envconfig:"SESSION_MAX_AGE" default:"720h"`
	WorkspaceIdleTTL time.Duration `envconfig:"WORKSPACE_IDLE_TTL" default:"30m"`
	CleanupInterval  time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`

	// Rate Limit（req/min/client）
	RateLimitGeneral int `envconfig:"RATE_LIMIT_GENERAL" default:"120"`
	RateLimitAuth    int `envconfig:"RATE_LIMIT_AUTH" default:"10"`

	// リバースプロキシのX-Forwarded-For/X-Real-IPをクライアントアドレスとして信頼する
	TrustProxyHeaders bool `envconfig:"TRUST_PROXY_HEADERS" default:"false"`

	// Notification
	NotificationDuration time.Duration `envconfig:"NOTIFICATION_DURATION" default:"5s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`

	// Server
	ServerPort string `envconfig:"SERVER_PORT" default:"8080"`
	BaseURL    string `envconfig:"BASE_URL" required:"true"`

	// Cookie。SecureはBASE_URLのスキームから決める
	CookieDomain string `envconfig:"COOKIE_DOMAIN"`
	CookieSecure bool   `ignored:"true"`

	// CORS
	CORSAllowedOrigin string `envconfig:"CORS_ALLOWED_ORIGIN" default:"http://localhost:3000"`
}

// Load は環境変数からConfigを読み込み、値を検証する。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.SessionStore = strings.ToLower(strings.TrimSpace(cfg.SessionStore))
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// UsesRedis はセッションストアがRedisかを返す。
func (c *Config) UsesRedis() bool {
	return c.SessionStore == SessionStoreRedis
}

func (c *Config) validate() error {
	switch c.SessionStore {
	case SessionStorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when SESSION_STORE is %q", SessionStorePostgres)
		}
	case SessionStoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when SESSION_STORE is %q", SessionStoreRedis)
		}
	default:
		return fmt.Errorf("SESSION_STORE must be %q or %q, got %q", SessionStorePostgres, SessionStoreRedis, c.SessionStore)
	}

	// ユーザープールIDは "<region>_<id>" 形式
	if !strings.HasPrefix(c.CognitoUserPoolID, c.CognitoRegion+"_") || len(c.CognitoUserPoolID) == len(c.CognitoRegion)+1 {
		return fmt.Errorf("COGNITO_USER_POOL_ID %q does not belong to region %q", c.CognitoUserPoolID, c.CognitoRegion)
	}

	if err := validateHTTPURL(c.APIBaseURL); err != nil {
		return fmt.Errorf("API_BASE_URL: %w", err)
	}
	if err := validateHTTPURL(c.BaseURL); err != nil {
		return fmt.Errorf("BASE_URL: %w", err)
	}
	if c.CognitoEndpoint != "" {
		if err := validateHTTPURL(c.CognitoEndpoint); err != nil {
			return fmt.Errorf("COGNITO_ENDPOINT: %w", err)
		}
	}

	if c.RateLimitGeneral <= 0 || c.RateLimitAuth <= 0 {
		return fmt.Errorf("rate limits must be positive (general=%d, auth=%d)", c.RateLimitGeneral, c.RateLimitAuth)
	}
	if c.SessionMaxAge <= 0 || c.WorkspaceIdleTTL <= 0 || c.CleanupInterval <= 0 || c.NotificationDuration <= 0 {
		return fmt.Errorf("durations must be positive")
	}
	return nil
}

// validateHTTPURL はhttpまたはhttpsの絶対URLであることを検証する。
func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be absolute http(s), got %q", raw)
	}
	return nil
}
