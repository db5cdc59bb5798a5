package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvProduction は本番環境を表すAPP_ENVの値。
const EnvProduction = "production"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// Server
	AppEnv      string `env:"APP_ENV" envDefault:"development"`
	Port        string `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	FrontendURL string `env:"FRONTEND_URL,required,notEmpty"`

	Google    Google    `envPrefix:"GOOGLE_"`
	Session   Session   `envPrefix:"SESSION_"`
	Tab       Tab       `envPrefix:"TAB_"`
	RateLimit RateLimit `envPrefix:"RATE_LIMIT_"`
}

// Google はGoogle OAuthクライアントの設定。
type Google struct {
	ClientID     string `env:"CLIENT_ID,required,notEmpty"`
	ClientSecret string `env:"CLIENT_SECRET,required,notEmpty"`
	CallbackURL  string `env:"CALLBACK_URL,required,notEmpty"`
}

// Session はセッションとCookieの設定。
type Session struct {
	Secret string `env:"SECRET,required,notEmpty"`
	// TTL は最終アクセスからセッションが失効するまでの時間。
	TTL time.Duration `env:"TTL" envDefault:"336h"`
	// TouchAfter はこの時間が経過するまで有効期限の延長を書き込まない。
	TouchAfter      time.Duration `env:"TOUCH_AFTER" envDefault:"24h"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`
}

// Tab はタブの上限設定。
type Tab struct {
	Limit               int `env:"LIMIT" envDefault:"10"`
	TitleCharacterLimit int `env:"TITLE_CHARACTER_LIMIT" envDefault:"50"`
	CharacterLimit      int `env:"CHARACTER_LIMIT" envDefault:"10000"`
}

// RateLimit はクライアント単位のリクエスト制限。
type RateLimit struct {
	Requests int           `env:"REQUESTS" envDefault:"100"`
	Window   time.Duration `env:"WINDOW" envDefault:"1m"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は数値と期間の設定値が正であることを検証する。
func (c *Config) Validate() error {
	var errs []error
	positive := map[string]int{
		"TAB_LIMIT":                 c.Tab.Limit,
		"TAB_TITLE_CHARACTER_LIMIT": c.Tab.TitleCharacterLimit,
		"TAB_CHARACTER_LIMIT":       c.Tab.CharacterLimit,
		"RATE_LIMIT_REQUESTS":       c.RateLimit.Requests,
	}
	for name, v := range positive {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	durations := map[string]time.Duration{
		"SESSION_TTL":              c.Session.TTL,
		"SESSION_TOUCH_AFTER":      c.Session.TouchAfter,
		"SESSION_CLEANUP_INTERVAL": c.Session.CleanupInterval,
		"RATE_LIMIT_WINDOW":        c.RateLimit.Window,
	}
	for name, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// IsProduction は本番環境で動作しているかを返す。Secure Cookieの判定に使う。
func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

// Addr はHTTPサーバーのlistenアドレスを返す。
func (c *Config) Addr() string {
	return ":" + c.Port
}
