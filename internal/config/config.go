package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath        = "config.toml"
	DefaultHTTPAddr          = ":3000"
	DefaultGuardBaseURL      = "https://api.xdr.trendmicro.com"
	DefaultGuardAppName      = "guardrelay"
	DefaultTextModel         = "gemini-3-flash-preview"
	DefaultImageModel        = "gemini-3-pro-image-preview"
	DefaultHistoryLimit      = 30
	DefaultAuditPath         = "log/audit.log"
	DefaultDashboardIdentity = "web"
	DefaultJWTExpiresIn      = "24h"
)

type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Dashboard DashboardConfig `toml:"dashboard"`
	Guard     GuardConfig     `toml:"guard"`
	Gemini    GeminiConfig    `toml:"gemini"`
	Session   SessionConfig   `toml:"session"`
	Audit     AuditConfig     `toml:"audit"`
	Telegram  TelegramConfig  `toml:"telegram"`
	Discord   DiscordConfig   `toml:"discord"`
	// AllowList restricts chat-transport senders (user ids or usernames). Empty allows everyone.
	AllowList []string `toml:"allow_list"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `toml:"format" validate:"omitempty,oneof=text json"`
}

type ServerConfig struct {
	Addr string `toml:"addr" validate:"required"`
}

// DashboardConfig protects the dashboard with a single credential when JWTSecret is set.
type DashboardConfig struct {
	Identity     string `toml:"identity" validate:"required"`
	Username     string `toml:"username" validate:"required_with=JWTSecret"`
	Password     string `toml:"password" validate:"required_with=JWTSecret"`
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

// AuthEnabled reports whether dashboard routes require a token.
func (c DashboardConfig) AuthEnabled() bool {
	return strings.TrimSpace(c.JWTSecret) != ""
}

// TokenTTL parses JWTExpiresIn, falling back to 24h.
func (c DashboardConfig) TokenTTL() time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(c.JWTExpiresIn))
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

type GuardConfig struct {
	DefaultEnabled bool   `toml:"default_enabled"`
	BaseURL        string `toml:"base_url" validate:"required,url"`
	APIKey         string `toml:"api_key"`
	AppName        string `toml:"app_name" validate:"required"`
	Proxy          string `toml:"proxy"`
	TimeoutSeconds int    `toml:"timeout_seconds" validate:"gte=1"`
}

// Timeout returns the per-call classifier timeout.
func (c GuardConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type GeminiConfig struct {
	APIKey              string `toml:"api_key"`
	TextModel           string `toml:"text_model" validate:"required"`
	ImageModel          string `toml:"image_model" validate:"required"`
	Proxy               string `toml:"proxy"`
	TimeoutSeconds      int    `toml:"timeout_seconds" validate:"gte=1"`
	ImageTimeoutSeconds int    `toml:"image_timeout_seconds" validate:"gte=1"`
	ProbeTimeoutSeconds int    `toml:"probe_timeout_seconds" validate:"gte=1"`
}

func (c GeminiConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c GeminiConfig) ImageTimeout() time.Duration {
	return time.Duration(c.ImageTimeoutSeconds) * time.Second
}

func (c GeminiConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

type SessionConfig struct {
	DefaultEnabled bool `toml:"default_enabled"`
	HistoryLimit   int  `toml:"history_limit" validate:"gte=1"`
}

type AuditConfig struct {
	Path   string `toml:"path" validate:"required"`
	Buffer int    `toml:"buffer" validate:"gte=0"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token" validate:"required_if=Enabled true"`
}

type DiscordConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token" validate:"required_if=Enabled true"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Dashboard: DashboardConfig{
			Identity:     DefaultDashboardIdentity,
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Guard: GuardConfig{
			DefaultEnabled: true,
			BaseURL:        DefaultGuardBaseURL,
			AppName:        DefaultGuardAppName,
			TimeoutSeconds: 10,
		},
		Gemini: GeminiConfig{
			TextModel:           DefaultTextModel,
			ImageModel:          DefaultImageModel,
			TimeoutSeconds:      60,
			ImageTimeoutSeconds: 120,
			ProbeTimeoutSeconds: 10,
		},
		Session: SessionConfig{
			HistoryLimit: DefaultHistoryLimit,
		},
		Audit: AuditConfig{
			Path:   DefaultAuditPath,
			Buffer: 256,
		},
	}
}

// Load reads the TOML file at path (missing file keeps defaults), applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an injectable environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	if lookup != nil {
		applyEnv(&cfg, lookup)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks struct constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	get := func(keys ...string) string {
		for _, key := range keys {
			if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}
	set := func(dst *string, keys ...string) {
		if v := get(keys...); v != "" {
			*dst = v
		}
	}

	set(&cfg.Gemini.APIKey, "GEMINI_API_KEY")
	set(&cfg.Gemini.TextModel, "GEMINI_TEXT_MODEL")
	set(&cfg.Gemini.ImageModel, "GEMINI_IMAGE_MODEL")
	set(&cfg.Gemini.Proxy, "GEMINI_HTTPS_PROXY", "GEMINI_HTTP_PROXY")
	set(&cfg.Guard.APIKey, "V1_API_KEY")
	set(&cfg.Guard.BaseURL, "V1_BASE_URL")
	set(&cfg.Guard.AppName, "APP_NAME")
	set(&cfg.Guard.Proxy, "V1_HTTPS_PROXY", "V1_HTTP_PROXY")
	set(&cfg.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	set(&cfg.Discord.BotToken, "DISCORD_BOT_TOKEN")
	set(&cfg.Dashboard.JWTSecret, "DASHBOARD_JWT_SECRET")
	set(&cfg.Dashboard.Password, "DASHBOARD_PASSWORD")

	// Generic proxies only fill gaps; a service-specific proxy always wins.
	if cfg.Gemini.Proxy == "" {
		cfg.Gemini.Proxy = get("HTTPS_PROXY", "HTTP_PROXY")
	}
	if cfg.Guard.Proxy == "" {
		cfg.Guard.Proxy = get("HTTPS_PROXY", "HTTP_PROXY")
	}

	if port := get("PORT"); port != "" {
		cfg.Server.Addr = ":" + strings.TrimPrefix(port, ":")
	}
	if raw := get("ALLOW_LIST", "WHATSAPP_ALLOW_LIST"); raw != "" {
		cfg.AllowList = SplitList(raw)
	}
	if cfg.Telegram.BotToken != "" && get("TELEGRAM_BOT_TOKEN") != "" {
		cfg.Telegram.Enabled = true
	}
	if cfg.Discord.BotToken != "" && get("DISCORD_BOT_TOKEN") != "" {
		cfg.Discord.Enabled = true
	}
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
