package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadWithEnv(filepath.Join(t.TempDir(), "absent.toml"), envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.True(t, cfg.Guard.DefaultEnabled)
	assert.False(t, cfg.Session.DefaultEnabled)
	assert.Equal(t, DefaultHistoryLimit, cfg.Session.HistoryLimit)
	assert.Equal(t, 10*time.Second, cfg.Guard.Timeout())
	assert.Equal(t, DefaultTextModel, cfg.Gemini.TextModel)
}

func TestLoadDecodesTOML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
allow_list = ["12345", "alice"]

[server]
addr = ":9090"

[guard]
base_url = "https://guard.example.com"
timeout_seconds = 3

[session]
history_limit = 12

[telegram]
enabled = true
bot_token = "tg-token"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := LoadWithEnv(path, envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "https://guard.example.com", cfg.Guard.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Guard.Timeout())
	assert.Equal(t, 12, cfg.Session.HistoryLimit)
	assert.Equal(t, []string{"12345", "alice"}, cfg.AllowList)
	assert.True(t, cfg.Telegram.Enabled)
	assert.Equal(t, DefaultGuardAppName, cfg.Guard.AppName)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Parallel()

	cfg, err := LoadWithEnv(filepath.Join(t.TempDir(), "absent.toml"), envMap(map[string]string{
		"GEMINI_API_KEY":      "g-key",
		"V1_API_KEY":          "v1-key",
		"V1_BASE_URL":         "https://v1.example.com",
		"APP_NAME":            "relay-test",
		"WHATSAPP_ALLOW_LIST": " 111, ,222 ",
		"HTTPS_PROXY":         "http://proxy:8080",
		"V1_HTTP_PROXY":       "http://guard-proxy:3128",
		"PORT":                "4000",
		"TELEGRAM_BOT_TOKEN":  "tg",
	}))
	require.NoError(t, err)
	assert.Equal(t, "g-key", cfg.Gemini.APIKey)
	assert.Equal(t, "v1-key", cfg.Guard.APIKey)
	assert.Equal(t, "https://v1.example.com", cfg.Guard.BaseURL)
	assert.Equal(t, "relay-test", cfg.Guard.AppName)
	assert.Equal(t, []string{"111", "222"}, cfg.AllowList)
	assert.Equal(t, "http://proxy:8080", cfg.Gemini.Proxy)
	assert.Equal(t, "http://guard-proxy:3128", cfg.Guard.Proxy)
	assert.Equal(t, ":4000", cfg.Server.Addr)
	assert.True(t, cfg.Telegram.Enabled)
	assert.Equal(t, "tg", cfg.Telegram.BotToken)
}

func TestValidateRejectsEnabledChannelWithoutToken(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Discord.Enabled = true
	assert.Error(t, cfg.Validate())

	cfg.Discord.BotToken = "d"
	assert.NoError(t, cfg.Validate())
}

func TestValidateDashboardCredentialsRequiredWithSecret(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Dashboard.JWTSecret = "s3cret"
	assert.Error(t, cfg.Validate())

	cfg.Dashboard.Username = "admin"
	cfg.Dashboard.Password = "pw"
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Dashboard.AuthEnabled())
	assert.Equal(t, 24*time.Hour, cfg.Dashboard.TokenTTL())
}

func TestSplitList(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a", "b"}, SplitList("a, ,b,"))
	assert.Empty(t, SplitList(""))
}
