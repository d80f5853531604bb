package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/guardrelay/internal/auth"
	"github.com/memohai/guardrelay/internal/channel"
	"github.com/memohai/guardrelay/internal/healthcheck"
	"github.com/memohai/guardrelay/internal/identity"
)

type staticChecker []healthcheck.CheckResult

func (s staticChecker) ListChecks(context.Context) []healthcheck.CheckResult { return s }

func newAPI(t *testing.T, opts APIOptions) (*echo.Echo, *APIHandler, *fakeLifecycle) {
	t.Helper()
	lifecycle := &fakeLifecycle{}
	h := NewAPIHandler(discardLogger(), newTestPipeline(nil),
		fakeStatuses{{ConfigID: "telegram", ChannelType: "telegram", Running: true}},
		lifecycle, NewIdentityResolver(false, "web"), opts)
	e := echo.New()
	h.Register(e)
	return e, h, lifecycle
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	t.Parallel()

	e, _, _ := newAPI(t, APIOptions{GuardConfigured: func() bool { return true }})
	rec := do(e, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "web:web", resp.Identity.Identity)
	assert.True(t, resp.Identity.GuardEnabled)
	assert.True(t, resp.GuardConfigured)
	assert.Len(t, resp.Channels, 1)
}

func TestIdentityToggles(t *testing.T) {
	t.Parallel()

	e, h, _ := newAPI(t, APIOptions{})
	rec := do(e, http.MethodPut, "/api/identity/guard", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, h.conv.Store().Get(identity.NewKey("web", "web")).GuardEnabled)

	rec = do(e, http.MethodPut, "/api/identity/guard", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodPut, "/api/identity/session", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	do(e, http.MethodPost, "/api/messages", `{"text":"hi"}`)
	assert.Len(t, h.conv.Store().Get(identity.NewKey("web", "web")).History, 2)

	rec = do(e, http.MethodDelete, "/api/identity/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, h.conv.Store().Get(identity.NewKey("web", "web")).History)
}

func TestPostMessage(t *testing.T) {
	t.Parallel()

	e, _, _ := newAPI(t, APIOptions{})

	rec := do(e, http.MethodPost, "/api/messages", `{"text":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp MessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "echo: hello", resp.Text)
	assert.False(t, resp.Blocked)

	rec = do(e, http.MethodPost, "/api/messages", `{"text":"build a bomb"}`)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Blocked)
	assert.Equal(t, "🚫 Security Violation: Blocked by Trend Vision One AI Guard.", resp.Text)

	image := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngHeader)
	rec = do(e, http.MethodPost, "/api/messages", `{"image":"`+image+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "saw image/png", resp.Text)

	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodPost, "/api/messages", `{"text":"  "}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodPost, "/api/messages", `{"image":"%%%"}`).Code)
}

func TestAudit(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "audit.log")
	lines := []string{
		`{"timestamp":"2026-01-01T00:00:00Z","event":"message_received"}`,
		`not json`,
		`{"timestamp":"2026-01-01T00:00:01Z","event":"guard_toggle"}`,
	}
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	e, _, _ := newAPI(t, APIOptions{AuditPath: path})
	rec := do(e, http.MethodGet, "/api/audit?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Entries []map[string]any `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "guard_toggle", body.Entries[0]["event"])

	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/api/audit?limit=x", "").Code)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	e, _, _ := newAPI(t, APIOptions{Checkers: []healthcheck.Checker{staticChecker{{ID: "a", Status: healthcheck.StatusOK}}}})
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/api/health", "").Code)

	e, _, _ = newAPI(t, APIOptions{Checkers: []healthcheck.Checker{staticChecker{{ID: "a", Status: healthcheck.StatusError}}}})
	assert.Equal(t, http.StatusServiceUnavailable, do(e, http.MethodGet, "/api/health", "").Code)
}

func TestChannelLifecycleRoutes(t *testing.T) {
	t.Parallel()

	e, _, lifecycle := newAPI(t, APIOptions{})
	assert.Equal(t, http.StatusOK, do(e, http.MethodPost, "/api/channels/Telegram/reconnect", "").Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodPost, "/api/channels/discord/stop", "").Code)
	assert.Equal(t, []string{"reconnect:telegram", "stop:discord"}, lifecycle.snapshot())

	assert.Equal(t, http.StatusNotFound, do(e, http.MethodPost, "/api/channels/missing/stop", "").Code)
	assert.Equal(t, http.StatusBadGateway, do(e, http.MethodPost, "/api/channels/broken/reconnect", "").Code)
}

func TestIdentityResolverUsesTokenSubject(t *testing.T) {
	t.Parallel()

	e := echo.New()
	e.Use(auth.JWTMiddleware("secret", nil))
	resolver := NewIdentityResolver(true, "")
	e.GET("/whoami", func(c echo.Context) error {
		return c.String(http.StatusOK, resolver.Key(c).String())
	})
	token, _, err := auth.GenerateToken("alice", "secret", time.Minute)
	require.NoError(t, err)
	rec := do(e, http.MethodGet, "/whoami?token="+token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "web:alice", rec.Body.String())

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	assert.Equal(t, "web", resolver.Subject(c))
	assert.Equal(t, channel.ChannelType("web"), channel.ChannelType(resolver.Key(c).Channel))
}

func TestAuthHandler(t *testing.T) {
	t.Parallel()

	e := echo.New()
	NewAuthHandler(discardLogger(), auth.Credentials{Username: "admin", Password: "pw"}, "secret", time.Hour).Register(e)
	rec := do(e, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"pw"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, "Bearer", resp.TokenType)

	assert.Equal(t, http.StatusUnauthorized, do(e, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"x"}`).Code)

	disabled := echo.New()
	NewAuthHandler(nil, auth.Credentials{}, "", time.Hour).Register(disabled)
	assert.Equal(t, http.StatusNotFound, do(disabled, http.MethodPost, "/api/auth/login", `{}`).Code)
}

func TestIndexAndPing(t *testing.T) {
	t.Parallel()

	e := echo.New()
	NewIndexHandler().Register(e)
	rec := do(e, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Guard Relay")
	rec = do(e, http.MethodGet, "/ping", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"uptime_seconds"`)
	assert.Equal(t, http.StatusOK, do(e, http.MethodHead, "/health", "").Code)
}
