package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/guardrelay/internal/auth"
)

// AuthHandler issues dashboard tokens.
type AuthHandler struct {
	logger      *slog.Logger
	credentials auth.Credentials
	secret      string
	ttl         time.Duration
}

func NewAuthHandler(log *slog.Logger, credentials auth.Credentials, secret string, ttl time.Duration) *AuthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AuthHandler{
		logger:      log.With(slog.String("handler", "auth")),
		credentials: credentials,
		secret:      secret,
		ttl:         ttl,
	}
}

func (h *AuthHandler) Register(e *echo.Echo) {
	e.POST("/api/auth/login", h.Login)
	e.POST("/api/auth/refresh", h.Refresh)
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	Username    string    `json:"username"`
}

func (h *AuthHandler) Login(c echo.Context) error {
	if strings.TrimSpace(h.secret) == "" {
		return echo.NewHTTPError(http.StatusNotFound, "dashboard authentication is disabled")
	}
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.credentials.Verify(req.Username, req.Password); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.logger.Warn("login rejected", slog.String("username", req.Username), slog.String("remote_ip", c.RealIP()))
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	username := strings.TrimSpace(req.Username)
	token, expiresAt, err := auth.GenerateToken(username, h.secret, h.ttl)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
		Username:    username,
	})
}

func (h *AuthHandler) Refresh(c echo.Context) error {
	if strings.TrimSpace(h.secret) == "" {
		return echo.NewHTTPError(http.StatusNotFound, "dashboard authentication is disabled")
	}
	token, expiresAt, err := auth.RefreshTokenFromContext(c, h.secret, h.ttl)
	if err != nil {
		return err
	}
	subject, _ := auth.SubjectFromContext(c)
	return c.JSON(http.StatusOK, LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
		Username:    subject,
	})
}
