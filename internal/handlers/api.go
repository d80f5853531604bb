package handlers

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/guardrelay/internal/audit"
	"github.com/memohai/guardrelay/internal/channel"
	"github.com/memohai/guardrelay/internal/channel/adapters/common"
	"github.com/memohai/guardrelay/internal/channel/adapters/local"
	"github.com/memohai/guardrelay/internal/chat"
	"github.com/memohai/guardrelay/internal/conversation"
	"github.com/memohai/guardrelay/internal/healthcheck"
	"github.com/memohai/guardrelay/internal/media"
)

const (
	defaultAuditLimit = 200
	maxAuditLimit     = 5000
)

// APIOptions configures the REST handler.
type APIOptions struct {
	AuditPath string
	Checkers  []healthcheck.Checker
	// GuardConfigured reports whether the classifier has credentials.
	GuardConfigured func() bool
}

// APIHandler serves the dashboard REST endpoints.
type APIHandler struct {
	logger     *slog.Logger
	conv       Conversation
	channels   ChannelStatusSource
	lifecycle  ChannelLifecycle
	identities IdentityResolver
	opts       APIOptions
}

func NewAPIHandler(log *slog.Logger, conv Conversation, channels ChannelStatusSource, lifecycle ChannelLifecycle, identities IdentityResolver, opts APIOptions) *APIHandler {
	if log == nil {
		log = slog.Default()
	}
	return &APIHandler{
		logger:     log.With(slog.String("handler", "api")),
		conv:       conv,
		channels:   channels,
		lifecycle:  lifecycle,
		identities: identities,
		opts:       opts,
	}
}

func (h *APIHandler) Register(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/status", h.Status)
	g.GET("/audit", h.Audit)
	g.GET("/health", h.Health)
	g.PUT("/identity/guard", h.SetGuard)
	g.PUT("/identity/session", h.SetSession)
	g.DELETE("/identity/history", h.ClearHistory)
	g.POST("/messages", h.PostMessage)
	g.POST("/channels/:type/reconnect", h.ReconnectChannel)
	g.POST("/channels/:type/stop", h.StopChannel)
}

type StatusResponse struct {
	Identity        identityStatus             `json:"identity"`
	GuardConfigured bool                       `json:"guard_configured"`
	Channels        []channel.ConnectionStatus `json:"channels"`
}

func (h *APIHandler) Status(c echo.Context) error {
	resp := StatusResponse{
		Identity: statusFor(h.conv.Store(), h.identities.Key(c)),
		Channels: []channel.ConnectionStatus{},
	}
	if h.opts.GuardConfigured != nil {
		resp.GuardConfigured = h.opts.GuardConfigured()
	}
	if h.channels != nil {
		resp.Channels = append(resp.Channels, h.channels.ConnectionStatuses()...)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *APIHandler) Audit(c echo.Context) error {
	limit := defaultAuditLimit
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, maxAuditLimit)
	}
	entries, err := audit.ReadFile(h.opts.AuditPath, limit)
	if err != nil {
		if entries == nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		h.logger.Warn("audit log partially read", slog.Int("entries", len(entries)), slog.Any("error", err))
	}
	return c.JSON(http.StatusOK, map[string]any{"entries": entries})
}

func (h *APIHandler) Health(c echo.Context) error {
	report := healthcheck.Run(c.Request().Context(), h.opts.Checkers...)
	code := http.StatusOK
	if report.Status == healthcheck.StatusError {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, report)
}

type ToggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *APIHandler) SetGuard(c echo.Context) error {
	enabled, err := bindToggle(c)
	if err != nil {
		return err
	}
	key := h.identities.Key(c)
	h.conv.SetGuard(c.Request().Context(), key, enabled, local.Type.String(), h.identities.Subject(c))
	return c.JSON(http.StatusOK, statusFor(h.conv.Store(), key))
}

func (h *APIHandler) SetSession(c echo.Context) error {
	enabled, err := bindToggle(c)
	if err != nil {
		return err
	}
	key := h.identities.Key(c)
	h.conv.SetSession(c.Request().Context(), key, enabled, local.Type.String(), h.identities.Subject(c))
	return c.JSON(http.StatusOK, statusFor(h.conv.Store(), key))
}

func (h *APIHandler) ClearHistory(c echo.Context) error {
	key := h.identities.Key(c)
	h.conv.ClearHistory(c.Request().Context(), key, local.Type.String(), h.identities.Subject(c))
	return c.JSON(http.StatusOK, statusFor(h.conv.Store(), key))
}

func bindToggle(c echo.Context) (bool, error) {
	var req ToggleRequest
	if err := c.Bind(&req); err != nil {
		return false, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Enabled == nil {
		return false, echo.NewHTTPError(http.StatusBadRequest, "enabled is required")
	}
	return *req.Enabled, nil
}

// MessageRequest is a one-shot dashboard prompt. Image is base64 or a data URL.
type MessageRequest struct {
	Text     string `json:"text"`
	Image    string `json:"image,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

type MessageResponse struct {
	Text              string   `json:"text"`
	Image             string   `json:"image,omitempty"`
	IsImageGeneration bool     `json:"is_image_generation"`
	Blocked           bool     `json:"blocked"`
	Reasons           []string `json:"reasons,omitempty"`
}

// PostMessage runs a prompt through the pipeline and answers in the same request.
func (h *APIHandler) PostMessage(c echo.Context) error {
	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	img, err := decodeImage(req.Image, req.MimeType)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Text) == "" && img == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "text or image is required")
	}
	out := h.conv.Respond(c.Request().Context(), conversation.Inbound{
		Identity: h.identities.Key(c),
		Sender:   h.identities.Subject(c),
		Text:     req.Text,
		Image:    img,
	})
	return c.JSON(http.StatusOK, toMessageResponse(out))
}

func toMessageResponse(out conversation.Outbound) MessageResponse {
	return MessageResponse{
		Text:              out.Text,
		Image:             out.Image.DataURL(),
		IsImageGeneration: out.IsImageGeneration,
		Blocked:           out.Blocked,
		Reasons:           out.Reasons,
	}
}

// decodeImage accepts base64 or a data URL. Empty input yields no image.
func decodeImage(raw, declared string) (*chat.Image, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if declared == "" && strings.HasPrefix(raw, "data:") {
		if semi := strings.IndexByte(raw, ';'); semi > len("data:") {
			declared = raw[len("data:"):semi]
		}
	}
	data, err := common.DecodeBase64(raw)
	if err != nil {
		return nil, errors.New("image is not valid base64")
	}
	return media.ReadImage(bytes.NewReader(data), declared, media.MaxImageBytes)
}

func (h *APIHandler) ReconnectChannel(c echo.Context) error {
	return h.applyLifecycle(c, "reconnect", h.lifecycle.Reconnect)
}

func (h *APIHandler) StopChannel(c echo.Context) error {
	return h.applyLifecycle(c, "stop", h.lifecycle.Stop)
}

func (h *APIHandler) applyLifecycle(c echo.Context, op string, fn func(ctx context.Context, t channel.ChannelType) (channel.ChannelConfig, error)) error {
	if h.lifecycle == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "channel lifecycle not configured")
	}
	channelType := channel.ParseChannelType(c.Param("type"))
	if channelType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "channel type is required")
	}
	cfg, err := fn(c.Request().Context(), channelType)
	if err != nil {
		return lifecycleError(err)
	}
	h.logger.Info("channel "+op, slog.String("channel", channelType.String()))
	return c.JSON(http.StatusOK, cfg)
}

func lifecycleError(err error) error {
	switch {
	case errors.Is(err, channel.ErrChannelConfigNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, channel.ErrEnableChannelFailed):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
