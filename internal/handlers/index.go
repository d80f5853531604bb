package handlers

import (
	_ "embed"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

//go:embed static/index.html
var dashboardPage []byte

// IndexHandler serves the single-page dashboard and the unauthenticated liveness probes.
type IndexHandler struct {
	started time.Time
}

func NewIndexHandler() *IndexHandler {
	return &IndexHandler{started: time.Now()}
}

func (h *IndexHandler) Register(e *echo.Echo) {
	e.GET("/", h.Index)
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.alive)
}

func (h *IndexHandler) Index(c echo.Context) error {
	return c.Blob(http.StatusOK, echo.MIMETextHTMLCharsetUTF8, dashboardPage)
}

// Ping answers as long as the HTTP server is serving. Component health lives under
// /api/health.
func (h *IndexHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

func (h *IndexHandler) alive(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}
