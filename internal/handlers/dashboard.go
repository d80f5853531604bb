package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/memohai/guardrelay/internal/audit"
	"github.com/memohai/guardrelay/internal/channel"
	"github.com/memohai/guardrelay/internal/channel/adapters/common"
	"github.com/memohai/guardrelay/internal/channel/adapters/local"
	"github.com/memohai/guardrelay/internal/event"
	"github.com/memohai/guardrelay/internal/identity"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = pongWait * 9 / 10
	maxFrameBytes = 32 << 20
	sessionQueue  = 64
)

// Dashboard socket events, server to client.
const (
	EventStatus        = "status"
	EventChannelStatus = "channel-status"
	EventAuditLogs     = "audit-logs"
	EventAuditLog      = "audit-log"
	EventTrendLog      = "trend-log"
	EventBlocked       = "blocked"
	EventPendingImage  = "pending-image"
	EventResponse      = "response"
	EventError         = "error"
)

// Dashboard socket actions, client to server.
const (
	ActionToggleGuard      = "toggle-guard"
	ActionToggleSession    = "toggle-session"
	ActionClearHistory     = "clear-history"
	ActionMessage          = "message"
	ActionStatus           = "status"
	ActionChannelReconnect = "channel-reconnect"
	ActionChannelLogout    = "channel-logout"
)

var errSessionClosed = errors.New("dashboard session closed")

// Frame is one server-to-client socket message.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// ActionRequest is one client-to-server socket message. Enabled nil toggles.
type ActionRequest struct {
	Action   string `json:"action"`
	Enabled  *bool  `json:"enabled,omitempty"`
	Text     string `json:"text,omitempty"`
	Image    string `json:"image,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Channel  string `json:"channel,omitempty"`
}

// DashboardOptions configures the dashboard socket.
type DashboardOptions struct {
	AuditPath    string
	AuditHistory int
}

// DashboardHandler serves the dashboard websocket. Each socket is a session on the
// web channel: prompts go through the channel worker pool and replies come back
// through the route hub under the session id.
type DashboardHandler struct {
	logger     *slog.Logger
	conv       Conversation
	feeder     InboundFeeder
	routes     *local.RouteHub
	events     *event.Hub
	channels   ChannelStatusSource
	lifecycle  ChannelLifecycle
	identities IdentityResolver
	opts       DashboardOptions
	upgrader   websocket.Upgrader
}

func NewDashboardHandler(log *slog.Logger, conv Conversation, feeder InboundFeeder, routes *local.RouteHub, events *event.Hub, channels ChannelStatusSource, lifecycle ChannelLifecycle, identities IdentityResolver, opts DashboardOptions) *DashboardHandler {
	if log == nil {
		log = slog.Default()
	}
	if opts.AuditHistory <= 0 {
		opts.AuditHistory = defaultAuditLimit
	}
	return &DashboardHandler{
		logger:     log.With(slog.String("handler", "dashboard")),
		conv:       conv,
		feeder:     feeder,
		routes:     routes,
		events:     events,
		channels:   channels,
		lifecycle:  lifecycle,
		identities: identities,
		opts:       opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func (h *DashboardHandler) Register(e *echo.Echo) {
	e.GET("/ws", h.ServeWS)
}

func (h *DashboardHandler) ServeWS(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader already answered the request.
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return nil
	}
	subject := h.identities.Subject(c)
	s := &dashboardSession{
		handler: h,
		conn:    conn,
		id:      uuid.NewString(),
		subject: subject,
		key:     identity.NewKey(local.Type.String(), subject),
		out:     make(chan Frame, sessionQueue),
	}
	s.logger = h.logger.With(slog.String("session", s.id), slog.String("identity", s.key.String()))
	s.logger.Info("dashboard connected", slog.String("remote_ip", c.RealIP()))
	s.run(c.Request().Context())
	s.logger.Info("dashboard disconnected")
	return nil
}

type dashboardSession struct {
	handler *DashboardHandler
	conn    *websocket.Conn
	id      string
	subject string
	key     identity.Key
	out     chan Frame
	logger  *slog.Logger
}

func (s *dashboardSession) run(parent context.Context) {
	h := s.handler
	var events <-chan event.Event
	if h.events != nil {
		ch, cancel := h.events.Subscribe()
		defer cancel()
		events = ch
	}
	var replies <-chan local.RouteMessage
	if h.routes != nil {
		ch, cancel := h.routes.Subscribe(s.id)
		defer cancel()
		replies = ch
	}

	s.sendInitialState()

	g, ctx := errgroup.WithContext(context.WithoutCancel(parent))
	g.Go(func() error { return s.writeLoop(ctx, events, replies) })
	g.Go(func() error { return s.readLoop(ctx) })
	if err := g.Wait(); err != nil && !errors.Is(err, errSessionClosed) {
		s.logger.Warn("dashboard session ended", slog.Any("error", err))
	}
}

func (s *dashboardSession) sendInitialState() {
	h := s.handler
	s.send(Frame{Event: EventStatus, Data: statusFor(h.conv.Store(), s.key)})
	if h.channels != nil {
		s.send(Frame{Event: EventChannelStatus, Data: h.channels.ConnectionStatuses()})
	}
	// ReadFile returns the entries read before a failure; show those.
	entries, err := audit.ReadFile(h.opts.AuditPath, h.opts.AuditHistory)
	if err != nil {
		s.logger.Warn("read audit history failed", slog.Int("entries", len(entries)), slog.Any("error", err))
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	s.send(Frame{Event: EventAuditLogs, Data: entries})
}

// send queues f for the writer. A full queue drops the frame.
func (s *dashboardSession) send(f Frame) {
	select {
	case s.out <- f:
	default:
		s.logger.Warn("dashboard queue full, frame dropped", slog.String("event", f.Event))
	}
}

func (s *dashboardSession) writeLoop(ctx context.Context, events <-chan event.Event, replies <-chan local.RouteMessage) error {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return nil
		case f := <-s.out:
			if err := s.write(f); err != nil {
				return err
			}
		case ev, ok := <-events:
			if !ok {
				return errSessionClosed
			}
			for _, f := range s.framesFor(ev) {
				if err := s.write(f); err != nil {
					return err
				}
			}
		case msg, ok := <-replies:
			if !ok {
				return errSessionClosed
			}
			if err := s.write(responseFrame(msg)); err != nil {
				return err
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		}
	}
}

func (s *dashboardSession) write(f Frame) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteJSON(f)
}

func (s *dashboardSession) readLoop(ctx context.Context) error {
	s.conn.SetReadLimit(maxFrameBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return err
			}
			return errSessionClosed
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		var req ActionRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			s.send(Frame{Event: EventError, Data: ErrorResponse{Message: "malformed action"}})
			continue
		}
		s.handleAction(ctx, req)
	}
}

func (s *dashboardSession) handleAction(ctx context.Context, req ActionRequest) {
	h := s.handler
	source := local.Type.String()
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case ActionToggleGuard:
		enabled := !h.conv.Store().Get(s.key).GuardEnabled
		if req.Enabled != nil {
			enabled = *req.Enabled
		}
		h.conv.SetGuard(ctx, s.key, enabled, source, s.subject)
	case ActionToggleSession:
		enabled := !h.conv.Store().Get(s.key).SessionEnabled
		if req.Enabled != nil {
			enabled = *req.Enabled
		}
		h.conv.SetSession(ctx, s.key, enabled, source, s.subject)
	case ActionClearHistory:
		h.conv.ClearHistory(ctx, s.key, source, s.subject)
	case ActionStatus:
		s.send(Frame{Event: EventStatus, Data: statusFor(h.conv.Store(), s.key)})
	case ActionMessage:
		s.postMessage(ctx, req)
	case ActionChannelReconnect:
		s.applyLifecycle(ctx, req.Channel, h.lifecycle.Reconnect)
	case ActionChannelLogout:
		s.applyLifecycle(ctx, req.Channel, h.lifecycle.Stop)
	default:
		s.send(Frame{Event: EventError, Data: ErrorResponse{Message: "unknown action: " + req.Action}})
	}
}

func (s *dashboardSession) postMessage(ctx context.Context, req ActionRequest) {
	h := s.handler
	if h.feeder == nil {
		s.send(Frame{Event: EventError, Data: ErrorResponse{Message: "message handling not configured"}})
		return
	}
	msg := channel.InboundMessage{
		Channel:  local.Type,
		ID:       uuid.NewString(),
		ChatID:   s.id,
		ChatKind: "web",
		From:     channel.Author{ID: s.subject, Name: s.subject},
		Text:     strings.TrimSpace(req.Text),
		At:       time.Now().UTC(),
	}
	if raw := strings.TrimSpace(req.Image); raw != "" {
		data, err := common.DecodeBase64(raw)
		if err != nil {
			s.send(Frame{Event: EventError, Data: ErrorResponse{Message: "image is not valid base64"}})
			return
		}
		msg.Pictures = []channel.Picture{{Data: data, MIME: req.MimeType, Size: int64(len(data))}}
	}
	if msg.Empty() {
		s.send(Frame{Event: EventError, Data: ErrorResponse{Message: "text or image is required"}})
		return
	}
	if err := h.feeder.HandleInbound(ctx, local.NewChannelConfig(), msg); err != nil {
		s.logger.Warn("queue dashboard message failed", slog.Any("error", err))
		s.send(Frame{Event: EventError, Data: ErrorResponse{Message: err.Error()}})
	}
}

func (s *dashboardSession) applyLifecycle(ctx context.Context, raw string, fn func(context.Context, channel.ChannelType) (channel.ChannelConfig, error)) {
	if s.handler.lifecycle == nil {
		s.send(Frame{Event: EventError, Data: ErrorResponse{Message: "channel lifecycle not configured"}})
		return
	}
	channelType := channel.ParseChannelType(raw)
	if channelType == "" {
		s.send(Frame{Event: EventError, Data: ErrorResponse{Message: "channel is required"}})
		return
	}
	if _, err := fn(ctx, channelType); err != nil {
		s.send(Frame{Event: EventError, Data: ErrorResponse{Message: err.Error()}})
	}
}

// framesFor maps a hub event to socket frames. Identity-scoped events only reach
// the session acting for that identity; security results go to every dashboard.
func (s *dashboardSession) framesFor(ev event.Event) []Frame {
	own := ev.Identity == s.key.String()
	switch ev.Type {
	case event.TypeAudit:
		return []Frame{{Event: EventAuditLog, Data: ev.Data}}
	case event.TypeChannel:
		return []Frame{{Event: EventChannelStatus, Data: ev.Data}}
	case event.TypeGuardStatus:
		if !own {
			return nil
		}
		return []Frame{{Event: EventStatus, Data: statusFor(s.handler.conv.Store(), s.key)}}
	case event.TypePassed:
		return []Frame{{Event: EventTrendLog, Data: trendLog(ev, false)}}
	case event.TypeBlocked:
		frames := []Frame{{Event: EventTrendLog, Data: trendLog(ev, true)}}
		if own {
			frames = append(frames, Frame{Event: EventBlocked, Data: map[string]any{"reasons": ev.Data["reasons"]}})
		}
		return frames
	case event.TypePendingImage:
		if !own {
			return nil
		}
		return []Frame{{Event: EventPendingImage, Data: ev.Data}}
	default:
		return nil
	}
}

func trendLog(ev event.Event, blocked bool) map[string]any {
	data := map[string]any{
		"timestamp": ev.Timestamp,
		"identity":  ev.Identity,
		"channel":   ev.Source,
		"blocked":   blocked,
	}
	for k, v := range ev.Data {
		data[k] = v
	}
	return data
}

func responseFrame(msg local.RouteMessage) Frame {
	r := msg.Reply
	format := "plain"
	if r.Markdown {
		format = "markdown"
	}
	data := map[string]any{"text": r.Text, "format": format}
	if r.Image != nil && r.Image.Base64 != "" {
		data["image"] = r.Image.DataURL()
	}
	if r.QuoteID != "" {
		data["reply_to"] = r.QuoteID
	}
	return Frame{Event: EventResponse, Data: data}
}
