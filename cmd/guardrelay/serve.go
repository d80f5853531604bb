package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/guardrelay/internal/audit"
	"github.com/memohai/guardrelay/internal/auth"
	"github.com/memohai/guardrelay/internal/channel"
	"github.com/memohai/guardrelay/internal/channel/adapters/discord"
	"github.com/memohai/guardrelay/internal/channel/adapters/local"
	"github.com/memohai/guardrelay/internal/channel/adapters/telegram"
	"github.com/memohai/guardrelay/internal/channel/inbound"
	"github.com/memohai/guardrelay/internal/chat"
	"github.com/memohai/guardrelay/internal/config"
	"github.com/memohai/guardrelay/internal/conversation"
	"github.com/memohai/guardrelay/internal/event"
	"github.com/memohai/guardrelay/internal/guard"
	"github.com/memohai/guardrelay/internal/handlers"
	"github.com/memohai/guardrelay/internal/healthcheck"
	channelchecker "github.com/memohai/guardrelay/internal/healthcheck/checkers/channel"
	guardchecker "github.com/memohai/guardrelay/internal/healthcheck/checkers/guard"
	"github.com/memohai/guardrelay/internal/httpclient"
	"github.com/memohai/guardrelay/internal/identity"
	"github.com/memohai/guardrelay/internal/intent"
	"github.com/memohai/guardrelay/internal/logger"
	"github.com/memohai/guardrelay/internal/server"
)

const (
	eventHubBuffer      = 64
	dashboardAuditLines = 200
	attachmentTimeout   = 30 * time.Second
)

type configPath string

func runServe(path string) error {
	app := fx.New(
		fx.Supply(configPath(path)),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideEventHub,
			provideAuditRecorder,
			provideGenerationBackend,
			provideGate,
			provideRouter,
			provideIdentityStore,
			providePipeline,
			local.NewRouteHub,
			provideChannelRegistry,
			provideChannelStore,
			provideInboundProcessor,
			provideChannelManager,
			provideChannelLifecycle,
			provideIdentityResolver,
			provideServerHandler(handlers.NewIndexHandler),
			provideServerHandler(provideAuthHandler),
			provideServerHandler(provideAPIHandler),
			provideServerHandler(provideDashboardHandler),
			provideServer,
		),
		fx.Invoke(
			startChannelManager,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig(path configPath) (config.Config, error) {
	cfg, err := config.Load(string(path))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideEventHub() *event.Hub {
	return event.NewHub(eventHubBuffer)
}

// provideAuditRecorder mirrors every written entry onto the event hub so open
// dashboards see it live.
func provideAuditRecorder(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, hub *event.Hub) (*audit.FileRecorder, error) {
	rec, err := audit.NewFileRecorder(cfg.Audit.Path, audit.Options{
		Buffer: cfg.Audit.Buffer,
		Logger: log,
		Listener: func(e audit.Entry) {
			hub.Publish(event.New(event.TypeAudit, "audit", "", map[string]any(e)))
		},
	})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error { return rec.Close(ctx) },
	})
	return rec, nil
}

// generationBackend pairs the backend with whether it has credentials.
type generationBackend struct {
	chat.Backend
	configured bool
}

func (b generationBackend) Configured() bool {
	return b.configured
}

func provideGenerationBackend(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (generationBackend, error) {
	if strings.TrimSpace(cfg.Gemini.APIKey) == "" {
		log.Warn("gemini api key is not set; every prompt will get a generation error")
		return generationBackend{Backend: chat.Unconfigured}, nil
	}
	client, err := httpclient.New(cfg.Gemini.Proxy, 0)
	if err != nil {
		return generationBackend{}, fmt.Errorf("gemini http client: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{OnStop: func(context.Context) error { cancel(); return nil }})
	provider, err := chat.NewGeminiProvider(ctx, chat.GeminiOptions{
		APIKey:     cfg.Gemini.APIKey,
		HTTPClient: client,
		Logger:     log,
	})
	if err != nil {
		cancel()
		return generationBackend{}, err
	}
	return generationBackend{Backend: provider, configured: true}, nil
}

func provideGate(log *slog.Logger, cfg config.Config, rec *audit.FileRecorder) (*guard.Gate, error) {
	var classifier guard.Classifier
	if strings.TrimSpace(cfg.Guard.APIKey) == "" {
		log.Warn("ai guard api key is not set; prompts pass unchecked")
	} else {
		client, err := httpclient.New(cfg.Guard.Proxy, cfg.Guard.Timeout())
		if err != nil {
			return nil, fmt.Errorf("guard http client: %w", err)
		}
		classifier = guard.NewHTTPClassifier(guard.HTTPOptions{
			BaseURL: cfg.Guard.BaseURL,
			APIKey:  cfg.Guard.APIKey,
			AppName: cfg.Guard.AppName,
			Client:  client,
		})
	}
	return guard.NewGate(classifier, guard.Options{
		Timeout:  cfg.Guard.Timeout(),
		Recorder: rec,
		Logger:   log,
	}), nil
}

func provideRouter(log *slog.Logger, cfg config.Config, backend generationBackend, rec *audit.FileRecorder) *intent.Router {
	return intent.NewRouter(backend.Backend, intent.Options{
		TextModel:    cfg.Gemini.TextModel,
		ImageModel:   cfg.Gemini.ImageModel,
		Timeout:      cfg.Gemini.Timeout(),
		ImageTimeout: cfg.Gemini.ImageTimeout(),
		ProbeTimeout: cfg.Gemini.ProbeTimeout(),
		Recorder:     rec,
		Logger:       log,
	})
}

func provideIdentityStore(cfg config.Config) *identity.Store {
	return identity.NewStoreWithDefaults(identity.Defaults{
		GuardEnabled:   cfg.Guard.DefaultEnabled,
		SessionEnabled: cfg.Session.DefaultEnabled,
		Limit:          cfg.Session.HistoryLimit,
	})
}

func providePipeline(log *slog.Logger, store *identity.Store, gate *guard.Gate, router *intent.Router, rec *audit.FileRecorder, hub *event.Hub) *conversation.Pipeline {
	return conversation.New(store, gate, router, conversation.Options{
		Recorder: rec,
		Observer: event.NewMulti(event.NewSlogObserver(log), hub),
		Logger:   log,
	})
}

func provideChannelRegistry(log *slog.Logger, routes *local.RouteHub) *channel.Registry {
	registry := channel.NewRegistry()
	registry.MustRegister(telegram.NewAdapter(log, nil))
	registry.MustRegister(discord.NewAdapter(log))
	registry.MustRegister(local.NewWebAdapter(routes))
	return registry
}

// provideChannelStore exposes the chat transports that have a token. A transport with a
// token that is not enabled is kept as a disabled config so it can be started later.
func provideChannelStore(cfg config.Config) *channel.StaticStore {
	configs := make([]channel.ChannelConfig, 0, 2)
	if token := strings.TrimSpace(cfg.Telegram.BotToken); token != "" {
		c := telegram.NewChannelConfig(token)
		c.Disabled = !cfg.Telegram.Enabled
		configs = append(configs, c)
	}
	if token := strings.TrimSpace(cfg.Discord.BotToken); token != "" {
		c := discord.NewChannelConfig(token)
		c.Disabled = !cfg.Discord.Enabled
		configs = append(configs, c)
	}
	return channel.NewStaticStore(configs...)
}

func provideInboundProcessor(log *slog.Logger, registry *channel.Registry, pipeline *conversation.Pipeline) (*inbound.Processor, error) {
	client, err := httpclient.New("", attachmentTimeout)
	if err != nil {
		return nil, err
	}
	return inbound.NewProcessor(log, registry, pipeline, inbound.ProcessorOptions{HTTPClient: client}), nil
}

func provideChannelManager(log *slog.Logger, cfg config.Config, registry *channel.Registry, store *channel.StaticStore, processor *inbound.Processor, rec *audit.FileRecorder, hub *event.Hub) *channel.Manager {
	mgr := channel.NewManager(log, registry, store, processor, channel.ManagerOptions{})
	mgr.Use(inbound.NewAllowList(log, cfg.AllowList).Exempt(local.Type).Middleware())
	mgr.OnStatusChange(func(st channel.ConnectionStatus) {
		status := "disconnected"
		if st.Running {
			status = "connected"
		}
		rec.Record(audit.KindChannelConnection, map[string]any{
			"channel":   st.ChannelType.String(),
			"config_id": st.ConfigID,
			"status":    status,
			"reason":    st.LastError,
		})
		hub.Publish(event.New(event.TypeChannel, st.ChannelType.String(), "", map[string]any{
			"config_id":    st.ConfigID,
			"channel_type": st.ChannelType.String(),
			"running":      st.Running,
			"last_error":   st.LastError,
			"updated_at":   st.UpdatedAt,
		}))
	})
	return mgr
}

func provideChannelLifecycle(store *channel.StaticStore, mgr *channel.Manager) *channel.Lifecycle {
	return channel.NewLifecycle(store, mgr)
}

func provideIdentityResolver(cfg config.Config) handlers.IdentityResolver {
	return handlers.NewIdentityResolver(cfg.Dashboard.AuthEnabled(), cfg.Dashboard.Identity)
}

func provideAuthHandler(log *slog.Logger, cfg config.Config) *handlers.AuthHandler {
	return handlers.NewAuthHandler(log, auth.Credentials{
		Username: cfg.Dashboard.Username,
		Password: cfg.Dashboard.Password,
	}, cfg.Dashboard.JWTSecret, cfg.Dashboard.TokenTTL())
}

func provideAPIHandler(log *slog.Logger, cfg config.Config, pipeline *conversation.Pipeline, mgr *channel.Manager, lifecycle *channel.Lifecycle, identities handlers.IdentityResolver, gate *guard.Gate, backend generationBackend) *handlers.APIHandler {
	return handlers.NewAPIHandler(log, pipeline, mgr, lifecycle, identities, handlers.APIOptions{
		AuditPath: cfg.Audit.Path,
		Checkers: []healthcheck.Checker{
			channelchecker.NewChecker(log, mgr),
			guardchecker.NewChecker(gate, backend),
		},
		GuardConfigured: gate.Configured,
	})
}

func provideDashboardHandler(log *slog.Logger, cfg config.Config, pipeline *conversation.Pipeline, mgr *channel.Manager, routes *local.RouteHub, hub *event.Hub, lifecycle *channel.Lifecycle, identities handlers.IdentityResolver) *handlers.DashboardHandler {
	return handlers.NewDashboardHandler(log, pipeline, mgr, routes, hub, mgr, lifecycle, identities, handlers.DashboardOptions{
		AuditPath:    cfg.Audit.Path,
		AuditHistory: dashboardAuditLines,
	})
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, server.Options{
		Addr:      params.Config.Server.Addr,
		JWTSecret: params.Config.Dashboard.JWTSecret,
	}, params.ServerHandlers...)
}

func startChannelManager(lc fx.Lifecycle, channelManager *channel.Manager) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error { channelManager.Start(ctx); return nil },
		OnStop:  func(stopCtx context.Context) error { cancel(); return channelManager.Shutdown(stopCtx) },
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("dashboard listening", slog.String("addr", srv.Addr()))
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
