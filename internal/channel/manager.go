package channel

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ConfigSource lists the configured transport connections.
type ConfigSource interface {
	Configs(ctx context.Context) ([]ChannelConfig, error)
}

// InboundProcessor answers one inbound message, replying through r.
type InboundProcessor interface {
	Process(ctx context.Context, cfg ChannelConfig, msg InboundMessage, r Replier) error
}

// ConnectionStatus is the last observed state of one configured connection.
type ConnectionStatus struct {
	ConfigID    string      `json:"config_id"`
	ChannelType ChannelType `json:"channel_type"`
	Running     bool        `json:"running"`
	LastError   string      `json:"last_error,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// StatusListener is called after every connection state change. It runs on the
// goroutine that made the change and may call back into the Manager.
type StatusListener func(status ConnectionStatus)

// ManagerOptions tunes a Manager. Zero values use defaults.
type ManagerOptions struct {
	RefreshInterval time.Duration
	InboundWorkers  int
	InboundQueue    int
}

// Manager keeps transport connections in line with the config source, queues inbound
// messages per sender and delivers replies with retries.
type Manager struct {
	registry  *Registry
	source    ConfigSource
	processor InboundProcessor
	logger    *slog.Logger
	interval  time.Duration

	middlewares []Middleware
	queues      []chan inboundTask
	workers     sync.WaitGroup
	startOnce   sync.Once
	stopLoop    context.CancelFunc
	stopWorkers context.CancelFunc

	reconcileMu sync.Mutex
	mu          sync.Mutex
	live        map[string]*liveConn
	statuses    map[string]ConnectionStatus
	listeners   []StatusListener
}

func NewManager(log *slog.Logger, registry *Registry, source ConfigSource, processor InboundProcessor, opts ManagerOptions) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = time.Minute
	}
	if opts.InboundWorkers <= 0 {
		opts.InboundWorkers = 4
	}
	if opts.InboundQueue <= 0 {
		opts.InboundQueue = 64
	}
	queues := make([]chan inboundTask, opts.InboundWorkers)
	for i := range queues {
		queues[i] = make(chan inboundTask, opts.InboundQueue)
	}
	return &Manager{
		registry:  registry,
		source:    source,
		processor: processor,
		logger:    log.With(slog.String("component", "channel")),
		interval:  opts.RefreshInterval,
		queues:    queues,
		live:      map[string]*liveConn{},
		statuses:  map[string]ConnectionStatus{},
	}
}

// Use appends inbound middleware. Call it before Start.
func (m *Manager) Use(mw ...Middleware) {
	m.middlewares = append(m.middlewares, mw...)
}

// OnStatusChange registers fn for connection state changes.
func (m *Manager) OnStatusChange(fn StatusListener) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Start launches the inbound workers and the reconcile loop. Later calls are no-ops.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.logger.Info("manager start",
			slog.Int("workers", len(m.queues)),
			slog.Any("channels", m.registry.Types()))
		var workerCtx, loopCtx context.Context
		workerCtx, m.stopWorkers = context.WithCancel(context.WithoutCancel(ctx))
		loopCtx, m.stopLoop = context.WithCancel(ctx)
		for _, q := range m.queues {
			m.workers.Add(1)
			go m.work(workerCtx, q)
		}
		go m.loop(loopCtx)
	})
}

func (m *Manager) loop(ctx context.Context) {
	m.Reconcile(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reconcile(ctx)
		}
	}
}

// Shutdown stops every connection, then the workers. It waits for in-flight messages
// until ctx ends.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.stopLoop != nil {
		m.stopLoop()
	}

	m.mu.Lock()
	conns := make([]*liveConn, 0, len(m.live))
	for _, lc := range m.live {
		conns = append(conns, lc)
	}
	clear(m.live)
	m.mu.Unlock()

	var g errgroup.Group
	for _, lc := range conns {
		g.Go(func() error {
			m.stopConn(ctx, lc)
			return nil
		})
	}
	_ = g.Wait()

	if m.stopWorkers != nil {
		m.stopWorkers()
	}
	done := make(chan struct{})
	go func() {
		m.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("manager stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConnectionStatuses returns every observed status ordered by channel type and config id.
func (m *Manager) ConnectionStatuses() []ConnectionStatus {
	m.mu.Lock()
	out := make([]ConnectionStatus, 0, len(m.statuses))
	for _, st := range m.statuses {
		out = append(out, st)
	}
	m.mu.Unlock()
	slices.SortFunc(out, func(a, b ConnectionStatus) int {
		if c := cmp.Compare(a.ChannelType, b.ChannelType); c != 0 {
			return c
		}
		return cmp.Compare(a.ConfigID, b.ConfigID)
	})
	return out
}

func (m *Manager) setStatus(cfg ChannelConfig, running bool, err error) {
	if cfg.ID == "" {
		return
	}
	st := ConnectionStatus{
		ConfigID:    cfg.ID,
		ChannelType: cfg.Type,
		Running:     running,
		UpdatedAt:   time.Now().UTC(),
	}
	if err != nil {
		st.LastError = err.Error()
	}
	m.mu.Lock()
	m.statuses[cfg.ID] = st
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(st)
	}
}
