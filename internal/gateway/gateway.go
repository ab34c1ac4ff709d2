package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stellarlinkco/ndsborki/internal/bus"
	"github.com/stellarlinkco/ndsborki/internal/channel"
	"github.com/stellarlinkco/ndsborki/internal/config"
	"github.com/stellarlinkco/ndsborki/internal/cron"
	"github.com/stellarlinkco/ndsborki/internal/flows"
	"github.com/stellarlinkco/ndsborki/internal/refdata"
	"github.com/stellarlinkco/ndsborki/internal/session"
	"github.com/stellarlinkco/ndsborki/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options for creating a Gateway
type Options struct {
	// Channel replaces the Telegram channel (for testing).
	Channel    channel.Channel
	SignalChan chan os.Signal // for testing signal handling
	Runner     flows.Runner
	Logger     *zap.Logger
}

type Gateway struct {
	cfg      *config.Config
	logger   *zap.Logger
	bus      *bus.MessageBus
	store    store.Store
	refs     *refdata.Registry
	watcher  *refdata.Watcher
	sessions *session.Manager
	cron     *cron.Service
	channels *channel.ChannelManager
	router   *flows.Router

	signalChan chan os.Signal
	restartCh  chan struct{}
}

// New creates a Gateway with default options
func New(cfg *config.Config, logger *zap.Logger) (*Gateway, error) {
	return NewWithOptions(cfg, Options{Logger: logger})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		cfg:        cfg,
		logger:     logger.Named("gateway"),
		bus:        bus.NewMessageBus(config.DefaultBufSize),
		sessions:   session.NewManager(),
		signalChan: opts.SignalChan,
		restartCh:  make(chan struct{}, 1),
	}

	idle, err := time.ParseDuration(cfg.Session.IdleTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse session idle timeout: %w", err)
	}

	st, err := store.Open(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	g.store = st

	g.refs = refdata.NewRegistry(cfg.Store.DataDir, logger)
	if w, err := refdata.NewWatcher(g.refs, 0); err != nil {
		g.logger.Warn("reference data hot reload disabled", zap.Error(err))
	} else {
		g.watcher = w
	}

	// Maintenance jobs
	g.cron = cron.NewService(cfg.CronStatePath(), logger)
	if err := g.cron.AddJob(cron.JobSessionSweep, cfg.Session.SweepSchedule, cron.SessionSweepJob(g.sessions, idle)); err != nil {
		g.closeAll()
		return nil, fmt.Errorf("schedule session sweep: %w", err)
	}
	if cfg.Backup.Enabled {
		job := cron.BackupJob(g.store, cfg.BackupDir(), cfg.Backup.Keep, time.Now)
		if err := g.cron.AddJob(cron.JobStoreBackup, cfg.Backup.Schedule, job); err != nil {
			g.closeAll()
			return nil, fmt.Errorf("schedule store backup: %w", err)
		}
	}

	// Channels
	if opts.Channel != nil {
		g.channels = channel.NewManager(g.bus, logger)
		g.channels.Add(opts.Channel)
	} else {
		chMgr, err := channel.NewChannelManager(cfg.Telegram, g.bus, logger)
		if err != nil {
			g.closeAll()
			return nil, fmt.Errorf("create channel manager: %w", err)
		}
		g.channels = chMgr
	}

	g.router = flows.NewRouter(flows.Deps{
		Config:    cfg,
		Store:     g.store,
		Refs:      g.refs,
		Sessions:  g.sessions,
		Scheduler: g.cron,
		Logger:    logger,
		Run:       opts.Runner,
		Restart:   g.requestRestart,
	})

	return g, nil
}

// requestRestart makes Run return after the pending replies are sent.
func (g *Gateway) requestRestart() {
	select {
	case g.restartCh <- struct{}{}:
	default:
	}
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := g.channels.StartAll(ctx); err != nil {
		g.closeAll()
		return fmt.Errorf("start channels: %w", err)
	}
	g.logger.Info("channels started", zap.Strings("channels", g.channels.EnabledChannels()))

	if g.watcher != nil {
		if err := g.watcher.Start(ctx); err != nil {
			g.logger.Warn("watcher start failed", zap.Error(err))
		}
	}
	if err := g.cron.Start(ctx); err != nil {
		g.logger.Warn("cron start failed", zap.Error(err))
	}

	for _, name := range g.channels.EnabledChannels() {
		for _, msg := range g.router.StartupMessages(name) {
			g.publish(ctx, msg)
		}
	}

	loopCtx, stopLoop := context.WithCancel(ctx)
	eg, egCtx := errgroup.WithContext(loopCtx)
	eg.Go(func() error {
		g.bus.DispatchOutbound(egCtx)
		return nil
	})
	eg.Go(func() error {
		g.processLoop(egCtx)
		return nil
	})

	g.logger.Info("running", zap.String("store", g.store.Location()))

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case sig := <-sigCh:
		g.logger.Info("shutting down", zap.Stringer("signal", sig))
	case <-g.restartCh:
		g.logger.Info("shutting down for restart")
	case <-ctx.Done():
		g.logger.Info("shutting down", zap.Error(ctx.Err()))
	}

	stopLoop()
	_ = eg.Wait()
	if n := g.bus.Drain(); n > 0 {
		g.logger.Info("flushed pending replies", zap.Int("count", n))
	}
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			for _, out := range g.router.Handle(ctx, msg) {
				g.publish(ctx, out)
			}
		case <-ctx.Done():
			return
		}
	}
}

// publish queues msg, preferring delivery over an already canceled ctx.
func (g *Gateway) publish(ctx context.Context, msg bus.OutboundMessage) {
	select {
	case g.bus.Outbound <- msg:
		return
	default:
	}
	select {
	case g.bus.Outbound <- msg:
	case <-ctx.Done():
		g.logger.Warn("reply dropped on shutdown", zap.Int64("chat_id", msg.ChatID))
	}
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	if g.watcher != nil {
		g.watcher.Stop()
	}
	if err := g.channels.StopAll(); err != nil {
		g.logger.Warn("stop channels failed", zap.Error(err))
	}
	if err := g.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	g.logger.Info("stopped")
	return nil
}

// closeAll releases what NewWithOptions opened when it fails midway.
func (g *Gateway) closeAll() {
	if g.watcher != nil {
		g.watcher.Stop()
	}
	if g.store != nil {
		_ = g.store.Close()
	}
}
