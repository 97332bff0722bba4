package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/loqalabs/loqa-order/internal/api"
	"github.com/loqalabs/loqa-order/internal/archive"
	"github.com/loqalabs/loqa-order/internal/bus"
	"github.com/loqalabs/loqa-order/internal/config"
	"github.com/loqalabs/loqa-order/internal/menu"
	"github.com/loqalabs/loqa-order/internal/natsserver"
	"github.com/loqalabs/loqa-order/internal/protocol"
	"github.com/loqalabs/loqa-order/internal/session"
	"github.com/loqalabs/loqa-order/internal/store"
	"github.com/loqalabs/loqa-order/internal/stt"
	"github.com/loqalabs/loqa-order/internal/voiceorder"
)

const (
	pruneInterval   = time.Hour
	shutdownTimeout = 10 * time.Second
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger
	ready  atomic.Bool

	store    store.Store
	archive  archive.Archiver
	embedded *natsserver.EmbeddedServer
	bus      *bus.Client
	stt      *stt.Service
	listener *voiceorder.Listener
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start wires every component and blocks until ctx is cancelled or a server
// fails.
func (r *Runtime) Start(ctx context.Context) error {
	tel, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.shutdown(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	svc, err := r.build(ctx, tel)
	defer r.close()
	if err != nil {
		return err
	}

	router := api.NewServer(r.cfg.HTTP, svc, r.store, r.archive, r.logger).Router()
	router.GET("/healthz", r.handleHealth)
	router.GET("/readyz", r.handleReady)
	metricsSeparate := r.cfg.Telemetry.PrometheusBind != "" && tel.metrics != nil
	if tel.metrics != nil && !metricsSeparate {
		router.GET("/metrics", gin.WrapH(tel.metrics))
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	servers := []*http.Server{{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}}
	if metricsSeparate {
		mux := http.NewServeMux()
		mux.Handle("/metrics", tel.metrics)
		servers = append(servers, &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		r.pruneLoop(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		r.ready.Store(false)
		r.logger.Info("runtime stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
			}
		}
		return errors.Join(errs...)
	})

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("strategy", svc.Strategy()),
		slog.Bool("bus", r.bus != nil))

	return g.Wait()
}

func (r *Runtime) build(ctx context.Context, tel *telemetry) (*voiceorder.Service, error) {
	st, err := store.Open(ctx, r.cfg.Store, r.logger.With(slog.String("component", "store")))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	r.store = st
	if err := r.seedCatalog(ctx); err != nil {
		return nil, err
	}

	r.archive = r.openArchive(ctx)
	recognizer, err := stt.New(r.cfg.STT)
	if err != nil {
		return nil, fmt.Errorf("init stt: %w", err)
	}
	strategy, err := voiceorder.BuildStrategy(r.cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("init recognition: %w", err)
	}

	opts := voiceorder.Options{
		Strategy:      strategy,
		Recognizer:    recognizer,
		Archive:       r.archive,
		Store:         st,
		Sessions:      session.NewManager(r.cfg.Sessions, r.logger),
		MeterProvider: tel.meterProvider,
		Logger:        r.logger,
	}
	if r.cfg.Bus.Enabled {
		if err := r.connectBus(ctx); err != nil {
			return nil, err
		}
		opts.Publisher = r.bus
	}

	svc, err := voiceorder.NewService(r.cfg, opts)
	if err != nil {
		return nil, err
	}

	if r.bus != nil {
		r.stt = stt.NewService(ctx, r.cfg.STT, r.bus, recognizer)
		if err := r.stt.Start(); err != nil {
			return nil, fmt.Errorf("start stt service: %w", err)
		}
		r.listener = voiceorder.NewListener(ctx, svc, r.bus)
		if err := r.listener.Start(); err != nil {
			return nil, fmt.Errorf("start transcript listener: %w", err)
		}
	}
	return svc, nil
}

func (r *Runtime) seedCatalog(ctx context.Context) error {
	path := r.cfg.Catalog.SeedPath
	if path == "" {
		return nil
	}
	items, err := menu.LoadSeed(path)
	if err != nil {
		return fmt.Errorf("load catalog seed: %w", err)
	}
	n, err := store.SeedMenu(ctx, r.store, items)
	if err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	if n > 0 {
		r.logger.Info("catalog seeded", slog.Int("items", n), slog.String("path", path))
	}
	return nil
}

// openArchive degrades a misconfigured archive to Noop so uploads still
// produce drafts.
func (r *Runtime) openArchive(ctx context.Context) archive.Archiver {
	a, err := archive.New(ctx, r.cfg.Archive)
	if err != nil {
		r.logger.Warn("archive disabled", slog.String("mode", r.cfg.Archive.Mode), slog.String("error", err.Error()))
		return archive.Noop{}
	}
	return a
}

func (r *Runtime) connectBus(ctx context.Context) error {
	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded nats: %w", err)
	}
	if embedded != nil {
		r.embedded = embedded
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	r.bus = client
	if err := client.EnsureStream(protocol.StreamOrders, "order.>"); err != nil {
		r.logger.Warn("jetstream unavailable, order events are not retained", slog.String("error", err.Error()))
	}
	return nil
}

func (r *Runtime) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Prune(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("store prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

// close releases components in reverse start order.
func (r *Runtime) close() {
	if r.listener != nil {
		r.listener.Close()
	}
	if r.stt != nil {
		r.stt.Close()
	}
	if r.bus != nil {
		r.bus.Close()
	}
	if r.embedded != nil {
		r.embedded.Shutdown()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("store close error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (r *Runtime) handleReady(c *gin.Context) {
	if !r.ready.Load() {
		c.String(http.StatusServiceUnavailable, "not ready")
		return
	}
	if r.bus != nil && !r.bus.Healthy() {
		c.String(http.StatusServiceUnavailable, "bus disconnected")
		return
	}
	c.String(http.StatusOK, "ready")
}
