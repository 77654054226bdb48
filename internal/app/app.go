// Package app wires the store, tracker, metrics and HTTP API into one
// supervised process.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"igautomate/internal/api"
	"igautomate/pkg/config"
	"igautomate/pkg/engagement"
	"igautomate/pkg/logger"
	"igautomate/pkg/metrics"
	"igautomate/pkg/ratelimit"
)

type App struct {
	cfg      *config.Config
	log      logger.Logger
	store    engagement.Store
	tracker  *ratelimit.Tracker
	registry *prometheus.Registry
	server   *http.Server

	// set through options
	clock   quartz.Clock
	secrets SecretResolver
}

type Option func(*App)

// WithStore uses store instead of opening the configured backend
func WithStore(store engagement.Store) Option {
	return func(a *App) { a.store = store }
}

func WithSecrets(s SecretResolver) Option {
	return func(a *App) { a.secrets = s }
}

func WithLogger(l logger.Logger) Option {
	return func(a *App) { a.log = l }
}

func WithClock(c quartz.Clock) Option {
	return func(a *App) { a.clock = c }
}

// New opens the store and builds the tracker and HTTP server. Nothing
// runs until Run or Serve.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = logger.GetLogger()
	}

	if a.store == nil {
		store, err := OpenStore(ctx, cfg, a.secrets, a.log)
		if err != nil {
			return nil, err
		}
		a.store = store
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(a.registry)
	if err != nil {
		a.store.Close()
		return nil, err
	}

	trackerOpts := []ratelimit.Option{ratelimit.WithLogger(a.log), ratelimit.WithMetrics(m)}
	if a.clock != nil {
		trackerOpts = append(trackerOpts, ratelimit.WithClock(a.clock))
	}
	a.tracker, err = ratelimit.New(cfg, a.store, trackerOpts...)
	if err != nil {
		a.store.Close()
		return nil, err
	}

	apiOpts := api.Options{CORSOrigins: cfg.Server.CORSOrigins, Logger: a.log}
	if cfg.Metrics.Enabled {
		apiOpts.MetricsPath = cfg.Metrics.Path
		apiOpts.MetricsHandler = promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})
	}
	a.server = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      api.New(a.tracker, apiOpts),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return a, nil
}

// Tracker returns the tracker for callers embedding the service
func (a *App) Tracker() *ratelimit.Tracker {
	return a.tracker
}

// Handler returns the HTTP API
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Run listens on the configured address and serves until ctx is done
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.Address)
	if err != nil {
		a.tracker.Close(ctx)
		a.store.Close()
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve starts the tracker and serves on ln. When ctx is done the server
// drains, the tracker flushes and the store is closed.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	if err := a.tracker.Start(ctx); err != nil {
		ln.Close()
		return err
	}
	logger.LogComponentStart(a.log, "api", map[string]interface{}{
		"address": ln.Addr().String(),
		"metrics": a.cfg.Metrics.Enabled,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	err := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if cerr := a.tracker.Close(closeCtx); cerr != nil {
		err = errors.Join(err, cerr)
	}
	if serr := a.store.Close(); serr != nil {
		err = errors.Join(err, serr)
	}

	reason := "context done"
	if err != nil {
		a.log.WithError(err).Error("Shutdown finished with errors")
		reason = "error"
	}
	logger.LogComponentStop(a.log, "api", reason)
	return err
}
