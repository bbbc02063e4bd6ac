package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/mediastore/internal/auth"
	"github.com/memohai/mediastore/internal/boot"
	"github.com/memohai/mediastore/internal/catalog"
	"github.com/memohai/mediastore/internal/catalog/badgerstore"
	"github.com/memohai/mediastore/internal/catalog/sqlitestore"
	"github.com/memohai/mediastore/internal/config"
	"github.com/memohai/mediastore/internal/delivery"
	"github.com/memohai/mediastore/internal/handlers"
	"github.com/memohai/mediastore/internal/media"
	"github.com/memohai/mediastore/internal/metrics"
	"github.com/memohai/mediastore/internal/migration"
	"github.com/memohai/mediastore/internal/probe"
	"github.com/memohai/mediastore/internal/ratelimit"
	"github.com/memohai/mediastore/internal/server"
	"github.com/memohai/mediastore/internal/storage"
	"github.com/memohai/mediastore/internal/version"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP media API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := provideConfig()
			if err != nil {
				return err
			}
			app := newApp(cfg)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func newApp(cfg config.Config) *fx.App {
	return fx.New(appOptions(cfg)...)
}

func appOptions(cfg config.Config) []fx.Option {
	stopTimeout := cfg.Server.ShutdownTimeout.Duration
	if stopTimeout <= 0 {
		stopTimeout = config.DefaultShutdownTimeout
	}
	return []fx.Option{
		fx.Supply(cfg),
		fx.StopTimeout(stopTimeout),
		fx.Provide(
			boot.ProvideRuntimeConfig,
			provideLogger,

			provideRegistry,
			provideRecorder,
			provideStorage,
			provideCatalog,
			provideProber,
			provideEnricher,
			provideMediaService,
			migration.NewEngine,
			provideResolver,
			provideUploadLimiter,

			provideServerHandler(provideMediaHandler),
			provideServerHandler(provideMigrateHandler),
			provideServerHandler(providePingHandler),
			provideServerHandler(handlers.NewIdentityHandler),
			provideServerHandler(handlers.NewMetricsHandler),

			provideServer,
		),
		fx.Invoke(startServer),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	}
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

// provideRegistry returns nil when metrics are disabled; /metrics then answers 404.
func provideRegistry(cfg config.Config) *prometheus.Registry {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.NewRegistry()
}

func provideRecorder(reg *prometheus.Registry) metrics.Recorder {
	if reg == nil {
		return metrics.Noop()
	}
	return metrics.New(reg)
}

func provideStorage(log *slog.Logger, rc *boot.RuntimeConfig) (*storage.Manager, error) {
	mgr, err := storage.NewManager(log, rc.StorageRoot)
	if err != nil {
		return nil, err
	}
	if err := mgr.CleanStaging(); err != nil {
		log.Warn("staging cleanup failed", slog.Any("error", err))
	}
	return mgr, nil
}

func provideCatalog(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (catalog.Store, error) {
	store, err := openCatalog(log, cfg.Catalog)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return store.Close()
		},
	})
	return store, nil
}

func openCatalog(log *slog.Logger, cfg config.CatalogConfig) (catalog.Store, error) {
	switch cfg.Type {
	case "badger":
		return badgerstore.Open(log, cfg.Path)
	case "", "sqlite":
		return sqlitestore.Open(log, cfg.Path)
	default:
		return nil, fmt.Errorf("unknown catalog type %q", cfg.Type)
	}
}

func provideProber(log *slog.Logger, cfg config.Config, rc *boot.RuntimeConfig) *probe.Prober {
	return probe.New(log, probe.Options{
		Binary:     rc.ProbeBinary,
		Timeout:    cfg.Probe.Timeout.Duration,
		DefaultFPS: cfg.Probe.DefaultFPS,
	})
}

func provideEnricher(lc fx.Lifecycle, log *slog.Logger, prober *probe.Prober, store catalog.Store, rec metrics.Recorder, cfg config.Config) *media.Enricher {
	enricher := media.NewEnricher(log, prober, store, rec, media.EnricherOptions{
		Workers:   cfg.Probe.Workers,
		QueueSize: cfg.Probe.QueueSize,
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if err := enricher.Close(ctx); err != nil {
				log.Warn("enricher stopped before draining", slog.Any("error", err))
			}
			return nil
		},
	})
	return enricher
}

func provideMediaService(log *slog.Logger, mgr *storage.Manager, store catalog.Store, enricher *media.Enricher, rec metrics.Recorder, cfg config.Config) *media.Service {
	return media.NewService(log, mgr, store, enricher, rec, media.Options{
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
		CacheControl:   delivery.DefaultCacheControl,
	})
}

func provideResolver(cfg config.Config) auth.Resolver {
	return auth.Resolver{TrustUserHeader: cfg.Auth.TrustUserHeader}
}

func provideUploadLimiter(cfg config.Config) *ratelimit.Keyed {
	return ratelimit.NewKeyed(cfg.Limits.UploadRPS, cfg.Limits.UploadBurst)
}

func provideMediaHandler(log *slog.Logger, svc *media.Service, resolver auth.Resolver, limiter *ratelimit.Keyed, rec metrics.Recorder) *handlers.MediaHandler {
	return handlers.NewMediaHandler(log, svc, resolver, limiter, rec)
}

func provideMigrateHandler(log *slog.Logger, engine *migration.Engine) *handlers.MigrateHandler {
	return handlers.NewMigrateHandler(log, engine)
}

func providePingHandler(log *slog.Logger, mgr *storage.Manager) *handlers.PingHandler {
	return handlers.NewPingHandler(log, mgr.Root())
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	RuntimeConfig  *boot.RuntimeConfig
	Config         config.Config
	Recorder       metrics.Recorder
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, server.Options{
		Addr:              params.RuntimeConfig.ServerAddr,
		JWTSecret:         params.RuntimeConfig.JwtSecret,
		ReadTimeout:       params.Config.Server.ReadTimeout.Duration,
		ReadHeaderTimeout: params.Config.Server.ReadHeaderTimeout.Duration,
		WriteTimeout:      params.Config.Server.WriteTimeout.Duration,
		Metrics:           params.Recorder,
	}, params.ServerHandlers...)
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, rc *boot.RuntimeConfig) {
	logger.Info("starting mediastore", slog.String("version", version.GetInfo()), slog.String("addr", rc.ServerAddr), slog.String("root", rc.StorageRoot))

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("server failed", slog.Any("error", err))
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
