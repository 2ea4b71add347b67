// Package app wires the stores, AI resolver and pipeline stages together and
// runs the long-lived daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/gmsas95/paperflow/internal/api"
	"github.com/gmsas95/paperflow/internal/catalog"
	"github.com/gmsas95/paperflow/internal/classify"
	"github.com/gmsas95/paperflow/internal/config"
	"github.com/gmsas95/paperflow/internal/documents"
	"github.com/gmsas95/paperflow/internal/events"
	"github.com/gmsas95/paperflow/internal/lifecycle"
	"github.com/gmsas95/paperflow/internal/llm"
	"github.com/gmsas95/paperflow/internal/matcher"
	"github.com/gmsas95/paperflow/internal/metrics"
	"github.com/gmsas95/paperflow/internal/pathgen"
	"github.com/gmsas95/paperflow/internal/pipeline"
	"github.com/gmsas95/paperflow/internal/scanlock"
	"github.com/gmsas95/paperflow/internal/scanner"
	"github.com/gmsas95/paperflow/internal/scheduler"
	"github.com/gmsas95/paperflow/internal/splitter"
	"github.com/gmsas95/paperflow/internal/store"
)

type App struct {
	Config    *config.Config
	Store     *store.Store
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Bus       *events.Bus
	AI        *llm.Resolver
	Extractor *documents.Extractor
	Service   *pipeline.Service
	Scanner   *scanner.Scanner
	Version   string
}

// New opens the stores, applies the field catalog and assembles the
// pipeline. Close releases what New opened.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, version string) (*App, error) {
	st, err := store.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	if err := catalog.Bootstrap(ctx, st, cfg.Classify.FieldsFile, logger.Named("catalog")); err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to load field catalog: %w", err)
	}

	m := metrics.New()
	bus := events.NewBus(logger.Named("events"))
	if err := bus.Subscribe(ctx, events.LogSubscriber(logger.Named("events"))); err != nil {
		logger.Warn("Event log subscriber not started", zap.Error(err))
	}

	resolver := llm.NewResolverFromConfig(cfg.AI, m, logger.Named("llm"))
	var ai llm.Completer
	if resolver.Configured() {
		ai = resolver
	} else {
		logger.Info("No AI provider configured, AI stages are skipped")
	}

	extractor := documents.NewExtractor(logger.Named("documents"))

	lc := lifecycle.New(st, pathgen.New(cfg.Storage.PathSegments), lifecycle.Options{
		DocumentsDir: cfg.Storage.DocumentsDir,
		AutoApply:    cfg.Lifecycle.AutoApply,
		Threshold:    cfg.Lifecycle.AutoValidateThreshold,
	}, bus, m, logger.Named("lifecycle"))

	sp := splitter.New(st, extractor, extractor, ai, splitter.Options{
		Enabled:      cfg.Split.Enabled,
		MaxPages:     cfg.Split.MaxPages,
		MinPageChars: cfg.Split.MinPageChars,
		PendingDir:   filepath.Join(cfg.Storage.StagingDir, "pending"),
	}, bus, m, logger.Named("splitter"))

	cascade := classify.NewCascade(st, ai, matcher.New(logger.Named("matcher")), classify.Options{
		HistoryMinConfidence: cfg.Classify.HistoryMinConfidence,
	}, m, logger.Named("classify"))

	svc := pipeline.New(st, sp, cascade, lc, pipeline.Options{
		AutoFile: cfg.Lifecycle.AutoFile,
	}, logger.Named("pipeline"))

	sc := scanner.New(st,
		scanlock.New(cfg.Scan.LockFile, cfg.Scan.LockStaleness, logger.Named("scanlock")),
		extractor, lc, svc, scanner.Options{
			WatchDir:   cfg.Storage.WatchDir,
			StagingDir: cfg.Storage.StagingDir,
			ArchiveDir: cfg.Storage.ArchiveDir,
			Skip:       []string{cfg.Storage.DocumentsDir},
			Extensions: cfg.Storage.AllowedExtensions,
		}, bus, m, logger.Named("scanner"))
	svc.AttachScanner(sc)

	return &App{
		Config:    cfg,
		Store:     st,
		Logger:    logger,
		Metrics:   m,
		Bus:       bus,
		AI:        resolver,
		Extractor: extractor,
		Service:   svc,
		Scanner:   sc,
		Version:   version,
	}, nil
}

// Completer returns the resolver as a completer, or nil when no provider is
// configured
func (app *App) Completer() llm.Completer {
	if app.AI == nil || !app.AI.Configured() {
		return nil
	}
	return app.AI
}

// DaemonOptions selects what RunDaemon starts
type DaemonOptions struct {
	Watch bool
	API   bool
}

// RunDaemon runs the watcher, the schedule and the review API until ctx is
// done
func (app *App) RunDaemon(ctx context.Context, opts DaemonOptions) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	var server *api.Server
	if opts.API && app.Config.API.Address != "" {
		server = api.New(app.Config.API, app.Store, app.Service, app.Metrics, app.Completer(), app.Version, app.Logger.Named("api"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Start(); err != nil {
				errCh <- fmt.Errorf("api server: %w", err)
				cancel()
			}
		}()
	}

	if app.Config.Scan.Schedule != "" {
		sched, err := scheduler.New(app.Config.Scan.Schedule, app.Service, app.Logger.Named("scheduler"))
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	if opts.Watch {
		watcher := scanner.NewWatcher(app.Scanner, app.Config.Scan.WatchDebounce, app.Logger.Named("watcher"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("watcher: %w", err)
				cancel()
			}
		}()
	}

	app.Logger.Info("paperflow running",
		zap.String("version", app.Version),
		zap.String("watch_dir", app.Config.Storage.WatchDir),
		zap.Bool("watch", opts.Watch),
		zap.String("schedule", app.Config.Scan.Schedule),
		zap.String("ai_provider", string(app.AI.Best(ctx))))

	<-ctx.Done()
	app.Logger.Info("Shutting down...")
	if server != nil {
		if err := server.Shutdown(); err != nil {
			app.Logger.Error("Server shutdown error", zap.Error(err))
		}
	}
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// Close releases the event bus and the stores
func (app *App) Close() error {
	var errs []error
	if app.Bus != nil {
		if err := app.Bus.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if app.Store != nil {
		if err := app.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
