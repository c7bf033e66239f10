// Package app wires configuration into a running pipeline and its
// supporting services.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/vzahanych/scene-sentry/internal/ai"
	"github.com/vzahanych/scene-sentry/internal/alert"
	"github.com/vzahanych/scene-sentry/internal/config"
	"github.com/vzahanych/scene-sentry/internal/events"
	"github.com/vzahanych/scene-sentry/internal/health"
	"github.com/vzahanych/scene-sentry/internal/logger"
	"github.com/vzahanych/scene-sentry/internal/pipeline"
	"github.com/vzahanych/scene-sentry/internal/scene"
	"github.com/vzahanych/scene-sentry/internal/service"
	"github.com/vzahanych/scene-sentry/internal/state"
	"github.com/vzahanych/scene-sentry/internal/storage"
	"github.com/vzahanych/scene-sentry/internal/video"
	"github.com/vzahanych/scene-sentry/internal/web"
)

// Options are the process-level hooks. Zero values mean os.Stdin,
// os.Stdout and os.Exit after flushing the logger.
type Options struct {
	Stdin   io.Reader
	Stdout  io.Writer
	Exit    func(code int)
	Version string
	// Detector replaces the HTTP classifier client.
	Detector ai.Backend
}

// App is one configured pipeline with its ledger, storage janitor and
// web surface.
type App struct {
	cfg    *config.Config
	logger *logger.Logger
	runID  string

	Emitter  *events.Emitter
	Ledger   *state.Manager
	Storage  *storage.StorageService
	Pipeline *pipeline.Pipeline
	Web      *web.Server
	Health   *health.Manager
	Services *service.Manager
}

// SyncedExit flushes log before handing code to exit. Deferred Syncs do
// not run once the process exits.
func SyncedExit(log *logger.Logger, exit func(code int)) func(code int) {
	return func(code int) {
		log.Sync()
		exit(code)
	}
}

// New builds every component without starting anything.
func New(cfg *config.Config, log *logger.Logger, opts Options) (*App, error) {
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Exit == nil {
		opts.Exit = SyncedExit(log, os.Exit)
	}

	a := &App{
		cfg:      cfg,
		logger:   log,
		runID:    uuid.New().String(),
		Emitter:  events.NewEmitter(opts.Stdout, log.Named("events")),
		Services: service.NewManager(log),
	}
	a.Health = health.NewManager(log.Named("health"), a.Services)

	if cfg.Storage.LedgerEnabled {
		ledger, err := state.NewManager(cfg.LedgerPath(), log.Named("ledger"))
		if err != nil {
			return nil, fmt.Errorf("failed to open alert ledger: %w", err)
		}
		a.Ledger = ledger
		a.Health.RegisterChecker(health.NewDatabaseChecker(ledger, cfg.LedgerPath()))
	}

	storageCfg := storage.StorageConfig{
		ResultsDir:          cfg.Storage.ResultsDir,
		RetentionDays:       cfg.Storage.RetentionDays,
		MaxDiskUsagePercent: cfg.Storage.MaxDiskUsagePercent,
		JanitorInterval:     cfg.Storage.JanitorInterval,
	}
	if a.Ledger != nil {
		storageCfg.Ledger = a.Ledger
	}
	store, err := storage.NewStorageService(storageCfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Storage = store
	a.Health.RegisterChecker(health.NewStorageChecker(store))

	backend := opts.Detector
	if backend == nil {
		client := ai.NewClient(ai.ClientConfig{
			ServiceURL:          cfg.Detector.ServiceURL,
			Timeout:             cfg.Detector.Timeout,
			ConfidenceThreshold: cfg.Detector.ConfidenceThreshold,
			EnabledClasses:      cfg.Detector.EnabledClasses,
			MaxRetries:          cfg.Detector.MaxRetries,
			RetryDelay:          cfg.Detector.RetryDelay,
		}, log.Named("detector"))
		a.Health.RegisterChecker(health.NewDetectorChecker(client, cfg.Detector.ServiceURL))
		backend = client
	}

	ref := video.ParseRef(cfg.Source.Ref)
	src := video.NewSource(ref, video.SourceOptions{
		Username:     cfg.Source.Username,
		Password:     cfg.Source.Password,
		ProbeRTSP:    cfg.Source.ProbeRTSP,
		ProbeTimeout: cfg.Source.ProbeTimeout,
		Stdin:        opts.Stdin,
	}, log.Named("source"))

	sinkCfg := alert.SinkConfig{Dir: store.ResultsDir(), RunID: a.runID, Space: store}
	var runs pipeline.RunLedger
	if a.Ledger != nil {
		sinkCfg.Ledger = a.Ledger
		runs = a.Ledger
	}

	a.Pipeline = pipeline.New(pipeline.Config{
		Open:         video.OpenPolicy{Attempts: cfg.Source.OpenAttempts, Interval: cfg.Source.OpenRetryInterval},
		ReadBackoff:  cfg.Source.ReadBackoff,
		Paced:        !ref.Live(),
		PopTimeout:   cfg.Pipeline.PopTimeout,
		StatusEvery:  cfg.Pipeline.StatusEvery,
		StreamFrames: cfg.Pipeline.StreamFrames,
		JPEGQuality:  cfg.Pipeline.JPEGQuality,
		StopOnDanger: cfg.Pipeline.StopOnDanger,
		DrainTimeout: cfg.Pipeline.DrainTimeout,
	}, pipeline.Deps{
		Source: src,
		Detector: ai.NewAdapter(backend, ai.AdapterConfig{
			ClassNames:  cfg.Detector.ClassNames,
			Filter:      ai.Filter{MinConfidence: cfg.Detector.ConfidenceThreshold, EnabledClasses: cfg.Detector.EnabledClasses},
			Annotate:    cfg.Pipeline.Annotate,
			JPEGQuality: cfg.Pipeline.JPEGQuality,
		}, log.Named("detector")),
		Analyzer: scene.NewAnalyzer(scene.AnalyzerConfig{
			MotionEnabled: cfg.Motion.Enabled,
			Motion: scene.MotionConfig{
				MinArea:          cfg.Motion.MinArea,
				DiffThreshold:    cfg.Motion.DiffThreshold,
				BlurSize:         cfg.Motion.BlurSize,
				DilateIterations: cfg.Motion.DilateIterations,
			},
			NightEnabled:   cfg.Night.Enabled,
			NightThreshold: cfg.Night.Threshold,
		}),
		Policy: alert.NewPolicy(alert.PolicyConfig{
			DangerousLabels: cfg.Policy.DangerousLabels,
			CaseInsensitive: cfg.Policy.CaseInsensitive,
			NightMotion:     cfg.NightMotionEnabled(),
		}),
		Sink:    alert.NewSink(sinkCfg, log.Named("alert")),
		Emitter: a.Emitter,
		Runs:    runs,
		RunID:   a.runID,
		Exit:    opts.Exit,
	}, log)
	a.Health.RegisterChecker(health.NewPipelineChecker(a.Pipeline))

	deps := web.Dependencies{
		Pipeline: a.Pipeline,
		Health:   a.Health,
		Results:  store,
		Records:  a.Emitter,
		Services: a.Services,
	}
	if a.Ledger != nil {
		deps.Alerts = a.Ledger
		deps.State = a.Ledger
	}
	a.Web = web.NewServer(cfg.Web, deps, log)
	if opts.Version != "" {
		a.Web.SetVersion(opts.Version)
	}

	// The pipeline goes first so a source that never opens starts nothing.
	a.Services.Register(a.Pipeline)
	a.Services.Register(a.Storage)
	a.Services.Register(a.Web)
	return a, nil
}

// RunID identifies this run in the ledger and in alert events.
func (a *App) RunID() string { return a.runID }

// Run starts the services and blocks until ctx is cancelled or the
// pipeline stops on its own, then shuts everything down. It returns the
// start error, if any, such as a *video.OpenError.
func (a *App) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	if err := a.Services.Start(ctx); err != nil {
		return err
	}
	a.saveState(map[string]string{
		state.KeyLastRunID:      a.runID,
		state.KeyLastSource:     a.Pipeline.Stats().Source,
		state.KeyLastExitReason: "",
	})

	select {
	case <-ctx.Done():
		a.logger.Info("Shutdown requested")
	case <-a.Pipeline.Done():
		a.logger.Info("Pipeline finished", "reason", a.Pipeline.ExitReason())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := a.Services.Shutdown(shutdownCtx)
	a.saveState(map[string]string{state.KeyLastExitReason: a.Pipeline.ExitReason()})
	return err
}

func (a *App) saveState(kv map[string]string) {
	if a.Ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for k, v := range kv {
		if err := a.Ledger.SaveSystemState(ctx, k, v); err != nil {
			a.logger.Warn("Failed to save system state", "key", k, "error", err)
		}
	}
}

// Close releases the ledger and the record stream. Call after Run.
func (a *App) Close() error {
	var errs []error
	a.Emitter.Close()
	if a.Ledger != nil {
		errs = append(errs, a.Ledger.Close())
	}
	return errors.Join(errs...)
}
