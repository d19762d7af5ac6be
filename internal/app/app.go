// Package app wires configuration into the migrate, upload, summary and
// archive commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"dw2rc/internal/checkpoint"
	"dw2rc/internal/config"
	"dw2rc/internal/converter"
	"dw2rc/internal/domain"
	"dw2rc/internal/gitrepo"
	"dw2rc/internal/langs"
	"dw2rc/internal/metrics"
	"dw2rc/internal/migration"
	"dw2rc/internal/progress"
	"dw2rc/internal/remote"
	"dw2rc/internal/source"
	"dw2rc/internal/storage"
	"dw2rc/internal/summary"
	"dw2rc/internal/upload"
	"dw2rc/internal/worker"

	"go.uber.org/zap"
)

// App holds what every command shares
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector
	out     io.Writer

	// Lister replaces the GitHub listing when set
	Lister source.Lister
}

// New creates an application instance. Reports are written to out.
func New(cfg *config.Config, logger *zap.Logger, out io.Writer) *App {
	return &App{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		out:     out,
	}
}

// serveMetrics starts the /metrics endpoint when an address is configured
func (a *App) serveMetrics(ctx context.Context) {
	if a.cfg.MetricsAddr == "" {
		return
	}
	go func() {
		a.logger.Info("Serving metrics", zap.String("addr", a.cfg.MetricsAddr))
		if err := a.metrics.StartServer(ctx, a.cfg.MetricsAddr); err != nil {
			a.logger.Error("Failed to start metrics server", zap.Error(err))
		}
	}()
}

// startDisplay shows live progress on a terminal; the returned func stops it
func (a *App) startDisplay(tracker *progress.Tracker) func() {
	if !a.cfg.ShowProgress || !progress.IsTerminalSupported() {
		return func() {}
	}
	display := progress.NewDisplay(tracker, os.Stderr, 2*time.Second)
	display.Start()
	return display.Stop
}

func (a *App) openCheckpoint() (checkpoint.Store, error) {
	if err := os.MkdirAll(a.cfg.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output folder: %w", err)
	}
	store, err := checkpoint.Open(a.cfg.Checkpoint.Backend, a.cfg.Checkpoint.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	return store, nil
}

// Migrate converts every listed DokuWiki repository
func (a *App) Migrate(ctx context.Context) (migration.Stats, error) {
	var stats migration.Stats

	types, err := a.cfg.ConversionTypes()
	if err != nil {
		return stats, err
	}
	factories := make(map[domain.ResourceType]converter.Factory, len(types))
	for _, t := range types {
		cc, ok := a.cfg.Converter(t)
		if !ok {
			return stats, fmt.Errorf("no converter configured for %s", t)
		}
		factories[t] = converter.NewCommandFactory(cc, a.logger)
	}
	std := migration.Standard(factories)
	migrations := make([]migration.ResourceMigration, 0, len(types))
	for _, t := range types {
		migrations = append(migrations, std[t])
	}

	catalog, err := langs.Load(ctx, a.cfg.Languages.Catalog, a.cfg.Languages.Timeout)
	if err != nil {
		return stats, err
	}
	a.logger.Info("Loaded language catalog", zap.Int("languages", catalog.Len()))

	var valid []string
	if a.cfg.Languages.ValidList != "" {
		valid, err = migration.ReadLanguageList(a.cfg.Languages.ValidList)
		if errors.Is(err, os.ErrNotExist) {
			a.logger.Warn("Valid language list not found, accepting every catalog language",
				zap.String("path", a.cfg.Languages.ValidList))
		} else if err != nil {
			return stats, err
		}
	}

	lister := a.Lister
	if lister == nil {
		gh, err := source.NewGitHub(source.Config{
			URL:            a.cfg.Source.URL,
			TokenFile:      a.cfg.Source.TokenFile,
			Timeout:        a.cfg.Source.Timeout,
			MaxAttempts:    a.cfg.Source.MaxAttempts,
			InitialBackoff: a.cfg.Source.InitialBackoff,
			MaxBackoff:     a.cfg.Source.MaxBackoff,
		}, a.logger)
		if err != nil {
			return stats, err
		}
		lister = gh
	}

	store, err := a.openCheckpoint()
	if err != nil {
		return stats, err
	}
	defer store.Close()

	a.serveMetrics(ctx)
	tracker := progress.NewTracker("migrate")
	stop := a.startDisplay(tracker)
	defer stop()

	runner := migration.NewRunner(migration.Options{
		RetryFailures: a.cfg.Conversion.RetryFailures,
		Quiet:         a.cfg.Conversion.Quiet,
		Timeout:       a.cfg.Conversion.Timeout,
	}, catalog, a.metrics, a.logger)

	batch := migration.NewBatch(migration.BatchConfig{
		OutDir:         a.cfg.OutDir,
		RepoPrefix:     a.cfg.Source.RepoPrefix,
		ValidLanguages: valid,
		Languages:      a.cfg.Languages.Filter,
	}, lister, store, runner, migrations, catalog, tracker, a.metrics, a.logger)

	return batch.Run(ctx)
}

func (a *App) host() (*remote.Client, error) {
	token, err := a.cfg.RemoteToken()
	if err != nil {
		return nil, err
	}
	return remote.New(remote.Config{
		BaseURL:   a.cfg.Remote.BaseURL,
		Token:     token,
		Timeout:   a.cfg.Remote.Timeout,
		CloneBase: a.cfg.Remote.CloneBase,
	}, a.logger), nil
}

func (a *App) git() *gitrepo.ExecRunner {
	return gitrepo.NewExecRunner(a.cfg.Git.Timeout, gitrepo.Identity{
		Name:  a.cfg.Git.AuthorName,
		Email: a.cfg.Git.AuthorEmail,
	}, a.logger)
}

// Upload pushes converted repositories to the git host
func (a *App) Upload(ctx context.Context) (upload.Stats, error) {
	types, err := a.cfg.UploadTypes()
	if err != nil {
		return upload.Stats{}, err
	}
	host, err := a.host()
	if err != nil {
		return upload.Stats{}, err
	}

	a.serveMetrics(ctx)
	tracker := progress.NewTracker("upload")
	stop := a.startDisplay(tracker)
	defer stop()

	rec := upload.New(upload.Config{
		Org:            a.cfg.Remote.Org,
		Types:          types,
		RetryOnError:   a.cfg.Upload.RetryOnError,
		RepairManifest: a.cfg.Upload.RepairManifest,
		Languages:      a.cfg.Languages.Filter,
	}, host, a.git(), a.metrics, tracker, a.logger)

	return rec.Run(ctx, a.cfg.OutDir)
}

// SummaryOptions controls the summary command
type SummaryOptions struct {
	Reload  bool
	Offline bool
	Format  string
}

// Summary prints the bucketed results of earlier runs
func (a *App) Summary(ctx context.Context, opts SummaryOptions) error {
	types, err := a.cfg.UploadTypes()
	if err != nil {
		return err
	}

	store, err := a.openCheckpoint()
	if err != nil {
		return err
	}
	defer store.Close()

	var host remote.Host
	var git gitrepo.Runner
	if !opts.Offline {
		client, err := a.host()
		if err != nil {
			return err
		}
		host = client
		git = a.git()
	}

	rep, err := summary.New(summary.Config{
		Root:        a.cfg.OutDir,
		Org:         a.cfg.Remote.Org,
		UploadTypes: types,
		Reload:      opts.Reload,
	}, store, host, git, a.logger).Build(ctx)
	if err != nil {
		return err
	}
	return rep.Write(a.out, opts.Format)
}

// Archive mirrors converted repositories to S3-compatible storage
func (a *App) Archive(ctx context.Context) (worker.Stats, error) {
	cfg := a.cfg.Archive
	if err := a.cfg.ValidateArchive(); err != nil {
		return worker.Stats{}, err
	}
	types, err := a.cfg.UploadTypes()
	if err != nil {
		return worker.Stats{}, err
	}

	a.logger.Info("Starting archive",
		zap.String("bucket", cfg.Bucket),
		zap.String("prefix", cfg.Prefix),
		zap.Int("concurrency", cfg.Concurrency),
		zap.Bool("dry_run", cfg.DryRun),
	)

	lister := NewFileLister(a.cfg.OutDir, cfg.Prefix, types, a.cfg.Languages.Filter, a.logger)
	if cfg.DryRun {
		return worker.Stats{}, lister.ListAndEnqueue(ctx, nil, true)
	}

	client, err := storage.NewMinIOClient(storage.Config{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Secure:    cfg.Secure,
	})
	if err != nil {
		return worker.Stats{}, fmt.Errorf("failed to create storage client: %w", err)
	}
	return a.archive(ctx, client, lister)
}

func (a *App) archive(ctx context.Context, client storage.Client, lister *FileLister) (worker.Stats, error) {
	cfg := a.cfg.Archive
	if err := client.EnsureBucket(ctx, cfg.Bucket); err != nil {
		return worker.Stats{}, err
	}

	a.serveMetrics(ctx)
	tracker := progress.NewTracker("archive")

	totalFiles, totalBytes, err := lister.CountFiles(ctx)
	if err != nil {
		a.logger.Warn("Failed to count files, progress tracking may be inaccurate", zap.Error(err))
	} else {
		tracker.SetTotal(totalFiles)
		a.logger.Info("File counting completed",
			zap.Int64("total_files", totalFiles),
			zap.String("total_size", progress.FormatBytes(totalBytes)),
		)
	}
	stop := a.startDisplay(tracker)

	pool := worker.NewPool(cfg.Concurrency, worker.Config{
		Bucket:         cfg.Bucket,
		Retries:        cfg.Retries,
		RetryBackoffMs: cfg.RetryBackoffMs,
		SkipExisting:   cfg.SkipExisting,
	}, client, a.metrics, tracker, a.logger)

	tasks := make(chan worker.Task, cfg.Concurrency*2)
	var wg sync.WaitGroup
	pool.Start(ctx, tasks, &wg)

	listErr := lister.ListAndEnqueue(ctx, tasks, false)
	close(tasks)
	wg.Wait()
	stop()

	stats := pool.Stats()
	a.logger.Info("Archive completed",
		zap.Int64("uploaded", stats.Uploaded),
		zap.Int64("skipped", stats.Skipped),
		zap.Int64("failed", stats.Failed),
		zap.String("bytes", progress.FormatBytes(stats.Bytes)),
	)
	if listErr != nil {
		return stats, fmt.Errorf("failed to list files: %w", listErr)
	}
	if stats.Failed > 0 {
		return stats, fmt.Errorf("%d files failed to archive", stats.Failed)
	}
	return stats, nil
}
