package migration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"dw2rc/internal/checkpoint"
	"dw2rc/internal/domain"
	"dw2rc/internal/langs"
	"dw2rc/internal/progress"
	"dw2rc/internal/source"

	"go.uber.org/zap"
)

// DefaultRepoPrefix marks DokuWiki language repositories
const DefaultRepoPrefix = "d43-"

// RepoCounter receives per-repository metrics
type RepoCounter interface {
	IncRepo(status string)
}

// BatchConfig controls which repositories a batch migrates
type BatchConfig struct {
	OutDir     string
	RepoPrefix string
	// ValidLanguages restricts conversion to these codes. When empty every
	// language in the catalog is accepted.
	ValidLanguages []string
	// Languages, when set, limits the run to these codes
	Languages []string
}

// Stats summarises a batch run
type Stats struct {
	Repos     int
	Converted int
	Skipped   int
	Failed    int
	Invalid   int
	Duration  time.Duration
}

// Batch walks every source repository and runs its resource migrations
type Batch struct {
	cfg        BatchConfig
	lister     source.Lister
	checkpoint checkpoint.Store
	runner     *Runner
	migrations []ResourceMigration
	catalog    *langs.Catalog
	valid      map[string]bool
	only       map[string]bool
	tracker    *progress.Tracker
	counter    RepoCounter
	logger     *zap.Logger
}

// NewBatch creates a batch. Migrations run in the given order except that
// a type always runs after its prerequisite.
func NewBatch(
	cfg BatchConfig,
	lister source.Lister,
	store checkpoint.Store,
	runner *Runner,
	migrations []ResourceMigration,
	catalog *langs.Catalog,
	tracker *progress.Tracker,
	counter RepoCounter,
	logger *zap.Logger,
) *Batch {
	if cfg.RepoPrefix == "" {
		cfg.RepoPrefix = DefaultRepoPrefix
	}
	if tracker == nil {
		tracker = progress.NewTracker("migrate")
	}

	return &Batch{
		cfg:        cfg,
		lister:     lister,
		checkpoint: store,
		runner:     runner,
		migrations: orderByPrerequisite(migrations),
		catalog:    catalog,
		valid:      toSet(cfg.ValidLanguages),
		only:       toSet(cfg.Languages),
		tracker:    tracker,
		counter:    counter,
		logger:     logger,
	}
}

func toSet(list []string) map[string]bool {
	set := make(map[string]bool, len(list))
	for _, s := range list {
		s = strings.TrimSpace(s)
		if s != "" {
			set[s] = true
		}
	}
	return set
}

// orderByPrerequisite moves types without a prerequisite to the front,
// keeping the configured order otherwise
func orderByPrerequisite(in []ResourceMigration) []ResourceMigration {
	out := append([]ResourceMigration(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Prerequisite == "" && out[j].Prerequisite != ""
	})
	return out
}

// Run processes repositories until the listing is exhausted or ctx is
// cancelled. Results already flushed survive an interruption.
func (b *Batch) Run(ctx context.Context) (Stats, error) {
	start := time.Now()
	var stats Stats

	b.logger.Info("Starting migration batch",
		zap.String("out_dir", b.cfg.OutDir),
		zap.Int("types", len(b.migrations)),
		zap.Bool("retry_failures", b.runner.opts.RetryFailures),
	)

	if err := os.MkdirAll(b.cfg.OutDir, 0o755); err != nil {
		return stats, fmt.Errorf("create output folder: %w", err)
	}

	err := b.lister.List(ctx, func(r source.Repo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.migrateRepo(ctx, r, &stats)
		return nil
	})

	stats.Duration = time.Since(start)
	b.logger.Info("Migration batch finished",
		zap.Int("repos", stats.Repos),
		zap.Int("converted", stats.Converted),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Int("invalid", stats.Invalid),
		zap.Duration("duration", stats.Duration),
	)

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			b.logger.Warn("Migration batch interrupted", zap.Error(err))
		}
		return stats, err
	}
	return stats, nil
}

func (b *Batch) migrateRepo(ctx context.Context, r source.Repo, stats *Stats) {
	logger := b.logger.With(zap.String("repo", r.Name))
	validName := strings.HasPrefix(r.Name, b.cfg.RepoPrefix) && len(r.Name) > len(b.cfg.RepoPrefix)
	code := strings.TrimPrefix(r.Name, b.cfg.RepoPrefix)
	if validName && len(b.only) > 0 && !b.only[code] {
		logger.Debug("Language not selected for this run")
		return
	}

	stats.Repos++
	b.tracker.Start(r.Name)

	defer func() {
		if p := recover(); p != nil {
			logger.Error("Unexpected failure migrating repository",
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()),
			)
			b.record(r.Name, fmt.Sprintf("unexpected failure: %v", p), "")
			b.countRepo("error")
			stats.Failed++
			b.tracker.AddFailed()
		}
	}()

	if !validName {
		msg := "Skipping over invalid d43 repo name: " + r.Name
		logger.Warn(msg)
		b.record(r.Name, msg, checkpoint.SkipInvalidName)
		b.countRepo("invalid")
		stats.Invalid++
		b.tracker.AddInvalid()
		return
	}

	langFolder := filepath.Join(b.cfg.OutDir, code)
	lang, known := b.catalog.Lookup(code)
	if !b.supported(code, known) {
		msg := "Skipping over unsupported language: " + r.Name
		logger.Warn(msg)
		if err := os.RemoveAll(langFolder); err != nil {
			logger.Error("Failed to remove unsupported language folder", zap.Error(err))
		}
		b.record(r.Name, msg, checkpoint.SkipUnsupportedLanguage)
		b.countRepo("unsupported")
		stats.Invalid++
		b.tracker.AddInvalid()
		return
	}

	repo := domain.LanguageRepo{
		Name:         r.Name,
		FullName:     r.FullName,
		LanguageCode: code,
		DisplayName:  lang.Name,
		Direction:    lang.Direction,
		RepoURL:      r.HTMLURL,
		LangFolder:   langFolder,
	}
	if err := os.MkdirAll(langFolder, 0o755); err != nil {
		logger.Error("Failed to create language folder", zap.Error(err))
		b.record(r.Name, err.Error(), "")
		b.countRepo("error")
		stats.Failed++
		b.tracker.AddFailed()
		return
	}
	b.countRepo("valid")

	var converted, failed bool
	for _, m := range b.migrations {
		if ctx.Err() != nil {
			break
		}

		out, err := b.runner.Run(ctx, repo, m)
		if err != nil {
			logger.Error("Migration could not be recorded",
				zap.String("type", string(m.Type)),
				zap.Error(err),
			)
			failed = true
			continue
		}

		if out.Converted {
			converted = true
		}
		if out.Result != nil && !out.Result.Success {
			failed = true
		}

		key := repo.BatchKey(m.Type)
		if out.Result != nil {
			if err := b.checkpoint.Put(key, out.Result.ToMap()); err != nil {
				logger.Error("Failed to flush batch results", zap.String("key", key), zap.Error(err))
			}
		}
	}

	switch {
	case failed:
		stats.Failed++
		b.tracker.AddFailed()
	case converted:
		stats.Converted++
		b.tracker.AddSuccess()
	default:
		stats.Skipped++
		b.tracker.AddSkipped()
	}
}

func (b *Batch) supported(code string, inCatalog bool) bool {
	if len(b.valid) > 0 {
		return b.valid[code]
	}
	return inCatalog
}

func (b *Batch) record(name, msg, skip string) {
	rec := checkpoint.Record{"name": name, "error": msg}
	if skip != "" {
		rec[checkpoint.SkipKey] = skip
	}
	if err := b.checkpoint.Put(name, rec); err != nil {
		b.logger.Error("Failed to flush batch results", zap.String("key", name), zap.Error(err))
	}
}

func (b *Batch) countRepo(status string) {
	if b.counter != nil {
		b.counter.IncRepo(status)
	}
}

// ReadLanguageList reads one language code per line, ignoring blank lines
// and lines starting with #
func ReadLanguageList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read language list: %w", err)
	}

	var codes []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		codes = append(codes, line)
	}
	return codes, nil
}
