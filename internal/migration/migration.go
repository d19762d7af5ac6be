package migration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dw2rc/internal/converter"
	"dw2rc/internal/domain"
	"dw2rc/internal/langs"
	"dw2rc/internal/results"

	"go.uber.org/zap"
)

// State is a step of one resource migration
type State string

const (
	StateInit        State = "init"
	StateCheckNeeded State = "check_needed"
	StateSkip        State = "skip"
	StateConverting  State = "converting"
	StateSuccess     State = "success"
	StateFailed      State = "failed"
)

// ResourceMigration describes how one resource type is migrated
type ResourceMigration struct {
	Type domain.ResourceType
	// ContentPath is checked under the output folder to decide whether
	// output already exists
	ContentPath  string
	NewConverter converter.Factory
	// Prerequisite must have succeeded before this type is attempted
	Prerequisite domain.ResourceType
	TitleCheck   func(dest string, repo domain.LanguageRepo) error
	// Invalidates lists the types whose results are deleted when this
	// type converts successfully
	Invalidates []domain.ResourceType
}

// Standard builds the migrations for the given converter factories. OBS
// has no prerequisite and invalidates every other type; the others gate
// on OBS.
func Standard(factories map[domain.ResourceType]converter.Factory) map[domain.ResourceType]ResourceMigration {
	out := make(map[domain.ResourceType]ResourceMigration, len(factories))
	for t, f := range factories {
		m := ResourceMigration{
			Type:         t,
			ContentPath:  "content",
			NewConverter: f,
		}
		if t == domain.OBS {
			m.TitleCheck = converter.CheckOBSTitle
			for _, other := range domain.AllResourceTypes {
				if other != domain.OBS {
					m.Invalidates = append(m.Invalidates, other)
				}
			}
		} else {
			m.Prerequisite = domain.OBS
		}
		out[t] = m
	}
	return out
}

// Outcome reports what one migration run did
type Outcome struct {
	Type      domain.ResourceType
	State     State
	Result    *domain.ConversionResult
	Decision  Decision
	Converted bool
	Duration  time.Duration
}

// Recorder receives conversion metrics
type Recorder interface {
	ObserveConversion(resource string, outcome string, d time.Duration)
}

// Options control the conversion policy
type Options struct {
	RetryFailures bool
	Quiet         bool
	Timeout       time.Duration
}

// Runner executes resource migrations for one language at a time
type Runner struct {
	opts     Options
	catalog  *langs.Catalog
	recorder Recorder
	logger   *zap.Logger
}

// NewRunner creates a migration runner
func NewRunner(opts Options, catalog *langs.Catalog, recorder Recorder, logger *zap.Logger) *Runner {
	return &Runner{
		opts:     opts,
		catalog:  catalog,
		recorder: recorder,
		logger:   logger,
	}
}

// Run migrates one resource type for one language. The returned error is
// non-nil only when the outcome could not be persisted; conversion
// failures are reported through the Outcome.
func (r *Runner) Run(ctx context.Context, repo domain.LanguageRepo, m ResourceMigration) (Outcome, error) {
	start := time.Now()
	store := results.New(repo.LangFolder)
	logger := r.logger.With(
		zap.String("repo", repo.Name),
		zap.String("type", string(m.Type)),
	)
	out := Outcome{Type: m.Type, State: StateInit}

	if m.Prerequisite != "" {
		ok, err := store.LastSuccess(m.Prerequisite)
		if err != nil {
			logger.Warn("Unreadable prerequisite result, treating as failed", zap.Error(err))
		}
		if !ok {
			msg := fmt.Sprintf("Skipping over %s since %s Failed: %s", m.Type.Label(), m.Prerequisite.Label(), repo.Name)
			logger.Info(msg)
			out.State = StateFailed
			out.Result = domain.Failed(m.Type, repo, domain.FailurePrerequisite, msg)
			return r.finish(logger, store, m, out, start)
		}
	}

	out.State = StateCheckNeeded
	dest := filepath.Join(repo.LangFolder, string(m.Type))
	exists := pathExists(filepath.Join(dest, m.ContentPath))

	prior, err := store.ReadConversion(m.Type)
	if err != nil {
		logger.Warn("Unreadable prior result, ignoring it", zap.Error(err))
		prior = nil
	}

	out.Decision = Decide(exists, prior, r.opts.RetryFailures)
	if !out.Decision.Convert {
		logger.Info("Skipping conversion", zap.String("reason", out.Decision.Reason))
		out.State = StateSkip
		out.Result = prior
		out.Duration = time.Since(start)
		r.observe(m.Type, "skipped", out.Duration)
		return out, nil
	}

	logger.Info("Converting", zap.String("reason", out.Decision.Reason))
	out.State = StateConverting
	out.Converted = true
	if err := os.MkdirAll(dest, 0o755); err != nil {
		out.State = StateFailed
		out.Result = domain.Failed(m.Type, repo, domain.FailureInit, fmt.Sprintf("Failed doing 'Init', error: %v", err))
		return r.finish(logger, store, m, out, start)
	}

	out.Result = r.convert(ctx, repo, m, dest)
	if out.Result.Success {
		out.State = StateSuccess
	} else {
		out.State = StateFailed
	}
	return r.finish(logger, store, m, out, start)
}

func (r *Runner) convert(ctx context.Context, repo domain.LanguageRepo, m ResourceMigration, dest string) *domain.ConversionResult {
	lang, _ := r.catalog.Lookup(repo.LanguageCode)
	conv, err := m.NewConverter(converter.Params{
		LanguageCode: repo.LanguageCode,
		RepoURL:      repo.RepoURL,
		OutDir:       dest,
		Quiet:        r.opts.Quiet,
		Language:     lang,
	})
	if err != nil {
		return domain.Failed(m.Type, repo, domain.FailureInit, fmt.Sprintf("Failed doing 'Init', error: %v", err))
	}

	if err := r.runConverter(ctx, conv); err != nil {
		msg := fmt.Sprintf("Failed doing '%s', error: %v", conv.Trying(), err)
		return domain.Failed(m.Type, repo, converter.Classify(err), msg)
	}

	if m.TitleCheck != nil {
		if err := m.TitleCheck(dest, repo); err != nil {
			msg := fmt.Sprintf("Failed doing 'title check', error: %v", err)
			return domain.Failed(m.Type, repo, converter.Classify(err), msg)
		}
	}

	return domain.Succeeded(m.Type, repo)
}

// runConverter turns converter panics into errors
func (r *Runner) runConverter(ctx context.Context, conv converter.Converter) (err error) {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("converter panic: %v", p)
		}
	}()

	return conv.Run(ctx)
}

func (r *Runner) finish(logger *zap.Logger, store *results.Store, m ResourceMigration, out Outcome, start time.Time) (Outcome, error) {
	out.Duration = time.Since(start)

	if err := store.WriteConversion(out.Result); err != nil {
		logger.Error("Failed to save conversion result", zap.Error(err))
		return out, fmt.Errorf("save %s result for %s: %w", m.Type, out.Result.Repo.Name, err)
	}

	if out.Result.Success {
		var errs []error
		for _, t := range m.Invalidates {
			if err := store.Invalidate(t); err != nil {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			logger.Error("Failed to invalidate downstream results", zap.Error(err))
			return out, err
		}
		logger.Info("Conversion succeeded", zap.Duration("duration", out.Duration))
		r.observe(m.Type, "success", out.Duration)
		return out, nil
	}

	logger.Warn("Conversion failed",
		zap.String("error", out.Result.Error),
		zap.String("failure", string(out.Result.Failure)),
	)
	r.observe(m.Type, "failed", out.Duration)
	return out, nil
}

func (r *Runner) observe(t domain.ResourceType, outcome string, d time.Duration) {
	if r.recorder != nil {
		r.recorder.ObserveConversion(string(t), outcome, d)
	}
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
