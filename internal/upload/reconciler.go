// Package upload pushes converted repositories to the git host and keeps
// already uploaded ones in step with local changes.
package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"time"

	"dw2rc/internal/domain"
	"dw2rc/internal/gitrepo"
	"dw2rc/internal/progress"
	"dw2rc/internal/remote"
	"dw2rc/internal/results"

	"go.uber.org/zap"
)

// State is a step of one upload reconciliation
type State string

const (
	StateInit              State = "init"
	StateCheckUploadNeeded State = "check_upload_needed"
	StateSkip              State = "skip"
	StateCreateOrVerify    State = "create_or_verify_remote"
	StateCommitAndPush     State = "commit_and_push"
	StateReconcileExisting State = "reconcile_existing"
	StateSuccess           State = "success"
	StateFailed            State = "failed"
)

const (
	InitialCommitMessage = "Initial commit"
	CleanUpCommitMessage = "clean up"
	RemoteName           = "origin"
)

// Config controls the reconciler
type Config struct {
	Org            string
	Types          []domain.ResourceType
	RetryOnError   bool
	RepairManifest bool
	Branch         string
	// Languages, when set, limits the run to these folders
	Languages []string
}

// Outcome reports what one reconciliation did
type Outcome struct {
	Type   domain.ResourceType
	Dest   string
	State  State
	Reason string
	Result *domain.UploadResult
}

// Stats summarises an upload run
type Stats struct {
	Languages int
	Uploaded  int
	Skipped   int
	Failed    int
	Duration  time.Duration
}

// Recorder receives upload metrics
type Recorder interface {
	ObserveUpload(resource string, outcome string)
}

// Reconciler decides per language and type whether to create, push or
// refresh the remote repository
type Reconciler struct {
	cfg      Config
	host     remote.Host
	git      gitrepo.Runner
	recorder Recorder
	tracker  *progress.Tracker
	logger   *zap.Logger
}

// New creates a reconciler
func New(cfg Config, host remote.Host, git gitrepo.Runner, recorder Recorder, tracker *progress.Tracker, logger *zap.Logger) *Reconciler {
	if cfg.Branch == "" {
		cfg.Branch = gitrepo.DefaultBranch
	}
	if len(cfg.Types) == 0 {
		cfg.Types = []domain.ResourceType{domain.OBS, domain.TranslationQuestions, domain.TranslationNotes}
	}
	if tracker == nil {
		tracker = progress.NewTracker("upload")
	}
	return &Reconciler{
		cfg:      cfg,
		host:     host,
		git:      git,
		recorder: recorder,
		tracker:  tracker,
		logger:   logger,
	}
}

// Run reconciles every language folder under root in name order
func (r *Reconciler) Run(ctx context.Context, root string) (Stats, error) {
	start := time.Now()
	var stats Stats

	langs, err := r.languageFolders(root)
	if err != nil {
		return stats, err
	}
	r.tracker.SetTotal(int64(len(langs)))
	r.logger.Info("Starting upload",
		zap.String("root", root),
		zap.String("org", r.cfg.Org),
		zap.Int("languages", len(langs)),
	)

	for _, lang := range langs {
		if err := ctx.Err(); err != nil {
			stats.Duration = time.Since(start)
			return stats, err
		}
		stats.Languages++
		r.reconcileLanguage(ctx, filepath.Join(root, lang), &stats)
	}

	stats.Duration = time.Since(start)
	r.logger.Info("Upload finished",
		zap.Int("languages", stats.Languages),
		zap.Int("uploaded", stats.Uploaded),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Duration("duration", stats.Duration),
	)
	return stats, nil
}

func (r *Reconciler) languageFolders(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("list language folders: %w", err)
	}

	only := make(map[string]bool, len(r.cfg.Languages))
	for _, l := range r.cfg.Languages {
		only[l] = true
	}

	var langs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if len(only) > 0 && !only[e.Name()] {
			continue
		}
		langs = append(langs, e.Name())
	}
	sort.Strings(langs)
	return langs, nil
}

func (r *Reconciler) reconcileLanguage(ctx context.Context, langFolder string, stats *Stats) {
	lang := filepath.Base(langFolder)
	r.tracker.Start(lang)
	logger := r.logger.With(zap.String("lang", lang))

	defer func() {
		if p := recover(); p != nil {
			logger.Error("Unexpected failure uploading language",
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()),
			)
			stats.Failed++
			r.tracker.AddFailed()
		}
	}()

	var uploaded, failed bool
	for _, t := range r.cfg.Types {
		out, err := r.Reconcile(ctx, langFolder, t)
		if err != nil {
			logger.Error("Upload result could not be recorded", zap.String("type", string(t)), zap.Error(err))
			failed = true
			continue
		}
		switch out.State {
		case StateSuccess:
			uploaded = true
		case StateFailed:
			failed = true
		}
	}

	switch {
	case failed:
		stats.Failed++
		r.tracker.AddFailed()
	case uploaded:
		stats.Uploaded++
		r.tracker.AddSuccess()
	default:
		stats.Skipped++
		r.tracker.AddSkipped()
	}
}

// Reconcile runs the upload state machine for one language and type. The
// returned error is non-nil only when the outcome could not be persisted.
func (r *Reconciler) Reconcile(ctx context.Context, langFolder string, t domain.ResourceType) (Outcome, error) {
	lang := filepath.Base(langFolder)
	dest := t.DestinationRepo(lang)
	store := results.New(langFolder)
	repo := gitrepo.Open(filepath.Join(langFolder, string(t)), r.git)
	logger := r.logger.With(zap.String("lang", lang), zap.String("type", string(t)), zap.String("dest", dest))

	out := Outcome{Type: t, Dest: dest, State: StateInit}

	out.State = StateCheckUploadNeeded
	if _, err := os.Stat(repo.Dir()); err != nil {
		return r.skip(logger, out, "converted repository missing"), nil
	}
	conv, err := store.ReadConversion(t)
	if err != nil {
		logger.Warn("Unreadable conversion result", zap.Error(err))
	}
	if conv == nil || !conv.Success {
		return r.skip(logger, out, "conversion not successful"), nil
	}

	prior, err := store.ReadUpload(t)
	if err != nil {
		logger.Warn("Unreadable upload result, treating as not uploaded", zap.Error(err))
		prior = nil
	}

	if prior != nil && !prior.Success && !r.cfg.RetryOnError {
		return r.skip(logger, out, "prior upload failed"), nil
	}

	out.State = StateCreateOrVerify
	exists, err := r.host.RepositoryExists(ctx, r.cfg.Org, dest)
	if err != nil {
		return r.fail(logger, store, out, err.Error())
	}

	url := r.host.CloneURL(r.cfg.Org, dest)
	if exists {
		out.State = StateReconcileExisting
		settled := prior != nil && prior.Success
		if !repo.HasGitDir() {
			if settled {
				logger.Warn("Uploaded repository has no local .git folder, leaving it")
				return r.skip(logger, out, "already uploaded"), nil
			}
			logger.Info("Remote exists without a local repository, pushing local content")
			if err := r.commitAndPush(ctx, repo, lang, url); err != nil {
				return r.fail(logger, store, out, err.Error())
			}
			out.Reason = "pushed to existing remote"
			return r.succeed(logger, store, out)
		}

		reason, err := r.reconcileExisting(ctx, logger, repo, lang, url, settled)
		if err != nil {
			return r.fail(logger, store, out, err.Error())
		}
		if reason == "" {
			return r.skip(logger, out, "already uploaded"), nil
		}
		out.Reason = reason
		return r.succeed(logger, store, out)
	}

	if prior != nil && prior.Success {
		logger.Warn("Upload recorded but remote repository is missing, uploading again")
	}
	if err := r.host.CreateRepository(ctx, r.cfg.Org, dest); err != nil {
		return r.fail(logger, store, out, err.Error())
	}

	out.State = StateCommitAndPush
	if err := r.commitAndPush(ctx, repo, lang, url); err != nil {
		return r.fail(logger, store, out, err.Error())
	}
	out.Reason = "created and pushed"
	return r.succeed(logger, store, out)
}

func (r *Reconciler) commitAndPush(ctx context.Context, repo *gitrepo.Repo, lang, url string) error {
	if err := r.repair(repo, lang); err != nil {
		return err
	}

	if !repo.HasGitDir() {
		if err := repo.Init(ctx, r.cfg.Branch); err != nil {
			return err
		}
	}
	if err := repo.AddAll(ctx); err != nil {
		return err
	}

	st, err := repo.Status(ctx)
	if err != nil {
		return err
	}
	if st.Changed {
		if err := repo.Commit(ctx, InitialCommitMessage); err != nil {
			return err
		}
	}

	if err := r.ensureRemote(ctx, repo, url); err != nil {
		return err
	}
	return repo.Push(ctx, RemoteName, r.cfg.Branch, true)
}

func (r *Reconciler) ensureRemote(ctx context.Context, repo *gitrepo.Repo, url string) error {
	hasOrigin, err := repo.HasRemote(ctx, RemoteName)
	if err != nil {
		return err
	}
	if hasOrigin {
		return nil
	}
	return repo.AddRemote(ctx, RemoteName, url)
}

// reconcileExisting commits local changes and pushes them to an existing
// remote. Unless settled (an earlier run recorded a successful upload) the
// branch is pushed even when the working tree is clean. The returned reason
// is empty when nothing was pushed.
func (r *Reconciler) reconcileExisting(ctx context.Context, logger *zap.Logger, repo *gitrepo.Repo, lang, url string, settled bool) (string, error) {
	if err := r.repair(repo, lang); err != nil {
		return "", err
	}

	st, err := repo.Status(ctx)
	if err != nil {
		return "", err
	}
	if !st.Changed && settled {
		return "", nil
	}
	if err := r.ensureRemote(ctx, repo, url); err != nil {
		return "", err
	}

	reason := "pushed to existing remote"
	if st.Changed {
		logger.Info("Found uncommitted changes", zap.Strings("status", st.Lines))
		if err := repo.AddAll(ctx); err != nil {
			return "", err
		}
		if err := repo.Commit(ctx, CleanUpCommitMessage); err != nil {
			return "", err
		}
		onRemote, err := repo.HasRemoteBranch(ctx, RemoteName, r.cfg.Branch)
		if err != nil {
			return "", err
		}
		if onRemote {
			if err := repo.Pull(ctx, RemoteName, r.cfg.Branch); err != nil {
				return "", err
			}
		}
		reason = "pushed local changes"
	}

	if err := repo.Push(ctx, RemoteName, r.cfg.Branch, !settled); err != nil {
		return "", err
	}
	return reason, nil
}

func (r *Reconciler) repair(repo *gitrepo.Repo, lang string) error {
	if !r.cfg.RepairManifest {
		return nil
	}
	changed, err := RepairManifest(repo.Dir(), lang)
	if err != nil {
		return err
	}
	if changed {
		r.logger.Info("Repaired manifest language identifier", zap.String("dir", repo.Dir()), zap.String("lang", lang))
	}
	return nil
}

func (r *Reconciler) skip(logger *zap.Logger, out Outcome, reason string) Outcome {
	out.State = StateSkip
	out.Reason = reason
	logger.Debug("Skipping upload", zap.String("reason", reason))
	r.observe(out.Type, "skipped")
	return out
}

func (r *Reconciler) succeed(logger *zap.Logger, store *results.Store, out Outcome) (Outcome, error) {
	out.State = StateSuccess
	out.Result = domain.UploadSucceeded(out.Dest)
	if err := store.WriteUpload(out.Type, out.Result); err != nil {
		return out, fmt.Errorf("save %s upload result: %w", out.Type, err)
	}
	logger.Info("Upload succeeded", zap.String("reason", out.Reason))
	r.observe(out.Type, "success")
	return out, nil
}

func (r *Reconciler) fail(logger *zap.Logger, store *results.Store, out Outcome, msg string) (Outcome, error) {
	failedAt := out.State
	out.State = StateFailed
	out.Result = domain.UploadFailed(out.Dest, msg)
	logger.Error("Upload failed", zap.String("step", string(failedAt)), zap.String("error", msg))
	r.observe(out.Type, "failed")
	if err := store.WriteUpload(out.Type, out.Result); err != nil {
		return out, errors.Join(fmt.Errorf("save %s upload result: %w", out.Type, err), errors.New(msg))
	}
	return out, nil
}

func (r *Reconciler) observe(t domain.ResourceType, outcome string) {
	if r.recorder != nil {
		r.recorder.ObserveUpload(string(t), outcome)
	}
}
