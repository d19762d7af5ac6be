package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"dw2rc/internal/domain"
	"dw2rc/internal/results"
	"dw2rc/internal/worker"

	"go.uber.org/zap"
)

// FileLister finds the files of successfully converted repositories
type FileLister struct {
	root      string
	prefix    string
	types     []domain.ResourceType
	languages map[string]bool
	logger    *zap.Logger
}

// NewFileLister creates a lister over root. Object keys are
// {prefix}/{lang}/{type}/{relative path}.
func NewFileLister(root, prefix string, types []domain.ResourceType, languages []string, logger *zap.Logger) *FileLister {
	only := make(map[string]bool, len(languages))
	for _, l := range languages {
		only[l] = true
	}
	return &FileLister{root: root, prefix: prefix, types: types, languages: only, logger: logger}
}

// Walk calls fn for every file to archive. Working tree metadata (.git) is
// left out.
func (l *FileLister) Walk(ctx context.Context, fn func(worker.Task) error) error {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return fmt.Errorf("list language folders: %w", err)
	}

	var langs []string
	for _, e := range entries {
		if e.IsDir() && (len(l.languages) == 0 || l.languages[e.Name()]) {
			langs = append(langs, e.Name())
		}
	}
	sort.Strings(langs)

	for _, lang := range langs {
		store := results.New(filepath.Join(l.root, lang))
		for _, t := range l.types {
			if err := ctx.Err(); err != nil {
				return err
			}
			ok, err := store.LastSuccess(t)
			if err != nil {
				l.logger.Warn("Unreadable conversion result", zap.String("lang", lang), zap.String("type", string(t)), zap.Error(err))
				continue
			}
			if !ok {
				continue
			}
			if err := l.walkRepo(lang, t, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *FileLister) walkRepo(lang string, t domain.ResourceType, fn func(worker.Task) error) error {
	dir := filepath.Join(l.root, lang, string(t))
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		return fn(worker.Task{
			Path: p,
			Key:  path.Join(l.prefix, lang, string(t), filepath.ToSlash(rel)),
			Size: info.Size(),
			Lang: lang,
			Type: t,
		})
	})
	if errors.Is(err, fs.ErrNotExist) {
		l.logger.Warn("Converted repository missing", zap.String("dir", dir))
		return nil
	}
	return err
}

// CountFiles counts the files and bytes Walk would produce
func (l *FileLister) CountFiles(ctx context.Context) (int64, int64, error) {
	var files, bytes int64
	err := l.Walk(ctx, func(t worker.Task) error {
		files++
		bytes += t.Size
		return nil
	})
	return files, bytes, err
}

// ListAndEnqueue walks the converted files and enqueues them as tasks. In
// dry-run mode files are only logged.
func (l *FileLister) ListAndEnqueue(ctx context.Context, tasks chan<- worker.Task, dryRun bool) error {
	var totalFiles, totalSize int64
	err := l.Walk(ctx, func(task worker.Task) error {
		totalFiles++
		totalSize += task.Size

		if dryRun {
			l.logger.Info("Would archive file",
				zap.String("key", task.Key),
				zap.Int64("size", task.Size),
			)
			return nil
		}

		select {
		case tasks <- task:
			l.logger.Debug("Enqueued file", zap.String("key", task.Key))
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		return err
	}

	l.logger.Info("Finished listing converted files",
		zap.Int64("total_files", totalFiles),
		zap.Int64("total_size_bytes", totalSize),
	)
	return nil
}
