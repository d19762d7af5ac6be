package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"mime"
	"os"
	"path/filepath"
	"time"

	"dw2rc/internal/metrics"
	"dw2rc/internal/storage"

	"go.uber.org/zap"
)

// Outcome of one task
type Outcome string

const (
	OutcomeUploaded Outcome = "uploaded"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// Result is what Process did with a task
type Result struct {
	Outcome  Outcome
	Attempts int
	Err      error
}

// TaskProcessor handles individual task processing
type TaskProcessor struct {
	config  Config
	client  storage.Client
	metrics *metrics.Collector
	logger  *zap.Logger
}

// Process uploads one file, skipping it when an object of the same size is
// already stored, and retrying transient errors with exponential backoff
func (p *TaskProcessor) Process(ctx context.Context, task Task) Result {
	startTime := time.Now()

	if p.config.SkipExisting && p.objectExistsAndMatches(ctx, task) {
		p.logger.Debug("Skipping existing object", zap.String("key", task.Key))
		p.metrics.IncArchiveSkipped()
		return Result{Outcome: OutcomeSkipped}
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= p.config.Retries; attempt++ {
		attempts = attempt
		err := p.upload(ctx, task)
		if err == nil {
			p.metrics.IncArchiveSuccess(task.Size, time.Since(startTime))
			p.logger.Debug("Archived file",
				zap.String("key", task.Key),
				zap.Int64("size", task.Size),
				zap.Duration("duration", time.Since(startTime)),
			)
			return Result{Outcome: OutcomeUploaded, Attempts: attempt}
		}

		lastErr = err
		p.logger.Warn("Archive attempt failed",
			zap.String("key", task.Key),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if !storage.IsRetriable(err) || attempt == p.config.Retries {
			break
		}
		if err := sleep(ctx, p.calculateBackoff(attempt)); err != nil {
			lastErr = err
			break
		}
	}

	p.metrics.IncArchiveFailed()
	p.logger.Error("Archive failed after all retries",
		zap.String("key", task.Key),
		zap.Error(lastErr),
	)
	return Result{Outcome: OutcomeFailed, Attempts: attempts, Err: lastErr}
}

func (p *TaskProcessor) upload(ctx context.Context, task Task) error {
	f, err := os.Open(task.Path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", task.Path, err)
	}
	defer f.Close()

	opts := storage.PutOptions{
		ContentType: contentType(task.Path),
		Metadata: map[string]string{
			"lang":          task.Lang,
			"resource-type": string(task.Type),
		},
	}
	return p.client.PutObject(ctx, p.config.Bucket, task.Key, f, task.Size, opts)
}

func (p *TaskProcessor) objectExistsAndMatches(ctx context.Context, task Task) bool {
	info, err := p.client.HeadObject(ctx, p.config.Bucket, task.Key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			p.logger.Debug("Head object failed", zap.String("key", task.Key), zap.Error(err))
		}
		return false
	}
	return info.Size == task.Size
}

func (p *TaskProcessor) calculateBackoff(attempt int) time.Duration {
	base := time.Duration(p.config.RetryBackoffMs) * time.Millisecond
	return base * time.Duration(math.Pow(2, float64(attempt-1)))
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func contentType(path string) string {
	switch filepath.Ext(path) {
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".yaml", ".yml":
		return "application/yaml"
	}
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
