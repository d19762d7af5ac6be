package worker

import (
	"context"
	"sync"

	"dw2rc/internal/metrics"
	"dw2rc/internal/progress"
	"dw2rc/internal/storage"

	"go.uber.org/zap"
)

// Pool manages a pool of workers
type Pool struct {
	size    int
	config  Config
	client  storage.Client
	metrics *metrics.Collector
	tracker *progress.Tracker
	logger  *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// NewPool creates a new worker pool
func NewPool(
	size int,
	config Config,
	client storage.Client,
	metricsCollector *metrics.Collector,
	tracker *progress.Tracker,
	logger *zap.Logger,
) *Pool {
	if size < 1 {
		size = 1
	}
	if config.Retries < 1 {
		config.Retries = 1
	}
	if tracker == nil {
		tracker = progress.NewTracker("archive")
	}
	return &Pool{
		size:    size,
		config:  config,
		client:  client,
		metrics: metricsCollector,
		tracker: tracker,
		logger:  logger,
	}
}

// Start starts the worker pool
func (p *Pool) Start(ctx context.Context, tasks <-chan Task, wg *sync.WaitGroup) {
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go p.worker(ctx, i, tasks, wg)
	}
}

// Stats returns a snapshot of the counters
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.stats
	s.Failures = append([]Failure(nil), p.stats.Failures...)
	return s
}

func (p *Pool) worker(ctx context.Context, id int, tasks <-chan Task, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := p.logger.With(zap.Int("worker_id", id))
	logger.Debug("Worker started")
	p.metrics.AddInflightWorkers(1)
	defer p.metrics.AddInflightWorkers(-1)

	processor := &TaskProcessor{
		config:  p.config,
		client:  p.client,
		metrics: p.metrics,
		logger:  logger,
	}

	for {
		select {
		case task, ok := <-tasks:
			if !ok {
				logger.Debug("Worker finished - no more tasks")
				return
			}

			p.tracker.Start(task.Key)
			p.record(task, processor.Process(ctx, task))

		case <-ctx.Done():
			logger.Info("Worker stopped - context cancelled")
			return
		}
	}
}

func (p *Pool) record(task Task, res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch res.Outcome {
	case OutcomeUploaded:
		p.stats.Uploaded++
		p.stats.Bytes += task.Size
		p.tracker.AddSuccess()
	case OutcomeSkipped:
		p.stats.Skipped++
		p.tracker.AddSkipped()
	default:
		p.stats.Failed++
		p.stats.Failures = append(p.stats.Failures, Failure{Key: task.Key, Err: res.Err.Error()})
		p.tracker.AddFailed()
	}
}
