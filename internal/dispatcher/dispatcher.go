// Package dispatcher fans batch capture work out under a concurrency bound.
package dispatcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tallshot/tallshot/internal/batch"
	"github.com/tallshot/tallshot/internal/capture"
	"github.com/tallshot/tallshot/internal/metrics"
)

// Capturer runs one capture attempt end to end.
type Capturer interface {
	Capture(ctx context.Context, req capture.Request) capture.Result
}

// Job is the unit of work handed to Run: one batch worth of identifiers.
type Job struct {
	BatchID     string
	IDs         []string
	Concurrency int
	Retries     int
	OutputDir   string
	Options     capture.Options
}

// Dispatcher admits capture-with-retry operations up to a per-batch
// concurrency limit and records every completion in the status store.
type Dispatcher struct {
	capturer Capturer
	store    batch.Store
	clock    batch.Clock
	logger   *zap.Logger
}

// New creates a Dispatcher.
func New(capturer Capturer, store batch.Store, clock batch.Clock, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		capturer: capturer,
		store:    store,
		clock:    clock,
		logger:   logger,
	}
}

// Run processes the job's identifiers FIFO, admitting a new operation the
// moment a capacity slot frees, and blocks until the batch completes. The
// active count never exceeds the concurrency limit. Duplicate identifiers
// each get their own operation.
func (d *Dispatcher) Run(ctx context.Context, job Job) {
	limit := job.Concurrency
	if limit < 1 {
		limit = 1
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i, id := range job.IDs {
		sem <- struct{}{}
		wg.Add(1)
		go func(seq int, id string) {
			defer wg.Done()
			defer func() { <-sem }()
			d.processOne(ctx, job, seq, id)
		}(i, id)
	}
	wg.Wait()

	d.complete(ctx, job.BatchID)
}

// processOne runs capture-with-retry for a single identifier and applies
// the outcome to the batch record.
func (d *Dispatcher) processOne(ctx context.Context, job Job, seq int, id string) {
	metrics.IncActiveCaptures()
	defer metrics.DecActiveCaptures()

	outputPath, err := d.outputPathFor(job, seq, id)
	if err != nil {
		d.recordFailure(ctx, job.BatchID, id, 1, err)
		return
	}

	var last capture.Result
	attempts, err := capture.WithRetry(ctx, job.Retries, d.attemptHook(job.BatchID, id),
		func(ctx context.Context, attempt int) error {
			req := capture.Request{
				ID:         id,
				OutputPath: outputPath,
				Options:    job.Options,
			}
			last = d.capturer.Capture(ctx, req)
			if !last.Success {
				return last.Err
			}
			return nil
		})
	if err != nil {
		d.recordFailure(ctx, job.BatchID, id, attempts, err)
		return
	}
	d.recordSuccess(ctx, job.BatchID, id, attempts, last.OutputPath)
}

// attemptHook makes every attempt observable through logs and metrics.
func (d *Dispatcher) attemptHook(batchID, id string) capture.AttemptHook {
	return func(attempt int, duration time.Duration, err error) {
		metrics.ObserveAttempt(err == nil, duration)
		if err != nil {
			d.logger.Warn("capture attempt failed",
				zap.String("batch_id", batchID),
				zap.String("id", id),
				zap.Int("attempt", attempt),
				zap.Duration("duration", duration),
				zap.Error(err),
			)
			return
		}
		d.logger.Debug("capture attempt succeeded",
			zap.String("batch_id", batchID),
			zap.String("id", id),
			zap.Int("attempt", attempt),
			zap.Duration("duration", duration),
		)
	}
}

func (d *Dispatcher) recordSuccess(ctx context.Context, batchID, id string, attempts int, outputPath string) {
	metrics.ObserveCapture(true)
	d.updateRecord(ctx, batchID, func(r *batch.Record) {
		r.Counters.Completed++
		r.Counters.Succeeded++
		r.Succeeded = append(r.Succeeded, batch.ItemSuccess{
			ID:         id,
			OutputPath: outputPath,
			Attempts:   attempts,
		})
	})
}

func (d *Dispatcher) recordFailure(ctx context.Context, batchID, id string, attempts int, err error) {
	metrics.ObserveCapture(false)
	d.updateRecord(ctx, batchID, func(r *batch.Record) {
		r.Counters.Completed++
		r.Counters.Failed++
		r.Failed = append(r.Failed, batch.ItemFailure{
			ID:       id,
			Error:    err.Error(),
			Attempts: attempts,
		})
	})
}

// complete freezes the batch exactly once.
func (d *Dispatcher) complete(ctx context.Context, batchID string) {
	d.updateRecord(ctx, batchID, func(r *batch.Record) {
		if r.Status == batch.StatusCompleted {
			return
		}
		r.Status = batch.StatusCompleted
		now := d.clock.Now()
		r.Finished = &now
	})
	metrics.ObserveBatch("completed")
	d.logger.Info("batch completed", zap.String("batch_id", batchID))
}

func (d *Dispatcher) updateRecord(ctx context.Context, batchID string, mutate func(*batch.Record)) {
	if err := d.store.Update(ctx, batchID, mutate); err != nil {
		d.logger.Error("batch record update failed",
			zap.String("batch_id", batchID),
			zap.Error(err),
		)
	}
}

// outputPathFor derives the artifact location for one occurrence of an
// identifier. Occurrences are numbered so duplicates inside a batch do not
// clobber each other.
func (d *Dispatcher) outputPathFor(job Job, seq int, id string) (string, error) {
	dir := filepath.Join(job.OutputDir, job.BatchID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return filepath.Join(dir, fmt.Sprintf("%s-%03d.png", sanitizeFilename(id), seq)), nil
}

// sanitizeFilename keeps the identifier recognizable while dropping
// anything path-hostile.
func sanitizeFilename(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "page"
	}
	return b.String()
}
