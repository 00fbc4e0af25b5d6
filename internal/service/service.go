// Package service is the orchestration facade external collaborators call.
package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/tallshot/tallshot/internal/batch"
	"github.com/tallshot/tallshot/internal/capture"
	"github.com/tallshot/tallshot/internal/dispatcher"
	"github.com/tallshot/tallshot/internal/metrics"
)

// Config carries the facade's defaults.
type Config struct {
	OutputDir          string
	DefaultConcurrency int
	DefaultRetries     int
	Options            capture.Options
}

// Service submits batches, reports their status, and runs single captures.
type Service struct {
	store      batch.Store
	capturer   dispatcher.Capturer
	dispatcher *dispatcher.Dispatcher
	idGen      batch.IDGenerator
	clock      batch.Clock
	cfg        Config
	logger     *zap.Logger
}

// New wires the facade.
func New(
	store batch.Store,
	capturer dispatcher.Capturer,
	disp *dispatcher.Dispatcher,
	idGen batch.IDGenerator,
	clock batch.Clock,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultConcurrency < 1 {
		cfg.DefaultConcurrency = 1
	}
	if cfg.DefaultRetries < 1 {
		cfg.DefaultRetries = 1
	}
	return &Service{
		store:      store,
		capturer:   capturer,
		dispatcher: disp,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// SubmitBatch validates the identifier list, creates the batch record in
// processing state, and starts dispatch detached. The caller never blocks
// on capture work; the only externally observable effect is eventual
// status-store mutation.
func (s *Service) SubmitBatch(ctx context.Context, ids []string, concurrency, retries int) (string, error) {
	if len(ids) == 0 {
		return "", capture.NewError(capture.KindInvalidInput, "ids must be a non-empty list", nil)
	}
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return "", capture.NewError(capture.KindInvalidInput, "ids must not contain blank entries", nil)
		}
	}
	if concurrency < 1 {
		concurrency = s.cfg.DefaultConcurrency
	}
	if retries < 1 {
		retries = s.cfg.DefaultRetries
	}

	batchID, err := s.idGen.NewID()
	if err != nil {
		return "", capture.NewError(capture.KindInvalidInput, "generate batch id", err)
	}

	record := batch.Record{
		ID:        batchID,
		Status:    batch.StatusProcessing,
		Total:     len(ids),
		Submitted: s.clock.Now(),
		Succeeded: []batch.ItemSuccess{},
		Failed:    []batch.ItemFailure{},
	}
	if err := s.store.Create(ctx, record); err != nil {
		return "", capture.NewError(capture.KindInvalidInput, "create batch record", err)
	}
	metrics.ObserveBatch("submitted")

	job := dispatcher.Job{
		BatchID:     batchID,
		IDs:         append([]string(nil), ids...),
		Concurrency: concurrency,
		Retries:     retries,
		OutputDir:   s.cfg.OutputDir,
		Options:     s.cfg.Options,
	}
	s.logger.Info("batch submitted",
		zap.String("batch_id", batchID),
		zap.Int("total", len(ids)),
		zap.Int("concurrency", concurrency),
		zap.Int("retries", retries),
	)

	// Dispatch outlives the submitting request; it runs on the process
	// lifetime, not the caller's context.
	go s.dispatcher.Run(context.Background(), job)

	return batchID, nil
}

// BatchStatus is a pure read. Unknown ids return batch.ErrNotFound.
func (s *Service) BatchStatus(ctx context.Context, batchID string) (batch.Record, error) {
	return s.store.Get(ctx, batchID)
}

// CaptureOne is the single-item path that bypasses the batch dispatcher.
// Success and failure surface synchronously in the result.
func (s *Service) CaptureOne(ctx context.Context, id, outputPath string, opts capture.Options) capture.Result {
	req := capture.Request{ID: id, OutputPath: outputPath, Options: opts}
	res := s.capturer.Capture(ctx, req)
	metrics.ObserveCapture(res.Success)
	return res
}
