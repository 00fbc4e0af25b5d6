// Package memory provides the in-process batch status store.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tallshot/tallshot/internal/batch"
)

// BatchStore keeps batch records in a mutex-guarded map. Records live for
// the process lifetime unless the optional evictor is running.
type BatchStore struct {
	mu      sync.RWMutex
	records map[string]batch.Record
}

// NewBatchStore constructs an empty BatchStore.
func NewBatchStore() *BatchStore {
	return &BatchStore{
		records: make(map[string]batch.Record),
	}
}

// Create stores a fresh record. Duplicate ids are rejected.
func (s *BatchStore) Create(_ context.Context, record batch.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ID]; exists {
		return errors.New("batch already exists")
	}
	s.records[record.ID] = cloneRecord(record)
	return nil
}

// Get returns a copy of the record, or batch.ErrNotFound.
func (s *BatchStore) Get(_ context.Context, batchID string) (batch.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[batchID]
	if !ok {
		return batch.Record{}, batch.ErrNotFound
	}
	return cloneRecord(record), nil
}

// Update applies mutate to the stored record under the lock. This is the
// single serialized mutation path for concurrent completions.
func (s *BatchStore) Update(_ context.Context, batchID string, mutate func(*batch.Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[batchID]
	if !ok {
		return batch.ErrNotFound
	}
	mutate(&record)
	s.records[batchID] = record
	return nil
}

// StartEvictor removes completed records older than ttl, checking every
// interval, until ctx finishes. Eviction is opt-in; the base behavior
// retains records forever.
func (s *BatchStore) StartEvictor(ctx context.Context, ttl, interval time.Duration, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := s.evictBefore(now.Add(-ttl)); n > 0 {
					logger.Debug("evicted completed batches", zap.Int("count", n))
				}
			}
		}
	}()
}

func (s *BatchStore) evictBefore(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, record := range s.records {
		if record.Status == batch.StatusCompleted && record.Finished != nil && record.Finished.Before(cutoff) {
			delete(s.records, id)
			evicted++
		}
	}
	return evicted
}

// cloneRecord deep-copies the slices so callers cannot mutate stored state.
func cloneRecord(src batch.Record) batch.Record {
	dst := src
	if src.Finished != nil {
		t := *src.Finished
		dst.Finished = &t
	}
	if len(src.Succeeded) > 0 {
		dst.Succeeded = make([]batch.ItemSuccess, len(src.Succeeded))
		copy(dst.Succeeded, src.Succeeded)
	}
	if len(src.Failed) > 0 {
		dst.Failed = make([]batch.ItemFailure, len(src.Failed))
		copy(dst.Failed, src.Failed)
	}
	return dst
}
