package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tallshot/tallshot/internal/batch"
	"github.com/tallshot/tallshot/internal/capture"
	"github.com/tallshot/tallshot/internal/store/memory"
)

// fakeCapturer tracks in-flight operations and scripts failures per id.
type fakeCapturer struct {
	mu      sync.Mutex
	active  int
	peak    int
	calls   map[string]int
	failIDs map[string]bool
	delay   time.Duration
}

func newFakeCapturer() *fakeCapturer {
	return &fakeCapturer{
		calls:   map[string]int{},
		failIDs: map[string]bool{},
	}
}

func (f *fakeCapturer) Capture(_ context.Context, req capture.Request) capture.Result {
	f.mu.Lock()
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	f.calls[req.ID]++
	fail := f.failIDs[req.ID]
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.active--
	f.mu.Unlock()

	if fail {
		return capture.Result{
			ID:  req.ID,
			Err: capture.NewError(capture.KindNavigationFailed, "scripted failure", nil),
		}
	}
	return capture.Result{ID: req.ID, Success: true, OutputPath: req.OutputPath}
}

func (f *fakeCapturer) attempts(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeCapturer) peakActive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func newTestBatch(t *testing.T, store batch.Store, batchID string, total int) {
	t.Helper()
	err := store.Create(context.Background(), batch.Record{
		ID:        batchID,
		Status:    batch.StatusProcessing,
		Total:     total,
		Submitted: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func runJob(t *testing.T, capturer Capturer, store batch.Store, job Job) batch.Record {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	d := New(capturer, store, clock, zap.NewNop())
	d.Run(context.Background(), job)

	record, err := store.Get(context.Background(), job.BatchID)
	require.NoError(t, err)
	return record
}

func TestDispatcherRespectsConcurrencyBound(t *testing.T) {
	t.Parallel()

	ids := make([]string, 12)
	for i := range ids {
		ids[i] = string(rune('a' + i))
	}
	capturer := newFakeCapturer()
	capturer.delay = 20 * time.Millisecond

	store := memory.NewBatchStore()
	newTestBatch(t, store, "b1", len(ids))

	record := runJob(t, capturer, store, Job{
		BatchID:     "b1",
		IDs:         ids,
		Concurrency: 3,
		Retries:     1,
		OutputDir:   t.TempDir(),
	})

	assert.LessOrEqual(t, capturer.peakActive(), 3, "active operations must never exceed the limit")
	assert.Equal(t, batch.StatusCompleted, record.Status)
	assert.Equal(t, len(ids), record.Counters.Completed)
	assert.Equal(t, len(ids), record.Counters.Succeeded)
	assert.Zero(t, record.Counters.Failed)
	require.NotNil(t, record.Finished)
}

func TestDispatcherAllSucceed(t *testing.T) {
	t.Parallel()

	capturer := newFakeCapturer()
	store := memory.NewBatchStore()
	newTestBatch(t, store, "b2", 3)

	record := runJob(t, capturer, store, Job{
		BatchID:     "b2",
		IDs:         []string{"x1", "x2", "x3"},
		Concurrency: 2,
		Retries:     1,
		OutputDir:   t.TempDir(),
	})

	assert.Equal(t, batch.StatusCompleted, record.Status)
	assert.Equal(t, 3, record.Counters.Completed)
	assert.Equal(t, 3, record.Counters.Succeeded)
	assert.Zero(t, record.Counters.Failed)
	assert.Len(t, record.Succeeded, 3)
	assert.Empty(t, record.Failed)
	for _, item := range record.Succeeded {
		assert.Equal(t, 1, item.Attempts)
		assert.NotEmpty(t, item.OutputPath)
	}
}

func TestDispatcherRetriesExhausted(t *testing.T) {
	t.Parallel()

	capturer := newFakeCapturer()
	capturer.failIDs["bad"] = true
	store := memory.NewBatchStore()
	newTestBatch(t, store, "b3", 1)

	record := runJob(t, capturer, store, Job{
		BatchID:     "b3",
		IDs:         []string{"bad"},
		Concurrency: 1,
		Retries:     3,
		OutputDir:   t.TempDir(),
	})

	assert.Equal(t, 3, capturer.attempts("bad"), "an always-failing id is attempted exactly retries times")
	require.Len(t, record.Failed, 1)
	assert.Equal(t, "bad", record.Failed[0].ID)
	assert.Equal(t, 3, record.Failed[0].Attempts)
	assert.NotEmpty(t, record.Failed[0].Error)
	assert.Equal(t, 1, record.Counters.Completed)
	assert.Equal(t, 1, record.Counters.Failed)
	assert.Zero(t, record.Counters.Succeeded)
}

func TestDispatcherEmptyBatchCompletesImmediately(t *testing.T) {
	t.Parallel()

	capturer := newFakeCapturer()
	store := memory.NewBatchStore()
	newTestBatch(t, store, "b4", 0)

	record := runJob(t, capturer, store, Job{
		BatchID:     "b4",
		Concurrency: 2,
		Retries:     1,
		OutputDir:   t.TempDir(),
	})

	assert.Equal(t, batch.StatusCompleted, record.Status)
	assert.Zero(t, record.Counters.Completed)
	assert.Zero(t, record.Counters.Succeeded)
	assert.Zero(t, record.Counters.Failed)
	require.NotNil(t, record.Finished)
}

func TestDispatcherDuplicateIDsRunIndependently(t *testing.T) {
	t.Parallel()

	capturer := newFakeCapturer()
	store := memory.NewBatchStore()
	newTestBatch(t, store, "b5", 2)

	record := runJob(t, capturer, store, Job{
		BatchID:     "b5",
		IDs:         []string{"same", "same"},
		Concurrency: 2,
		Retries:     1,
		OutputDir:   t.TempDir(),
	})

	assert.Equal(t, 2, capturer.attempts("same"), "one operation per occurrence, no deduplication")
	require.Len(t, record.Succeeded, 2)
	assert.NotEqual(t, record.Succeeded[0].OutputPath, record.Succeeded[1].OutputPath,
		"duplicate occurrences get distinct artifacts")
}

func TestDispatcherClampsConcurrency(t *testing.T) {
	t.Parallel()

	capturer := newFakeCapturer()
	capturer.delay = 5 * time.Millisecond
	store := memory.NewBatchStore()
	newTestBatch(t, store, "b6", 3)

	record := runJob(t, capturer, store, Job{
		BatchID:     "b6",
		IDs:         []string{"a", "b", "c"},
		Concurrency: 0,
		Retries:     1,
		OutputDir:   t.TempDir(),
	})

	assert.Equal(t, 1, capturer.peakActive(), "zero concurrency clamps to one, never deadlocks")
	assert.Equal(t, batch.StatusCompleted, record.Status)
	assert.Equal(t, 3, record.Counters.Completed)
}

func TestDispatcherCountInvariantAfterEveryCompletion(t *testing.T) {
	t.Parallel()

	capturer := newFakeCapturer()
	capturer.delay = 5 * time.Millisecond
	capturer.failIDs["f1"] = true
	capturer.failIDs["f2"] = true

	store := memory.NewBatchStore()
	ids := []string{"s1", "f1", "s2", "f2", "s3", "s4"}
	newTestBatch(t, store, "b7", len(ids))

	clock := &fakeClock{now: time.Now().UTC()}
	d := New(capturer, store, clock, zap.NewNop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(context.Background(), Job{
			BatchID:     "b7",
			IDs:         ids,
			Concurrency: 3,
			Retries:     2,
			OutputDir:   t.TempDir(),
		})
	}()

	// Poll while the batch runs: the counter identity must hold at every
	// observable instant, not just at the end.
	deadline := time.After(5 * time.Second)
	for {
		record, err := store.Get(context.Background(), "b7")
		require.NoError(t, err)
		assert.Equal(t, record.Counters.Completed, len(record.Succeeded)+len(record.Failed))
		assert.Equal(t, record.Counters.Completed, record.Counters.Succeeded+record.Counters.Failed)
		assert.LessOrEqual(t, record.Counters.Completed, len(ids))

		select {
		case <-done:
			final, err := store.Get(context.Background(), "b7")
			require.NoError(t, err)
			assert.Equal(t, len(ids), final.Counters.Completed)
			assert.Equal(t, 4, final.Counters.Succeeded)
			assert.Equal(t, 2, final.Counters.Failed)
			return
		case <-deadline:
			t.Fatal("batch did not finish in time")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}
