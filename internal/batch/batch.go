// Package batch defines the batch domain model shared across subsystems.
package batch

import (
	"context"
	"errors"
	"time"
)

// Status represents the lifecycle state of a batch.
type Status string

// Batch status values held in the status store.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

// ErrNotFound is returned when a batch id was never submitted. The store
// never synthesizes records.
var ErrNotFound = errors.New("batch not found")

// Counters tracks per-batch completion stats. The invariant
// Completed == Succeeded + Failed holds after every completion event.
type Counters struct {
	Completed int `json:"completed"`
	Succeeded int `json:"successful"`
	Failed    int `json:"failed"`
}

// ItemSuccess records one captured identifier.
type ItemSuccess struct {
	ID         string `json:"id"`
	OutputPath string `json:"output_path"`
	Attempts   int    `json:"attempts"`
}

// ItemFailure records one identifier that exhausted its retries.
type ItemFailure struct {
	ID       string `json:"id"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}

// Record is the mutable progress record for one batch. It is owned by the
// status store; all mutation goes through Store.Update.
type Record struct {
	ID        string        `json:"id"`
	Status    Status        `json:"status"`
	Total     int           `json:"total"`
	Counters  Counters      `json:"counters"`
	Submitted time.Time     `json:"submitted_at"`
	Finished  *time.Time    `json:"finished_at,omitempty"`
	Succeeded []ItemSuccess `json:"succeeded"`
	Failed    []ItemFailure `json:"failed"`
}

// Store holds batch records for the lifetime of the process. All mutation
// is serialized inside Update; callers receive copies from Get.
type Store interface {
	Create(ctx context.Context, record Record) error
	Get(ctx context.Context, batchID string) (Record, error)
	Update(ctx context.Context, batchID string, mutate func(*Record)) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces batch IDs.
type IDGenerator interface {
	NewID() (string, error)
}
