// Package capture renders remote pages to full-page PNG images.
package capture

import (
	"context"
	"time"
)

// Defaults applied when an Options field is zero.
const (
	DefaultWidth         int64 = 1920
	DefaultInitialHeight int64 = 3000
	DefaultScrollStep    int64 = 800
	DefaultTimeout             = 90 * time.Second
	DefaultWait                = 2 * time.Second
	DefaultScrollPause         = 400 * time.Millisecond
)

// Options tunes one capture attempt. The zero value is usable; empty
// fields fall back to the package defaults above.
type Options struct {
	// Timeout bounds the whole attempt wall-clock, teardown included.
	Timeout time.Duration
	// Wait is the settle pause after navigation succeeds.
	Wait time.Duration
	// Headless toggles headless Chrome. Defaults to true via config.
	Headless bool
	// Width is the render viewport width in CSS pixels.
	Width int64
	// InitialHeight sizes the canvas before the true height is known.
	InitialHeight int64
	// ScrollStep is the per-pass scroll increment in pixels.
	ScrollStep int64
	// ScrollPause is the pause after each scroll step.
	ScrollPause time.Duration
	// ContentHeight, when > 0, skips dynamic height detection.
	ContentHeight int64
	// SectionHeight, when > 0, switches to sectioned capture with bands
	// of this height.
	SectionHeight int64
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Wait <= 0 {
		o.Wait = DefaultWait
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.InitialHeight <= 0 {
		o.InitialHeight = DefaultInitialHeight
	}
	if o.ScrollStep <= 0 {
		o.ScrollStep = DefaultScrollStep
	}
	if o.ScrollPause <= 0 {
		o.ScrollPause = DefaultScrollPause
	}
	return o
}

// Request identifies one capture attempt. Created per attempt; never
// mutated after construction.
type Request struct {
	ID         string
	OutputPath string
	Options    Options
}

// Result is produced exactly once per capture attempt.
type Result struct {
	ID         string
	Success    bool
	OutputPath string
	Duration   time.Duration
	Err        *Error
}

// SessionConfig sizes the rendering session at open time.
type SessionConfig struct {
	Width    int64
	Height   int64
	Headless bool
}

// Session is one isolated, disposable rendering context. Implementations
// must tolerate Close being called more than once.
type Session interface {
	// Navigate loads the target URL. When waitReady is true the primary
	// readiness condition (document body ready) is required; false only
	// demands the navigation itself commits.
	Navigate(ctx context.Context, url string, waitReady bool) error
	// EvaluateInt runs a script expression and returns its numeric result.
	EvaluateInt(ctx context.Context, expr string) (int64, error)
	// Evaluate runs a script expression for its side effects.
	Evaluate(ctx context.Context, expr string) error
	// Resize changes the session viewport.
	Resize(ctx context.Context, width, height int64) error
	// CaptureImage writes a PNG of the session to path. fullExtent
	// captures the whole page rather than the viewport.
	CaptureImage(ctx context.Context, path string, fullExtent bool) error
	// Close tears the session down. Always called, on every exit path.
	Close() error
}

// SessionFactory opens rendering sessions. One session serves exactly one
// capture attempt.
type SessionFactory interface {
	OpenSession(ctx context.Context, cfg SessionConfig) (Session, error)
}
