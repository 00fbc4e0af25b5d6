package capture

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ChromedpFactory opens isolated headless-Chrome sessions. Every session
// gets its own exec allocator so concurrent captures never share browser
// state.
type ChromedpFactory struct {
	logger    *zap.Logger
	userAgent string
}

// NewChromedpFactory creates a factory. logger may be nil.
func NewChromedpFactory(userAgent string, logger *zap.Logger) *ChromedpFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromedpFactory{logger: logger, userAgent: userAgent}
}

// OpenSession launches a browser sized to cfg and returns a Session bound
// to a fresh tab. The caller owns teardown via Close.
func (f *ChromedpFactory) OpenSession(ctx context.Context, cfg SessionConfig) (Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.WindowSize(int(cfg.Width), int(cfg.Height)),
	)
	if f.userAgent != "" {
		opts = append(opts, chromedp.UserAgent(f.userAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &chromedpSession{
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		logger:      f.logger,
	}
	if err := s.run(ctx, f.networkSetupAction(), chromedp.EmulateViewport(cfg.Width, cfg.Height)); err != nil {
		s.Close()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	return s, nil
}

// networkSetupAction enables the network domain and applies the configured
// user-agent override before the first navigation.
func (f *ChromedpFactory) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.userAgent != "" {
			if err := emulation.SetUserAgentOverride(f.userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

type chromedpSession struct {
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	logger      *zap.Logger
	closeOnce   sync.Once
}

// run executes chromedp actions on the session tab while honoring the
// caller's context deadline.
func (s *chromedpSession) run(ctx context.Context, actions ...chromedp.Action) error {
	taskCtx, cancel := context.WithCancel(s.tabCtx)
	defer cancel()

	stop := forwardCancel(ctx, cancel)
	defer stop()

	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("chromedp run: %w", ctx.Err())
		}
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

// Navigate loads url. With waitReady the document body must become ready;
// without it the bare navigation suffices.
func (s *chromedpSession) Navigate(ctx context.Context, url string, waitReady bool) error {
	actions := []chromedp.Action{chromedp.Navigate(url)}
	if waitReady {
		actions = append(actions, chromedp.WaitReady("body", chromedp.ByQuery))
	}
	return s.run(ctx, actions...)
}

// EvaluateInt runs expr and rounds its numeric result.
func (s *chromedpSession) EvaluateInt(ctx context.Context, expr string) (int64, error) {
	var v float64
	if err := s.run(ctx, chromedp.Evaluate(expr, &v)); err != nil {
		return 0, err
	}
	return int64(math.Round(v)), nil
}

// Evaluate runs expr discarding the result.
func (s *chromedpSession) Evaluate(ctx context.Context, expr string) error {
	return s.run(ctx, chromedp.Evaluate(expr, nil))
}

// Resize re-emulates the viewport at the given dimensions.
func (s *chromedpSession) Resize(ctx context.Context, width, height int64) error {
	return s.run(ctx, chromedp.EmulateViewport(width, height))
}

// CaptureImage screenshots the session into path. The image lands via a
// temp file and rename so a failed capture never clobbers path.
func (s *chromedpSession) CaptureImage(ctx context.Context, path string, fullExtent bool) error {
	var buf []byte
	var action chromedp.Action
	if fullExtent {
		action = chromedp.FullScreenshot(&buf, 100)
	} else {
		action = chromedp.CaptureScreenshot(&buf)
	}
	if err := s.run(ctx, action); err != nil {
		return err
	}
	return writeFileAtomic(path, buf)
}

// Close cancels the tab and allocator contexts. Safe to call repeatedly.
func (s *chromedpSession) Close() error {
	s.closeOnce.Do(func() {
		s.tabCancel()
		s.allocCancel()
	})
	return nil
}

// forwardCancel propagates the parent's cancellation into cancel until the
// returned stop function runs.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// writeFileAtomic stages data next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename image: %w", err)
	}
	return nil
}
