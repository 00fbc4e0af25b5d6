package capture

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Navigation retry tuning. These are in-call attempts, separate from the
// dispatcher-level retry policy.
const (
	navAttempts = 3
	navBackoff  = 500 * time.Millisecond
)

// Config controls the capture client.
type Config struct {
	// BaseURL is the target URL template. A "{id}" placeholder is
	// replaced with the escaped page identifier; without a placeholder
	// the identifier is appended as a path segment.
	BaseURL string
	// HostQPS caps capture starts per target host. Zero disables the cap.
	HostQPS float64
}

// Client captures full-page renderings of pages identified by opaque IDs.
// Safe for concurrent use; each capture owns exactly one session.
type Client struct {
	sessions     SessionFactory
	cfg          Config
	logger       *zap.Logger
	hostLimiters sync.Map
}

// NewClient wires a capture client over the given session factory.
func NewClient(sessions SessionFactory, cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		sessions: sessions,
		cfg:      cfg,
		logger:   logger,
	}
}

// Capture renders the page for req.ID and writes a PNG to req.OutputPath.
// The result is reported in-band; the error taxonomy lives in Result.Err.
func (c *Client) Capture(ctx context.Context, req Request) Result {
	start := time.Now()
	res := Result{ID: req.ID}

	fail := func(err *Error) Result {
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}

	if strings.TrimSpace(req.ID) == "" {
		return fail(NewError(KindInvalidInput, "empty page id", nil))
	}
	if req.OutputPath == "" {
		return fail(NewError(KindInvalidInput, "empty output path", nil))
	}

	opts := req.Options.withDefaults()
	target := c.buildTargetURL(req.ID)

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	if err := c.waitHostBudget(ctx, target); err != nil {
		return fail(classify(KindNavigationFailed, "host rate limit", err))
	}

	sess, err := c.sessions.OpenSession(ctx, SessionConfig{
		Width:    opts.Width,
		Height:   opts.InitialHeight,
		Headless: opts.Headless,
	})
	if err != nil {
		return fail(classify(KindNavigationFailed, "open session", err))
	}
	defer func() {
		if closeErr := sess.Close(); closeErr != nil {
			c.logger.Warn("session close failed",
				zap.String("id", req.ID),
				zap.Error(closeErr),
			)
		}
	}()

	if err := c.navigate(ctx, sess, target, opts.Wait); err != nil {
		return fail(classify(KindNavigationFailed, "navigate "+target, err))
	}

	if err := c.scrollPasses(ctx, sess, opts); err != nil {
		// Lazy-load scrolling is best effort; the capture may still be
		// complete without it.
		c.logger.Debug("scroll pass incomplete", zap.String("id", req.ID), zap.Error(err))
	}

	if opts.SectionHeight > 0 {
		err = c.captureSections(ctx, sess, req, opts)
	} else {
		err = c.captureFullPage(ctx, sess, req, opts)
	}
	if err != nil {
		return fail(classify(KindCaptureWrite, "capture "+req.ID, err))
	}

	res.Success = true
	res.OutputPath = req.OutputPath
	res.Duration = time.Since(start)
	c.logger.Info("page captured",
		zap.String("id", req.ID),
		zap.String("path", req.OutputPath),
		zap.Duration("duration", res.Duration),
	)
	return res
}

// navigate loads target with the primary readiness condition, retrying a
// fixed number of times with a fixed backoff, then falls back to a looser
// load before giving up.
func (c *Client) navigate(ctx context.Context, sess Session, target string, wait time.Duration) error {
	var lastErr error
	for attempt := 1; attempt <= navAttempts; attempt++ {
		err := sess.Navigate(ctx, target, true)
		if err == nil {
			return sleepCtx(ctx, wait)
		}
		lastErr = err
		if ctx.Err() != nil {
			return lastErr
		}
		c.logger.Debug("navigation attempt failed",
			zap.String("url", target),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if err := sleepCtx(ctx, navBackoff); err != nil {
			return lastErr
		}
	}

	if err := sess.Navigate(ctx, target, false); err != nil {
		return fmt.Errorf("loose navigation after %d attempts: %w", navAttempts, lastErr)
	}
	return sleepCtx(ctx, wait)
}

// scrollPasses advances through the page in fixed increments so
// lazy-loaded content materializes, then returns to the origin.
func (c *Client) scrollPasses(ctx context.Context, sess Session, opts Options) error {
	height, err := sess.EvaluateInt(ctx, documentHeightJS)
	if err != nil || height <= 0 {
		height = opts.InitialHeight
	}
	for y := opts.ScrollStep; y < height; y += opts.ScrollStep {
		if err := sess.Evaluate(ctx, scrollToJS(y)); err != nil {
			return fmt.Errorf("scroll to %d: %w", y, err)
		}
		if err := sleepCtx(ctx, opts.ScrollPause); err != nil {
			return err
		}
	}
	if err := sess.Evaluate(ctx, scrollToJS(0)); err != nil {
		return fmt.Errorf("scroll to origin: %w", err)
	}
	return sleepCtx(ctx, opts.ScrollPause)
}

// captureFullPage resizes the canvas to the detected content height and
// takes one full-extent shot.
func (c *Client) captureFullPage(ctx context.Context, sess Session, req Request, opts Options) error {
	height := opts.ContentHeight
	if height <= 0 {
		detected, err := detectHeight(ctx, sess, c.logger)
		if err != nil {
			// Height detection failure is recovered with the tall
			// initial canvas rather than surfaced.
			c.logger.Warn("height detection failed, using initial canvas height",
				zap.String("id", req.ID),
				zap.Error(err),
			)
			detected = opts.InitialHeight
		}
		height = detected
	}

	if err := sess.Resize(ctx, opts.Width, height); err != nil {
		return fmt.Errorf("resize to %dx%d: %w", opts.Width, height, err)
	}
	if err := sess.CaptureImage(ctx, req.OutputPath, true); err != nil {
		return fmt.Errorf("full-extent capture: %w", err)
	}
	return nil
}

// captureSections captures the page as fixed-height bands and stitches
// them into one image. Peak memory stays bounded by the band size at the
// cost of extra wall clock.
func (c *Client) captureSections(ctx context.Context, sess Session, req Request, opts Options) error {
	total := opts.ContentHeight
	if total <= 0 {
		detected, err := detectHeight(ctx, sess, c.logger)
		if err != nil {
			detected = opts.InitialHeight
		}
		total = detected
	}

	sections := numSections(total, opts.SectionHeight)
	if sections == 0 {
		return fmt.Errorf("no sections for height %d band %d", total, opts.SectionHeight)
	}

	tmpDir, err := os.MkdirTemp(filepath.Dir(req.OutputPath), "bands-")
	if err != nil {
		return fmt.Errorf("band temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	bands := make([]string, 0, sections)
	for i := 0; i < sections; i++ {
		if err := sess.Resize(ctx, opts.Width, opts.SectionHeight); err != nil {
			return fmt.Errorf("resize band %d: %w", i, err)
		}
		offset := int64(i) * opts.SectionHeight
		if err := sess.Evaluate(ctx, scrollToJS(offset)); err != nil {
			return fmt.Errorf("scroll band %d: %w", i, err)
		}
		if err := sleepCtx(ctx, opts.ScrollPause); err != nil {
			return err
		}
		bandPath := filepath.Join(tmpDir, fmt.Sprintf("band-%03d.png", i))
		if err := sess.CaptureImage(ctx, bandPath, false); err != nil {
			return fmt.Errorf("capture band %d: %w", i, err)
		}
		bands = append(bands, bandPath)
	}

	// The browser is done before the stitch starts; the deferred Close in
	// Capture is a no-op after this.
	if err := sess.Close(); err != nil {
		c.logger.Warn("session close before stitch failed", zap.Error(err))
	}

	if err := stitchBands(bands, opts.Width, total, opts.SectionHeight, req.OutputPath); err != nil {
		return fmt.Errorf("stitch %d bands: %w", sections, err)
	}
	return nil
}

// buildTargetURL expands the configured template with the escaped page id.
func (c *Client) buildTargetURL(id string) string {
	escaped := url.PathEscape(id)
	if strings.Contains(c.cfg.BaseURL, "{id}") {
		return strings.ReplaceAll(c.cfg.BaseURL, "{id}", escaped)
	}
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + escaped
}

// waitHostBudget throttles capture starts per target host.
func (c *Client) waitHostBudget(ctx context.Context, target string) error {
	if c.cfg.HostQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("parse target url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := c.hostLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(c.cfg.HostQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait host limiter: %w", err)
	}
	return nil
}

func scrollToJS(y int64) string {
	return fmt.Sprintf("window.scrollTo(0, %d)", y)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait interrupted: %w", ctx.Err())
	}
}
