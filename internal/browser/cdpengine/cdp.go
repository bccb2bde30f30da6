// Package cdpengine implements the browser engine on top of chromedp.
//
// One Chrome process is started per Engine and kept for its lifetime. Each
// session runs in a fresh browser context (the equivalent of an incognito
// window) that is disposed when the session is closed.
package cdpengine

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/AlfredBerg/rod-capture/internal/browser"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"
)

type Engine struct {
	cfg           browser.Config
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

var _ browser.Engine = (*Engine)(nil)

func New(cfg browser.Config) (*Engine, error) {
	cfg = cfg.Resolved()

	allocOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("headless", cfg.Headless),
	)
	bin := cfg.Bin
	if bin == "" {
		bin = os.Getenv("ROD_BROWSER_BIN")
	}
	if bin != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(bin))
	}
	if cfg.NoSandbox {
		allocOpts = append(allocOpts, chromedp.NoSandbox)
	}

	sugar := cfg.Logger.Sugar()
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Warnf),
	)

	// Start the browser eagerly so errors surface at creation time.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("%w: %v", browser.ErrLaunch, err)
	}
	cfg.Logger.Debug("browser launched", zap.Bool("headless", cfg.Headless), zap.String("bin", bin))

	return &Engine{
		cfg:           cfg,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

func (e *Engine) NewSession(ctx context.Context) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(e.browserCtx, chromedp.WithNewBrowserContext())
	s := &session{cfg: e.cfg, ctx: tabCtx, cancel: tabCancel}

	chromedp.ListenTarget(tabCtx, s.onEvent)

	// The first Run attaches the tab and its event loop lives on the ctx it
	// gets, so it must run on tabCtx itself. Bound it by cancelling the tab.
	stopCancel := context.AfterFunc(ctx, tabCancel)
	timer := time.AfterFunc(e.cfg.NavigationTimeout, tabCancel)
	err := chromedp.Run(tabCtx, network.Enable())
	if !timer.Stop() && err == nil {
		err = context.DeadlineExceeded
	}
	if !stopCancel() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		tabCancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", browser.ErrSession, err)
	}
	return s, nil
}

// Close releases all resources held by the Engine, including the
// browser process. Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	err := chromedp.Cancel(e.browserCtx)
	e.browserCancel()
	e.allocCancel()
	return err
}

type session struct {
	cfg    browser.Config
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	tracker *browser.IdleTracker
}

// run executes actions on the already attached tab. The actions stop when
// the caller's ctx ends, when timeout elapses, or when the session is closed.
// Cancelling runCtx only aborts these actions, not the tab.
func (s *session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		defer cancelTimeout()
	}

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (s *session) onEvent(ev interface{}) {
	s.mu.Lock()
	tracker := s.tracker
	s.mu.Unlock()
	if tracker == nil {
		return
	}

	switch ev := ev.(type) {
	case *network.EventRequestWillBeSent:
		tracker.RequestStarted(string(ev.RequestID))
	case *network.EventLoadingFinished:
		tracker.RequestFinished(string(ev.RequestID))
	case *network.EventLoadingFailed:
		tracker.RequestFinished(string(ev.RequestID))
	}
}

func (s *session) setTracker(t *browser.IdleTracker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tracker != nil {
		s.tracker.Stop()
	}
	s.tracker = t
}

// waitTracker waits for t, bounded by the caller's ctx and the navigation timeout.
func (s *session) waitTracker(ctx context.Context, t *browser.IdleTracker, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := t.Wait(waitCtx); err != nil {
		return fmt.Errorf("%w: waiting for network idle (%d in flight): %v", browser.ErrNavigation, t.Inflight(), err)
	}
	return nil
}

func (s *session) SetViewport(ctx context.Context, v browser.Viewport) error {
	scale := v.Scale
	if scale == 0 {
		scale = 1
	}
	return s.run(ctx, s.cfg.NavigationTimeout, chromedp.EmulateViewport(int64(v.Width), int64(v.Height), chromedp.EmulateScale(scale)))
}

func (s *session) Emulate(ctx context.Context, d browser.Device) error {
	actions := []chromedp.Action{
		emulation.SetDeviceMetricsOverride(int64(d.Width), int64(d.Height), d.Scale, d.Mobile),
		emulation.SetTouchEmulationEnabled(d.Touch),
	}
	if d.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(d.UserAgent))
	}
	return s.run(ctx, s.cfg.NavigationTimeout, actions...)
}

func (s *session) Navigate(ctx context.Context, target string, idle *browser.IdlePolicy) error {
	start := time.Now()

	var tracker *browser.IdleTracker
	if idle != nil {
		tracker = browser.NewIdleTracker(*idle)
		s.setTracker(tracker)
		defer s.setTracker(nil)
	}

	if err := s.run(ctx, s.cfg.NavigationTimeout, chromedp.Navigate(target)); err != nil {
		return fmt.Errorf("%w: %v", browser.ErrNavigation, err)
	}

	if tracker != nil {
		tracker.Arm()
		remaining := s.cfg.NavigationTimeout - time.Since(start)
		if remaining <= 0 {
			remaining = time.Millisecond
		}
		return s.waitTracker(ctx, tracker, remaining)
	}
	return nil
}

func (s *session) WaitIdle(ctx context.Context, idle browser.IdlePolicy) error {
	tracker := browser.NewIdleTracker(idle)
	s.setTracker(tracker)
	defer s.setTracker(nil)

	tracker.Arm()
	return s.waitTracker(ctx, tracker, s.cfg.NavigationTimeout)
}

func (s *session) WaitSelector(ctx context.Context, selector string) error {
	if err := s.run(ctx, s.cfg.SelectorTimeout, chromedp.WaitReady(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("%w: %q: %v", browser.ErrSelectorTimeout, selector, err)
	}
	return nil
}

func (s *session) Eval(ctx context.Context, fn string) error {
	return s.run(ctx, s.cfg.NavigationTimeout,
		chromedp.Evaluate("("+fn+")()", nil, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}),
	)
}

func (s *session) Type(ctx context.Context, selector, text string, submit bool) error {
	if err := s.run(ctx, s.cfg.SelectorTimeout, chromedp.WaitReady(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("%w: %q: %v", browser.ErrSelectorTimeout, selector, err)
	}
	if submit {
		text += kb.Enter
	}
	return s.run(ctx, s.cfg.SelectorTimeout, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

func (s *session) PDF(ctx context.Context, opts browser.PDFOptions) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, s.cfg.NavigationTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		params := page.PrintToPDF().
			WithPaperWidth(opts.PaperWidth).
			WithPaperHeight(opts.PaperHeight).
			WithMarginTop(opts.MarginTop).
			WithMarginRight(opts.MarginRight).
			WithMarginBottom(opts.MarginBottom).
			WithMarginLeft(opts.MarginLeft).
			WithPrintBackground(opts.PrintBackground).
			WithLandscape(opts.Landscape)
		if opts.Scale > 0 {
			params = params.WithScale(opts.Scale)
		}

		var err error
		buf, _, err = params.Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", browser.ErrCapture, err)
	}
	return buf, nil
}

func (s *session) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	var buf []byte
	action := chromedp.CaptureScreenshot(&buf)
	if fullPage {
		// quality 100 selects PNG encoding
		action = chromedp.FullScreenshot(&buf, 100)
	}
	if err := s.run(ctx, s.cfg.NavigationTimeout, action); err != nil {
		return nil, fmt.Errorf("%w: %v", browser.ErrCapture, err)
	}
	return buf, nil
}

func (s *session) HTML(ctx context.Context) (string, error) {
	var html string
	err := s.run(ctx, s.cfg.SelectorTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (s *session) URL(ctx context.Context) (string, error) {
	var u string
	err := s.run(ctx, s.cfg.NavigationTimeout, chromedp.Location(&u))
	return u, err
}

func (s *session) Close() error {
	s.setTracker(nil)
	err := chromedp.Cancel(s.ctx)
	s.cancel()
	return err
}
