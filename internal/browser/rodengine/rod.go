package rodengine

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/AlfredBerg/rod-capture/internal/browser"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Engine drives a single Chromium process through go-rod. Sessions are
// incognito browser contexts of that process.
type Engine struct {
	cfg      browser.Config
	launcher *launcher.Launcher
	browser  *rod.Browser
	log      *zap.Logger
}

var _ browser.Engine = (*Engine)(nil)

func New(cfg browser.Config) (*Engine, error) {
	cfg = cfg.Resolved()

	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox)

	// Use pre-installed browser if specified, otherwise rod finds or downloads one
	bin := cfg.Bin
	if bin == "" {
		bin = os.Getenv("ROD_BROWSER_BIN")
	}
	if bin != "" {
		l = l.Bin(bin)
	}

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", browser.ErrLaunch, err)
	}

	b := rod.New().ControlURL(url)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("%w: %v", browser.ErrLaunch, err)
	}

	//Don't download files in the browser, e.g. pdf files
	if err := (proto.BrowserSetDownloadBehavior{
		Behavior: proto.BrowserSetDownloadBehaviorBehaviorDeny,
	}).Call(b); err != nil {
		cfg.Logger.Debug("could not deny downloads", zap.Error(err))
	}

	cfg.Logger.Debug("browser launched", zap.String("control_url", url))

	return &Engine{cfg: cfg, launcher: l, browser: b, log: cfg.Logger}, nil
}

func (e *Engine) NewSession(ctx context.Context) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	incognito, err := e.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", browser.ErrSession, err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("%w: %v", browser.ErrSession, err), incognito.Close())
	}

	// Dismiss alerts so a dialog can never block a capture
	events, stopEvents := page.WithCancel()
	go events.EachEvent(func(ev *proto.PageJavascriptDialogOpening) {
		_ = proto.PageHandleJavaScriptDialog{Accept: false, PromptText: ""}.Call(page)
	})()

	return &session{cfg: e.cfg, incognito: incognito, page: page, stopEvents: stopEvents}, nil
}

func (e *Engine) Close() error {
	err := e.browser.Close()
	e.launcher.Cleanup()
	return err
}

type session struct {
	cfg        browser.Config
	incognito  *rod.Browser
	page       *rod.Page
	stopEvents func()
}

func (s *session) SetViewport(ctx context.Context, v browser.Viewport) error {
	return s.page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             v.Width,
		Height:            v.Height,
		DeviceScaleFactor: v.Scale,
	})
}

func (s *session) Emulate(ctx context.Context, d browser.Device) error {
	p := s.page.Context(ctx)
	if err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             d.Width,
		Height:            d.Height,
		DeviceScaleFactor: d.Scale,
		Mobile:            d.Mobile,
	}); err != nil {
		return err
	}
	if err := (proto.EmulationSetTouchEmulationEnabled{Enabled: d.Touch}).Call(p); err != nil {
		return err
	}
	if d.UserAgent == "" {
		return nil
	}
	return p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: d.UserAgent})
}

// track feeds the page's network events into tracker until the returned
// stop function is called.
func track(p *rod.Page, tracker *browser.IdleTracker) (stop func()) {
	p, cancel := p.WithCancel()
	wait := p.EachEvent(
		func(ev *proto.NetworkRequestWillBeSent) {
			tracker.RequestStarted(string(ev.RequestID))
		},
		func(ev *proto.NetworkLoadingFinished) {
			tracker.RequestFinished(string(ev.RequestID))
		},
		func(ev *proto.NetworkLoadingFailed) {
			tracker.RequestFinished(string(ev.RequestID))
		},
	)
	go wait()
	return func() {
		cancel()
		tracker.Stop()
	}
}

func (s *session) Navigate(ctx context.Context, target string, idle *browser.IdlePolicy) error {
	p := s.page.Context(ctx).Timeout(s.cfg.NavigationTimeout)
	defer p.CancelTimeout()

	var tracker *browser.IdleTracker
	if idle != nil {
		tracker = browser.NewIdleTracker(*idle)
		stop := track(p, tracker)
		defer stop()
	}

	if err := p.Navigate(target); err != nil {
		return fmt.Errorf("%w: %v", browser.ErrNavigation, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("%w: waiting for load: %v", browser.ErrNavigation, err)
	}

	if tracker != nil {
		tracker.Arm()
		if err := tracker.Wait(p.GetContext()); err != nil {
			return fmt.Errorf("%w: waiting for network idle (%d in flight): %v", browser.ErrNavigation, tracker.Inflight(), err)
		}
	}
	return nil
}

func (s *session) WaitIdle(ctx context.Context, idle browser.IdlePolicy) error {
	p := s.page.Context(ctx).Timeout(s.cfg.NavigationTimeout)
	defer p.CancelTimeout()

	tracker := browser.NewIdleTracker(idle)
	stop := track(p, tracker)
	defer stop()

	tracker.Arm()
	if err := tracker.Wait(p.GetContext()); err != nil {
		return fmt.Errorf("%w: waiting for network idle (%d in flight): %v", browser.ErrNavigation, tracker.Inflight(), err)
	}
	return nil
}

func (s *session) WaitSelector(ctx context.Context, selector string) error {
	p := s.page.Context(ctx).Timeout(s.cfg.SelectorTimeout)
	defer p.CancelTimeout()

	if _, err := p.Element(selector); err != nil {
		return fmt.Errorf("%w: %q: %v", browser.ErrSelectorTimeout, selector, err)
	}
	return nil
}

func (s *session) Eval(ctx context.Context, fn string) error {
	p := s.page.Context(ctx).Timeout(s.cfg.NavigationTimeout)
	defer p.CancelTimeout()

	_, err := p.Eval(fn)
	return err
}

func (s *session) Type(ctx context.Context, selector, text string, submit bool) error {
	p := s.page.Context(ctx).Timeout(s.cfg.SelectorTimeout)
	defer p.CancelTimeout()

	el, err := p.Element(selector)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", browser.ErrSelectorTimeout, selector, err)
	}
	if err := el.Input(text); err != nil {
		return err
	}
	if submit {
		return el.Type(input.Enter)
	}
	return nil
}

func floatPtr(v float64) *float64 {
	return &v
}

func (s *session) PDF(ctx context.Context, opts browser.PDFOptions) ([]byte, error) {
	req := &proto.PagePrintToPDF{
		Landscape:       opts.Landscape,
		PrintBackground: opts.PrintBackground,
		PaperWidth:      floatPtr(opts.PaperWidth),
		PaperHeight:     floatPtr(opts.PaperHeight),
		MarginTop:       floatPtr(opts.MarginTop),
		MarginRight:     floatPtr(opts.MarginRight),
		MarginBottom:    floatPtr(opts.MarginBottom),
		MarginLeft:      floatPtr(opts.MarginLeft),
	}
	if opts.Scale > 0 {
		req.Scale = floatPtr(opts.Scale)
	}

	reader, err := s.page.Context(ctx).PDF(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", browser.ErrCapture, err)
	}
	buf, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: reading PDF stream: %v", browser.ErrCapture, err)
	}
	return buf, nil
}

func (s *session) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	buf, err := s.page.Context(ctx).Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", browser.ErrCapture, err)
	}
	return buf, nil
}

func (s *session) HTML(ctx context.Context) (string, error) {
	return s.page.Context(ctx).HTML()
}

func (s *session) URL(ctx context.Context) (string, error) {
	info, err := s.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (s *session) Close() error {
	s.stopEvents()
	return multierr.Combine(s.page.Close(), s.incognito.Close())
}
