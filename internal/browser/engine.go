package browser

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

var (
	ErrLaunch          = errors.New("failed to launch browser")
	ErrSession         = errors.New("failed to open browser context")
	ErrNavigation      = errors.New("navigation failed")
	ErrSelectorTimeout = errors.New("selector did not appear")
	ErrCapture         = errors.New("capture failed")
)

const (
	DefaultNavigationTimeout = 30 * time.Second
	DefaultSelectorTimeout   = 30 * time.Second
)

// Engine owns one running browser. Every Session it hands out is an
// isolated browser context with its own cookies, cache and DOM.
type Engine interface {
	NewSession(ctx context.Context) (Session, error)
	Close() error
}

// Session is a single page inside an isolated browser context.
// Close disposes the page and the context; it is safe to call once per session.
type Session interface {
	SetViewport(ctx context.Context, v Viewport) error
	Emulate(ctx context.Context, d Device) error

	// Navigate loads target and blocks until the load event fired and, when
	// idle is non-nil, until the network settled according to idle.
	Navigate(ctx context.Context, target string, idle *IdlePolicy) error
	WaitIdle(ctx context.Context, idle IdlePolicy) error
	WaitSelector(ctx context.Context, selector string) error

	// Eval runs a JavaScript function declaration in the page and waits for
	// the returned promise, if any.
	Eval(ctx context.Context, fn string) error
	Type(ctx context.Context, selector, text string, submit bool) error

	PDF(ctx context.Context, opts PDFOptions) ([]byte, error)
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)

	HTML(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)

	Close() error
}

// Config is shared by the engine implementations.
type Config struct {
	// Bin is the browser executable. Empty lets the engine find or download one.
	Bin               string
	Headless          bool
	NoSandbox         bool
	NavigationTimeout time.Duration
	SelectorTimeout   time.Duration
	Logger            *zap.Logger
}

// Resolved returns a copy with zero values replaced by defaults.
func (c Config) Resolved() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = DefaultNavigationTimeout
	}
	if c.SelectorTimeout <= 0 {
		c.SelectorTimeout = DefaultSelectorTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// PDFOptions are passed straight to the DevTools Page.printToPDF call.
// Lengths are in inches.
type PDFOptions struct {
	PaperWidth      float64
	PaperHeight     float64
	MarginTop       float64
	MarginRight     float64
	MarginBottom    float64
	MarginLeft      float64
	Scale           float64
	Landscape       bool
	PrintBackground bool
}
