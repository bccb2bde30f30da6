// Package browsertest provides an in-memory browser engine for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AlfredBerg/rod-capture/internal/browser"
)

// Minimal artifacts returned by the fake engine.
var (
	PDF = []byte("%PDF-1.4\n%fake\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n")
	PNG = []byte("\x89PNG\r\n\x1a\nfake-image-data")
)

// Engine hands out fake sessions. Configure the exported fields before use;
// they are shared by every session it creates.
type Engine struct {
	// NavigateErr is returned by Navigate.
	NavigateErr error
	// MissingSelectors never appear: WaitSelector and Type give up after
	// SelectorTimeout (50ms when zero) with browser.ErrSelectorTimeout.
	MissingSelectors map[string]bool
	SelectorTimeout  time.Duration
	// HangNavigate makes Navigate block until ctx ends.
	HangNavigate bool
	CaptureErr   error
	SessionErr   error
	CloseErr     error
	// Document is returned by HTML, PageURL by URL.
	Document string
	PageURL  string

	mu       sync.Mutex
	sessions []*Session
	open     atomic.Int32
	maxOpen  atomic.Int32
}

var _ browser.Engine = (*Engine)(nil)

func (e *Engine) NewSession(ctx context.Context) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.SessionErr != nil {
		return nil, fmt.Errorf("%w: %v", browser.ErrSession, e.SessionErr)
	}

	n := e.open.Add(1)
	for {
		m := e.maxOpen.Load()
		if n <= m || e.maxOpen.CompareAndSwap(m, n) {
			break
		}
	}

	s := &Session{engine: e}
	e.mu.Lock()
	e.sessions = append(e.sessions, s)
	e.mu.Unlock()
	return s, nil
}

func (e *Engine) Close() error { return nil }

// Sessions returns every session created so far.
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Session(nil), e.sessions...)
}

// Open reports how many sessions are not closed yet.
func (e *Engine) Open() int { return int(e.open.Load()) }

// MaxOpen reports the highest number of sessions open at the same time.
func (e *Engine) MaxOpen() int { return int(e.maxOpen.Load()) }

// Session records the calls made on it.
type Session struct {
	engine *Engine

	mu     sync.Mutex
	calls  []string
	closed bool
}

var _ browser.Session = (*Session)(nil)

func (s *Session) log(format string, args ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
}

// Calls returns the operations performed, in order.
func (s *Session) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) SetViewport(ctx context.Context, v browser.Viewport) error {
	s.log("viewport %s", v)
	return nil
}

func (s *Session) Emulate(ctx context.Context, d browser.Device) error {
	s.log("emulate %s", d.Name)
	return nil
}

func (s *Session) Navigate(ctx context.Context, target string, idle *browser.IdlePolicy) error {
	if idle != nil {
		s.log("navigate %s idle=%d", target, idle.MaxInflight)
	} else {
		s.log("navigate %s", target)
	}
	if s.engine.HangNavigate {
		<-ctx.Done()
		return fmt.Errorf("%w: %v", browser.ErrNavigation, ctx.Err())
	}
	if s.engine.NavigateErr != nil {
		return fmt.Errorf("%w: %v", browser.ErrNavigation, s.engine.NavigateErr)
	}
	return nil
}

func (s *Session) WaitIdle(ctx context.Context, idle browser.IdlePolicy) error {
	s.log("idle %d", idle.MaxInflight)
	return ctx.Err()
}

func (s *Session) waitFor(ctx context.Context, selector string) error {
	if !s.engine.MissingSelectors[selector] {
		return ctx.Err()
	}
	timeout := s.engine.SelectorTimeout
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-t.C:
		return fmt.Errorf("%w: %q: %v", browser.ErrSelectorTimeout, selector, context.DeadlineExceeded)
	case <-ctx.Done():
		return fmt.Errorf("%w: %q: %v", browser.ErrSelectorTimeout, selector, ctx.Err())
	}
}

func (s *Session) WaitSelector(ctx context.Context, selector string) error {
	s.log("selector %s", selector)
	return s.waitFor(ctx, selector)
}

func (s *Session) Eval(ctx context.Context, fn string) error {
	s.log("eval")
	return ctx.Err()
}

func (s *Session) Type(ctx context.Context, selector, text string, submit bool) error {
	s.log("type %s %q submit=%t", selector, text, submit)
	return s.waitFor(ctx, selector)
}

func (s *Session) PDF(ctx context.Context, opts browser.PDFOptions) ([]byte, error) {
	s.log("pdf %gx%g", opts.PaperWidth, opts.PaperHeight)
	if s.engine.CaptureErr != nil {
		return nil, fmt.Errorf("%w: %v", browser.ErrCapture, s.engine.CaptureErr)
	}
	return append([]byte(nil), PDF...), nil
}

func (s *Session) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	s.log("screenshot full=%t", fullPage)
	if s.engine.CaptureErr != nil {
		return nil, fmt.Errorf("%w: %v", browser.ErrCapture, s.engine.CaptureErr)
	}
	return append([]byte(nil), PNG...), nil
}

func (s *Session) HTML(ctx context.Context) (string, error) {
	s.log("html")
	return s.engine.Document, nil
}

func (s *Session) URL(ctx context.Context) (string, error) {
	return s.engine.PageURL, nil
}

var errClosedTwice = errors.New("session closed twice")

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosedTwice
	}
	s.closed = true
	s.engine.open.Add(-1)
	return s.engine.CloseErr
}
