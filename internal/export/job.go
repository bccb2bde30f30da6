package export

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/AlfredBerg/rod-capture/internal/browser"
	"github.com/google/uuid"
)

type Format string

const (
	FormatPDF         Format = "pdf"
	FormatPNGFull     Format = "png-full"
	FormatPNGViewport Format = "png-viewport"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatPDF, FormatPNGFull, FormatPNGViewport:
		return f, nil
	case "png":
		return FormatPNGFull, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", ErrInvalidJob, s)
	}
}

// WaitKind names one readiness condition.
type WaitKind string

const (
	WaitNetworkIdle0 WaitKind = "networkidle0"
	WaitNetworkIdle2 WaitKind = "networkidle2"
	WaitSelector     WaitKind = "selector"
	WaitDelay        WaitKind = "delay"
	WaitScroll       WaitKind = "scroll"
)

// WaitStep is one entry of a job's readiness list.
type WaitStep struct {
	Kind     WaitKind
	Selector string
	Delay    time.Duration
}

func NetworkIdle0() WaitStep { return WaitStep{Kind: WaitNetworkIdle0} }
func NetworkIdle2() WaitStep { return WaitStep{Kind: WaitNetworkIdle2} }
func Scroll() WaitStep       { return WaitStep{Kind: WaitScroll} }

func ForSelector(selector string) WaitStep {
	return WaitStep{Kind: WaitSelector, Selector: selector}
}

func Delay(d time.Duration) WaitStep {
	return WaitStep{Kind: WaitDelay, Delay: d}
}

func (s WaitStep) String() string {
	switch s.Kind {
	case WaitSelector:
		return fmt.Sprintf("selector:%s", s.Selector)
	case WaitDelay:
		return fmt.Sprintf("delay:%s", s.Delay)
	default:
		return string(s.Kind)
	}
}

// idlePolicy reports the network policy of a networkidle step.
func (s WaitStep) idlePolicy() (browser.IdlePolicy, bool) {
	switch s.Kind {
	case WaitNetworkIdle0:
		return browser.NetworkIdle0, true
	case WaitNetworkIdle2:
		return browser.NetworkIdle2, true
	}
	return browser.IdlePolicy{}, false
}

func (s WaitStep) validate() error {
	switch s.Kind {
	case WaitNetworkIdle0, WaitNetworkIdle2, WaitScroll:
		return nil
	case WaitSelector:
		if strings.TrimSpace(s.Selector) == "" {
			return fmt.Errorf("%w: selector wait needs a selector", ErrInvalidJob)
		}
		return nil
	case WaitDelay:
		if s.Delay <= 0 {
			return fmt.Errorf("%w: delay must be positive, got %s", ErrInvalidJob, s.Delay)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown wait %q", ErrInvalidJob, s.Kind)
	}
}

// ParseWaitStep reads "networkidle0", "networkidle2", "scroll",
// "selector:<css>" or "delay:<duration>".
func ParseWaitStep(s string) (WaitStep, error) {
	kind, arg, _ := strings.Cut(strings.TrimSpace(s), ":")
	step := WaitStep{Kind: WaitKind(strings.ToLower(kind))}
	switch step.Kind {
	case WaitSelector:
		step.Selector = arg
	case WaitDelay:
		if arg != "" {
			d, err := time.ParseDuration(arg)
			if err != nil {
				return WaitStep{}, fmt.Errorf("%w: delay %q: %v", ErrInvalidJob, arg, err)
			}
			step.Delay = d
		}
	}
	return step, nil
}

// Job is one capture: a target, how to wait for it and where to put the result.
// Jobs are immutable once built with NewJob.
type Job struct {
	id        string
	target    string
	readiness []WaitStep
	viewport  *browser.Viewport
	device    *browser.Device
	path      string
	format    Format
	layout    *Layout

	deviceName string
}

type JobOption func(*Job)

// WithReadiness sets the ordered wait steps. Leading networkidle steps are
// enforced while navigating, the rest run in order after the page loaded.
func WithReadiness(steps ...WaitStep) JobOption {
	return func(j *Job) {
		j.readiness = append([]WaitStep(nil), steps...)
	}
}

func WithViewport(v browser.Viewport) JobOption {
	return func(j *Job) {
		j.viewport = &v
	}
}

// WithDevice emulates a named device, see browser.DeviceNames.
func WithDevice(name string) JobOption {
	return func(j *Job) {
		j.deviceName = name
	}
}

func WithLayout(l Layout) JobOption {
	return func(j *Job) {
		j.layout = &l
	}
}

func NewJob(target, path string, format Format, opts ...JobOption) (*Job, error) {
	j := &Job{
		id:     uuid.NewString(),
		target: strings.TrimSpace(target),
		path:   path,
		format: format,
	}
	for _, o := range opts {
		o(j)
	}

	if j.target == "" {
		return nil, fmt.Errorf("%w: empty target", ErrInvalidJob)
	}
	u, err := url.Parse(j.target)
	if err != nil || !u.IsAbs() {
		return nil, fmt.Errorf("%w: target %q is not an absolute URL", ErrInvalidJob, j.target)
	}
	if strings.TrimSpace(j.path) == "" {
		return nil, fmt.Errorf("%w: empty output path", ErrInvalidJob)
	}
	if _, err := ParseFormat(string(j.format)); err != nil {
		return nil, err
	}
	for _, step := range j.readiness {
		if err := step.validate(); err != nil {
			return nil, err
		}
	}

	if j.viewport != nil {
		if err := j.viewport.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
		}
	}
	if j.deviceName != "" {
		if j.viewport != nil {
			return nil, fmt.Errorf("%w: device and viewport are mutually exclusive", ErrInvalidJob)
		}
		d, err := browser.LookupDevice(j.deviceName)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
		}
		j.device = &d
	}

	if j.layout != nil {
		if j.format != FormatPDF {
			return nil, &ExportWriteError{Path: j.path, Err: fmt.Errorf("%w: page layout with %s output", ErrUnsupportedLayout, j.format)}
		}
		if err := j.layout.validate(); err != nil {
			return nil, &ExportWriteError{Path: j.path, Err: err}
		}
	}

	return j, nil
}

func (j *Job) ID() string     { return j.id }
func (j *Job) Target() string { return j.target }
func (j *Job) Path() string   { return j.path }
func (j *Job) Format() Format { return j.format }

func (j *Job) Readiness() []WaitStep {
	return append([]WaitStep(nil), j.readiness...)
}

// Viewport returns the explicit viewport, or false when the engine default applies.
func (j *Job) Viewport() (browser.Viewport, bool) {
	if j.viewport == nil {
		return browser.Viewport{}, false
	}
	return *j.viewport, true
}

func (j *Job) Device() (browser.Device, bool) {
	if j.device == nil {
		return browser.Device{}, false
	}
	return *j.device, true
}

// Layout returns the PDF layout. PDF jobs without one use Letter paper,
// no margins and scale 1.
func (j *Job) Layout() Layout {
	if j.layout == nil {
		return Layout{}
	}
	return *j.layout
}

// splitReadiness separates the leading networkidle steps, which are enforced
// during navigation, from the steps that run after it. When several lead, the
// one with the lowest in-flight allowance wins.
func splitReadiness(steps []WaitStep) (*browser.IdlePolicy, []WaitStep) {
	var lead *browser.IdlePolicy
	i := 0
	for ; i < len(steps); i++ {
		p, ok := steps[i].idlePolicy()
		if !ok {
			break
		}
		if lead == nil || p.MaxInflight < lead.MaxInflight {
			lead = &p
		}
	}
	return lead, steps[i:]
}
