package export

import (
	"fmt"
	"time"

	"github.com/AlfredBerg/rod-capture/internal/browser"
)

// JobSpec is the literal, serializable form of a job as found in batch
// files and command line flags.
type JobSpec struct {
	Target   string   `yaml:"target"`
	Output   string   `yaml:"output"`
	Format   string   `yaml:"format"`
	Wait     []string `yaml:"wait"`
	Selector string   `yaml:"selector"`
	Delay    string   `yaml:"delay"`
	Viewport string   `yaml:"viewport"`
	Device   string   `yaml:"device"`

	Paper      string  `yaml:"paper"`
	Margin     string  `yaml:"margin"`
	Background bool    `yaml:"background"`
	Landscape  bool    `yaml:"landscape"`
	Scale      float64 `yaml:"scale"`
}

func (s JobSpec) hasLayout() bool {
	return s.Paper != "" || s.Margin != "" || s.Background || s.Landscape || s.Scale != 0
}

// Readiness resolves the wait list. Without an explicit list the job waits
// for networkidle0, then for Selector and Delay when they are set. Bare
// "selector" and "delay" entries take their value from Selector and Delay;
// a Selector or Delay not placed in the list this way runs after it.
func (s JobSpec) Readiness() ([]WaitStep, error) {
	var delay time.Duration
	if s.Delay != "" {
		d, err := time.ParseDuration(s.Delay)
		if err != nil {
			return nil, fmt.Errorf("%w: delay %q: %v", ErrInvalidJob, s.Delay, err)
		}
		delay = d
	}

	if len(s.Wait) == 0 {
		steps := []WaitStep{NetworkIdle0()}
		if s.Selector != "" {
			steps = append(steps, ForSelector(s.Selector))
		}
		if delay > 0 {
			steps = append(steps, Delay(delay))
		}
		return steps, nil
	}

	var selectorUsed, delayUsed bool
	steps := make([]WaitStep, 0, len(s.Wait)+2)
	for _, w := range s.Wait {
		step, err := ParseWaitStep(w)
		if err != nil {
			return nil, err
		}
		if step.Kind == WaitSelector && step.Selector == "" {
			step.Selector = s.Selector
			selectorUsed = true
		}
		if step.Kind == WaitDelay && step.Delay == 0 {
			step.Delay = delay
			delayUsed = true
		}
		steps = append(steps, step)
	}
	if s.Selector != "" && !selectorUsed {
		steps = append(steps, ForSelector(s.Selector))
	}
	if delay > 0 && !delayUsed {
		steps = append(steps, Delay(delay))
	}
	return steps, nil
}

// Build validates the spec and turns it into a Job.
func (s JobSpec) Build() (*Job, error) {
	format := FormatPDF
	if s.Format != "" {
		f, err := ParseFormat(s.Format)
		if err != nil {
			return nil, err
		}
		format = f
	}

	steps, err := s.Readiness()
	if err != nil {
		return nil, err
	}
	opts := []JobOption{WithReadiness(steps...)}

	if s.Viewport != "" {
		v, err := browser.ParseViewport(s.Viewport)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
		}
		opts = append(opts, WithViewport(v))
	}
	if s.Device != "" {
		opts = append(opts, WithDevice(s.Device))
	}

	if s.hasLayout() {
		l := Layout{
			Paper:           s.Paper,
			PrintBackground: s.Background,
			Landscape:       s.Landscape,
			Scale:           s.Scale,
		}
		if s.Margin != "" {
			m, err := ParseMargin(s.Margin)
			if err != nil {
				return nil, &ExportWriteError{Path: s.Output, Err: err}
			}
			l.Margin = m
		}
		opts = append(opts, WithLayout(l))
	}

	return NewJob(s.Target, s.Output, format, opts...)
}
