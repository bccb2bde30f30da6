package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AlfredBerg/rod-capture/internal/browser"
	"github.com/AlfredBerg/rod-capture/internal/js"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Recorder stores a line of history per finished run.
type Recorder interface {
	RecordRun(ctx context.Context, r Record) error
}

// Record describes one finished run for the history ledger.
type Record struct {
	JobID     string
	Kind      string
	Target    string
	Path      string
	Format    string
	Status    string
	Error     string
	Elapsed   time.Duration
	CreatedAt time.Time
}

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Result describes the artifact written by a successful run.
type Result struct {
	JobID   string
	Path    string
	Format  Format
	Size    int
	Elapsed time.Duration
}

// Exporter runs export jobs against a browser engine. It holds no per-job
// state, so one Exporter may run many jobs concurrently.
type Exporter struct {
	engine   browser.Engine
	fs       afero.Fs
	log      *zap.Logger
	recorder Recorder
}

type Option func(*Exporter)

// WithFs replaces the filesystem artifacts are written to. Defaults to the OS.
func WithFs(fs afero.Fs) Option {
	return func(e *Exporter) { e.fs = fs }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Exporter) { e.log = l }
}

func WithRecorder(r Recorder) Option {
	return func(e *Exporter) { e.recorder = r }
}

func New(engine browser.Engine, opts ...Option) *Exporter {
	e := &Exporter{
		engine: engine,
		fs:     afero.NewOsFs(),
		log:    zap.NewNop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Run executes job once: open an isolated browser context, load the target,
// wait for readiness, write the artifact. The context is torn down on every
// return path. No retries are attempted; on error no usable artifact exists.
func (e *Exporter) Run(ctx context.Context, job *Job) (res Result, err error) {
	if job == nil {
		return Result{}, fmt.Errorf("%w: nil job", ErrInvalidJob)
	}

	start := time.Now()
	log := e.log.With(zap.String("job", job.ID()), zap.String("target", job.Target()))
	defer func() {
		elapsed := time.Since(start)
		if err != nil {
			log.Warn("export failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		} else {
			log.Info("export done", zap.String("path", res.Path), zap.Int("bytes", res.Size), zap.Duration("elapsed", elapsed))
		}
		e.record(ctx, job, elapsed, err)
	}()

	if err := e.checkOutputDir(job.Path()); err != nil {
		return Result{}, err
	}

	sess, err := e.engine.NewSession(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("opening browser context: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			if err != nil {
				err = multierr.Append(err, fmt.Errorf("closing browser context: %w", cerr))
				return
			}
			log.Warn("closing browser context", zap.Error(cerr))
		}
	}()

	if err := e.prepare(ctx, sess, job); err != nil {
		return Result{}, err
	}

	lead, rest := splitReadiness(job.Readiness())
	log.Debug("navigating", zap.Bool("network_idle", lead != nil))
	if err := sess.Navigate(ctx, job.Target(), lead); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, &NavigationError{Target: job.Target(), Err: err}
	}

	for _, step := range rest {
		log.Debug("waiting", zap.Stringer("step", step))
		if err := e.await(ctx, sess, job, step); err != nil {
			return Result{}, err
		}
	}

	data, err := e.capture(ctx, sess, job)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, &ExportWriteError{Path: job.Path(), Err: err}
	}

	if err := e.write(job.Path(), data); err != nil {
		return Result{}, &ExportWriteError{Path: job.Path(), Err: err}
	}

	return Result{
		JobID:   job.ID(),
		Path:    job.Path(),
		Format:  job.Format(),
		Size:    len(data),
		Elapsed: time.Since(start),
	}, nil
}

func (e *Exporter) checkOutputDir(path string) error {
	dir := filepath.Dir(path)
	ok, err := afero.DirExists(e.fs, dir)
	if err != nil {
		return &ExportWriteError{Path: path, Err: err}
	}
	if !ok {
		return &ExportWriteError{Path: path, Err: fmt.Errorf("%w: %s", ErrOutputDir, dir)}
	}
	return nil
}

func (e *Exporter) prepare(ctx context.Context, sess browser.Session, job *Job) error {
	if d, ok := job.Device(); ok {
		if err := sess.Emulate(ctx, d); err != nil {
			return fmt.Errorf("emulating %s: %w", d.Name, err)
		}
		return nil
	}
	if v, ok := job.Viewport(); ok {
		if err := sess.SetViewport(ctx, v); err != nil {
			return fmt.Errorf("setting viewport %s: %w", v, err)
		}
	}
	return nil
}

func (e *Exporter) await(ctx context.Context, sess browser.Session, job *Job, step WaitStep) error {
	switch step.Kind {
	case WaitSelector:
		if err := sess.WaitSelector(ctx, step.Selector); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &SelectorTimeoutError{Target: job.Target(), Selector: step.Selector, Err: err}
		}
	case WaitDelay:
		return sleep(ctx, step.Delay)
	case WaitScroll:
		if err := sess.Eval(ctx, js.SCROLL_THROUGH); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &NavigationError{Target: job.Target(), Err: fmt.Errorf("scrolling: %w", err)}
		}
	default:
		policy, ok := step.idlePolicy()
		if !ok {
			return fmt.Errorf("%w: unknown wait %q", ErrInvalidJob, step.Kind)
		}
		if err := sess.WaitIdle(ctx, policy); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &NavigationError{Target: job.Target(), Err: err}
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Exporter) capture(ctx context.Context, sess browser.Session, job *Job) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch job.Format() {
	case FormatPDF:
		data, err = sess.PDF(ctx, job.Layout().pdfOptions())
	case FormatPNGFull:
		data, err = sess.Screenshot(ctx, true)
	case FormatPNGViewport:
		data, err = sess.Screenshot(ctx, false)
	default:
		return nil, fmt.Errorf("%w: format %q", ErrUnsupportedLayout, job.Format())
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("engine returned an empty document")
	}
	return data, nil
}

// write puts data at path through a temporary file in the same directory,
// so a failed write never leaves a truncated artifact under the final name.
func (e *Exporter) write(path string, data []byte) error {
	f, err := afero.TempFile(e.fs, filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()

	_, err = f.Write(data)
	err = multierr.Append(err, f.Close())
	if err == nil {
		// #nosec G302 -- artifacts are meant to be readable
		err = e.fs.Chmod(tmp, 0o644)
	}
	if err == nil {
		err = e.fs.Rename(tmp, path)
	}
	if err != nil {
		if rerr := e.fs.Remove(tmp); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			err = multierr.Append(err, rerr)
		}
		return err
	}
	return nil
}

func (e *Exporter) record(ctx context.Context, job *Job, elapsed time.Duration, runErr error) {
	if e.recorder == nil {
		return
	}
	r := Record{
		JobID:     job.ID(),
		Kind:      "export",
		Target:    job.Target(),
		Path:      job.Path(),
		Format:    string(job.Format()),
		Status:    StatusOK,
		Elapsed:   elapsed,
		CreatedAt: time.Now().UTC(),
	}
	if runErr != nil {
		r.Status = StatusFailed
		r.Error = runErr.Error()
	}
	// The ledger is history only, a failure to record never fails the job.
	if err := e.recorder.RecordRun(context.WithoutCancel(ctx), r); err != nil {
		e.log.Warn("recording run", zap.String("job", job.ID()), zap.Error(err))
	}
}
