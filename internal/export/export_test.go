package export

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AlfredBerg/rod-capture/internal/browser"
	"github.com/AlfredBerg/rod-capture/internal/browser/browsertest"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type memRecorder struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (r *memRecorder) RecordRun(ctx context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return r.err
}

func newTestExporter(t *testing.T, engine browser.Engine, opts ...Option) (*Exporter, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/out", 0o755))
	opts = append([]Option{WithFs(fs), WithLogger(zaptest.NewLogger(t))}, opts...)
	return New(engine, opts...), fs
}

func mustJob(t *testing.T, target, path string, format Format, opts ...JobOption) *Job {
	t.Helper()
	j, err := NewJob(target, path, format, opts...)
	require.NoError(t, err)
	return j
}

func TestRunPDF(t *testing.T) {
	engine := &browsertest.Engine{}
	rec := &memRecorder{}
	exp, fs := newTestExporter(t, engine, WithRecorder(rec))

	job := mustJob(t, "https://www.trendmicro.com/", "/out/trendmicro.pdf", FormatPDF,
		WithReadiness(NetworkIdle0(), ForSelector("main.container-fluid"), Delay(10*time.Millisecond)),
		WithViewport(browser.Viewport{Width: 1680, Height: 1080, Scale: 2}),
		WithLayout(Layout{Paper: "a2", Margin: UniformMargin(20.0 / 96), PrintBackground: true}),
	)

	res, err := exp.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, job.ID(), res.JobID)
	assert.Equal(t, "/out/trendmicro.pdf", res.Path)
	assert.Equal(t, len(browsertest.PDF), res.Size)

	data, err := afero.ReadFile(fs, "/out/trendmicro.pdf")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))

	sessions := engine.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, []string{
		"viewport 1680x1080x2",
		"navigate https://www.trendmicro.com/ idle=0",
		"selector main.container-fluid",
		"pdf 16.54x23.4",
	}, sessions[0].Calls())
	assert.True(t, sessions[0].Closed())
	assert.Equal(t, 0, engine.Open())

	require.Len(t, rec.records, 1)
	assert.Equal(t, StatusOK, rec.records[0].Status)
	assert.Equal(t, "export", rec.records[0].Kind)
	assert.Equal(t, "pdf", rec.records[0].Format)
}

func TestRunScreenshots(t *testing.T) {
	engine := &browsertest.Engine{}
	exp, fs := newTestExporter(t, engine)

	full := mustJob(t, "https://github.com/puppeteer/puppeteer", "/out/full.png", FormatPNGFull,
		WithReadiness(NetworkIdle0()), WithDevice("iPhone 11 Pro Max"))
	_, err := exp.Run(context.Background(), full)
	require.NoError(t, err)

	view := mustJob(t, "https://example.com/static-page", "/out/view.png", FormatPNGViewport)
	_, err = exp.Run(context.Background(), view)
	require.NoError(t, err)

	for _, p := range []string{"/out/full.png", "/out/view.png"} {
		data, err := afero.ReadFile(fs, p)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")), p)
	}

	sessions := engine.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, []string{
		"emulate iPhone 11 Pro Max",
		"navigate https://github.com/puppeteer/puppeteer idle=0",
		"screenshot full=true",
	}, sessions[0].Calls())
	assert.Equal(t, []string{
		"navigate https://example.com/static-page",
		"screenshot full=false",
	}, sessions[1].Calls())
}

func TestRunReadinessOrder(t *testing.T) {
	engine := &browsertest.Engine{}
	exp, _ := newTestExporter(t, engine)

	job := mustJob(t, "https://example.com", "/out/a.pdf", FormatPDF,
		WithReadiness(Delay(time.Millisecond), ForSelector("#late"), Scroll(), NetworkIdle2()))
	_, err := exp.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"navigate https://example.com",
		"selector #late",
		"eval",
		"idle 2",
		"pdf 8.5x11",
	}, engine.Sessions()[0].Calls())
}

func TestRunIsRepeatable(t *testing.T) {
	engine := &browsertest.Engine{}
	exp, fs := newTestExporter(t, engine)
	job := mustJob(t, "https://example.com/static-page", "/out/page.pdf", FormatPDF)

	_, err := exp.Run(context.Background(), job)
	require.NoError(t, err)
	first, err := afero.ReadFile(fs, "/out/page.pdf")
	require.NoError(t, err)

	_, err = exp.Run(context.Background(), job)
	require.NoError(t, err)
	second, err := afero.ReadFile(fs, "/out/page.pdf")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, engine.Sessions(), 2, "each run uses a fresh browser context")
}

func TestRunNavigationError(t *testing.T) {
	engine := &browsertest.Engine{NavigateErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	rec := &memRecorder{}
	exp, fs := newTestExporter(t, engine, WithRecorder(rec))

	job := mustJob(t, "https://unreachable.invalid", "/out/x.pdf", FormatPDF)
	_, err := exp.Run(context.Background(), job)

	var nerr *NavigationError
	require.True(t, errors.As(err, &nerr))
	assert.Equal(t, "https://unreachable.invalid", nerr.Target)
	assert.ErrorIs(t, err, browser.ErrNavigation)

	exists, _ := afero.Exists(fs, "/out/x.pdf")
	assert.False(t, exists)
	assert.Equal(t, 0, engine.Open(), "context torn down on failure")

	require.Len(t, rec.records, 1)
	assert.Equal(t, StatusFailed, rec.records[0].Status)
	assert.Contains(t, rec.records[0].Error, "ERR_NAME_NOT_RESOLVED")
}

func TestRunSelectorTimeout(t *testing.T) {
	engine := &browsertest.Engine{
		MissingSelectors: map[string]bool{"#never": true},
		SelectorTimeout:  30 * time.Millisecond,
	}
	exp, fs := newTestExporter(t, engine)

	job := mustJob(t, "https://example.com", "/out/x.png", FormatPNGFull,
		WithReadiness(ForSelector("#never")))

	start := time.Now()
	_, err := exp.Run(context.Background(), job)
	assert.Less(t, time.Since(start), 2*time.Second)

	var serr *SelectorTimeoutError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "#never", serr.Selector)
	assert.Equal(t, "https://example.com", serr.Target)

	exists, _ := afero.Exists(fs, "/out/x.png")
	assert.False(t, exists)
	assert.Equal(t, 0, engine.Open())
}

func TestRunDelayLowerBound(t *testing.T) {
	engine := &browsertest.Engine{}
	exp, _ := newTestExporter(t, engine)

	const d = 80 * time.Millisecond
	job := mustJob(t, "https://example.com", "/out/x.pdf", FormatPDF, WithReadiness(Delay(d)))

	start := time.Now()
	res, err := exp.Run(context.Background(), job)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), d)
	assert.GreaterOrEqual(t, res.Elapsed, d)
}

func TestRunCancelDuringDelay(t *testing.T) {
	engine := &browsertest.Engine{}
	exp, fs := newTestExporter(t, engine)

	job := mustJob(t, "https://example.com", "/out/x.pdf", FormatPDF, WithReadiness(Delay(time.Hour)))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := exp.Run(ctx, job)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	exists, _ := afero.Exists(fs, "/out/x.pdf")
	assert.False(t, exists)
	assert.Equal(t, 0, engine.Open())
}

func TestRunCancelDuringNavigation(t *testing.T) {
	engine := &browsertest.Engine{HangNavigate: true}
	exp, _ := newTestExporter(t, engine)

	job := mustJob(t, "https://example.com", "/out/x.pdf", FormatPDF)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := exp.Run(ctx, job)
	assert.ErrorIs(t, err, context.Canceled)

	var nerr *NavigationError
	assert.False(t, errors.As(err, &nerr), "caller cancellation is not a navigation failure")
	assert.Equal(t, 0, engine.Open())
}

func TestRunMissingOutputDir(t *testing.T) {
	engine := &browsertest.Engine{}
	exp, _ := newTestExporter(t, engine)

	job := mustJob(t, "https://example.com", "/missing/x.pdf", FormatPDF)
	_, err := exp.Run(context.Background(), job)

	var werr *ExportWriteError
	require.True(t, errors.As(err, &werr))
	assert.ErrorIs(t, err, ErrOutputDir)
	assert.Empty(t, engine.Sessions(), "no browser context for a job that cannot write")
}

func TestRunCaptureError(t *testing.T) {
	engine := &browsertest.Engine{CaptureErr: errors.New("printing failed")}
	exp, fs := newTestExporter(t, engine)

	job := mustJob(t, "https://example.com", "/out/x.pdf", FormatPDF)
	_, err := exp.Run(context.Background(), job)

	var werr *ExportWriteError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, "/out/x.pdf", werr.Path)
	assert.ErrorIs(t, err, browser.ErrCapture)

	exists, _ := afero.Exists(fs, "/out/x.pdf")
	assert.False(t, exists)
}

func TestRunReadOnlyDestination(t *testing.T) {
	engine := &browsertest.Engine{}
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/out", 0o755))
	exp := New(engine, WithFs(afero.NewReadOnlyFs(fs)))

	job := mustJob(t, "https://example.com", "/out/x.pdf", FormatPDF)
	_, err := exp.Run(context.Background(), job)

	var werr *ExportWriteError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, 0, engine.Open())
}

func TestRunSessionError(t *testing.T) {
	engine := &browsertest.Engine{SessionErr: errors.New("browser gone")}
	exp, _ := newTestExporter(t, engine)

	job := mustJob(t, "https://example.com", "/out/x.pdf", FormatPDF)
	_, err := exp.Run(context.Background(), job)
	assert.ErrorIs(t, err, browser.ErrSession)
}

func TestRunCloseErrorJoinsFailure(t *testing.T) {
	engine := &browsertest.Engine{
		NavigateErr: errors.New("connection refused"),
		CloseErr:    errors.New("target already gone"),
	}
	exp, _ := newTestExporter(t, engine)

	job := mustJob(t, "https://example.com", "/out/x.pdf", FormatPDF)
	_, err := exp.Run(context.Background(), job)

	var nerr *NavigationError
	assert.True(t, errors.As(err, &nerr))
	assert.Contains(t, err.Error(), "target already gone")
}

func TestRunCloseErrorAfterSuccess(t *testing.T) {
	engine := &browsertest.Engine{CloseErr: errors.New("target already gone")}
	exp, fs := newTestExporter(t, engine)

	job := mustJob(t, "https://example.com", "/out/x.pdf", FormatPDF)
	_, err := exp.Run(context.Background(), job)
	require.NoError(t, err, "artifact was written, teardown noise is only logged")

	exists, _ := afero.Exists(fs, "/out/x.pdf")
	assert.True(t, exists)
}

func TestRunRecorderFailureIgnored(t *testing.T) {
	engine := &browsertest.Engine{}
	exp, _ := newTestExporter(t, engine, WithRecorder(&memRecorder{err: errors.New("disk full")}))

	job := mustJob(t, "https://example.com", "/out/x.pdf", FormatPDF)
	_, err := exp.Run(context.Background(), job)
	assert.NoError(t, err)
}

func TestRunNilJob(t *testing.T) {
	exp, _ := newTestExporter(t, &browsertest.Engine{})
	_, err := exp.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidJob)
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	exp, fs := newTestExporter(t, &browsertest.Engine{})
	require.NoError(t, exp.write("/out/a.pdf", []byte("%PDF-1.4")))

	entries, err := afero.ReadDir(fs, "/out")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.pdf", entries[0].Name())
}
