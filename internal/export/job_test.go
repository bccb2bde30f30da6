package export

import (
	"errors"
	"testing"
	"time"

	"github.com/AlfredBerg/rod-capture/internal/browser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJob(t *testing.T) {
	j, err := NewJob("https://www.trendmicro.com/", "/tmp/trendmicro.pdf", FormatPDF,
		WithReadiness(NetworkIdle0(), ForSelector("main.container-fluid"), Delay(time.Second)),
		WithViewport(browser.Viewport{Width: 1680, Height: 1080, Scale: 2}),
		WithLayout(Layout{Paper: "A2", Margin: UniformMargin(20.0 / 96), PrintBackground: true}),
	)
	require.NoError(t, err)

	assert.NotEmpty(t, j.ID())
	assert.Equal(t, "https://www.trendmicro.com/", j.Target())
	assert.Equal(t, FormatPDF, j.Format())
	assert.Len(t, j.Readiness(), 3)

	v, ok := j.Viewport()
	assert.True(t, ok)
	assert.Equal(t, 1680, v.Width)
	assert.Equal(t, "A2", j.Layout().Paper)

	_, ok = j.Device()
	assert.False(t, ok)
}

func TestNewJobIDsAreUnique(t *testing.T) {
	a, err := NewJob("https://example.com", "a.png", FormatPNGFull)
	require.NoError(t, err)
	b, err := NewJob("https://example.com", "a.png", FormatPNGFull)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestJobIsImmutable(t *testing.T) {
	steps := []WaitStep{ForSelector("#a")}
	j, err := NewJob("https://example.com", "out.pdf", FormatPDF, WithReadiness(steps...))
	require.NoError(t, err)

	steps[0].Selector = "#changed"
	got := j.Readiness()
	got[0].Selector = "#also-changed"

	assert.Equal(t, "#a", j.Readiness()[0].Selector)
}

func TestNewJobInvalid(t *testing.T) {
	tests := []struct {
		name   string
		target string
		path   string
		format Format
		opts   []JobOption
	}{
		{name: "empty target", target: " ", path: "a.pdf", format: FormatPDF},
		{name: "relative target", target: "example.com/page", path: "a.pdf", format: FormatPDF},
		{name: "empty path", target: "https://example.com", format: FormatPDF},
		{name: "unknown format", target: "https://example.com", path: "a.gif", format: "gif"},
		{name: "empty selector", target: "https://example.com", path: "a.pdf", format: FormatPDF,
			opts: []JobOption{WithReadiness(ForSelector(""))}},
		{name: "zero delay", target: "https://example.com", path: "a.pdf", format: FormatPDF,
			opts: []JobOption{WithReadiness(Delay(0))}},
		{name: "unknown wait", target: "https://example.com", path: "a.pdf", format: FormatPDF,
			opts: []JobOption{WithReadiness(WaitStep{Kind: "domcontentloaded"})}},
		{name: "bad viewport", target: "https://example.com", path: "a.pdf", format: FormatPDF,
			opts: []JobOption{WithViewport(browser.Viewport{Width: 0, Height: 10})}},
		{name: "unknown device", target: "https://example.com", path: "a.png", format: FormatPNGFull,
			opts: []JobOption{WithDevice("Nokia 3310")}},
		{name: "device and viewport", target: "https://example.com", path: "a.png", format: FormatPNGFull,
			opts: []JobOption{WithDevice("iPhone X"), WithViewport(browser.Viewport{Width: 10, Height: 10})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewJob(tt.target, tt.path, tt.format, tt.opts...)
			assert.ErrorIs(t, err, ErrInvalidJob)
		})
	}
}

func TestNewJobLayoutOnImage(t *testing.T) {
	_, err := NewJob("https://example.com", "shot.png", FormatPNGFull, WithLayout(Layout{Paper: "A4"}))

	var werr *ExportWriteError
	require.True(t, errors.As(err, &werr))
	assert.Equal(t, "shot.png", werr.Path)
	assert.ErrorIs(t, err, ErrUnsupportedLayout)
}

func TestNewJobBadPaper(t *testing.T) {
	_, err := NewJob("https://example.com", "a.pdf", FormatPDF, WithLayout(Layout{Paper: "A9"}))
	var werr *ExportWriteError
	require.True(t, errors.As(err, &werr))
	assert.ErrorIs(t, err, ErrUnsupportedLayout)
}

func TestNewJobDevice(t *testing.T) {
	j, err := NewJob("https://github.com/puppeteer/puppeteer", "full.png", FormatPNGFull,
		WithDevice("iPhone 11 Pro Max"))
	require.NoError(t, err)

	d, ok := j.Device()
	require.True(t, ok)
	assert.Equal(t, 414, d.Width)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("PDF")
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, f)

	f, err = ParseFormat("png")
	require.NoError(t, err)
	assert.Equal(t, FormatPNGFull, f)

	f, err = ParseFormat("png-viewport")
	require.NoError(t, err)
	assert.Equal(t, FormatPNGViewport, f)

	_, err = ParseFormat("jpeg")
	assert.ErrorIs(t, err, ErrInvalidJob)
}

func TestParseWaitStep(t *testing.T) {
	s, err := ParseWaitStep("selector:a:hover > span")
	require.NoError(t, err)
	assert.Equal(t, ForSelector("a:hover > span"), s)

	s, err = ParseWaitStep("delay:1500ms")
	require.NoError(t, err)
	assert.Equal(t, Delay(1500*time.Millisecond), s)

	s, err = ParseWaitStep("NetworkIdle2")
	require.NoError(t, err)
	assert.Equal(t, NetworkIdle2(), s)

	_, err = ParseWaitStep("delay:soon")
	assert.ErrorIs(t, err, ErrInvalidJob)
}

func TestSplitReadiness(t *testing.T) {
	lead, rest := splitReadiness([]WaitStep{NetworkIdle2(), NetworkIdle0(), ForSelector("#x"), NetworkIdle2()})
	require.NotNil(t, lead)
	assert.Equal(t, 0, lead.MaxInflight)
	assert.Equal(t, []WaitStep{ForSelector("#x"), NetworkIdle2()}, rest)

	lead, rest = splitReadiness([]WaitStep{Delay(time.Second)})
	assert.Nil(t, lead)
	assert.Len(t, rest, 1)

	lead, rest = splitReadiness(nil)
	assert.Nil(t, lead)
	assert.Empty(t, rest)
}
