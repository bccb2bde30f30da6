// Package scrape types a query into a page, submits it and collects the
// result links.
package scrape

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/AlfredBerg/rod-capture/internal/browser"
	"github.com/AlfredBerg/rod-capture/internal/export"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// SearchJob describes one search. Input is the selector of the search box,
// Results the selector of the result elements.
type SearchJob struct {
	Target   string
	Input    string
	Query    string
	Results  string
	Viewport *browser.Viewport
}

func (j *SearchJob) validate() error {
	j.Target = strings.TrimSpace(j.Target)
	u, err := url.Parse(j.Target)
	if j.Target == "" || err != nil || !u.IsAbs() {
		return fmt.Errorf("%w: target %q is not an absolute URL", export.ErrInvalidJob, j.Target)
	}
	if strings.TrimSpace(j.Input) == "" {
		return fmt.Errorf("%w: empty input selector", export.ErrInvalidJob)
	}
	if j.Query == "" {
		return fmt.Errorf("%w: empty query", export.ErrInvalidJob)
	}
	if j.Results == "" {
		j.Results = DefaultResults
	}
	if j.Viewport != nil {
		if err := j.Viewport.Validate(); err != nil {
			return fmt.Errorf("%w: %v", export.ErrInvalidJob, err)
		}
	}
	return nil
}

type Searcher struct {
	engine   browser.Engine
	log      *zap.Logger
	recorder export.Recorder
}

func NewSearcher(engine browser.Engine, log *zap.Logger, recorder export.Recorder) *Searcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Searcher{engine: engine, log: log, recorder: recorder}
}

// Run performs the search in a fresh browser context and returns the links
// in page order. The context is closed on every return path.
func (s *Searcher) Run(ctx context.Context, job SearchJob) (links []Link, err error) {
	if err := job.validate(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	start := time.Now()
	log := s.log.With(zap.String("job", id), zap.String("target", job.Target))
	defer func() {
		elapsed := time.Since(start)
		if err != nil {
			log.Warn("search failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		} else {
			log.Info("search done", zap.Int("links", len(links)), zap.Duration("elapsed", elapsed))
		}
		s.record(ctx, id, job, elapsed, err)
	}()

	sess, err := s.engine.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening browser context: %w", err)
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

	if job.Viewport != nil {
		if err := sess.SetViewport(ctx, *job.Viewport); err != nil {
			return nil, fmt.Errorf("setting viewport %s: %w", job.Viewport, err)
		}
	}

	if err := sess.Navigate(ctx, job.Target, nil); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &export.NavigationError{Target: job.Target, Err: err}
	}

	log.Debug("typing query", zap.String("input", job.Input))
	if err := sess.Type(ctx, job.Input, job.Query, true); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &export.SelectorTimeoutError{Target: job.Target, Selector: job.Input, Err: err}
	}

	if err := sess.WaitSelector(ctx, job.Results); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &export.SelectorTimeoutError{Target: job.Target, Selector: job.Results, Err: err}
	}

	doc, err := sess.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading results page: %w", err)
	}
	page, err := sess.URL(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading results url: %w", err)
	}
	if page == "" {
		page = job.Target
	}

	return ExtractLinks(doc, page, job.Results)
}

func (s *Searcher) record(ctx context.Context, id string, job SearchJob, elapsed time.Duration, runErr error) {
	if s.recorder == nil {
		return
	}
	r := export.Record{
		JobID:     id,
		Kind:      "search",
		Target:    job.Target,
		Status:    export.StatusOK,
		Elapsed:   elapsed,
		CreatedAt: time.Now().UTC(),
	}
	if runErr != nil {
		r.Status = export.StatusFailed
		r.Error = runErr.Error()
	}
	if err := s.recorder.RecordRun(context.WithoutCancel(ctx), r); err != nil {
		s.log.Warn("recording run", zap.String("job", id), zap.Error(err))
	}
}
