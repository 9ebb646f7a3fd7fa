// Package orchestrate sequences the capture pipeline per target page:
// LOAD → DISCOVER → CAPTURE per element → EXTRACT_METADATA → ARCHIVE →
// REPORT. Element failures never change a page's terminal state; only a
// failed load or session setup aborts a page, and only an archive failure
// halts the run.
package orchestrate

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cardmotion/internal/discover"
	ilog "cardmotion/internal/log"
	"cardmotion/internal/metadata"
	"cardmotion/internal/probe"
	"cardmotion/internal/stats"
	"cardmotion/pkg/model"
)

// Session is the orchestrator's view of one exclusively owned browser
// session. *browser.Session satisfies it.
type Session interface {
	probe.Driver
	Info() model.SessionInfo
	Navigate(ctx context.Context) error
	ScrollToBottom(ctx context.Context) error
	OuterHTML(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, expr string, out any) error
	Close() error
}

// SessionFactory opens a fresh session for one target URL.
type SessionFactory func(ctx context.Context, url string) (Session, error)

type Discoverer interface {
	Discover(ctx context.Context, ev discover.Evaluator) ([]model.ElementDescriptor, error)
}

type Prober interface {
	Capture(ctx context.Context, drv probe.Driver, category string, el model.ElementDescriptor) ([]model.AnimationRecord, error)
}

type Extractor interface {
	Extract(ctx context.Context, ev metadata.Evaluator) (model.PageMetadata, error)
}

type Archive interface {
	WriteJSON(rel string, v any) (string, error)
	WriteBytes(rel string, b []byte) (string, error)
}

// Deps wires the pipeline components. All of them are shared across pages;
// the session is the only per-page resource.
type Deps struct {
	Open     SessionFactory
	Discover Discoverer
	Probe    Prober
	Extract  Extractor
	Archive  Archive
	Stats    *stats.Stats
}

type Orchestrator struct {
	deps        Deps
	parallelism int

	mu     sync.Mutex
	active map[model.SessionID]string
}

func New(deps Deps, parallelism int) *Orchestrator {
	if parallelism <= 0 {
		parallelism = 1
	}
	return &Orchestrator{
		deps:        deps,
		parallelism: parallelism,
		active:      make(map[model.SessionID]string),
	}
}

// Run processes every target page, each in its own isolated session, with
// bounded parallelism. A page abort never stops the batch; an archive
// failure cancels everything still pending.
func (o *Orchestrator) Run(ctx context.Context, urls []string) ([]model.PageResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]model.PageResult, len(urls))
	sem := make(chan struct{}, o.parallelism)

	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		runErr  error
	)
	for i, target := range urls {
		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-runCtx.Done():
				results[i] = model.PageResult{URL: target, State: model.PageAborted, Error: runCtx.Err().Error()}
				return
			}
			res, err := o.capturePage(runCtx, target)
			results[i] = res
			if err != nil {
				errOnce.Do(func() {
					runErr = err
					cancel()
				})
			}
		}(i, target)
	}
	wg.Wait()

	summary := RunSummary{
		FinishedAt: time.Now().UTC().Format(time.RFC3339),
		Pages:      results,
		Stats:      o.deps.Stats.Snapshot(),
	}
	if _, err := o.deps.Archive.WriteJSON("run.json", summary); err != nil && runErr == nil {
		runErr = err
	}
	return results, runErr
}

// RunSummary is the run-level rollup written next to the per-page reports.
type RunSummary struct {
	FinishedAt string              `json:"finished_at"`
	Pages      []model.PageResult  `json:"pages"`
	Stats      model.StatsSnapshot `json:"stats"`
}

// capturePage drives the per-page state machine. The returned error is
// non-nil only when the whole run must stop (archive failure or
// cancellation); session-fatal conditions are folded into the result.
func (o *Orchestrator) capturePage(ctx context.Context, target string) (model.PageResult, error) {
	slug := pageSlug(target)
	res := model.PageResult{URL: target}
	l := ilog.L().With().Str("page", slug).Logger()

	// LOAD
	s, err := o.deps.Open(ctx, target)
	if err != nil {
		l.Error().Err(err).Msg("session setup failed")
		o.deps.Stats.RecordError(err.Error())
		res.State = model.PageAborted
		res.Error = err.Error()
		return res, nil
	}
	o.track(s.Info().ID, target)
	defer func() {
		o.untrack(s.Info().ID)
		if cerr := s.Close(); cerr != nil {
			l.Warn().Err(cerr).Msg("session close failed")
		}
	}()

	if err := s.Navigate(ctx); err != nil {
		l.Error().Err(err).Msg("page load failed")
		o.deps.Stats.RecordError(err.Error())
		res.State = model.PageAborted
		res.Error = err.Error()
		return res, nil
	}

	statsBefore := o.deps.Stats.Snapshot()

	// Slice fields start empty so a sparse page still emits arrays, not
	// nulls.
	report := model.Report{
		Session: model.ReportSession{
			URL:       target,
			StartedAt: s.Info().StartedAt.Format(time.RFC3339),
		},
		Elements: []model.ElementDescriptor{},
		Records:  []model.AnimationRecord{},
		CSSRules: []model.CSSAnimationRule{},
		Bindings: []model.InteractionBinding{},
	}

	// Page snapshots are taken before any state is perturbed.
	if png, serr := s.Screenshot(ctx); serr != nil {
		o.deps.Stats.RecordError(noteFor(slug, "initial screenshot", serr))
	} else {
		if _, werr := o.deps.Archive.WriteBytes(filepath.Join(slug, "screenshots", "initial_load.png"), png); werr != nil {
			return res, werr
		}
		o.deps.Stats.AddScreenshot()
	}
	if html, herr := s.OuterHTML(ctx); herr != nil {
		o.deps.Stats.RecordError(noteFor(slug, "html snapshot", herr))
	} else {
		if _, werr := o.deps.Archive.WriteBytes(filepath.Join(slug, "raw_html", "page.html"), []byte(html)); werr != nil {
			return res, werr
		}
	}

	if err := s.ScrollToBottom(ctx); err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		o.deps.Stats.RecordError(noteFor(slug, "lazy-load scroll", err))
	}

	// DISCOVER. Zero matches is a normal, reportable outcome.
	elements, err := o.deps.Discover.Discover(ctx, s)
	if err != nil {
		return res, err
	}
	o.deps.Stats.AddElementsFound(len(elements))
	report.Elements = append(report.Elements, elements...)

	// CAPTURE, element by element. One misbehaving element never blocks
	// the rest; cancellation is checked between elements.
	category := filepath.Join(slug, "animations")
	for _, el := range elements {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		records, perr := o.deps.Probe.Capture(ctx, s, category, el)
		report.Records = append(report.Records, records...)
		if perr != nil {
			return res, perr
		}
	}

	// EXTRACT_METADATA, once per page. A partial harvest is fine.
	meta, merr := o.deps.Extract.Extract(ctx, s)
	if merr != nil {
		o.deps.Stats.RecordError(noteFor(slug, "metadata", merr))
	}
	metadata.Correlate(meta.CSSRules, elements)
	report.CSSRules = append(report.CSSRules, meta.CSSRules...)
	report.Bindings = append(report.Bindings, meta.Bindings...)

	// ARCHIVE + REPORT
	report.Stats = pageDelta(statsBefore, o.deps.Stats.Snapshot())
	report.State = model.PageCompleted
	path, err := o.deps.Archive.WriteJSON(filepath.Join(slug, "report.json"), report)
	if err != nil {
		return res, err
	}

	l.Info().Int("elements", len(elements)).Int("records", len(report.Records)).
		Msg("page completed")
	res.State = model.PageCompleted
	res.ReportPath = path
	return res, nil
}

func (o *Orchestrator) track(id model.SessionID, url string) {
	o.mu.Lock()
	o.active[id] = url
	n := len(o.active)
	o.mu.Unlock()
	ilog.L().Debug().Str("session", string(id)).Int("active", n).Msg("session tracked")
}

func (o *Orchestrator) untrack(id model.SessionID) {
	o.mu.Lock()
	delete(o.active, id)
	o.mu.Unlock()
}

// pageDelta scopes the shared run counters to one page by differencing
// snapshots taken at the page's start and end. Exact when pages run
// serially; with parallel pages the delta can include concurrent activity,
// and run.json keeps the authoritative run-wide totals.
func pageDelta(before, after model.StatsSnapshot) model.StatsSnapshot {
	d := model.StatsSnapshot{
		ElementsFound:      after.ElementsFound - before.ElementsFound,
		AnimationsCaptured: after.AnimationsCaptured - before.AnimationsCaptured,
		HoverEffects:       after.HoverEffects - before.HoverEffects,
		ClickInteractions:  after.ClickInteractions - before.ClickInteractions,
		ScreenshotsTaken:   after.ScreenshotsTaken - before.ScreenshotsTaken,
		Errors:             after.Errors - before.Errors,
	}
	if n := len(before.FailureSample); n < len(after.FailureSample) {
		d.FailureSample = after.FailureSample[n:]
	}
	return d
}

func noteFor(slug, op string, err error) string {
	return fmt.Sprintf("%s: %s: %v", slug, op, err)
}

// pageSlug derives a filesystem-safe directory name from the target URL so
// two pages in one run never share an archive subtree.
func pageSlug(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return sanitize(target)
	}
	s := u.Host
	if p := strings.Trim(u.Path, "/"); p != "" {
		s += "_" + p
	}
	return sanitize(s)
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "page"
	}
	return b.String()
}
