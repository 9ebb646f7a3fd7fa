package orchestrate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cardmotion/internal/archive"
	"cardmotion/internal/discover"
	"cardmotion/internal/metadata"
	"cardmotion/internal/probe"
	"cardmotion/internal/stats"
	"cardmotion/pkg/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// fakeSession stands in for a live browser session. All page interactions
// succeed unless a specific failure is armed.
type fakeSession struct {
	info        model.SessionInfo
	navigateErr error
	closed      bool
}

func newFakeSession(url string) *fakeSession {
	return &fakeSession{info: model.SessionInfo{
		ID:        model.SessionID(uuid.NewString()),
		URL:       url,
		StartedAt: time.Now().UTC(),
	}}
}

func (s *fakeSession) Info() model.SessionInfo              { return s.info }
func (s *fakeSession) Navigate(context.Context) error       { return s.navigateErr }
func (s *fakeSession) ScrollToBottom(context.Context) error { return nil }
func (s *fakeSession) OuterHTML(context.Context) (string, error) {
	return "<html><body></body></html>", nil
}
func (s *fakeSession) Evaluate(_ context.Context, _ string, _ any) error { return nil }
func (s *fakeSession) Screenshot(context.Context) ([]byte, error)        { return []byte("png"), nil }
func (s *fakeSession) MoveMouse(context.Context, float64, float64) error { return nil }
func (s *fakeSession) Click(context.Context, float64, float64) error     { return nil }
func (s *fakeSession) FocusElement(_ context.Context, box model.BoundingBox) (float64, float64, error) {
	x, y := box.Center()
	return x, y, nil
}
func (s *fakeSession) ElementSignature(context.Context, float64, float64) (string, error) {
	return "steady", nil
}
func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type fakeDiscoverer struct {
	elements []model.ElementDescriptor
}

func (d *fakeDiscoverer) Discover(context.Context, discover.Evaluator) ([]model.ElementDescriptor, error) {
	return d.elements, nil
}

type fakeProber struct {
	captured []string
	err      error
}

func (p *fakeProber) Capture(_ context.Context, _ probe.Driver, category string, el model.ElementDescriptor) ([]model.AnimationRecord, error) {
	p.captured = append(p.captured, category)
	if p.err != nil {
		return nil, p.err
	}
	return []model.AnimationRecord{
		{ElementIndex: el.Index, Probe: model.ProbeBaseline, Frames: []model.Frame{{Index: 0, Path: "f.png"}}},
	}, nil
}

type fakeExtractor struct {
	meta model.PageMetadata
	err  error
}

func (x *fakeExtractor) Extract(context.Context, metadata.Evaluator) (model.PageMetadata, error) {
	return x.meta, x.err
}

type harness struct {
	deps     Deps
	stats    *stats.Stats
	root     string
	sessions map[string]*fakeSession
	prober   *fakeProber
}

func newHarness(t *testing.T, elements []model.ElementDescriptor) *harness {
	t.Helper()
	st := stats.New()
	root := t.TempDir()
	arch, err := archive.New(root, st)
	require.NoError(t, err)

	h := &harness{
		stats:    st,
		root:     root,
		sessions: make(map[string]*fakeSession),
		prober:   &fakeProber{},
	}
	h.deps = Deps{
		Open: func(_ context.Context, url string) (Session, error) {
			s := newFakeSession(url)
			h.sessions[url] = s
			return s, nil
		},
		Discover: &fakeDiscoverer{elements: elements},
		Probe:    h.prober,
		Extract:  &fakeExtractor{},
		Archive:  arch,
		Stats:    st,
	}
	return h
}

func someElements(n int) []model.ElementDescriptor {
	els := make([]model.ElementDescriptor, n)
	for i := range els {
		els[i] = model.ElementDescriptor{
			Index: i, Tag: "div", Class: "card",
			Box: model.BoundingBox{X: float64(i * 300), Y: 100, W: 240, H: 330},
		}
	}
	return els
}

func TestRunCompletesPage(t *testing.T) {
	h := newHarness(t, someElements(2))
	orc := New(h.deps, 1)

	results, err := orc.Run(context.Background(), []string{"https://example.com/cards"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, model.PageCompleted, results[0].State)
	require.NotEmpty(t, results[0].ReportPath)

	b, err := os.ReadFile(results[0].ReportPath)
	require.NoError(t, err)
	require.Equal(t, "COMPLETED", gjson.GetBytes(b, "state").String())
	require.Equal(t, int64(2), gjson.GetBytes(b, "elements_discovered.#").Int())
	require.Equal(t, int64(2), gjson.GetBytes(b, "animation_records.#").Int())
	require.Equal(t, "https://example.com/cards", gjson.GetBytes(b, "session.url").String())

	// Page snapshots land before any probing.
	dir := filepath.Dir(results[0].ReportPath)
	require.FileExists(t, filepath.Join(dir, "screenshots", "initial_load.png"))
	require.FileExists(t, filepath.Join(dir, "raw_html", "page.html"))

	// The run rollup is written even for a single page.
	run, err := os.ReadFile(filepath.Join(h.root, "run.json"))
	require.NoError(t, err)
	require.Equal(t, int64(1), gjson.GetBytes(run, "pages.#").Int())

	require.True(t, h.sessions["https://example.com/cards"].closed)
	require.Equal(t, 2, h.stats.Snapshot().ElementsFound)
}

func TestRunZeroElementsIsCompleted(t *testing.T) {
	h := newHarness(t, nil)
	orc := New(h.deps, 1)

	results, err := orc.Run(context.Background(), []string{"https://example.com/empty"})
	require.NoError(t, err)
	require.Equal(t, model.PageCompleted, results[0].State)

	b, err := os.ReadFile(results[0].ReportPath)
	require.NoError(t, err)
	require.Equal(t, int64(0), gjson.GetBytes(b, "elements_discovered.#").Int())
	require.Equal(t, 0, h.stats.Snapshot().Errors)
	require.Empty(t, h.prober.captured)

	// Sparse pages emit empty arrays, never null.
	for _, field := range []string{
		"elements_discovered", "animation_records",
		"css_animation_rules", "interaction_bindings",
	} {
		require.True(t, gjson.GetBytes(b, field).IsArray(), field)
	}
}

func TestRunReportStatsArePageScoped(t *testing.T) {
	h := newHarness(t, someElements(1))
	orc := New(h.deps, 1)

	results, err := orc.Run(context.Background(),
		[]string{"https://example.com/en", "https://example.com/jp"})
	require.NoError(t, err)

	// The second page's report counts its own element, not the running
	// total across the batch.
	for _, r := range results {
		b, err := os.ReadFile(r.ReportPath)
		require.NoError(t, err)
		require.Equal(t, int64(1), gjson.GetBytes(b, "stats.elements_found").Int(), r.URL)
	}
	require.Equal(t, 2, h.stats.Snapshot().ElementsFound)

	run, err := os.ReadFile(filepath.Join(h.root, "run.json"))
	require.NoError(t, err)
	require.Equal(t, int64(2), gjson.GetBytes(run, "stats.elements_found").Int())
}

func TestRunPageAbortDoesNotStopBatch(t *testing.T) {
	h := newHarness(t, someElements(1))
	loadErr := &model.FatalError{Stage: "load-timeout", Err: errors.New("deadline exceeded")}
	h.deps.Open = func(_ context.Context, url string) (Session, error) {
		s := newFakeSession(url)
		h.sessions[url] = s
		if url == "https://slow.example.com" {
			s.navigateErr = loadErr
		}
		return s, nil
	}
	orc := New(h.deps, 1)

	results, err := orc.Run(context.Background(),
		[]string{"https://slow.example.com", "https://example.com/cards"})
	require.NoError(t, err)

	require.Equal(t, model.PageAborted, results[0].State)
	require.Contains(t, results[0].Error, "load-timeout")
	require.Equal(t, model.PageCompleted, results[1].State)

	// The aborted session is still torn down and the failure is counted.
	require.True(t, h.sessions["https://slow.example.com"].closed)
	require.Equal(t, 1, h.stats.Snapshot().Errors)
}

func TestRunOpenFailureAbortsOnlyThatPage(t *testing.T) {
	h := newHarness(t, someElements(1))
	h.deps.Open = func(_ context.Context, url string) (Session, error) {
		if url == "https://down.example.com" {
			return nil, &model.FatalError{Stage: "connect", Err: errors.New("connection refused")}
		}
		s := newFakeSession(url)
		return s, nil
	}
	orc := New(h.deps, 2)

	results, err := orc.Run(context.Background(),
		[]string{"https://down.example.com", "https://example.com"})
	require.NoError(t, err)
	require.Equal(t, model.PageAborted, results[0].State)
	require.Equal(t, model.PageCompleted, results[1].State)
}

func TestRunArchiveFailureHaltsRun(t *testing.T) {
	h := newHarness(t, someElements(1))
	h.prober.err = &model.ArchiveError{Path: "frame", Err: errors.New("disk full")}
	orc := New(h.deps, 1)

	_, err := orc.Run(context.Background(), []string{"https://example.com"})
	require.Error(t, err)
	require.True(t, model.IsArchive(err))
}

func TestRunMetadataFailureIsNonFatal(t *testing.T) {
	h := newHarness(t, someElements(1))
	h.deps.Extract = &fakeExtractor{
		err: &model.MetadataError{Source: "stylesheets", Err: errors.New("cross-origin")},
	}
	orc := New(h.deps, 1)

	results, err := orc.Run(context.Background(), []string{"https://example.com"})
	require.NoError(t, err)
	require.Equal(t, model.PageCompleted, results[0].State)
	require.Equal(t, 1, h.stats.Snapshot().Errors)
}

func TestRunCorrelatesMetadataIntoReport(t *testing.T) {
	h := newHarness(t, someElements(1))
	h.deps.Extract = &fakeExtractor{meta: model.PageMetadata{
		CSSRules: []model.CSSAnimationRule{{Selector: ".card:hover", RuleText: ".card:hover {}", Source: "inline"}},
	}}
	orc := New(h.deps, 1)

	results, err := orc.Run(context.Background(), []string{"https://example.com"})
	require.NoError(t, err)

	b, err := os.ReadFile(results[0].ReportPath)
	require.NoError(t, err)
	require.Equal(t, int64(0), gjson.GetBytes(b, "css_animation_rules.0.related_elements.0").Int())
}

func TestRunSeparatesArchiveSubtreesPerPage(t *testing.T) {
	h := newHarness(t, someElements(1))
	orc := New(h.deps, 1)

	results, err := orc.Run(context.Background(),
		[]string{"https://example.com/en", "https://example.com/jp"})
	require.NoError(t, err)
	require.NotEqual(t, filepath.Dir(results[0].ReportPath), filepath.Dir(results[1].ReportPath))

	// Probe frame categories are page-scoped too.
	require.Len(t, h.prober.captured, 2)
	require.NotEqual(t, h.prober.captured[0], h.prober.captured[1])
}

func TestRunCancelledContext(t *testing.T) {
	h := newHarness(t, someElements(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	orc := New(h.deps, 1)

	// Whether the worker observes cancellation before or after acquiring
	// its slot, the page never completes.
	results, err := orc.Run(ctx, []string{"https://example.com"})
	require.Len(t, results, 1)
	if err == nil {
		require.Equal(t, model.PageAborted, results[0].State)
	}
	require.NotEqual(t, model.PageCompleted, results[0].State)
}

func TestPageSlug(t *testing.T) {
	cases := map[string]string{
		"https://example.com":               "example.com",
		"https://example.com/cards/gallery": "example.com_cards_gallery",
		"https://example.com/cards?page=2":  "example.com_cards",
		"not a url":                         "not_a_url",
	}
	for in, want := range cases {
		require.Equal(t, want, pageSlug(in), in)
	}
}
