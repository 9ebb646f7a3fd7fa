// Package browser owns the DevTools connection for one capture session.
// A Session is exclusively held by its page run: acquired before LOAD,
// torn down on every exit path.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	ilog "cardmotion/internal/log"
	"cardmotion/pkg/model"

	"github.com/google/uuid"
	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/dom"
	"github.com/mafredri/cdp/protocol/emulation"
	"github.com/mafredri/cdp/protocol/input"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"
)

// Options bound every wait the session performs. All values come from
// config; none are inferred from page content.
type Options struct {
	DevToolsURL     string
	Viewport        model.Viewport
	PageLoadTimeout time.Duration
	SettleWait      time.Duration
	EvaluateTimeout time.Duration
	ScrollStepWait  time.Duration
	ScrollEndWait   time.Duration
}

type Session struct {
	opts   Options
	info   model.SessionInfo
	devt   *devtool.DevTools
	target *devtool.Target
	conn   *rpcc.Conn
	client *cdp.Client
	ctx    context.Context
	cancel context.CancelFunc
}

// Open creates a fresh browser target for url and attaches to it. Any
// failure here is session-fatal.
func Open(ctx context.Context, opts Options, url string) (*Session, error) {
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		opts:   opts,
		devt:   devtool.New(opts.DevToolsURL),
		ctx:    sctx,
		cancel: cancel,
		info: model.SessionInfo{
			ID:        model.SessionID(uuid.NewString()),
			URL:       url,
			StartedAt: time.Now().UTC(),
			Viewport:  opts.Viewport,
		},
	}

	target, err := s.devt.Create(sctx)
	if err != nil {
		cancel()
		return nil, &model.FatalError{Stage: "connect", Err: err}
	}
	s.target = target

	conn, err := rpcc.DialContext(sctx, target.WebSocketDebuggerURL)
	if err != nil {
		s.teardown()
		return nil, &model.FatalError{Stage: "connect", Err: err}
	}
	s.conn = conn
	s.client = cdp.NewClient(conn)

	if err := s.enable(sctx); err != nil {
		s.teardown()
		return nil, &model.FatalError{Stage: "setup", Err: err}
	}

	ilog.L().Debug().Str("session", string(s.info.ID)).Str("url", url).Msg("session opened")
	return s, nil
}

func (s *Session) enable(ctx context.Context) error {
	if err := s.client.Page.Enable(ctx); err != nil {
		return err
	}
	if err := s.client.Runtime.Enable(ctx); err != nil {
		return err
	}
	vp := s.opts.Viewport
	if vp.Width > 0 && vp.Height > 0 {
		scale := vp.Scale
		if scale <= 0 {
			scale = 1
		}
		err := s.client.Emulation.SetDeviceMetricsOverride(ctx,
			emulation.NewSetDeviceMetricsOverrideArgs(vp.Width, vp.Height, scale, false))
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) Info() model.SessionInfo { return s.info }

// Navigate loads the target URL and blocks until the load event fires or
// the page-load timeout elapses. A timeout is reported as a distinct
// load-timeout condition so the orchestrator can tell it apart from
// element-level misses.
func (s *Session) Navigate(ctx context.Context) error {
	loadCtx, cancel := context.WithTimeout(ctx, s.opts.PageLoadTimeout)
	defer cancel()

	fired, err := s.client.Page.LoadEventFired(loadCtx)
	if err != nil {
		return &model.FatalError{Stage: "navigate", Err: err}
	}
	defer fired.Close()

	nav, err := s.client.Page.Navigate(loadCtx, page.NewNavigateArgs(s.info.URL))
	if err != nil {
		return &model.FatalError{Stage: "navigate", Err: err}
	}
	if nav.ErrorText != nil && *nav.ErrorText != "" {
		return &model.FatalError{Stage: "navigate", Err: fmt.Errorf("%s", *nav.ErrorText)}
	}

	if _, err := fired.Recv(); err != nil {
		if loadCtx.Err() != nil {
			return &model.FatalError{Stage: "load-timeout", Err: loadCtx.Err()}
		}
		return &model.FatalError{Stage: "navigate", Err: err}
	}

	// Dynamic galleries keep rendering after load; give them time.
	return wait(ctx, s.opts.SettleWait)
}

// ScrollToBottom walks the page in 800px steps to trigger lazy loading,
// then jumps to the bottom and waits for the tail to settle.
func (s *Session) ScrollToBottom(ctx context.Context) error {
	var height float64
	if err := s.Evaluate(ctx, "document.body.scrollHeight", &height); err != nil {
		return err
	}
	for y := 0.0; y < height; y += 800 {
		if err := s.Evaluate(ctx, fmt.Sprintf("window.scrollTo(0, %.0f)", y), nil); err != nil {
			return err
		}
		if err := wait(ctx, s.opts.ScrollStepWait); err != nil {
			return err
		}
	}
	if err := s.Evaluate(ctx, "window.scrollTo(0, document.body.scrollHeight)", nil); err != nil {
		return err
	}
	if err := wait(ctx, s.opts.ScrollEndWait); err != nil {
		return err
	}
	return s.Evaluate(ctx, "window.scrollTo(0, 0)", nil)
}

// Evaluate runs expr in the page and decodes its JSON value into out.
// A JS exception is an error; pass nil out to discard the result.
func (s *Session) Evaluate(ctx context.Context, expr string, out any) error {
	evalCtx, cancel := context.WithTimeout(ctx, s.opts.EvaluateTimeout)
	defer cancel()

	reply, err := s.client.Runtime.Evaluate(evalCtx,
		runtime.NewEvaluateArgs(expr).SetReturnByValue(true).SetAwaitPromise(true))
	if err != nil {
		return err
	}
	if reply.ExceptionDetails != nil {
		return fmt.Errorf("js exception: %s", reply.ExceptionDetails.Text)
	}
	if out == nil {
		return nil
	}
	if len(reply.Result.Value) == 0 {
		return fmt.Errorf("empty evaluate result")
	}
	return json.Unmarshal(reply.Result.Value, out)
}

// Screenshot captures the current viewport as PNG bytes.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	reply, err := s.client.Page.CaptureScreenshot(ctx,
		page.NewCaptureScreenshotArgs().SetFormat("png"))
	if err != nil {
		return nil, err
	}
	return reply.Data, nil
}

// MoveMouse dispatches a pointer move to page coordinates.
func (s *Session) MoveMouse(ctx context.Context, x, y float64) error {
	return s.client.Input.DispatchMouseEvent(ctx,
		input.NewDispatchMouseEventArgs("mouseMoved", x, y))
}

// Click dispatches a full press/release pair at page coordinates.
func (s *Session) Click(ctx context.Context, x, y float64) error {
	press := input.NewDispatchMouseEventArgs("mousePressed", x, y).
		SetButton(input.MouseButtonLeft).SetClickCount(1)
	if err := s.client.Input.DispatchMouseEvent(ctx, press); err != nil {
		return err
	}
	release := input.NewDispatchMouseEventArgs("mouseReleased", x, y).
		SetButton(input.MouseButtonLeft).SetClickCount(1)
	return s.client.Input.DispatchMouseEvent(ctx, release)
}

// FocusElement scrolls the element's bounding box near the viewport center
// and returns the box midpoint in viewport coordinates, which is what mouse
// dispatch expects.
func (s *Session) FocusElement(ctx context.Context, box model.BoundingBox) (float64, float64, error) {
	cx, cy := box.Center()
	target := cy - float64(s.opts.Viewport.Height)/2
	if target < 0 {
		target = 0
	}
	if err := s.Evaluate(ctx, fmt.Sprintf("window.scrollTo(0, %.0f)", target), nil); err != nil {
		return 0, 0, err
	}
	if err := wait(ctx, s.opts.ScrollStepWait); err != nil {
		return 0, 0, err
	}
	var offset [2]float64
	if err := s.Evaluate(ctx, "[window.scrollX, window.scrollY]", &offset); err != nil {
		return 0, 0, err
	}
	return cx - offset[0], cy - offset[1], nil
}

// ElementSignature returns a compact style-and-geometry digest of the
// element under the given viewport point. Comparing signatures taken
// around an interaction reveals whether the element visibly reacted;
// an empty string means no element was hit.
func (s *Session) ElementSignature(ctx context.Context, x, y float64) (string, error) {
	expr := fmt.Sprintf(`(() => {
	const el = document.elementFromPoint(%.0f, %.0f);
	if (!el) return '';
	const r = el.getBoundingClientRect();
	const cs = window.getComputedStyle(el);
	return [el.getAttribute('style') || '', cs.transform, cs.opacity, cs.filter,
		r.x.toFixed(1), r.y.toFixed(1), r.width.toFixed(1), r.height.toFixed(1)].join('|');
})()`, x, y)
	var sig string
	if err := s.Evaluate(ctx, expr, &sig); err != nil {
		return "", err
	}
	return sig, nil
}

// OuterHTML returns the full document markup.
func (s *Session) OuterHTML(ctx context.Context) (string, error) {
	doc, err := s.client.DOM.GetDocument(ctx, nil)
	if err != nil {
		return "", err
	}
	html, err := s.client.DOM.GetOuterHTML(ctx,
		dom.NewGetOuterHTMLArgs().SetNodeID(doc.Root.NodeID))
	if err != nil {
		return "", err
	}
	return html.OuterHTML, nil
}

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() error {
	err := s.teardown()
	ilog.L().Debug().Str("session", string(s.info.ID)).Msg("session closed")
	return err
}

func (s *Session) teardown() error {
	if s.cancel != nil {
		s.cancel()
	}
	var err error
	if s.conn != nil {
		err = s.conn.Close()
		s.conn = nil
	}
	if s.target != nil {
		// The session ctx is cancelled by now; closing the target needs
		// its own deadline.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := s.devt.Close(ctx, s.target); cerr != nil && err == nil {
			err = cerr
		}
		s.target = nil
	}
	return err
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
