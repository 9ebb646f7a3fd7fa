// Package probe runs the fixed interaction battery against one candidate
// element and records the resulting frame sequences.
package probe

import (
	"context"
	"time"

	ilog "cardmotion/internal/log"
	"cardmotion/internal/stats"
	"cardmotion/pkg/model"
)

// Driver is the slice of the browser session the engine interacts through.
type Driver interface {
	Screenshot(ctx context.Context) ([]byte, error)
	MoveMouse(ctx context.Context, x, y float64) error
	Click(ctx context.Context, x, y float64) error
	FocusElement(ctx context.Context, box model.BoundingBox) (float64, float64, error)
	// ElementSignature samples the style and geometry of the element under
	// the given viewport point. Two differing signatures around an
	// interaction mean the element visibly reacted.
	ElementSignature(ctx context.Context, x, y float64) (string, error)
}

// Archiver persists frames as they are captured.
type Archiver interface {
	WriteFrame(category string, element int, probe model.ProbeType, frame int, data []byte) (string, error)
}

// Timing holds every probe wait. All values are wall-clock constants from
// config; sampling is a best-effort heuristic, not synchronized to the
// page's actual animation durations.
type Timing struct {
	HoverDwell         time.Duration
	HoverExit          time.Duration
	ClickInterval      time.Duration
	ClickFrames        int
	ContinuousInterval time.Duration
	ContinuousFrames   int
	OpeningOffsets     []time.Duration
}

// FrameCount returns the configured frame count for a probe type.
func (t Timing) FrameCount(p model.ProbeType) int {
	switch p {
	case model.ProbeBaseline:
		return 1
	case model.ProbeHover:
		return 3
	case model.ProbeClick:
		return t.ClickFrames
	case model.ProbeContinuous:
		return t.ContinuousFrames
	case model.ProbeOpening:
		return len(t.OpeningOffsets)
	}
	return 0
}

type Engine struct {
	timing Timing
	arch   Archiver
	stats  *stats.Stats
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewEngine(timing Timing, arch Archiver, st *stats.Stats) *Engine {
	return &Engine{timing: timing, arch: arch, stats: st, sleep: sleepCtx}
}

// Capture runs the probe battery against one element, in order: opening
// sequence, baseline, hover, click, continuous. Each probe is independently
// fault-tolerant; a probe failure becomes a note on its record and never
// stops the remaining probes. The returned error is non-nil only for
// archive failures and cancellation; both end the element early with
// whatever was already recorded.
func (e *Engine) Capture(ctx context.Context, drv Driver, category string, el model.ElementDescriptor) ([]model.AnimationRecord, error) {
	probes := []func(context.Context, Driver, string, model.ElementDescriptor) (model.AnimationRecord, error){
		e.openingSequence,
		e.baseline,
		e.hover,
		e.click,
		e.continuous,
	}

	var records []model.AnimationRecord
	for _, run := range probes {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		rec, err := run(ctx, drv, category, el)
		if err != nil {
			// Archive failures and cancellation escalate; the partial
			// record stays valid for what was captured.
			if len(rec.Frames) > 0 {
				records = append(records, rec)
			}
			return records, err
		}
		if rec.Note != "" {
			e.stats.RecordError(rec.Note)
			ilog.L().Warn().Int("element", el.Index).Str("probe", string(rec.Probe)).
				Str("note", rec.Note).Msg("probe degraded")
		} else {
			e.stats.AddAnimationCaptured()
		}
		records = append(records, rec)
	}
	return records, nil
}

// frame captures one screenshot and archives it at the next index.
func (e *Engine) frame(ctx context.Context, drv Driver, category string, el model.ElementDescriptor, p model.ProbeType, idx int, offset time.Duration) (model.Frame, error) {
	png, err := drv.Screenshot(ctx)
	if err != nil {
		return model.Frame{}, &model.TransientError{Op: "screenshot", Err: err}
	}
	path, err := e.arch.WriteFrame(category, el.Index, p, idx, png)
	if err != nil {
		return model.Frame{}, err
	}
	return model.Frame{
		Index:       idx,
		TimeOffsetS: offset.Seconds(),
		Path:        path,
		CapturedAt:  time.Now().UTC(),
	}, nil
}

// openingSequence samples the element's initial self-driven animation at
// fixed offsets from the moment the probe starts.
func (e *Engine) openingSequence(ctx context.Context, drv Driver, category string, el model.ElementDescriptor) (model.AnimationRecord, error) {
	rec := model.AnimationRecord{ElementIndex: el.Index, Probe: model.ProbeOpening}
	if _, _, err := drv.FocusElement(ctx, el.Box); err != nil {
		rec.Note = noteFor("focus", err)
		return rec, escalate(err)
	}
	var elapsed time.Duration
	for i, off := range e.timing.OpeningOffsets {
		if err := e.sleep(ctx, off-elapsed); err != nil {
			return rec, err
		}
		elapsed = off
		f, err := e.frame(ctx, drv, category, el, model.ProbeOpening, i, off)
		if err != nil {
			rec.Note = noteFor("opening frame", err)
			return rec, escalate(err)
		}
		rec.Frames = append(rec.Frames, f)
	}
	return rec, nil
}

func (e *Engine) baseline(ctx context.Context, drv Driver, category string, el model.ElementDescriptor) (model.AnimationRecord, error) {
	rec := model.AnimationRecord{ElementIndex: el.Index, Probe: model.ProbeBaseline}
	f, err := e.frame(ctx, drv, category, el, model.ProbeBaseline, 0, 0)
	if err != nil {
		rec.Note = noteFor("baseline", err)
		return rec, escalate(err)
	}
	rec.Frames = append(rec.Frames, f)
	return rec, nil
}

// hover records before, during (after the dwell) and after (pointer moved
// away) frames. The effect flag is set only when the element's signature
// changed under the pointer, not merely because the probe ran.
func (e *Engine) hover(ctx context.Context, drv Driver, category string, el model.ElementDescriptor) (model.AnimationRecord, error) {
	rec := model.AnimationRecord{ElementIndex: el.Index, Probe: model.ProbeHover}

	x, y, err := drv.FocusElement(ctx, el.Box)
	if err != nil {
		rec.Note = noteFor("focus", err)
		return rec, escalate(err)
	}
	before, sigErr := drv.ElementSignature(ctx, x, y)

	f, err := e.frame(ctx, drv, category, el, model.ProbeHover, 0, 0)
	if err != nil {
		rec.Note = noteFor("hover before", err)
		return rec, escalate(err)
	}
	rec.Frames = append(rec.Frames, f)

	if err := drv.MoveMouse(ctx, x, y); err != nil {
		rec.Note = noteFor("hover move", err)
		return rec, escalate(err)
	}
	if err := e.sleep(ctx, e.timing.HoverDwell); err != nil {
		return rec, err
	}
	during, duringErr := drv.ElementSignature(ctx, x, y)
	f, err = e.frame(ctx, drv, category, el, model.ProbeHover, 1, e.timing.HoverDwell)
	if err != nil {
		rec.Note = noteFor("hover during", err)
		return rec, escalate(err)
	}
	rec.Frames = append(rec.Frames, f)

	// Park the pointer off the element so the hover state unwinds.
	if err := drv.MoveMouse(ctx, x+150, y+150); err != nil {
		rec.Note = noteFor("hover exit", err)
		return rec, escalate(err)
	}
	if err := e.sleep(ctx, e.timing.HoverExit); err != nil {
		return rec, err
	}
	f, err = e.frame(ctx, drv, category, el, model.ProbeHover, 2, e.timing.HoverDwell+e.timing.HoverExit)
	if err != nil {
		rec.Note = noteFor("hover after", err)
		return rec, escalate(err)
	}
	rec.Frames = append(rec.Frames, f)

	// A failed signature read means undetected, never a probe failure.
	if sigErr == nil && duringErr == nil && before != during {
		rec.HasHoverEffect = true
		e.stats.AddHoverEffect()
	}
	return rec, nil
}

// click dispatches one click and samples the transition it triggers. The
// engine does not undo whatever state the click produced; later probes see
// the page as the click left it. Dispatch always succeeds on a handler-less
// element, so the effect flag compares the element's signature before the
// click and after the sampled frames.
func (e *Engine) click(ctx context.Context, drv Driver, category string, el model.ElementDescriptor) (model.AnimationRecord, error) {
	rec := model.AnimationRecord{ElementIndex: el.Index, Probe: model.ProbeClick}

	x, y, err := drv.FocusElement(ctx, el.Box)
	if err != nil {
		rec.Note = noteFor("focus", err)
		return rec, escalate(err)
	}
	before, sigErr := drv.ElementSignature(ctx, x, y)
	if err := drv.Click(ctx, x, y); err != nil {
		rec.Note = noteFor("click dispatch", err)
		return rec, escalate(err)
	}

	for i := 0; i < e.timing.ClickFrames; i++ {
		if err := e.sleep(ctx, e.timing.ClickInterval); err != nil {
			return rec, err
		}
		offset := time.Duration(i+1) * e.timing.ClickInterval
		f, err := e.frame(ctx, drv, category, el, model.ProbeClick, i, offset)
		if err != nil {
			rec.Note = noteFor("click frame", err)
			return rec, escalate(err)
		}
		rec.Frames = append(rec.Frames, f)
	}

	after, afterErr := drv.ElementSignature(ctx, x, y)
	if sigErr == nil && afterErr == nil && before != after {
		rec.HasClickEffect = true
		e.stats.AddClickInteraction()
	}
	return rec, nil
}

// continuous samples without interaction to catch self-driven animation
// such as autoplay or rotation.
func (e *Engine) continuous(ctx context.Context, drv Driver, category string, el model.ElementDescriptor) (model.AnimationRecord, error) {
	rec := model.AnimationRecord{ElementIndex: el.Index, Probe: model.ProbeContinuous}

	for i := 0; i < e.timing.ContinuousFrames; i++ {
		offset := time.Duration(i) * e.timing.ContinuousInterval
		f, err := e.frame(ctx, drv, category, el, model.ProbeContinuous, i, offset)
		if err != nil {
			rec.Note = noteFor("continuous frame", err)
			return rec, escalate(err)
		}
		rec.Frames = append(rec.Frames, f)
		if err := e.sleep(ctx, e.timing.ContinuousInterval); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

// escalate passes through only errors the element loop must stop for.
// Transient element failures have already been folded into the record.
func escalate(err error) error {
	if model.IsArchive(err) {
		return err
	}
	return nil
}

func noteFor(op string, err error) string {
	return op + ": " + err.Error()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
