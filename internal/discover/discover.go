// Package discover finds candidate interactive elements on a rendered page.
package discover

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	ilog "cardmotion/internal/log"
	"cardmotion/pkg/model"
)

// Evaluator is the slice of the browser session discovery needs.
type Evaluator interface {
	Evaluate(ctx context.Context, expr string, out any) error
}

type Discoverer struct {
	selectors []string
	limit     int
}

// New builds a discoverer over an ordered selector cascade, most specific
// first. limit bounds the result length.
func New(selectors []string, limit int) *Discoverer {
	return &Discoverer{selectors: selectors, limit: limit}
}

// rawElement mirrors the object literal produced by elementQueryJS.
type rawElement struct {
	Tag   string  `json:"tag"`
	ID    string  `json:"id"`
	Class string  `json:"class"`
	Text  string  `json:"text"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	W     float64 `json:"w"`
	H     float64 `json:"h"`
}

// Discover runs the cascade and returns a deduplicated, bounded element
// list. A selector that throws is skipped; zero total matches is a normal
// empty result, not an error.
func (d *Discoverer) Discover(ctx context.Context, ev Evaluator) ([]model.ElementDescriptor, error) {
	var (
		out  []model.ElementDescriptor
		seen = make(map[string]struct{})
	)

	for _, sel := range d.selectors {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		var raw []rawElement
		if err := ev.Evaluate(ctx, elementQueryJS(sel), &raw); err != nil {
			ilog.L().Debug().Str("selector", sel).Err(err).Msg("selector skipped")
			continue
		}
		for _, r := range raw {
			desc := model.ElementDescriptor{
				Index:    len(out),
				Tag:      strings.ToLower(r.Tag),
				ID:       r.ID,
				Class:    r.Class,
				Text:     r.Text,
				Selector: sel,
				Box:      model.BoundingBox{X: r.X, Y: r.Y, W: r.W, H: r.H},
			}
			// Zero-sized nodes are not visually interactive.
			if desc.Box.W <= 0 || desc.Box.H <= 0 {
				continue
			}
			fp := desc.Fingerprint()
			if _, dup := seen[fp]; dup {
				continue
			}
			seen[fp] = struct{}{}
			out = append(out, desc)
			if len(out) >= d.limit {
				ilog.L().Debug().Int("limit", d.limit).Msg("discovery bound reached")
				return out, nil
			}
		}
	}

	ilog.L().Info().Int("elements", len(out)).Msg("discovery finished")
	return out, nil
}

// elementQueryJS returns a JS expression collecting descriptors for every
// node matched by sel. The selector string is JSON-quoted so hostile
// selector text cannot break out of the expression.
func elementQueryJS(sel string) string {
	quoted, _ := json.Marshal(sel)
	return fmt.Sprintf(`(() => {
	const out = [];
	for (const el of document.querySelectorAll(%s)) {
		const r = el.getBoundingClientRect();
		out.push({
			tag: el.tagName,
			id: el.id || '',
			class: typeof el.className === 'string' ? el.className : '',
			text: (el.textContent || '').trim().slice(0, 100),
			x: r.x + window.scrollX,
			y: r.y + window.scrollY,
			w: r.width,
			h: r.height,
		});
	}
	return out;
})()`, quoted)
}
