// Package metadata harvests CSS animation rules and JS event-binding
// descriptors from the live document. It runs once per page and is
// independent of any single captured element.
package metadata

import (
	"context"
	"strings"

	ilog "cardmotion/internal/log"
	"cardmotion/pkg/model"
)

// Evaluator is the slice of the browser session the extractor needs.
type Evaluator interface {
	Evaluate(ctx context.Context, expr string, out any) error
}

// stylesheetJS walks every accessible stylesheet and collects rules whose
// text references animation, transition or @keyframes. Cross-origin sheets
// throw on access; the per-sheet try/catch skips just that sheet, so a
// partial harvest is the normal outcome on pages with third-party CSS.
const stylesheetJS = `(() => {
	const out = [];
	for (let i = 0; i < document.styleSheets.length; i++) {
		try {
			const sheet = document.styleSheets[i];
			const rules = sheet.cssRules || sheet.rules;
			for (let j = 0; j < rules.length; j++) {
				const rule = rules[j];
				if (rule.cssText.includes('@keyframes') ||
					rule.cssText.includes('animation') ||
					rule.cssText.includes('transition')) {
					out.push({
						selector: rule.selectorText || '',
						rule_text: rule.cssText,
						source: sheet.href || 'inline',
					});
				}
			}
		} catch (e) {
			// cross-origin sheet, skip
		}
	}
	return out;
})()`

// listenerJS probes a fixed set of handler properties on every element.
// Only elements with a bound handler are reported.
const listenerJS = `(() => {
	const out = [];
	const events = ['click', 'mouseover', 'mouseenter', 'mouseout'];
	document.querySelectorAll('*').forEach((el) => {
		for (const ev of events) {
			if (el['on' + ev]) {
				out.push({
					tag: el.tagName,
					class: typeof el.className === 'string' ? el.className : '',
					id: el.id || '',
					event_type: ev,
					has_listener: true,
				});
			}
		}
	});
	return out;
})()`

type Extractor struct{}

func New() *Extractor { return &Extractor{} }

// Extract returns the page's animation rules and interaction bindings.
// Each of the two harvests degrades independently: a failing evaluation
// yields an empty slice plus a MetadataError, never a fatal condition.
func (x *Extractor) Extract(ctx context.Context, ev Evaluator) (model.PageMetadata, error) {
	var meta model.PageMetadata
	var firstErr error

	if err := ev.Evaluate(ctx, stylesheetJS, &meta.CSSRules); err != nil {
		firstErr = &model.MetadataError{Source: "stylesheets", Err: err}
	}
	if err := ev.Evaluate(ctx, listenerJS, &meta.Bindings); err != nil && firstErr == nil {
		firstErr = &model.MetadataError{Source: "listeners", Err: err}
	}

	ilog.L().Info().Int("css_rules", len(meta.CSSRules)).
		Int("bindings", len(meta.Bindings)).Msg("metadata extracted")
	return meta, firstErr
}

// Correlate annotates CSS rules with the indices of discovered elements
// whose class or id text appears in the rule selector. This is advisory
// string matching only; there is no reliable join between a stylesheet
// rule and a live element.
func Correlate(rules []model.CSSAnimationRule, elements []model.ElementDescriptor) {
	for i := range rules {
		sel := rules[i].Selector
		if sel == "" {
			continue
		}
		for _, el := range elements {
			if matches(sel, el) {
				rules[i].RelatedElements = append(rules[i].RelatedElements, el.Index)
			}
		}
	}
}

func matches(selector string, el model.ElementDescriptor) bool {
	if el.ID != "" && strings.Contains(selector, "#"+el.ID) {
		return true
	}
	for _, cls := range strings.Fields(el.Class) {
		if strings.Contains(selector, "."+cls) {
			return true
		}
	}
	return false
}
