package model

import "time"

type SessionID string

// ProbeType identifies one fixed interaction test applied to an element.
type ProbeType string

const (
	ProbeBaseline   ProbeType = "baseline"
	ProbeHover      ProbeType = "hover"
	ProbeClick      ProbeType = "click"
	ProbeContinuous ProbeType = "continuous"
	ProbeOpening    ProbeType = "opening-sequence"
)

type Viewport struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Scale  float64 `json:"scale"`
}

// SessionInfo describes one browser session against one target URL.
type SessionInfo struct {
	ID        SessionID `json:"id"`
	URL       string    `json:"url"`
	StartedAt time.Time `json:"started_at"`
	Viewport  Viewport  `json:"viewport"`
}

type BoundingBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Center returns the midpoint of the box, used as the pointer target.
func (b BoundingBox) Center() (float64, float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// ElementDescriptor is a discovered interactive DOM node. Tag is always
// populated; ID, Class and Text are best-effort and may be empty. A
// descriptor is only meaningful within the session that produced it.
type ElementDescriptor struct {
	Index    int         `json:"index"`
	Tag      string      `json:"tag"`
	ID       string      `json:"id"`
	Class    string      `json:"class"`
	Text     string      `json:"text,omitempty"`
	Selector string      `json:"selector,omitempty"`
	Box      BoundingBox `json:"box"`
}

// Frame is a single screenshot at a point in a probe sequence.
type Frame struct {
	Index       int       `json:"index"`
	TimeOffsetS float64   `json:"time_offset_s"`
	Path        string    `json:"path"`
	CapturedAt  time.Time `json:"captured_at"`
}

// AnimationRecord is the captured behavior of one element under one probe.
type AnimationRecord struct {
	ElementIndex   int       `json:"element_index"`
	Probe          ProbeType `json:"probe_type"`
	Frames         []Frame   `json:"frames"`
	HasHoverEffect bool      `json:"has_hover_effect"`
	HasClickEffect bool      `json:"has_click_effect"`
	Note           string    `json:"note,omitempty"`
}

// CSSAnimationRule is one stylesheet rule referencing animation, transition
// or @keyframes. Page-scoped, not element-scoped.
type CSSAnimationRule struct {
	Selector string `json:"selector"`
	RuleText string `json:"rule_text"`
	Source   string `json:"source"`
	// RelatedElements correlates the rule to discovered element indices by
	// selector text matching. Advisory only, never a structural join.
	RelatedElements []int `json:"related_elements,omitempty"`
}

// InteractionBinding is an element observed with a bound event handler.
type InteractionBinding struct {
	Tag         string `json:"tag"`
	Class       string `json:"class"`
	ID          string `json:"id"`
	EventType   string `json:"event_type"`
	HasListener bool   `json:"has_listener"`
}

// PageMetadata is the once-per-page extractor output.
type PageMetadata struct {
	CSSRules []CSSAnimationRule   `json:"css_animation_rules"`
	Bindings []InteractionBinding `json:"interaction_bindings"`
}

// StatsSnapshot is a point-in-time copy of the run counters.
type StatsSnapshot struct {
	ElementsFound      int `json:"elements_found"`
	AnimationsCaptured int `json:"animations_captured"`
	HoverEffects       int `json:"hover_effects_recorded"`
	ClickInteractions  int `json:"click_interactions_recorded"`
	ScreenshotsTaken   int `json:"screenshots_taken"`
	Errors             int `json:"errors"`
	// FailureSample is a bounded sample of failure notes for triage.
	FailureSample []string `json:"failure_sample,omitempty"`
}

// PageState is the terminal state of one page capture.
type PageState string

const (
	PageCompleted PageState = "COMPLETED"
	PageAborted   PageState = "ABORTED"
)

// Report is the per-page JSON output artifact.
type Report struct {
	Session  ReportSession        `json:"session"`
	Elements []ElementDescriptor  `json:"elements_discovered"`
	Records  []AnimationRecord    `json:"animation_records"`
	CSSRules []CSSAnimationRule   `json:"css_animation_rules"`
	Bindings []InteractionBinding `json:"interaction_bindings"`
	Stats    StatsSnapshot        `json:"stats"`
	State    PageState            `json:"state"`
}

type ReportSession struct {
	URL       string `json:"url"`
	StartedAt string `json:"started_at"`
}

// PageResult summarizes one page of a multi-page run.
type PageResult struct {
	URL        string    `json:"url"`
	State      PageState `json:"state"`
	ReportPath string    `json:"report_path,omitempty"`
	Error      string    `json:"error,omitempty"`
}
