// Package stats holds the run counters shared by all pipeline components.
// It replaces ambient shared state with one explicitly threaded value
// guarded by a single lock, so concurrent page sessions can aggregate into
// the same instance.
package stats

import (
	"sync"

	"cardmotion/pkg/model"
)

const failureSampleCap = 10

type Stats struct {
	mu sync.Mutex

	elementsFound      int
	animationsCaptured int
	hoverEffects       int
	clickInteractions  int
	screenshotsTaken   int
	errors             int
	failureSample      []string
}

func New() *Stats { return &Stats{} }

func (s *Stats) AddElementsFound(n int) {
	s.mu.Lock()
	s.elementsFound += n
	s.mu.Unlock()
}

func (s *Stats) AddAnimationCaptured() {
	s.mu.Lock()
	s.animationsCaptured++
	s.mu.Unlock()
}

func (s *Stats) AddHoverEffect() {
	s.mu.Lock()
	s.hoverEffects++
	s.mu.Unlock()
}

func (s *Stats) AddClickInteraction() {
	s.mu.Lock()
	s.clickInteractions++
	s.mu.Unlock()
}

func (s *Stats) AddScreenshot() {
	s.mu.Lock()
	s.screenshotsTaken++
	s.mu.Unlock()
}

// RecordError counts a failure and keeps a bounded sample of notes so the
// final report never becomes an unbounded error dump.
func (s *Stats) RecordError(note string) {
	s.mu.Lock()
	s.errors++
	if note != "" && len(s.failureSample) < failureSampleCap {
		s.failureSample = append(s.failureSample, note)
	}
	s.mu.Unlock()
}

func (s *Stats) Snapshot() model.StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	sample := make([]string, len(s.failureSample))
	copy(sample, s.failureSample)
	return model.StatsSnapshot{
		ElementsFound:      s.elementsFound,
		AnimationsCaptured: s.animationsCaptured,
		HoverEffects:       s.hoverEffects,
		ClickInteractions:  s.clickInteractions,
		ScreenshotsTaken:   s.screenshotsTaken,
		Errors:             s.errors,
		FailureSample:      sample,
	}
}
