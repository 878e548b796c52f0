// Package result classifies raw ASR provider events into Transcription
// Results, optionally annotates finals with a Slide Match, and publishes
// them to the client and the persistence Sink (spec.md §4.4).
package result

import "time"

// Result is one Transcription Result (spec.md §3).
type Result struct {
	SessionID      string
	PresentationID string
	Text           string
	IsFinal        bool
	Confidence     float64
	Timestamp      time.Time
	Slide          *Slide
}

// Slide is a Slide Match (spec.md §3), attached only to finals.
type Slide struct {
	SlideID         string
	Score           float64
	Confidence      float64
	MatchedKeywords []string
}

// SlideMatchMinScore is SLIDE_MATCH_MIN_SCORE: a match below this score is
// discarded and the final is published unannotated.
const SlideMatchMinScore = 0.35

// SlideMatchDeadline is SLIDE_MATCH_DEADLINE.
const SlideMatchDeadline = 50 * time.Millisecond

// InterimEditDistanceThreshold and InterimMinInterval are the two interim
// rate-limiting conditions of spec.md §4.4: publish when either is met.
const (
	InterimEditDistanceThreshold = 3
	InterimMinInterval           = 150 * time.Millisecond
)
