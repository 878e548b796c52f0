// Package slidematch finds which presentation slide a final transcript most
// likely belongs to (spec.md's Slide Match, §3/§4.4). Slide index
// construction and keyword extraction are an out-of-scope external
// collaborator (spec.md §1); this package only consults an already-built
// index.
package slidematch

import "context"

// Match is the non-nil outcome of a successful Matcher call.
type Match struct {
	SlidePage       string
	Score           float64
	Confidence      float64
	MatchedKeywords []string
}

// Matcher is the capability interface the Result Handler (C4) calls on
// every final, kept abstract so C4 never depends on how the index was
// built (spec.md §9, "cycles avoided").
type Matcher interface {
	// Match returns the best-scoring slide for text, or nil if no slide
	// scored above the matcher's own internal floor. Implementations must
	// respect ctx's deadline (C4 enforces SLIDE_MATCH_DEADLINE) and return
	// ctx.Err() if they cannot finish in time.
	Match(ctx context.Context, text string) (*Match, error)
}

// Slide is one entry of a presentation's keyword index: a page of the deck
// and the keywords/phrases that identify it.
type Slide struct {
	Page     string
	Keywords []string
}
