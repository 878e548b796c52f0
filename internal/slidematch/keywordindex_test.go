package slidematch

import (
	"context"
	"testing"
)

func TestKeywordIndex_MatchesBestSlideByKeywordOverlap(t *testing.T) {
	idx := NewKeywordIndex([]Slide{
		{Page: "1", Keywords: []string{"gradient descent", "loss function"}},
		{Page: "2", Keywords: []string{"convolutional neural network", "image classification"}},
	})

	m, err := idx.Match(context.Background(), "today we will talk about convolutional neural networks for image classification")
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if m == nil {
		t.Fatal("expected a match")
	}
	if m.SlidePage != "2" {
		t.Fatalf("expected slide 2, got %s", m.SlidePage)
	}
	const slideMatchMinScore = 0.35
	if m.Score < slideMatchMinScore {
		t.Fatalf("expected score >= %v, got %v", slideMatchMinScore, m.Score)
	}
}

func TestKeywordIndex_NoMatchBelowThresholds(t *testing.T) {
	idx := NewKeywordIndex([]Slide{
		{Page: "1", Keywords: []string{"quantum entanglement"}},
	})

	m, err := idx.Match(context.Background(), "let's discuss the weather forecast for tomorrow")
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if m != nil {
		t.Fatalf("expected no match, got %+v", m)
	}
}

func TestKeywordIndex_EmptyTextOrIndex(t *testing.T) {
	idx := NewKeywordIndex(nil)
	if m, err := idx.Match(context.Background(), "anything"); m != nil || err != nil {
		t.Fatalf("expected nil/nil for empty index, got %+v, %v", m, err)
	}

	idx2 := NewKeywordIndex([]Slide{{Page: "1", Keywords: []string{"foo"}}})
	if m, err := idx2.Match(context.Background(), "   "); m != nil || err != nil {
		t.Fatalf("expected nil/nil for blank text, got %+v, %v", m, err)
	}
}
