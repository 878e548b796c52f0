package slidematch

import (
	"context"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option configures a KeywordIndex at construction.
type Option func(*KeywordIndex)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-overlapping keyword to count as a match. Default 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(k *KeywordIndex) { k.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// keyword phonetically overlaps the transcript and the index falls back to
// pure string similarity. Default 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(k *KeywordIndex) { k.fuzzyThreshold = threshold }
}

// KeywordIndex is the reference slidematch.Matcher: a per-presentation set
// of slides, each with a bag of keywords/phrases, scored against a final's
// text with Double Metaphone phonetic filtering plus Jaro-Winkler ranking —
// the same two-stage algorithm the pack uses for entity correction,
// generalized from "best matching entity for one word" to "best matching
// slide for a whole utterance".
type KeywordIndex struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	slides            []Slide
}

// NewKeywordIndex builds a read-only index over slides. The index is safe
// for concurrent use by many sessions; it never mutates after construction.
func NewKeywordIndex(slides []Slide, opts ...Option) *KeywordIndex {
	k := &KeywordIndex{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		slides:            slides,
	}
	for _, o := range opts {
		o(k)
	}
	return k
}

func (k *KeywordIndex) Match(ctx context.Context, text string) (*Match, error) {
	if strings.TrimSpace(text) == "" || len(k.slides) == 0 {
		return nil, nil
	}

	textLower := strings.ToLower(strings.TrimSpace(text))
	textTokens := strings.Fields(textLower)
	textCodes := codesForTokens(textTokens)

	type candidate struct {
		slide     string
		score     float64
		phonetic  bool
		keywords  []string
	}
	var best candidate

	for i, slide := range k.slides {
		if i%8 == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}

		var matchedKeywords []string
		var slideScore float64
		var slidePhonetic bool

		for _, kw := range slide.Keywords {
			kwLower := strings.ToLower(strings.TrimSpace(kw))
			if kwLower == "" {
				continue
			}
			kwTokens := strings.Fields(kwLower)
			kwCodes := codesForTokens(kwTokens)
			phoneticMatch := codesOverlap(textCodes, kwCodes)
			score := bestJWScore(textTokens, kwTokens, textLower, kwLower)

			accept := false
			if phoneticMatch && score >= k.phoneticThreshold {
				accept = true
			} else if !phoneticMatch && score >= k.fuzzyThreshold {
				accept = true
			}
			if !accept {
				continue
			}

			matchedKeywords = append(matchedKeywords, kw)
			if phoneticMatch && !slidePhonetic {
				slidePhonetic = true
				slideScore = score
			} else if phoneticMatch == slidePhonetic && score > slideScore {
				slideScore = score
			}
		}

		if len(matchedKeywords) == 0 {
			continue
		}
		if slidePhonetic && !best.phonetic {
			best = candidate{slide: slide.Page, score: slideScore, phonetic: true, keywords: matchedKeywords}
		} else if slidePhonetic == best.phonetic && slideScore > best.score {
			best = candidate{slide: slide.Page, score: slideScore, phonetic: slidePhonetic, keywords: matchedKeywords}
		}
	}

	if best.slide == "" {
		return nil, nil
	}

	sort.Strings(best.keywords)
	return &Match{
		SlidePage:       best.slide,
		Score:           best.score,
		Confidence:      best.score,
		MatchedKeywords: best.keywords,
	}, nil
}

func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore compares two token sequences under three strategies (full
// string, concatenated-no-spaces, best pairwise token) and returns the
// highest Jaro-Winkler score across them, mirroring the pack's approach to
// tolerating token-boundary mismatches between ASR output and keyword text.
func bestJWScore(aTokens, bTokens []string, aFull, bFull string) float64 {
	score := matchr.JaroWinkler(aFull, bFull, false)

	aConcat := strings.Join(aTokens, "")
	bConcat := strings.Join(bTokens, "")
	if s := matchr.JaroWinkler(aConcat, bConcat, false); s > score {
		score = s
	}

	for _, at := range aTokens {
		for _, bt := range bTokens {
			if s := matchr.JaroWinkler(at, bt, false); s > score {
				score = s
			}
		}
	}
	return score
}
