package query

import (
	"math"
	"strings"
	"unicode"

	"github.com/bbalet/stopwords"
	"github.com/jdkato/prose/v2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/epublic/epublib/index"
)

// Scoring policy. Weights are deliberate: term coverage dominates so the
// score is monotonic in "more supplied terms matched", match quality
// separates whole-word from weaker hits, and earliness is a small
// tiebreaker. All inputs are pure functions of paragraph text and terms,
// so identical calls always produce identical scores.
const (
	weightCoverage  = 0.5
	weightQuality   = 0.35
	weightEarliness = 0.15

	qualityWholeWord = 1.0
	qualitySubstring = 0.6
	qualityVariant   = 0.4
)

// relevance scores one paragraph against the supplied terms, in [0,1],
// rounded to three decimals.
func relevance(text string, terms []string, mode index.Mode) float64 {
	// Fold case and diacritics the same way the index tokenizer does
	// (unicode61 remove_diacritics), so a paragraph the index surfaced is
	// never re-scored against stricter text than the one that matched.
	lower := foldDiacritics(strings.ToLower(text))
	if lower == "" || len(terms) == 0 {
		return 0
	}

	matched := 0
	bestQuality := 0.0
	firstOffset := -1

	for _, term := range terms {
		q, off := termQuality(lower, foldDiacritics(strings.ToLower(term)), mode)
		if q == 0 {
			continue
		}
		matched++
		if q > bestQuality {
			bestQuality = q
		}
		if firstOffset < 0 || (off >= 0 && off < firstOffset) {
			firstOffset = off
		}
	}
	if matched == 0 {
		return 0
	}

	coverage := float64(matched) / float64(len(terms))
	earliness := 0.0
	if firstOffset >= 0 {
		earliness = 1 - math.Min(float64(firstOffset)/float64(len(lower)), 1)
	}

	score := weightCoverage*coverage + weightQuality*bestQuality + weightEarliness*earliness
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return math.Round(score*1000) / 1000
}

// termQuality classifies how one term matches the paragraph: whole-word
// beats bare substring beats a fuzzy-mode morphological variant. The
// second return is the offset of the match, -1 when irrelevant.
func termQuality(lower, term string, mode index.Mode) (float64, int) {
	if term == "" {
		return 0, -1
	}

	if off := wholeWordIndex(lower, term); off >= 0 {
		return qualityWholeWord, off
	}
	if off := strings.Index(lower, term); off >= 0 {
		return qualitySubstring, off
	}
	if mode != index.ModeFuzzy {
		return 0, -1
	}

	// Fuzzy mode: accept morphological variants, i.e. words in the
	// paragraph that extend a term keyword ("deploying" for "deploy").
	for _, kw := range termKeywords(term) {
		for _, word := range strings.FieldsFunc(lower, notWordRune) {
			if len(word) > len(kw) && strings.HasPrefix(word, kw) {
				return qualityVariant, strings.Index(lower, word)
			}
		}
	}
	return 0, -1
}

// termKeywords tokenizes a topic term for variant matching.
func termKeywords(term string) []string {
	cleaned := strings.ToLower(stopwords.CleanString(term, "en", false))
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		cleaned = strings.ToLower(term)
	}

	doc, err := prose.NewDocument(cleaned,
		prose.WithExtraction(false), prose.WithSegmentation(false))
	if err != nil {
		return strings.Fields(cleaned)
	}

	tokens := doc.Tokens()
	words := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if len(tok.Text) < 2 {
			continue
		}
		words = append(words, tok.Text)
	}
	if len(words) == 0 {
		return strings.Fields(cleaned)
	}
	return words
}

// wholeWordIndex finds term in s with word boundaries on both sides.
// Multi-word terms count as whole-word when the full phrase sits on
// boundaries.
func wholeWordIndex(s, term string) int {
	for start := 0; ; {
		off := strings.Index(s[start:], term)
		if off < 0 {
			return -1
		}
		off += start
		end := off + len(term)

		beforeOK := off == 0 || notWordByte(s[off-1])
		afterOK := end == len(s) || notWordByte(s[end])
		if beforeOK && afterOK {
			return off
		}
		start = off + 1
		if start >= len(s) {
			return -1
		}
	}
}

// foldDiacritics strips combining marks: decompose, drop the marks,
// recompose. "café" folds to "cafe".
func foldDiacritics(s string) string {
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(folder, s)
	if err != nil {
		return s
	}
	return out
}

func notWordByte(b byte) bool {
	r := rune(b)
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

func notWordRune(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
