// Package match provides the string-matching strategies shared by the
// metadata index and the query engine. The strategy is resolved once at
// startup and injected; callers never inspect which one they hold.
package match

import (
	"sort"
	"strings"

	"github.com/bbalet/stopwords"
)

// DefaultThreshold is the similarity (0-100) a fuzzy match must reach.
const DefaultThreshold = 80

// Matcher decides whether a query matches a target string and how
// similar the two are. Score is in [0,1] and is used for ranking.
type Matcher interface {
	Match(query, target string) bool
	Score(query, target string) float64
}

// For returns the matcher for the resolved fuzzy capability.
func For(fuzzy bool) Matcher {
	if fuzzy {
		return Fuzzy{Threshold: DefaultThreshold}
	}
	return Exact{}
}

// Exact matches by case-insensitive substring.
type Exact struct{}

func (Exact) Match(query, target string) bool {
	if query == "" {
		return false
	}
	return strings.Contains(strings.ToLower(target), strings.ToLower(query))
}

func (e Exact) Score(query, target string) float64 {
	if e.Match(query, target) {
		return 1
	}
	return 0
}

// Fuzzy accepts exact substrings plus anything whose token-set
// similarity reaches Threshold. Tolerant of typos, transpositions and
// word order.
type Fuzzy struct {
	Threshold int
}

func (f Fuzzy) Match(query, target string) bool {
	if query == "" {
		return false
	}
	if (Exact{}).Match(query, target) {
		return true
	}
	return f.ratio(query, target) >= f.Threshold
}

func (f Fuzzy) Score(query, target string) float64 {
	if query == "" {
		return 0
	}
	r := f.ratio(query, target)
	if (Exact{}).Match(query, target) && r < 100 {
		// A literal substring is at least as good as the threshold.
		if r < f.Threshold {
			r = f.Threshold
		}
	}
	return float64(r) / 100
}

// ratio is a token-set similarity on Levenshtein distance: both sides are
// split into word sets and the best alignment of the shared words against
// each remainder is scored. Word order does not penalize the match.
func (f Fuzzy) ratio(query, target string) int {
	a := tokenSet(query)
	b := tokenSet(target)
	if len(a) == 0 || len(b) == 0 {
		return levenshteinRatio(strings.ToLower(query), strings.ToLower(target))
	}

	var shared, restA, restB []string
	for _, tok := range a {
		if contains(b, tok) {
			shared = append(shared, tok)
		} else {
			restA = append(restA, tok)
		}
	}
	for _, tok := range b {
		if !contains(a, tok) {
			restB = append(restB, tok)
		}
	}

	base := strings.Join(shared, " ")
	withA := strings.TrimSpace(base + " " + strings.Join(restA, " "))
	withB := strings.TrimSpace(base + " " + strings.Join(restB, " "))

	best := levenshteinRatio(withA, withB)
	if base != "" {
		if r := levenshteinRatio(base, withA); r > best {
			best = r
		}
		if r := levenshteinRatio(base, withB); r > best {
			best = r
		}
	}
	return best
}

func levenshteinRatio(a, b string) int {
	if a == b {
		return 100
	}
	longest := max(len(a), len(b))
	if longest == 0 {
		return 100
	}
	dist := stopwords.LevenshteinDistance([]byte(a), []byte(b), "en", false)
	if dist > longest {
		dist = longest
	}
	return int(100 * (1 - float64(dist)/float64(longest)))
}

func tokenSet(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func contains(set []string, tok string) bool {
	for _, s := range set {
		if s == tok {
			return true
		}
	}
	return false
}
