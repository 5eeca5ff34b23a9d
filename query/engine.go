// Package query turns topic queries into paginated, scored, attributed
// result sets. It reads only from the indexes, never from raw books.
package query

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/epublic/epublib/index"
	"github.com/epublic/epublib/match"
)

// ErrInvalidQuery reports malformed input: bad match_type, negative
// limit or offset. Not retryable.
var ErrInvalidQuery = errors.New("invalid query")

// Engine defaults. PerBookCap is a diversity policy, not a performance
// shortcut: it runs before the final sort and pagination so a single
// chatty book cannot crowd a result page.
const (
	DefaultLimit       = 10
	MaxLimit           = 500
	DefaultPerBookCap  = 3
	DefaultContextSize = 200

	// How far into neighboring paragraphs context assembly will look.
	contextParagraphs = 3
)

// Options tune the engine's documented policy constants.
type Options struct {
	PerBookCap  int // max surfaced results per book, 0 = default
	ContextSize int // context window size in characters, 0 = default
}

// Engine answers find_topic against a process-scoped index handle.
type Engine struct {
	idx         *index.Index
	matcher     match.Matcher // fuzzy capability resolved at startup
	perBookCap  int
	contextSize int
}

// Request is one find_topic invocation.
type Request struct {
	Topic        string
	Topics       []string
	BookFilter   string
	AuthorFilter string
	MatchType    string // "exact" or "fuzzy"; empty means fuzzy
	Limit        int    // 0 means no limit; callers wanting a default pass DefaultLimit
	Offset       int
}

// Result is one surfaced paragraph with attribution.
type Result struct {
	Text           string  `json:"text"`
	BookTitle      string  `json:"book_title"`
	Author         string  `json:"author"`
	Location       string  `json:"location"`
	ContextBefore  string  `json:"context_before"`
	ContextAfter   string  `json:"context_after"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Response is the full find_topic answer. TotalResults counts matches
// after the per-book cap but before pagination.
type Response struct {
	TotalResults int      `json:"total_results"`
	Offset       int      `json:"offset"`
	Limit        int      `json:"limit"`
	Results      []Result `json:"results"`
}

// New builds an Engine over idx. The matcher is the startup-resolved
// fuzzy capability used for author and book filters.
func New(idx *index.Index, matcher match.Matcher, opts Options) *Engine {
	perBook := opts.PerBookCap
	if perBook <= 0 {
		perBook = DefaultPerBookCap
	}
	window := opts.ContextSize
	if window <= 0 {
		window = DefaultContextSize
	}
	return &Engine{
		idx:         idx,
		matcher:     matcher,
		perBookCap:  perBook,
		contextSize: window,
	}
}

// FindTopic resolves topics, queries the full-text index with OR
// semantics, scores and caps candidates, and paginates deterministically.
func (e *Engine) FindTopic(ctx context.Context, req Request) (*Response, error) {
	mode, err := resolveMode(req.MatchType)
	if err != nil {
		return nil, err
	}
	if req.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must be a non-negative integer", ErrInvalidQuery)
	}
	if req.Limit > MaxLimit {
		return nil, fmt.Errorf("%w: limit must be <= %d", ErrInvalidQuery, MaxLimit)
	}
	if req.Offset < 0 {
		return nil, fmt.Errorf("%w: offset must be a non-negative integer", ErrInvalidQuery)
	}

	topics := resolveTopics(req)
	resp := &Response{Offset: req.Offset, Limit: req.Limit, Results: []Result{}}
	if len(topics) == 0 {
		return resp, nil
	}

	hits, err := e.idx.Query(ctx, topics, mode)
	if err != nil {
		return nil, err
	}

	filterMatcher := e.filterMatcher(mode)
	type candidate struct {
		hit   index.Hit
		score float64
	}

	var candidates []candidate
	for _, hit := range hits {
		if req.BookFilter != "" && !filterMatcher.Match(req.BookFilter, hit.BookTitle) {
			continue
		}
		if req.AuthorFilter != "" && !filterMatcher.Match(req.AuthorFilter, hit.Author) {
			continue
		}
		score := relevance(hit.Text, topics, mode)
		if score == 0 {
			continue
		}
		candidates = append(candidates, candidate{hit: hit, score: score})
	}

	// Diversity cap: keep each book's best perBookCap candidates before
	// anything global happens.
	perBook := make(map[string][]candidate)
	for _, c := range candidates {
		perBook[c.hit.BookID] = append(perBook[c.hit.BookID], c)
	}
	capped := candidates[:0]
	for _, group := range perBook {
		slices.SortStableFunc(group, func(a, b candidate) int {
			if c := cmp.Compare(b.score, a.score); c != 0 {
				return c
			}
			return cmp.Compare(a.hit.Seq, b.hit.Seq)
		})
		if len(group) > e.perBookCap {
			group = group[:e.perBookCap]
		}
		capped = append(capped, group...)
	}

	// Deterministic final order: score, then book title, then position.
	slices.SortStableFunc(capped, func(a, b candidate) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.hit.BookTitle, b.hit.BookTitle); c != 0 {
			return c
		}
		if c := cmp.Compare(a.hit.BookID, b.hit.BookID); c != 0 {
			return c
		}
		return cmp.Compare(a.hit.Seq, b.hit.Seq)
	})

	resp.TotalResults = len(capped)

	start := req.Offset
	if start > len(capped) {
		start = len(capped)
	}
	end := len(capped)
	if req.Limit > 0 && start+req.Limit < end {
		end = start + req.Limit
	}

	for _, c := range capped[start:end] {
		before, after := e.contextWindows(ctx, c.hit)
		resp.Results = append(resp.Results, Result{
			Text:           c.hit.Text,
			BookTitle:      c.hit.BookTitle,
			Author:         orUnknown(c.hit.Author),
			Location:       orUnknownSection(c.hit.Location),
			ContextBefore:  before,
			ContextAfter:   after,
			RelevanceScore: c.score,
		})
	}
	return resp, nil
}

// contextWindows assembles fixed-size character windows from the
// paragraphs adjacent to the hit.
func (e *Engine) contextWindows(ctx context.Context, hit index.Hit) (before, after string) {
	if prev, err := e.idx.Window(ctx, hit.BookID, hit.Seq-contextParagraphs, hit.Seq-1); err == nil {
		before = tailChars(strings.Join(prev, " "), e.contextSize)
	}
	if next, err := e.idx.Window(ctx, hit.BookID, hit.Seq+1, hit.Seq+contextParagraphs); err == nil {
		after = headChars(strings.Join(next, " "), e.contextSize)
	}
	return before, after
}

func (e *Engine) filterMatcher(mode index.Mode) match.Matcher {
	if mode == index.ModeExact {
		return match.Exact{}
	}
	return e.matcher
}

func resolveMode(matchType string) (index.Mode, error) {
	if matchType == "" {
		return index.ModeFuzzy, nil
	}
	mode := index.Mode(matchType)
	if !mode.Valid() {
		return "", fmt.Errorf("%w: match_type must be 'exact' or 'fuzzy'", ErrInvalidQuery)
	}
	return mode, nil
}

// resolveTopics merges topic/topics into one deduplicated term list,
// preserving the caller's order.
func resolveTopics(req Request) []string {
	raw := req.Topics
	if len(raw) == 0 && req.Topic != "" {
		raw = []string{req.Topic}
	}

	seen := make(map[string]struct{}, len(raw))
	topics := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		topics = append(topics, t)
	}
	return topics
}

// tailChars returns at most n trailing characters, cut on a word
// boundary so windows never start mid-word. Characters, not bytes:
// slicing must never split a rune.
func tailChars(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	cut := string(r[len(r)-n:])
	if i := strings.IndexByte(cut, ' '); i >= 0 && i < len(cut)-1 {
		cut = cut[i+1:]
	}
	return cut
}

// headChars returns at most n leading characters, cut on a word boundary.
func headChars(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	cut := string(r[:n])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func orUnknownSection(s string) string {
	if s == "" {
		return "Unknown section"
	}
	return s
}
