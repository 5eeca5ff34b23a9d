// Package library scans EPUB collections and answers metadata lookups.
// It owns the Book model: the full-text index and the query engine both
// consume what this package produces.
package library

import (
	"cmp"
	"fmt"
	"log"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/epublic/epublib/epub"
	"github.com/epublic/epublib/match"
)

// ChapterPreview caps how many TOC labels a search summary carries.
const ChapterPreview = 5

// Library is the in-memory metadata index. Reads take the read lock so a
// future concurrent-reader model needs no structural change.
type Library struct {
	mu      sync.RWMutex
	books   map[string]*Book
	matcher match.Matcher
}

// New returns an empty Library using the given matching strategy for
// title and author lookups.
func New(matcher match.Matcher) *Library {
	return &Library{
		books:   make(map[string]*Book),
		matcher: matcher,
	}
}

// Upsert replaces any prior entry with the same identity.
func (l *Library) Upsert(b *Book) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.books[b.ID()] = b
}

// Len reports how many books are indexed.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.books)
}

// Books returns every book in the canonical order: folded title, then
// path as the tiebreak. Insertion order never shows through.
func (l *Library) Books() []*Book {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Book, 0, len(l.books))
	for _, b := range l.books {
		out = append(out, b)
	}
	slices.SortStableFunc(out, func(a, b *Book) int {
		if c := cmp.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title)); c != 0 {
			return c
		}
		return cmp.Compare(a.Path, b.Path)
	})
	return out
}

// Search matches query against title, author and publication year. Year
// matching is always exact; title and author go through the injected
// matcher. An empty query matches nothing. Results are ranked by
// descending similarity, then title.
func (l *Library) Search(query string) []Summary {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	type scored struct {
		summary Summary
		score   float64
	}

	var matches []scored
	for _, b := range l.Books() {
		score := l.matcher.Score(query, b.Title)
		if b.Author != "" {
			if s := l.matcher.Score(query, b.Author); s > score {
				score = s
			}
		}
		titleOrAuthor := l.matcher.Match(query, b.Title) ||
			(b.Author != "" && l.matcher.Match(query, b.Author))
		yearMatch := b.Published != "" && query == b.Published

		if !titleOrAuthor && !yearMatch {
			continue
		}
		if !titleOrAuthor {
			score = 1 // exact year hit
		}

		chapters := make([]string, 0, ChapterPreview)
		for _, entry := range b.TOC {
			if len(chapters) == ChapterPreview {
				break
			}
			chapters = append(chapters, entry.Label)
		}

		matches = append(matches, scored{
			summary: Summary{
				Title:     b.Title,
				Author:    orUnknown(b.Author),
				Published: orUnknown(b.Published),
				Chapters:  chapters,
			},
			score: score,
		})
	}

	slices.SortStableFunc(matches, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.summary.Title, b.summary.Title)
	})

	out := make([]Summary, len(matches))
	for i, m := range matches {
		out[i] = m.summary
	}
	return out
}

// List pages through the library in canonical order. fields selects the
// optional projections (author, published, path). The returned total is
// the full library size, not the page size.
func (l *Library) List(offset, limit int, fields []string) (total int, entries []ListEntry) {
	books := l.Books()
	total = len(books)

	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	include := make(map[string]bool, len(fields))
	for _, f := range fields {
		include[f] = true
	}

	entries = make([]ListEntry, 0, end-offset)
	for _, b := range books[offset:end] {
		entry := ListEntry{Title: b.Title}
		if include["author"] {
			entry.Author = orUnknown(b.Author)
		}
		if include["published"] {
			entry.Published = orUnknown(b.Published)
		}
		if include["path"] {
			entry.Path = b.Path
		}
		entries = append(entries, entry)
	}
	return total, entries
}

// LoadBook parses a single EPUB into a Book, flattening its sections
// into one sequence-numbered paragraph stream.
func LoadBook(path string) (*Book, error) {
	doc, err := epub.Open(path)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}

	title := doc.Title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	book := &Book{
		Title:     title,
		Author:    doc.Author,
		Published: doc.Published,
		Path:      path,
	}
	for _, entry := range doc.TOC {
		book.TOC = append(book.TOC, TOCEntry{Label: entry.Label, Anchor: entry.Anchor})
	}

	seq := 0
	for _, section := range doc.Sections {
		for _, text := range section.Paragraphs {
			book.Paragraphs = append(book.Paragraphs, Paragraph{
				Text:     text,
				Location: section.Location,
				Seq:      seq,
			})
			seq++
		}
	}
	return book, nil
}

// ScanRoots discovers and parses every book under roots. Parsing is
// parallel across books; a book that fails to parse is logged and
// skipped, never fatal to the scan.
func ScanRoots(roots []string, workers int) ([]*Book, error) {
	paths, err := DiscoverBooks(roots)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		log.Printf("no books found under: %s", strings.Join(roots, ", "))
		return nil, nil
	}

	if workers < 1 {
		workers = 1
	}
	var g errgroup.Group
	g.SetLimit(workers)

	var mu sync.Mutex
	books := make([]*Book, 0, len(paths))

	for _, path := range paths {
		path := path
		g.Go(func() error {
			book, err := LoadBook(path)
			if err != nil {
				log.Printf("skipping %s: %v", filepath.Base(path), err)
				return nil
			}
			mu.Lock()
			books = append(books, book)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortStableFunc(books, func(a, b *Book) int {
		return cmp.Compare(a.Path, b.Path)
	})
	return books, nil
}

// Load fills a Library from the metadata cache when the signature still
// matches, scanning the filesystem otherwise. The bool reports whether
// the cache was usable.
func Load(roots []string, workers int, matcher match.Matcher) (*Library, bool, error) {
	lib := New(matcher)

	paths, err := DiscoverBooks(roots)
	if err != nil {
		return nil, false, err
	}
	signature := Signature(paths)

	cacheFile, err := CachePath()
	if err == nil {
		if payload, ok := loadCachePayload(cacheFile); ok {
			if sameRoots(payload.Roots, roots) && sameSignature(payload.Signature, signature) {
				for _, b := range booksFromCache(payload) {
					lib.Upsert(b)
				}
				log.Printf("loaded metadata cache for %d books", lib.Len())
				return lib, true, nil
			}
		}
	}

	books, err := ScanRoots(roots, workers)
	if err != nil {
		return nil, false, err
	}
	for _, b := range books {
		lib.Upsert(b)
	}

	if cacheFile != "" {
		if err := saveCachePayload(cacheFile, cacheFromBooks(roots, signature, books)); err != nil {
			log.Printf("unable to save metadata cache: %v", err)
		}
	}
	return lib, false, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
