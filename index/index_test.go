package index

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/epublic/epublib/library"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()

	idx, err := Open(filepath.Join(t.TempDir(), "index.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func testBook(id, title, author string, paragraphs ...string) *library.Book {
	b := &library.Book{Title: title, Author: author, Path: id}
	for i, text := range paragraphs {
		b.Paragraphs = append(b.Paragraphs, library.Paragraph{
			Text:     text,
			Location: "Chapter 1",
			Seq:      i,
		})
	}
	return b
}

func seedTestIndex(t *testing.T, idx *Index) {
	t.Helper()
	ctx := context.Background()

	accelerate := testBook("/books/accelerate.epub", "Accelerate", "Nicole Forsgren",
		"Continuous deployment reduces lead time.",
		"Trunk based development supports frequent integration.",
		"Loosely coupled architecture lets teams deploy independently.",
	)
	iac := testBook("/books/iac.epub", "Infrastructure as Code", "Kief Morris",
		"Define infrastructure in version controlled files.",
		"Servers are rebuilt from definitions, never patched by hand.",
	)
	if err := idx.Add(ctx, accelerate, "fp-accelerate"); err != nil {
		t.Fatal(err)
	}
	if err := idx.Add(ctx, iac, "fp-iac"); err != nil {
		t.Fatal(err)
	}
}

func TestQueryExact(t *testing.T) {
	idx := openTestIndex(t)
	seedTestIndex(t, idx)
	ctx := context.Background()

	hits, err := idx.Query(ctx, []string{"deployment"}, ModeExact)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	h := hits[0]
	if h.BookTitle != "Accelerate" || h.Author != "Nicole Forsgren" ||
		h.Location != "Chapter 1" || h.Seq != 0 {
		t.Errorf("hit = %+v", h)
	}

	// Exact mode respects word boundaries: deploy is not deployment.
	hits, err = idx.Query(ctx, []string{"deploy"}, ModeExact)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Seq != 2 {
		t.Errorf("exact deploy hits = %+v, want only the whole-word use", hits)
	}
}

func TestQueryFuzzyPrefix(t *testing.T) {
	idx := openTestIndex(t)
	seedTestIndex(t, idx)

	// Fuzzy mode extends the last word, so deploy also finds deployment.
	hits, err := idx.Query(context.Background(), []string{"deploy"}, ModeFuzzy)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Errorf("got %d hits, want 2", len(hits))
	}
}

func TestQueryMultiTermUnion(t *testing.T) {
	idx := openTestIndex(t)
	seedTestIndex(t, idx)

	hits, err := idx.Query(context.Background(),
		[]string{"deployment", "infrastructure"}, ModeExact)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	// Candidate order is book title, then sequence.
	if hits[0].BookTitle != "Accelerate" || hits[1].BookTitle != "Infrastructure as Code" {
		t.Errorf("hit order = %q, %q", hits[0].BookTitle, hits[1].BookTitle)
	}
}

func TestQueryNoTerms(t *testing.T) {
	idx := openTestIndex(t)
	seedTestIndex(t, idx)

	hits, err := idx.Query(context.Background(), nil, ModeExact)
	if err != nil {
		t.Fatal(err)
	}
	if hits != nil {
		t.Errorf("hits = %+v, want none", hits)
	}
}

func TestAddIdempotent(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	book := testBook("/books/a.epub", "A Book", "Someone",
		"A paragraph about resilience.",
		"Another paragraph entirely.",
	)
	if err := idx.Add(ctx, book, "fp-1"); err != nil {
		t.Fatal(err)
	}
	if err := idx.Add(ctx, book, "fp-1"); err != nil {
		t.Fatal(err)
	}

	hits, err := idx.Query(ctx, []string{"paragraph"}, ModeExact)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Errorf("got %d hits after double ingest, want 2", len(hits))
	}

	fp, err := idx.Fingerprint(ctx, book.ID())
	if err != nil {
		t.Fatal(err)
	}
	if fp != "fp-1" {
		t.Errorf("fingerprint = %q, want fp-1", fp)
	}
}

func TestFingerprintUnknownBook(t *testing.T) {
	idx := openTestIndex(t)

	fp, err := idx.Fingerprint(context.Background(), "/books/never-seen.epub")
	if err != nil {
		t.Fatal(err)
	}
	if fp != "" {
		t.Errorf("fingerprint = %q, want empty", fp)
	}
}

func TestPrune(t *testing.T) {
	idx := openTestIndex(t)
	seedTestIndex(t, idx)
	ctx := context.Background()

	keep := map[string]bool{"/books/iac.epub": true}
	if err := idx.Prune(ctx, keep); err != nil {
		t.Fatal(err)
	}

	ids, err := idx.BookIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "/books/iac.epub" {
		t.Errorf("remaining ids = %v", ids)
	}

	// Postings go with the book.
	hits, err := idx.Query(ctx, []string{"deployment"}, ModeExact)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("pruned book still has %d hits", len(hits))
	}
}

func TestWindow(t *testing.T) {
	idx := openTestIndex(t)
	seedTestIndex(t, idx)
	ctx := context.Background()

	texts, err := idx.Window(ctx, "/books/accelerate.epub", 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(texts) != 2 {
		t.Fatalf("got %d texts, want 2", len(texts))
	}
	if texts[0] != "Continuous deployment reduces lead time." {
		t.Errorf("texts[0] = %q", texts[0])
	}

	// A negative lower bound is clamped, not an error.
	texts, err = idx.Window(ctx, "/books/accelerate.epub", -3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(texts) != 1 {
		t.Errorf("got %d texts, want 1", len(texts))
	}
}

func TestQueryMissingTable(t *testing.T) {
	idx := openTestIndex(t)
	seedTestIndex(t, idx)
	ctx := context.Background()

	// Lose the paragraphs table behind the handle's back. The driver only
	// reports that once rows are pulled, and callers still need to see an
	// index-unavailable condition they can rebuild from.
	db, err := sql.Open("sqlite3", idx.Path())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`DROP TABLE paragraphs`); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := idx.Query(ctx, []string{"deployment"}, ModeExact); !errors.Is(err, ErrRebuildRequired) {
		t.Errorf("Query err = %v, want ErrRebuildRequired", err)
	}
	if _, err := idx.Window(ctx, "/books/accelerate.epub", 0, 2); !errors.Is(err, ErrRebuildRequired) {
		t.Errorf("Window err = %v, want ErrRebuildRequired", err)
	}
}

func TestOpenVersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")

	idx, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	seedTestIndex(t, idx)
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}

	// Stamp a future format version onto the file.
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`PRAGMA user_version = 99`); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	idx, err = Open(path)
	if !errors.Is(err, ErrRebuildRequired) {
		t.Fatalf("err = %v, want ErrRebuildRequired", err)
	}
	defer idx.Close()

	// The handle stays usable: reset and re-ingest recovers it.
	if err := idx.Reset(); err != nil {
		t.Fatal(err)
	}
	seedTestIndex(t, idx)
	hits, err := idx.Query(context.Background(), []string{"deployment"}, ModeExact)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Errorf("got %d hits after recovery, want 1", len(hits))
	}
}

func TestOpenCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	if err := os.WriteFile(path, []byte("this is not a database"), 0o644); err != nil {
		t.Fatal(err)
	}

	idx, err := Open(path)
	if err != nil && !errors.Is(err, ErrRebuildRequired) {
		t.Fatalf("err = %v, want nil or ErrRebuildRequired", err)
	}
	defer idx.Close()
	if err != nil {
		if err := idx.Reset(); err != nil {
			t.Fatal(err)
		}
	}

	seedTestIndex(t, idx)
	hits, qerr := idx.Query(context.Background(), []string{"deployment"}, ModeExact)
	if qerr != nil {
		t.Fatal(qerr)
	}
	if len(hits) != 1 {
		t.Errorf("got %d hits, want 1", len(hits))
	}
}

func TestMatchExpression(t *testing.T) {
	tests := []struct {
		name  string
		terms []string
		mode  Mode
		want  string
	}{
		{"single exact", []string{"lead time"}, ModeExact, `"lead time"`},
		{"multiple or-joined", []string{"alpha", "beta"}, ModeExact, `"alpha" OR "beta"`},
		{"fuzzy prefix", []string{"deploy"}, ModeFuzzy, `"deploy" *`},
		{"quotes neutralized", []string{`drop "table"`}, ModeExact, `"drop  table"`},
		{"blank terms dropped", []string{" ", "", "real"}, ModeExact, `"real"`},
		{"nothing left", []string{"  "}, ModeExact, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchExpression(tt.terms, tt.mode); got != tt.want {
				t.Errorf("matchExpression(%v, %v) = %q, want %q", tt.terms, tt.mode, got, tt.want)
			}
		})
	}
}
