package library

import (
	"path/filepath"
	"testing"
)

func TestCachePayloadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "metadata.json")

	books := []*Book{
		{
			Title:     "Accelerate",
			Author:    "Nicole Forsgren",
			Published: "2018",
			Path:      "/books/accelerate.epub",
			TOC:       []TOCEntry{{Label: "Chapter 1"}},
			Paragraphs: []Paragraph{
				{Text: "body text that must not be cached", Seq: 0},
			},
		},
	}
	roots := []string{"/books"}
	signature := []signatureEntry{{Path: "/books/accelerate.epub", MTime: 100, Size: 2048}}

	if err := saveCachePayload(path, cacheFromBooks(roots, signature, books)); err != nil {
		t.Fatal(err)
	}

	payload, ok := loadCachePayload(path)
	if !ok {
		t.Fatal("cache did not load back")
	}
	if !sameRoots(payload.Roots, roots) || !sameSignature(payload.Signature, signature) {
		t.Errorf("payload = %+v", payload)
	}

	restored := booksFromCache(payload)
	if len(restored) != 1 {
		t.Fatalf("restored %d books, want 1", len(restored))
	}
	b := restored[0]
	if b.Title != "Accelerate" || b.Author != "Nicole Forsgren" || b.Path != "/books/accelerate.epub" {
		t.Errorf("restored book = %+v", b)
	}
	if len(b.TOC) != 1 {
		t.Errorf("TOC lost in round trip: %+v", b.TOC)
	}
	// Paragraph text never goes through the metadata cache.
	if len(b.Paragraphs) != 0 {
		t.Errorf("cache carried %d paragraphs, want 0", len(b.Paragraphs))
	}
}

func TestCacheMissingFile(t *testing.T) {
	if _, ok := loadCachePayload(filepath.Join(t.TempDir(), "absent.json")); ok {
		t.Error("missing cache file reported as loaded")
	}
}

func TestSameSignature(t *testing.T) {
	a := []signatureEntry{{Path: "/a", MTime: 1, Size: 2}}
	b := []signatureEntry{{Path: "/a", MTime: 1, Size: 2}}
	if !sameSignature(a, b) {
		t.Error("identical signatures reported different")
	}

	b[0].MTime = 9
	if sameSignature(a, b) {
		t.Error("changed mtime reported same")
	}
	if sameSignature(a, nil) {
		t.Error("different lengths reported same")
	}
}
