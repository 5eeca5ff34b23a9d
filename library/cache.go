package library

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Metadata cache layout: one JSON file under the user cache dir holding
// the scanned roots, a library signature and every book's metadata (no
// text). A changed signature forces a re-scan.

type signatureEntry struct {
	Path  string `json:"path"`
	MTime int64  `json:"mtime"`
	Size  int64  `json:"size"`
}

type cachedBook struct {
	Title     string     `json:"title"`
	Author    string     `json:"author,omitempty"`
	Published string     `json:"published,omitempty"`
	Path      string     `json:"path"`
	TOC       []TOCEntry `json:"toc,omitempty"`
}

type cachePayload struct {
	Roots     []string         `json:"roots"`
	Signature []signatureEntry `json:"signature"`
	Books     []cachedBook     `json:"books"`
}

// CachePath returns the metadata cache location.
func CachePath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "epublib", "metadata.json"), nil
}

// Signature fingerprints the discovered book files. Paths come in sorted
// from DiscoverBooks so the signature is stable across scans.
func Signature(paths []string) []signatureEntry {
	entries := make([]signatureEntry, 0, len(paths))
	for _, p := range paths {
		stat, err := os.Stat(p)
		if err != nil {
			continue
		}
		entries = append(entries, signatureEntry{
			Path:  p,
			MTime: stat.ModTime().Unix(),
			Size:  stat.Size(),
		})
	}
	return entries
}

func loadCachePayload(path string) (*cachePayload, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var payload cachePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, false
	}
	return &payload, true
}

func saveCachePayload(path string, payload *cachePayload) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func sameSignature(a, b []signatureEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameRoots(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func booksFromCache(payload *cachePayload) []*Book {
	books := make([]*Book, 0, len(payload.Books))
	for _, cb := range payload.Books {
		books = append(books, &Book{
			Title:     cb.Title,
			Author:    cb.Author,
			Published: cb.Published,
			Path:      cb.Path,
			TOC:       cb.TOC,
		})
	}
	return books
}

func cacheFromBooks(roots []string, signature []signatureEntry, books []*Book) *cachePayload {
	payload := &cachePayload{Roots: roots, Signature: signature}
	for _, b := range books {
		payload.Books = append(payload.Books, cachedBook{
			Title:     b.Title,
			Author:    b.Author,
			Published: b.Published,
			Path:      b.Path,
			TOC:       b.TOC,
		})
	}
	return payload
}
