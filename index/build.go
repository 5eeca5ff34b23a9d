package index

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/epublic/epublib/library"
)

// FileFingerprint derives a book's content fingerprint from its file
// stat. Cheap, and good enough to skip unchanged books on re-scan.
func FileFingerprint(path string) string {
	stat, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%d-%d", stat.ModTime().Unix(), stat.Size())
}

// Build ingests books into the index. Books whose fingerprint matches
// the stored one are skipped unless force is set. Parsing runs in
// parallel across books; writes into the shared index are serialized so
// the delete-then-insert idempotency holds. A book that fails to load is
// logged and skipped, never fatal. Stale books are pruned afterwards.
func Build(ctx context.Context, idx *Index, books []*library.Book, workers int, force bool) error {
	start := time.Now()
	if workers < 1 {
		workers = 1
	}

	var g errgroup.Group
	g.SetLimit(workers)

	var writeMu sync.Mutex
	var indexed, skipped int

	keep := make(map[string]bool, len(books))
	for _, book := range books {
		keep[book.ID()] = true
	}

	for _, book := range books {
		book := book
		g.Go(func() error {
			fp := FileFingerprint(book.Path)

			stored, err := idx.Fingerprint(ctx, book.ID())
			if err != nil {
				return err
			}
			if !force && fp != "" && fp == stored {
				writeMu.Lock()
				skipped++
				writeMu.Unlock()
				return nil
			}

			// Cache-loaded books carry metadata only; pull the text now.
			full := book
			if len(full.Paragraphs) == 0 {
				full, err = library.LoadBook(book.Path)
				if err != nil {
					log.Printf("skipping %s: %v", filepath.Base(book.Path), err)
					return nil
				}
			}

			writeMu.Lock()
			defer writeMu.Unlock()
			if err := idx.Add(ctx, full, fp); err != nil {
				return err
			}
			indexed++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := idx.Prune(ctx, keep); err != nil {
		return err
	}

	log.Printf("indexed %d books (%d unchanged) in %.2fs",
		indexed, skipped, time.Since(start).Seconds())
	return nil
}
