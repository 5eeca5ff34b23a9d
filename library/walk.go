package library

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Suffixes we recognize as ebooks. Only EPUB is parseable; the rest are
// discovered so they can be reported, then skipped.
var supportedFormats = map[string]bool{
	".epub": true, ".mobi": false, ".azw3": false, ".azw": false,
}

// EnvLibraryPaths overrides the configured library roots. Multiple roots
// are separated with the OS path-list separator.
const EnvLibraryPaths = "EPUBLIC_LIBRARY_PATHS"

// ResolveRoots expands the configured roots, falling back to the
// EPUBLIC_LIBRARY_PATHS environment variable.
func ResolveRoots(configured []string) []string {
	roots := configured
	if len(roots) == 0 {
		roots = filepath.SplitList(os.Getenv(EnvLibraryPaths))
	}
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		if r == "" {
			continue
		}
		if strings.HasPrefix(r, "~") {
			if home, err := os.UserHomeDir(); err == nil {
				r = filepath.Join(home, strings.TrimPrefix(r, "~"))
			}
		}
		out = append(out, r)
	}
	return out
}

// DiscoverBooks walks the roots and returns every EPUB path, sorted for
// deterministic ingestion order. Roots that do not exist are skipped.
func DiscoverBooks(roots []string) ([]string, error) {
	var paths []string

	for _, root := range roots {
		if _, err := os.Stat(root); err != nil {
			continue
		}
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if parseable, known := supportedFormats[ext]; known && parseable {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Strings(paths)
	return paths, nil
}
