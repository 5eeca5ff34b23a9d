package cli

// Config holds the configuration for the CLI.
type Config struct {
	// Max books parsed at a time during ingestion.
	// Large values will increase CPU and memory usage.
	MaxConcurrency int

	// Library root to scan. EPUBLIC_LIBRARY_PATHS overrides with a
	// path-list of roots.
	Directory string

	// Path of the persistent full-text index. Empty means the user
	// cache dir (or the EPUBLIC_INDEX_PATH override).
	Index string

	// Discard and rebuild the full-text index even when fingerprints
	// say nothing changed.
	Rebuild bool

	// Disable the fuzzy matching capability: exact matching only.
	ExactOnly bool

	// Metadata search or topic query term.
	Query string

	// Optional find_topic filters.
	Book      string
	Author    string
	MatchType string

	// Pagination.
	Limit  int
	Offset int
}

var DefaultConfig = Config{
	MaxConcurrency: 8,
	MatchType:      "fuzzy",
	Limit:          10,
}
