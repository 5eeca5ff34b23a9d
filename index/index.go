// Package index is the persistent full-text index: a paragraph-level
// SQLite FTS5 table plus a books table carrying attribution metadata and
// ingestion fingerprints.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/epublic/epublib/library"
)

// FormatVersion is stored in PRAGMA user_version. Bumping it forces a
// rebuild on schema change.
const FormatVersion = 1

// Insert batch size keeps us clear of the SQLITE_MAX_VARIABLE_NUMBER limit.
const insertBatch = 500

const (
	// EnvIndexPath overrides the on-disk index location.
	EnvIndexPath = "EPUBLIC_INDEX_PATH"
	// EnvForceRebuild set to "1" discards the index at startup.
	EnvForceRebuild = "EPUBLIC_REBUILD_INDEX"
)

// ErrRebuildRequired reports that the persistent index is missing,
// corrupt or from another format version. It is retryable: rebuild the
// index, then repeat the call.
var ErrRebuildRequired = errors.New("full-text index requires a rebuild")

// Mode selects how query terms are matched.
type Mode string

const (
	ModeExact Mode = "exact"
	ModeFuzzy Mode = "fuzzy"
)

// Valid reports whether the mode is one of the supported values.
func (m Mode) Valid() bool { return m == ModeExact || m == ModeFuzzy }

// Hit is one candidate paragraph reference returned by Query.
type Hit struct {
	BookID    string
	BookTitle string
	Author    string
	Location  string
	Seq       int
	Text      string
}

// Index wraps the SQLite handle. One process-scoped instance is shared
// by the query engine; SQLite serializes the writes.
type Index struct {
	db   *sql.DB
	path string
}

// DefaultPath resolves the index location: the EPUBLIC_INDEX_PATH
// override, else index.sqlite under the user cache dir.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvIndexPath); p != "" {
		return p, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "epublib", "index.sqlite"), nil
}

// ForceRebuild reports whether the environment demands a fresh index.
func ForceRebuild() bool { return os.Getenv(EnvForceRebuild) == "1" }

// Open connects to the index database, creating the schema on a fresh
// file. An existing file that fails the format check yields a usable
// handle plus ErrRebuildRequired; call Reset and re-ingest.
func Open(path string) (*Index, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := connect(path)
	if err != nil {
		// A file sqlite refuses to open is the corrupt case: discard it
		// and start over. Only give up when a fresh file fails too.
		if path == ":memory:" {
			return nil, err
		}
		removeIndexFiles(path)
		db, err = connect(path)
		if err != nil {
			return nil, err
		}
	}

	idx := &Index{db: db, path: path}

	fresh, err := idx.isFresh()
	if err != nil {
		return idx, fmt.Errorf("%w: %v", ErrRebuildRequired, err)
	}
	if fresh {
		if err := idx.createSchema(); err != nil {
			return idx, fmt.Errorf("%w: %v", ErrRebuildRequired, err)
		}
		return idx, nil
	}
	if err := idx.check(); err != nil {
		return idx, err
	}
	return idx, nil
}

func connect(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL`); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func removeIndexFiles(path string) {
	for _, suffix := range []string{"", "-wal", "-shm"} {
		os.Remove(path + suffix)
	}
}

// Close releases the database handle.
func (idx *Index) Close() error { return idx.db.Close() }

// Path returns where the index lives.
func (idx *Index) Path() string { return idx.path }

func (idx *Index) isFresh() (bool, error) {
	var n int
	err := idx.db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table') AND name IN ('books', 'paragraphs')`,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// check validates the format version and that both tables answer a
// trivial query. Anything off means the caller must rebuild.
func (idx *Index) check() error {
	var version int
	if err := idx.db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("%w: %v", ErrRebuildRequired, err)
	}
	if version != FormatVersion {
		return fmt.Errorf("%w: format version %d, want %d", ErrRebuildRequired, version, FormatVersion)
	}
	var n int
	if err := idx.db.QueryRow(`SELECT COUNT(*) FROM books`).Scan(&n); err != nil {
		return fmt.Errorf("%w: %v", ErrRebuildRequired, err)
	}
	if err := idx.db.QueryRow(`SELECT COUNT(*) FROM paragraphs`).Scan(&n); err != nil {
		return fmt.Errorf("%w: %v", ErrRebuildRequired, err)
	}
	return nil
}

func (idx *Index) createSchema() error {
	_, err := idx.db.Exec(`
	CREATE TABLE IF NOT EXISTS books(
		id TEXT NOT NULL PRIMARY KEY,
		title TEXT NOT NULL,
		author TEXT NOT NULL,
		published TEXT NOT NULL DEFAULT '',
		fingerprint TEXT NOT NULL DEFAULT ''
	)`)
	if err != nil {
		return err
	}

	// Paragraph text is the only indexed column; attribution rides along
	// UNINDEXED. unicode61 without porter: indexing stores words as
	// written, no stemming.
	_, err = idx.db.Exec(`
	CREATE VIRTUAL TABLE IF NOT EXISTS paragraphs USING fts5(
		text,
		book_id UNINDEXED,
		seq UNINDEXED,
		location UNINDEXED,
		tokenize='unicode61 remove_diacritics 2'
	)`)
	if err != nil {
		return err
	}

	_, err = idx.db.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, FormatVersion))
	return err
}

// Reset drops and recreates the schema.
func (idx *Index) Reset() error {
	if _, err := idx.db.Exec(`DROP TABLE IF EXISTS paragraphs`); err != nil {
		return err
	}
	if _, err := idx.db.Exec(`DROP TABLE IF EXISTS books`); err != nil {
		return err
	}
	return idx.createSchema()
}

// Fingerprint returns the stored ingestion fingerprint for a book, or
// "" when the book has never been indexed.
func (idx *Index) Fingerprint(ctx context.Context, bookID string) (string, error) {
	var fp string
	err := idx.db.QueryRowContext(ctx,
		`SELECT fingerprint FROM books WHERE id = $1`, bookID).Scan(&fp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return fp, nil
}

// Add indexes one book, replacing whatever was stored under the same
// identity. Delete-then-insert inside one transaction keeps re-ingestion
// idempotent: running it twice leaves the same rows as running it once.
func (idx *Index) Add(ctx context.Context, book *library.Book, fingerprint string) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM paragraphs WHERE book_id = $1`, book.ID()); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO books (id, title, author, published, fingerprint)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			published = excluded.published,
			fingerprint = excluded.fingerprint`,
		book.ID(), book.Title, book.Author, book.Published, fingerprint); err != nil {
		return err
	}

	paragraphs := book.Paragraphs
	for start := 0; start < len(paragraphs); start += insertBatch {
		end := start + insertBatch
		if end > len(paragraphs) {
			end = len(paragraphs)
		}

		batch := paragraphs[start:end]
		placeholders := strings.TrimSuffix(
			strings.Repeat("(?, ?, ?, ?),", len(batch)), ",")
		args := make([]any, 0, len(batch)*4)
		for _, p := range batch {
			args = append(args, p.Text, book.ID(), p.Seq, p.Location)
		}

		query := fmt.Sprintf(
			"INSERT INTO paragraphs (text, book_id, seq, location) VALUES %s", placeholders)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Prune removes every indexed book whose identity is not in keep,
// purging its postings with it.
func (idx *Index) Prune(ctx context.Context, keep map[string]bool) error {
	ids, err := idx.BookIDs(ctx)
	if err != nil {
		return err
	}

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range ids {
		if keep[id] {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM paragraphs WHERE book_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM books WHERE id = $1`, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// BookIDs lists every indexed book identity.
func (idx *Index) BookIDs(ctx context.Context) ([]string, error) {
	rows, err := idx.db.QueryContext(ctx, `SELECT id FROM books ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRebuildRequired, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRebuildRequired, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRebuildRequired, err)
	}
	return ids, nil
}

// Query returns every paragraph matching ANY of the terms. Exact mode
// issues quoted phrase queries, so matches respect word boundaries;
// fuzzy mode adds a trailing prefix so morphological variants of the
// last word count too. Candidate order is deterministic: book title,
// then paragraph sequence.
func (idx *Index) Query(ctx context.Context, terms []string, mode Mode) ([]Hit, error) {
	expr := matchExpression(terms, mode)
	if expr == "" {
		return nil, nil
	}

	// FTS5 requires the table name, not an alias, on the left of MATCH.
	rows, err := idx.db.QueryContext(ctx, `
		SELECT paragraphs.text, paragraphs.book_id, CAST(paragraphs.seq AS INTEGER),
			paragraphs.location, b.title, b.author
		FROM paragraphs
		JOIN books b ON b.id = paragraphs.book_id
		WHERE paragraphs MATCH $1
		ORDER BY b.title, CAST(paragraphs.seq AS INTEGER)`, expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRebuildRequired, err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.Text, &h.BookID, &h.Seq, &h.Location, &h.BookTitle, &h.Author); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRebuildRequired, err)
		}
		hits = append(hits, h)
	}
	// The driver reports a missing or corrupt table lazily, during row
	// iteration, so that error is an index-unavailable condition too.
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRebuildRequired, err)
	}
	return hits, nil
}

// Window returns the paragraph texts for seq in [from, to] of one book,
// in sequence order. The query engine uses it to assemble context from
// neighboring paragraphs.
func (idx *Index) Window(ctx context.Context, bookID string, from, to int) ([]string, error) {
	if from < 0 {
		from = 0
	}
	rows, err := idx.db.QueryContext(ctx, `
		SELECT text FROM paragraphs
		WHERE book_id = $1 AND CAST(seq AS INTEGER) BETWEEN $2 AND $3
		ORDER BY CAST(seq AS INTEGER)`, bookID, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRebuildRequired, err)
	}
	defer rows.Close()

	var texts []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRebuildRequired, err)
		}
		texts = append(texts, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRebuildRequired, err)
	}
	return texts, nil
}

// matchExpression builds the FTS5 MATCH string: each term becomes a
// quoted phrase, OR-joined. Quoting keeps user input from being parsed
// as FTS syntax.
func matchExpression(terms []string, mode Mode) string {
	parts := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.TrimSpace(strings.ReplaceAll(term, `"`, " "))
		if term == "" {
			continue
		}
		phrase := `"` + term + `"`
		if mode == ModeFuzzy {
			phrase += " *"
		}
		parts = append(parts, phrase)
	}
	return strings.Join(parts, " OR ")
}
