package library

// TOCEntry is one table-of-contents entry for a book.
type TOCEntry struct {
	Label  string `json:"label"`
	Anchor string `json:"anchor,omitempty"`
}

// Paragraph is the unit of indexing and quoting. Seq is the paragraph's
// position in the book's reading order and drives context-window lookup.
type Paragraph struct {
	Text     string
	Location string
	Seq      int
}

// Book is one ingested EPUB. Identity is the path; re-ingesting a path
// replaces the whole book.
type Book struct {
	Title      string
	Author     string
	Published  string
	Path       string
	TOC        []TOCEntry
	Paragraphs []Paragraph
}

// ID returns the book's stable identity.
func (b *Book) ID() string { return b.Path }

// Summary is what metadata search returns.
type Summary struct {
	Title     string   `json:"title"`
	Author    string   `json:"author"`
	Published string   `json:"published"`
	Chapters  []string `json:"chapters"`
}

// ListEntry is one row of a paginated listing. Optional fields are only
// set when their projection was requested.
type ListEntry struct {
	Title     string `json:"title"`
	Author    string `json:"author,omitempty"`
	Published string `json:"published,omitempty"`
	Path      string `json:"path,omitempty"`
}
