package epub

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// Block-level elements whose boundaries become paragraph breaks.
var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "tr": true, "section": true, "article": true,
}

// Elements whose content is never part of the book text.
var skipTags = map[string]bool{
	"script": true, "style": true,
}

// Normalize converts raw chapter markup into plain-text paragraphs.
// Block-level boundaries become paragraph breaks, script and style
// content is dropped and whitespace is collapsed within a paragraph.
// Malformed markup degrades to best-effort text; Normalize never fails.
func Normalize(r io.Reader) []string {
	z := html.NewTokenizer(r)

	var paragraphs []string
	var current strings.Builder
	skipDepth := 0

	flush := func() {
		text := collapseSpace(current.String())
		if text != "" {
			paragraphs = append(paragraphs, text)
		}
		current.Reset()
	}

	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF and parse errors both end the document; whatever
			// was collected so far is still usable text.
			flush()
			return paragraphs

		case html.StartTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipTags[tag] {
				skipDepth++
				continue
			}
			if blockTags[tag] {
				flush()
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skipTags[tag] {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if blockTags[tag] {
				flush()
			}

		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			if blockTags[string(name)] {
				flush()
			}

		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			current.Write(z.Text())
		}
	}
}

// NormalizeString is a convenience wrapper for Normalize.
func NormalizeString(markup string) []string {
	return Normalize(strings.NewReader(markup))
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
