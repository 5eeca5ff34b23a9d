// Package epub reads EPUB containers and normalizes their content into
// plain-text paragraphs suitable for indexing.
package epub

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

var (
	ErrInvalidArchive  = errors.New("epub: invalid or corrupted archive")
	ErrMissingRootfile = errors.New("epub: container has no rootfile")
)

// TOCEntry is one navigation point in a book's table of contents.
type TOCEntry struct {
	Label  string
	Anchor string
}

// Section is one spine document, already normalized to paragraphs and
// tagged with the TOC label that covers it.
type Section struct {
	Href       string
	Location   string
	Paragraphs []string
}

// Document is the parsed content of a single EPUB file.
type Document struct {
	Title     string
	Author    string
	Published string
	TOC       []TOCEntry
	Sections  []Section
}

type containerXML struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type opfPackage struct {
	Metadata struct {
		Title   []string `xml:"title"`
		Creator []string `xml:"creator"`
		Date    []string `xml:"date"`
	} `xml:"metadata"`
	Manifest struct {
		Items []struct {
			ID        string `xml:"id,attr"`
			Href      string `xml:"href,attr"`
			MediaType string `xml:"media-type,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		TOC      string `xml:"toc,attr"`
		ItemRefs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

type ncxDoc struct {
	NavPoints []ncxNavPoint `xml:"navMap>navPoint"`
}

type ncxNavPoint struct {
	Label    string        `xml:"navLabel>text"`
	Content  struct {
		Src string `xml:"src,attr"`
	} `xml:"content"`
	Children []ncxNavPoint `xml:"navPoint"`
}

// Open reads one EPUB file. A book that cannot be opened at the container
// level returns an error; individual spine documents that fail to read are
// skipped so one bad chapter never loses the book.
func Open(filePath string) (*Document, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, ErrInvalidArchive
	}
	defer zr.Close()

	return read(&zr.Reader)
}

// OpenReader reads an EPUB from an io.ReaderAt, mainly for tests.
func OpenReader(ra io.ReaderAt, size int64) (*Document, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, ErrInvalidArchive
	}
	return read(zr)
}

func read(zr *zip.Reader) (*Document, error) {
	opfPath, err := findRootfile(zr)
	if err != nil {
		return nil, err
	}

	var pkg opfPackage
	if err := unmarshalFile(zr, opfPath, &pkg); err != nil {
		return nil, fmt.Errorf("epub: reading OPF %s: %w", opfPath, err)
	}

	baseDir := path.Dir(opfPath)
	doc := &Document{
		Title:     first(pkg.Metadata.Title),
		Author:    first(pkg.Metadata.Creator),
		Published: first(pkg.Metadata.Date),
	}

	manifest := make(map[string]string, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		manifest[item.ID] = item.Href
	}

	doc.TOC = readTOC(zr, &pkg, manifest, baseDir)

	// Map spine hrefs to the nearest TOC label. Spine items before the
	// first navigation point inherit the first label, matching how most
	// books front-load cover and title pages.
	locations := locationsByHref(doc.TOC)

	currentLocation := "Unknown section"
	for _, ref := range pkg.Spine.ItemRefs {
		href, ok := manifest[ref.IDRef]
		if !ok {
			continue
		}
		if loc, ok := locations[stripFragment(href)]; ok {
			currentLocation = loc
		}

		data, err := readFile(zr, resolveHref(baseDir, href))
		if err != nil {
			continue
		}
		paragraphs := Normalize(bytes.NewReader(data))
		if len(paragraphs) == 0 {
			continue
		}
		doc.Sections = append(doc.Sections, Section{
			Href:       href,
			Location:   currentLocation,
			Paragraphs: paragraphs,
		})
	}

	return doc, nil
}

func findRootfile(zr *zip.Reader) (string, error) {
	var container containerXML
	if err := unmarshalFile(zr, "META-INF/container.xml", &container); err != nil {
		return "", ErrInvalidArchive
	}
	if len(container.Rootfiles) == 0 || container.Rootfiles[0].FullPath == "" {
		return "", ErrMissingRootfile
	}
	return container.Rootfiles[0].FullPath, nil
}

func readTOC(zr *zip.Reader, pkg *opfPackage, manifest map[string]string, baseDir string) []TOCEntry {
	// EPUB2 NCX referenced from the spine, with the conventional
	// application/x-dtbncx+xml manifest item as fallback.
	ncxHref := manifest[pkg.Spine.TOC]
	if ncxHref == "" {
		for _, item := range pkg.Manifest.Items {
			if item.MediaType == "application/x-dtbncx+xml" {
				ncxHref = item.Href
				break
			}
		}
	}
	if ncxHref == "" {
		return nil
	}

	var ncx ncxDoc
	if err := unmarshalFile(zr, resolveHref(baseDir, ncxHref), &ncx); err != nil {
		return nil
	}

	var toc []TOCEntry
	var walk func(points []ncxNavPoint)
	walk = func(points []ncxNavPoint) {
		for _, p := range points {
			label := collapseSpace(p.Label)
			if label != "" {
				toc = append(toc, TOCEntry{Label: label, Anchor: p.Content.Src})
			}
			walk(p.Children)
		}
	}
	walk(ncx.NavPoints)
	return toc
}

func locationsByHref(toc []TOCEntry) map[string]string {
	m := make(map[string]string, len(toc))
	for _, entry := range toc {
		href := stripFragment(entry.Anchor)
		if href == "" {
			continue
		}
		// First label wins when several anchors point into one file.
		if _, ok := m[href]; !ok {
			m[href] = entry.Label
		}
	}
	return m
}

func readFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, fmt.Errorf("epub: %s not in archive", name)
}

func unmarshalFile(zr *zip.Reader, name string, v any) error {
	data, err := readFile(zr, name)
	if err != nil {
		return err
	}
	return xml.Unmarshal(data, v)
}

func resolveHref(baseDir, href string) string {
	href = stripFragment(href)
	if baseDir == "." || baseDir == "" {
		return href
	}
	return path.Join(baseDir, href)
}

func stripFragment(href string) string {
	if i := strings.IndexByte(href, '#'); i >= 0 {
		return href[:i]
	}
	return href
}

func first(values []string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
