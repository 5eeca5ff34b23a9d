package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/epublic/epublib/index"
	"github.com/epublic/epublib/library"
	"github.com/epublic/epublib/match"
	"github.com/epublic/epublib/query"
)

func seedBooks() []*library.Book {
	return []*library.Book{
		{
			Title:     "Accelerate",
			Author:    "Nicole Forsgren",
			Published: "2018",
			Path:      "/books/accelerate.epub",
			Paragraphs: []library.Paragraph{
				{Text: "Continuous deployment reduces lead time.", Location: "Chapter 1", Seq: 0},
				{Text: "Trunk based development supports integration.", Location: "Chapter 1", Seq: 1},
			},
		},
		{
			Title:     "Infrastructure as Code",
			Author:    "Kief Morris",
			Published: "2016",
			Path:      "/books/iac.epub",
			Paragraphs: []library.Paragraph{
				{Text: "Define infrastructure in version controlled files.", Location: "Chapter 2", Seq: 0},
			},
		},
	}
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "index.sqlite")
	idx, err := index.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { idx.Close() })

	matcher := match.For(true)
	lib := library.New(matcher)
	ctx := context.Background()
	for _, b := range seedBooks() {
		lib.Upsert(b)
		if err := idx.Add(ctx, b, "fp"); err != nil {
			t.Fatal(err)
		}
	}

	rebuild := func(ctx context.Context) error {
		if err := idx.Reset(); err != nil {
			return err
		}
		for _, b := range seedBooks() {
			if err := idx.Add(ctx, b, "fp"); err != nil {
				return err
			}
		}
		return nil
	}

	engine := query.New(idx, matcher, query.Options{})
	return New(lib, engine, rebuild), path
}

func callReq(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("result has %d content items, want 1", len(res.Content))
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want TextContent", res.Content[0])
	}
	return tc.Text
}

func TestHandleListBooks(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleListBooks(ctx, callReq(nil))
	if err != nil {
		t.Fatal(err)
	}
	var page struct {
		Total  int                 `json:"total"`
		Offset int                 `json:"offset"`
		Limit  int                 `json:"limit"`
		Books  []library.ListEntry `json:"books"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 2 || len(page.Books) != 2 || page.Limit != 50 {
		t.Errorf("page = %+v", page)
	}
	if page.Books[0].Title != "Accelerate" {
		t.Errorf("first book = %q", page.Books[0].Title)
	}
	if page.Books[0].Author != "" {
		t.Errorf("author projected without include_fields: %+v", page.Books[0])
	}

	res, err = s.handleListBooks(ctx, callReq(map[string]any{
		"limit":          1,
		"include_fields": []any{"author", "path"},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Books) != 1 || page.Total != 2 {
		t.Errorf("limited page = %+v", page)
	}
	if page.Books[0].Author != "Nicole Forsgren" || page.Books[0].Path == "" {
		t.Errorf("projections missing: %+v", page.Books[0])
	}
}

func TestHandleListBooksValidation(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	for name, args := range map[string]map[string]any{
		"negative limit":  {"limit": -1},
		"negative offset": {"offset": -1},
		"limit over cap":  {"limit": 501},
	} {
		t.Run(name, func(t *testing.T) {
			res, err := s.handleListBooks(ctx, callReq(args))
			if err != nil {
				t.Fatal(err)
			}
			if !res.IsError {
				t.Errorf("%s accepted: %s", name, resultText(t, res))
			}
		})
	}
}

func TestHandleSearchBooks(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleSearchBooks(ctx, callReq(map[string]any{"query": "Morris"}))
	if err != nil {
		t.Fatal(err)
	}
	var summaries []library.Summary
	if err := json.Unmarshal([]byte(resultText(t, res)), &summaries); err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 || summaries[0].Title != "Infrastructure as Code" {
		t.Errorf("summaries = %+v", summaries)
	}

	// No matches is an empty array, never null.
	res, err = s.handleSearchBooks(ctx, callReq(map[string]any{"query": "cookbook"}))
	if err != nil {
		t.Fatal(err)
	}
	if text := strings.TrimSpace(resultText(t, res)); text != "[]" {
		t.Errorf("empty search = %q, want []", text)
	}
}

func TestHandleFindTopic(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleFindTopic(ctx, callReq(map[string]any{"topic": "deployment"}))
	if err != nil {
		t.Fatal(err)
	}
	var resp query.Response
	if err := json.Unmarshal([]byte(resultText(t, res)), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.TotalResults != 1 || len(resp.Results) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	r := resp.Results[0]
	if r.BookTitle != "Accelerate" || r.Author != "Nicole Forsgren" || r.Location != "Chapter 1" {
		t.Errorf("attribution = %+v", r)
	}
	if r.RelevanceScore <= 0 {
		t.Errorf("RelevanceScore = %v", r.RelevanceScore)
	}
}

func TestHandleFindTopicErrors(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleFindTopic(ctx, callReq(nil))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(resultText(t, res), "topic or topics is required") {
		t.Errorf("missing topic result = %+v", res)
	}

	res, err = s.handleFindTopic(ctx, callReq(map[string]any{
		"topic":      "deployment",
		"match_type": "regex",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(resultText(t, res), "match_type") {
		t.Errorf("bad match_type result = %+v", res)
	}
}

func TestHandleFindTopicRebuildsOnDemand(t *testing.T) {
	s, path := newTestServer(t)
	ctx := context.Background()

	// Break the index behind the server's back; the handler must rebuild
	// and answer anyway.
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`DROP TABLE paragraphs`); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	res, err := s.handleFindTopic(ctx, callReq(map[string]any{"topic": "deployment"}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("handler failed instead of rebuilding: %s", resultText(t, res))
	}
	var resp query.Response
	if err := json.Unmarshal([]byte(resultText(t, res)), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.TotalResults != 1 {
		t.Errorf("TotalResults = %d, want 1 after rebuild", resp.TotalResults)
	}
}
