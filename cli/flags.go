package cli

import (
	"context"
	"fmt"
	"log"

	"github.com/abiiranathan/goflag"
)

// DefineFlags registers the subcommands. serve starts the MCP server
// and is supplied by main so this package stays transport-free.
func DefineFlags(config *Config, serve func()) *goflag.Context {
	indexFlag := goflag.Flag{
		FlagType:  goflag.FlagString,
		Name:      "index",
		ShortName: "i",
		Value:     &config.Index,
		Usage:     "Path of the persistent full-text index",
		Required:  false,
		Validator: nil,
	}

	dirFlag := goflag.Flag{
		FlagType:  goflag.FlagString,
		Name:      "directory",
		ShortName: "d",
		Value:     &config.Directory,
		Usage:     "Library root containing EPUB files",
		Required:  false,
		Validator: nil,
	}

	limitFlag := goflag.Flag{
		FlagType:  goflag.FlagInt,
		Name:      "limit",
		ShortName: "n",
		Value:     &config.Limit,
		Usage:     "Maximum number of results",
		Required:  false,
		Validator: nil,
	}

	ctx := goflag.NewContext()

	// global flags
	ctx.AddFlag(goflag.FlagInt, "concurrency", "c",
		&config.MaxConcurrency,
		"No of books parsed at once during ingestion",
		false, goflag.Min(1), goflag.Max(100))
	ctx.AddFlag(goflag.FlagBool, "exact-only", "e",
		&config.ExactOnly,
		"Disable fuzzy matching (exact matching only)",
		false)

	ctx.AddSubCommand("scan", "Scan the library and rebuild the metadata cache and full-text index", func() {
		config.Rebuild = true
		app, err := OpenApp(context.Background(), config)
		if err != nil {
			log.Fatalln(err)
		}
		defer app.Close()
		fmt.Printf("Indexed %d books into %s\n", app.Library.Len(), app.Index.Path())
	}).AddFlagPtr(&dirFlag).AddFlagPtr(&indexFlag)

	ctx.AddSubCommand("list", "List books in the library", func() {
		app, err := OpenApp(context.Background(), config)
		if err != nil {
			log.Fatalln(err)
		}
		defer app.Close()

		total, entries := app.Library.List(config.Offset, config.Limit, []string{"author", "published"})
		fmt.Printf("%d books\n", total)
		for _, e := range entries {
			fmt.Printf("%s — %s (%s)\n", e.Title, e.Author, e.Published)
		}
	}).AddFlagPtr(&dirFlag).AddFlagPtr(&limitFlag).
		AddFlag(goflag.FlagInt, "offset", "o", &config.Offset, "Number of books to skip", false)

	ctx.AddSubCommand("search", "Search book metadata by title, author or year", func() {
		app, err := OpenApp(context.Background(), config)
		if err != nil {
			log.Fatalln(err)
		}
		defer app.Close()

		for _, s := range app.Library.Search(config.Query) {
			fmt.Printf("%s — %s (%s)\n", s.Title, s.Author, s.Published)
			for _, ch := range s.Chapters {
				fmt.Printf("    %s\n", ch)
			}
		}
	}).AddFlag(goflag.FlagString, "query", "q", &config.Query, "The search query", true).
		AddFlagPtr(&dirFlag)

	ctx.AddSubCommand("topic", "Find content on a topic with attribution", func() {
		app, err := OpenApp(context.Background(), config)
		if err != nil {
			log.Fatalln(err)
		}
		defer app.Close()

		resp, err := app.FindTopic(context.Background(), config)
		if err != nil {
			log.Fatalln(err)
		}
		fmt.Printf("%d results\n", resp.TotalResults)
		for _, r := range resp.Results {
			fmt.Printf("[%.3f] %s — %s (%s)\n    %s\n",
				r.RelevanceScore, r.BookTitle, r.Author, r.Location, r.Text)
		}
	}).AddFlag(goflag.FlagString, "query", "q", &config.Query, "The topic to search for", true).
		AddFlag(goflag.FlagString, "book", "b", &config.Book, "Filter to a book title", false).
		AddFlag(goflag.FlagString, "author", "a", &config.Author, "Filter to an author", false).
		AddFlag(goflag.FlagString, "match", "m", &config.MatchType, "Match strategy: exact or fuzzy", false).
		AddFlagPtr(&limitFlag).AddFlagPtr(&dirFlag).AddFlagPtr(&indexFlag)

	// Run the MCP server over stdio
	ctx.AddSubCommand("serve", "Start the MCP server over stdio", serve).
		AddFlagPtr(&dirFlag).AddFlagPtr(&indexFlag)

	return ctx
}
