package cli

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/epublic/epublib/index"
	"github.com/epublic/epublib/library"
	"github.com/epublic/epublib/match"
	"github.com/epublic/epublib/query"
)

// App is the assembled application: the metadata index, the persistent
// full-text index and the query engine over both. Built once at startup
// and passed around explicitly.
type App struct {
	Library *library.Library
	Index   *index.Index
	Engine  *query.Engine
	Config  *Config

	roots []string
}

// OpenApp loads the library (cache or scan), opens the full-text index
// and brings it up to date. A missing, corrupt or outdated index is
// rebuilt here rather than surfaced to every caller.
func OpenApp(ctx context.Context, config *Config) (*App, error) {
	matcher := match.For(!config.ExactOnly)

	var configured []string
	if config.Directory != "" {
		configured = []string{config.Directory}
	}
	roots := library.ResolveRoots(configured)
	if len(roots) == 0 {
		return nil, fmt.Errorf("no library paths configured; set %s or pass --directory", library.EnvLibraryPaths)
	}

	lib, fromCache, err := library.Load(roots, config.MaxConcurrency, matcher)
	if err != nil {
		return nil, err
	}
	if !fromCache {
		log.Printf("scanned %d books", lib.Len())
	}

	indexPath := config.Index
	if indexPath == "" {
		indexPath, err = index.DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	force := config.Rebuild || index.ForceRebuild()

	idx, err := index.Open(indexPath)
	if errors.Is(err, index.ErrRebuildRequired) {
		log.Printf("full-text index unusable, rebuilding: %v", err)
		if err := idx.Reset(); err != nil {
			return nil, err
		}
		force = true
	} else if err != nil {
		return nil, err
	}

	app := &App{
		Library: lib,
		Index:   idx,
		Engine:  query.New(idx, matcher, query.Options{}),
		Config:  config,
		roots:   roots,
	}
	if err := index.Build(ctx, idx, lib.Books(), config.MaxConcurrency, force); err != nil {
		idx.Close()
		return nil, err
	}
	return app, nil
}

// Rebuild discards the full-text index and re-ingests every book.
func (a *App) Rebuild(ctx context.Context) error {
	if err := a.Index.Reset(); err != nil {
		return err
	}
	return index.Build(ctx, a.Index, a.Library.Books(), a.Config.MaxConcurrency, true)
}

// FindTopic runs one topic query with the configured filters.
func (a *App) FindTopic(ctx context.Context, config *Config) (*query.Response, error) {
	return a.Engine.FindTopic(ctx, query.Request{
		Topic:        config.Query,
		BookFilter:   config.Book,
		AuthorFilter: config.Author,
		MatchType:    config.MatchType,
		Limit:        config.Limit,
		Offset:       config.Offset,
	})
}

// Close releases the index handle.
func (a *App) Close() error {
	return a.Index.Close()
}
