// Package feeds pulls entries from the configured syndication feeds and
// normalizes them into a single merged stream for the selector.
package feeds

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"inkwell/internal/inkwell"
)

const maxConcurrentFetches = 4

// Fetcher retrieves and merges entries across all configured sources.
type Fetcher struct {
	sources []inkwell.FeedSource
	client  *http.Client
	timeout time.Duration
}

func NewFetcher(sources []inkwell.FeedSource, client *http.Client, timeout time.Duration) *Fetcher {
	return &Fetcher{
		sources: sources,
		client:  client,
		timeout: timeout,
	}
}

// FetchAll pulls every configured feed and returns the merged entries,
// deduplicated by link and sorted most-recent-first.
//
// A feed that is unreachable or malformed is logged and skipped; it never
// fails the whole fetch. A feed with zero entries is not an error either.
func (f *Fetcher) FetchAll(ctx context.Context) []inkwell.FeedEntry {
	var (
		mu  sync.Mutex
		all []inkwell.FeedEntry
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for _, src := range f.sources {
		g.Go(func() error {
			entries, err := f.fetchOne(gCtx, src)
			if err != nil {
				slog.WarnContext(gCtx, "skipping feed", "source", src.Name, "error", err)
				return nil
			}

			mu.Lock()
			all = append(all, entries...)
			mu.Unlock()

			return nil
		})
	}
	// Workers only ever return nil; errors stay per-feed.
	_ = g.Wait()

	return mergeEntries(all)
}

func (f *Fetcher) fetchOne(ctx context.Context, src inkwell.FeedSource) ([]inkwell.FeedEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	parser := gofeed.NewParser()
	parser.Client = f.client

	feed, err := parser.ParseURLWithContext(src.URL, ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]inkwell.FeedEntry, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item.Link == "" {
			continue
		}

		published := time.Time{}
		if item.PublishedParsed != nil {
			published = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			published = *item.UpdatedParsed
		}

		tags := append([]string{}, src.Tags...)
		tags = append(tags, item.Categories...)

		entries = append(entries, inkwell.FeedEntry{
			SourceName:  src.Name,
			Title:       sanitize(item.Title),
			Link:        strings.TrimSpace(item.Link),
			PublishedAt: published,
			Tags:        tags,
		})
	}

	return entries, nil
}

// mergeEntries dedupes by link (first seen wins) and orders the result by
// publish time descending.
func mergeEntries(entries []inkwell.FeedEntry) []inkwell.FeedEntry {
	seen := make(map[string]struct{}, len(entries))
	merged := make([]inkwell.FeedEntry, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.Link]; ok {
			continue
		}
		seen[e.Link] = struct{}{}
		merged = append(merged, e)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].PublishedAt.After(merged[j].PublishedAt)
	})

	return merged
}

var stripPolicy = bluemonday.StrictPolicy()

// Removes all html tags from the string, usually a title out of a feed.
//
// Also limits the length of the string so there's not a massive chunk of text being carried around.
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = stripPolicy.Sanitize(s)
	if len(s) > 2048 {
		s = s[:2048]
	}

	return s
}
