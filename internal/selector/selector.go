// Package selector ranks merged feed entries and picks the ones worth
// drafting into posts.
package selector

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"inkwell/internal/inkwell"
)

// Selector filters and scores feed entries against what's already published.
type Selector struct {
	// Entries older than this are not worth drafting.
	RecencyWindow time.Duration
	// Token-overlap ratio above which a title counts as already covered.
	SimilarityThreshold float64
}

func New(recencyWindow time.Duration, similarityThreshold float64) Selector {
	return Selector{
		RecencyWindow:       recencyWindow,
		SimilarityThreshold: similarityThreshold,
	}
}

// Select returns up to n candidates in descending score order.
//
// Filtering happens before scoring: entries matching an existing post title
// and entries outside the recency window are dropped. Fewer than n survivors
// is fine; the caller gets what's available. Ties break by most-recent
// publish time, then by position in the source list so the output is
// deterministic for a fixed input snapshot.
func (s Selector) Select(entries []inkwell.FeedEntry, sources []inkwell.FeedSource, existingTitles []string, n int, now time.Time) []inkwell.Candidate {
	if n <= 0 {
		return nil
	}

	existing := make([][]string, 0, len(existingTitles))
	for _, title := range existingTitles {
		existing = append(existing, titleTokens(title))
	}

	weights := make(map[string]float64, len(sources))
	order := make(map[string]int, len(sources))
	for i, src := range sources {
		weights[src.Name] = src.Weight
		order[src.Name] = i
	}

	candidates := []inkwell.Candidate{}
	for _, entry := range entries {
		if s.coveredAlready(entry.Title, existing) {
			continue
		}
		if entry.PublishedAt.Before(now.Add(-s.RecencyWindow)) {
			continue
		}

		candidates = append(candidates, inkwell.Candidate{
			Entry:  entry,
			Score:  s.score(entry, weights[entry.SourceName], now),
			Reason: "fresh entry from " + entry.SourceName,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Entry.PublishedAt.Equal(b.Entry.PublishedAt) {
			return a.Entry.PublishedAt.After(b.Entry.PublishedAt)
		}
		return order[a.Entry.SourceName] < order[b.Entry.SourceName]
	})

	if len(candidates) > n {
		candidates = candidates[:n]
	}

	return candidates
}

// score weighs source trust against how stale the entry is. A full-weight
// source with a brand-new entry scores weight+1; the recency part decays
// linearly to zero at the edge of the window.
func (s Selector) score(entry inkwell.FeedEntry, weight float64, now time.Time) float64 {
	age := now.Sub(entry.PublishedAt)
	recency := 1 - float64(age)/float64(s.RecencyWindow)
	if recency < 0 {
		recency = 0
	}

	return weight + recency
}

func (s Selector) coveredAlready(title string, existing [][]string) bool {
	tokens := titleTokens(title)
	for _, have := range existing {
		if overlap(tokens, have) >= s.SimilarityThreshold {
			return true
		}
	}

	return false
}

// titleTokens normalizes a title to its lowercase word set.
func titleTokens(title string) []string {
	return strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// overlap is the ratio of shared tokens to the smaller token set, so a title
// fully contained in another counts as a full match.
func overlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	set := make(map[string]struct{}, len(a))
	for _, tok := range a {
		set[tok] = struct{}{}
	}

	shared := 0
	seen := make(map[string]struct{}, len(b))
	for _, tok := range b {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		if _, ok := set[tok]; ok {
			shared++
		}
	}

	smaller := len(set)
	if len(seen) < smaller {
		smaller = len(seen)
	}

	return float64(shared) / float64(smaller)
}
