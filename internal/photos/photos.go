// Package photos finds a cover image for a draft through the Unsplash
// search API.
package photos

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
)

const defaultBaseURL = "https://api.unsplash.com"

// Searcher queries Unsplash for one landscape cover image per draft.
//
// Every failure mode here is soft: a missing credential, a quota response,
// a network error, or zero results all come back as an empty URL, never an
// error. The pipeline treats a missing cover as acceptable.
type Searcher struct {
	accessKey string
	baseURL   string
	client    *http.Client
}

func NewSearcher(accessKey string, client *http.Client) *Searcher {
	return &Searcher{
		accessKey: accessKey,
		baseURL:   defaultBaseURL,
		client:    client,
	}
}

// NewSearcherWithBaseURL exists for pointing tests at a fake server.
func NewSearcherWithBaseURL(accessKey, baseURL string, client *http.Client) *Searcher {
	s := NewSearcher(accessKey, client)
	s.baseURL = baseURL

	return s
}

type searchResponse struct {
	Results []struct {
		URLs struct {
			Regular string `json:"regular"`
		} `json:"urls"`
	} `json:"results"`
}

// CoverFor returns the "regular" URL of the first landscape result for the
// query, or "" if no usable image could be found. Exactly one request is
// made; the rate-limited Unsplash quota doesn't allow for retries or paging.
func (s *Searcher) CoverFor(ctx context.Context, query string) string {
	if s.accessKey == "" {
		slog.DebugContext(ctx, "no image search credential, skipping cover")
		return ""
	}

	endpoint := fmt.Sprintf("%s/search/photos?%s", s.baseURL, url.Values{
		"query":       {query},
		"page":        {"1"},
		"per_page":    {"1"},
		"orientation": {"landscape"},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		slog.WarnContext(ctx, "error building image search request", "error", err)
		return ""
	}
	req.Header.Set("Authorization", "Client-ID "+s.accessKey)

	resp, err := s.client.Do(req)
	if err != nil {
		slog.WarnContext(ctx, "image search unreachable", "error", err)
		return ""
	}
	defer resp.Body.Close()

	// 403s here mean the hourly quota ran out.
	if resp.StatusCode != http.StatusOK {
		slog.WarnContext(ctx, "image search refused", "status", resp.StatusCode)
		return ""
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		slog.WarnContext(ctx, "error decoding image search response", "error", err)
		return ""
	}
	if len(parsed.Results) == 0 {
		return ""
	}

	return parsed.Results[0].URLs.Regular
}
