package compose

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	readability "github.com/go-shiori/go-readability"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sym01/htmlsanitizer"
)

// Cap on extracted source text handed to the model.
const maxSourceTextLen = 8192

// extractor pulls the readable body out of a source article's page. Results
// are cached by link since the same entry can show up across runs.
type extractor struct {
	fetchClient *http.Client
	cache       *lru.Cache[string, string]
}

func newExtractor(fetchClient *http.Client) *extractor {
	cache, _ := lru.New[string, string](256)

	return &extractor{
		fetchClient: fetchClient,
		cache:       cache,
	}
}

func (e *extractor) sourceText(ctx context.Context, link string) (string, error) {
	if text, ok := e.cache.Get(link); ok {
		return text, nil
	}

	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("error with the entry's url: %s", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", fmt.Errorf("error building request: %s", err)
	}
	resp, err := e.fetchClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("error fetching source article: %s", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status fetching source article: %d", resp.StatusCode)
	}

	// Strip it for readability and sanitize
	parser := readability.NewParser()
	article, err := parser.Parse(resp.Body, u)
	if err != nil {
		return "", fmt.Errorf("error extracting article: %s", err)
	}

	sanitizer := htmlsanitizer.NewHTMLSanitizer()
	contents, err := sanitizer.SanitizeString(article.Content)
	if err != nil {
		return "", fmt.Errorf("error sanitizing article: %s", err)
	}
	if len(contents) > maxSourceTextLen {
		contents = contents[:maxSourceTextLen]
	}

	e.cache.Add(link, contents)

	return contents, nil
}
