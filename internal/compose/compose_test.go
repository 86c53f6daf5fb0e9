package compose

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell/internal/inkwell"
)

// Shapes a minimal messages-api response whose single text block carries the
// given payload.
func claudeResponse(t *testing.T, payload any) string {
	t.Helper()

	text, err := json.Marshal(payload)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]any{
		"id":          "msg_test",
		"type":        "message",
		"role":        "assistant",
		"model":       "claude-haiku-4-5",
		"content":     []map[string]any{{"type": "text", "text": string(text)}},
		"stop_reason": "end_turn",
		"usage":       map[string]any{"input_tokens": 1, "output_tokens": 1},
	})
	require.NoError(t, err)

	return string(body)
}

func newTestGenerator(t *testing.T, claudeURL string, minWords int) *Generator {
	t.Helper()

	client := anthropic.NewClient(
		option.WithAPIKey("test-key"),
		option.WithBaseURL(claudeURL),
		option.WithMaxRetries(0),
	)

	return NewGenerator(client, anthropic.ModelClaudeHaiku4_5, minWords, http.DefaultClient)
}

func TestDraft_ManualMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, claudeResponse(t, map[string]string{
			"title":   "Shipping Side Projects",
			"excerpt": "Why finishing beats polishing.",
			"body":    "one two three four five six seven eight nine ten",
		}))
	}))
	defer srv.Close()

	g := newTestGenerator(t, srv.URL, 5)

	draft, err := g.Draft(context.Background(), Request{Topic: "shipping side projects"})
	require.NoError(t, err)

	assert.Equal(t, "Shipping Side Projects", draft.Title)
	assert.Equal(t, "shipping-side-projects", draft.Slug)
	assert.Equal(t, "Why finishing beats polishing.", draft.Excerpt)
}

func TestDraft_TooShortRetriesOnceThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, claudeResponse(t, map[string]string{
			"title":   "Thin",
			"excerpt": "Too little.",
			"body":    "hardly anything",
		}))
	}))
	defer srv.Close()

	g := newTestGenerator(t, srv.URL, 100)

	_, err := g.Draft(context.Background(), Request{Topic: "anything"})
	require.ErrorIs(t, err, ErrTooShort)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDraft_AutoModeExtractsSourceText(t *testing.T) {
	articleSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Source</title></head><body><article>
<p>The first paragraph of the source article, with enough words in it that the
readability extraction keeps it around as genuine article content rather than
discarding it as boilerplate or navigation chrome from the surrounding page.</p>
<p>A second paragraph continues the article with more substance, describing the
ideas at enough length that the extractor scores this block as the main body of
the document and includes it in the text handed onward to the generator.</p>
<p>A closing paragraph wraps the piece up, because real articles tend to have
more than a couple of paragraphs and the parser rewards documents that look
like something a person actually sat down and wrote.</p>
</article></body></html>`)
	}))
	defer articleSrv.Close()

	var sawSource atomic.Bool
	claudeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content any `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		raw, _ := json.Marshal(req.Messages)
		if len(req.Messages) > 0 && strings.Contains(string(raw), "first paragraph") {
			sawSource.Store(true)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, claudeResponse(t, map[string]string{
			"title":   "On Source Articles",
			"excerpt": "Summary.",
			"body":    "one two three four five six seven eight nine ten",
		}))
	}))
	defer claudeSrv.Close()

	g := newTestGenerator(t, claudeSrv.URL, 5)

	entry := testEntry(articleSrv.URL)
	draft, err := g.Draft(context.Background(), Request{Entry: &entry})
	require.NoError(t, err)

	assert.Equal(t, "on-source-articles", draft.Slug)
	assert.True(t, sawSource.Load(), "prompt should carry the extracted source text")
}

func TestDraft_UnreachableSourceFailsTheItem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("claude should not be called when extraction fails")
	}))
	defer srv.Close()

	g := newTestGenerator(t, srv.URL, 5)

	entry := testEntry("http://127.0.0.1:1/article")
	_, err := g.Draft(context.Background(), Request{Entry: &entry})
	assert.Error(t, err)
}

func testEntry(link string) inkwell.FeedEntry {
	return inkwell.FeedEntry{
		SourceName: "test-source",
		Title:      "Source Article",
		Link:       link,
	}
}
