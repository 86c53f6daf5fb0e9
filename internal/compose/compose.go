// Package compose turns a chosen topic or source article into a draft post
// by delegating the writing to Claude.
package compose

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sethvargo/go-retry"

	"inkwell/internal/inkwell"
)

//go:embed system_prompt.txt
var systemPrompt string

//go:embed user_auto.txt
var userAuto string

//go:embed user_manual.txt
var userManual string

// ErrTooShort marks output under the word floor; it counts as a generation
// failure for the affected candidate.
var ErrTooShort = errors.New("generated body under the word floor")

type claudeDraft struct {
	Title   string `json:"title"`
	Excerpt string `json:"excerpt"`
	Body    string `json:"body"`
}

// Use a schema to constrain the output
var (
	outputSchema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":   map[string]any{"type": "string"},
			"excerpt": map[string]any{"type": "string"},
			"body":    map[string]any{"type": "string"},
		},
		"required": []string{"title", "excerpt", "body"},
	}
	outputFormat = anthropic.BetaJSONSchemaOutputFormat(outputSchema)
)

type (
	// Generator drafts posts with Claude.
	Generator struct {
		claudeClient anthropic.Client
		model        anthropic.Model
		minWords     int
		extract      *extractor
	}

	// Request is one draft to produce: either a feed entry (auto mode) or a
	// free-text topic with an optional instruction (manual mode).
	Request struct {
		Entry       *inkwell.FeedEntry
		Topic       string
		Instruction string
	}
)

func NewGenerator(claudeClient anthropic.Client, model anthropic.Model, minWords int, fetchClient *http.Client) *Generator {
	return &Generator{
		claudeClient: claudeClient,
		model:        model,
		minWords:     minWords,
		extract:      newExtractor(fetchClient),
	}
}

// Draft produces a complete draft for the request, slug included.
//
// A failed or too-short generation is retried once; after that the error
// goes back to the caller to be counted against this candidate only.
func (g *Generator) Draft(ctx context.Context, req Request) (inkwell.Draft, error) {
	userMessage, err := g.userMessage(ctx, req)
	if err != nil {
		return inkwell.Draft{}, err
	}

	var draft inkwell.Draft
	err = retry.Do(ctx, retry.WithMaxRetries(1, retry.NewConstant(time.Second)), func(ctx context.Context) error {
		d, err := g.generate(ctx, userMessage)
		if err != nil {
			return retry.RetryableError(err)
		}
		draft = d

		return nil
	})
	if err != nil {
		return inkwell.Draft{}, err
	}

	return draft, nil
}

func (g *Generator) userMessage(ctx context.Context, req Request) (string, error) {
	if req.Entry == nil {
		return fmt.Sprintf(userManual, req.Topic, req.Instruction, g.minWords), nil
	}

	text, err := g.extract.sourceText(ctx, req.Entry.Link)
	if err != nil {
		return "", fmt.Errorf("error reading source article: %w", err)
	}

	return fmt.Sprintf(userAuto, req.Entry.Title, text, g.minWords), nil
}

func (g *Generator) generate(ctx context.Context, userMessage string) (inkwell.Draft, error) {
	claudeResp, err := g.claudeClient.Beta.Messages.New(ctx, anthropic.BetaMessageNewParams{
		Model: g.model,
		Betas: []anthropic.AnthropicBeta{
			"structured-outputs-2025-11-13",
		},
		MaxTokens:    4096,
		OutputFormat: outputFormat,
		System: []anthropic.BetaTextBlockParam{{
			Text: systemPrompt,
		}},
		Messages: []anthropic.BetaMessageParam{
			anthropic.NewBetaUserMessage(anthropic.NewBetaTextBlock(userMessage)),
		},
	})
	if err != nil {
		return inkwell.Draft{}, fmt.Errorf("claude error: %w", err)
	}

	var claudeJson strings.Builder
	for _, content := range claudeResp.Content {
		claudeJson.WriteString(content.Text)
	}
	var out claudeDraft
	if err := json.Unmarshal([]byte(claudeJson.String()), &out); err != nil {
		return inkwell.Draft{}, fmt.Errorf("error unmarshaling claude json: %s", err)
	}

	if out.Title == "" {
		return inkwell.Draft{}, errors.New("claude returned an empty title")
	}
	if words := len(strings.Fields(out.Body)); words < g.minWords {
		return inkwell.Draft{}, fmt.Errorf("%w: %d words", ErrTooShort, words)
	}

	return inkwell.Draft{
		Title:     out.Title,
		Slug:      Slugify(out.Title),
		Excerpt:   out.Excerpt,
		Body:      out.Body,
		CreatedAt: time.Now().UTC(),
	}, nil
}
