// Package publish writes finished drafts into the content store, resolving
// slug collisions along the way.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"inkwell/internal/inkwell"
)

// How many numeric suffixes to try after the base slug before giving up on
// the item.
const maxSuffixAttempts = 5

// ErrSlugExhausted is returned when the base slug and every suffixed variant
// are taken.
var ErrSlugExhausted = errors.New("slug disambiguation attempts exhausted")

// Publisher persists drafts, one at a time.
type Publisher struct {
	repo inkwell.Repository
	// A body shorter than this is never published.
	minBodyLen int
}

func New(repo inkwell.Repository, minBodyLen int) Publisher {
	return Publisher{
		repo:       repo,
		minBodyLen: minBodyLen,
	}
}

// Publish stores the draft as a published post, disambiguating the slug with
// -2, -3, ... as needed. The check-then-write can race in theory, but the
// gateway only lets one run go at a time and the store carries a unique
// constraint on slug as a backstop; a constraint conflict just moves on to
// the next suffix.
func (p Publisher) Publish(ctx context.Context, draft inkwell.Draft) (inkwell.Post, error) {
	if len(draft.Body) < p.minBodyLen {
		return inkwell.Post{}, fmt.Errorf("draft body too short to publish: %d chars", len(draft.Body))
	}
	if draft.Slug == "" {
		return inkwell.Post{}, errors.New("draft has no slug")
	}

	base := draft.Slug
	for attempt := 0; attempt <= maxSuffixAttempts; attempt++ {
		slug := base
		if attempt > 0 {
			slug = fmt.Sprintf("%s-%d", base, attempt+1)
		}

		_, err := p.repo.PostBySlug(ctx, slug)
		if err == nil {
			// Taken, try the next suffix.
			continue
		}
		if !errors.Is(err, inkwell.ErrNotFound) {
			return inkwell.Post{}, fmt.Errorf("error checking slug %q: %w", slug, err)
		}

		draft.Slug = slug
		draft.Published = true
		post, err := p.repo.CreatePost(ctx, draft)
		if errors.Is(err, inkwell.ErrConflict) {
			slog.WarnContext(ctx, "slug taken between check and write", "slug", slug)
			continue
		}
		if err != nil {
			return inkwell.Post{}, fmt.Errorf("error storing post: %w", err)
		}

		return post, nil
	}

	return inkwell.Post{}, fmt.Errorf("%w for %q", ErrSlugExhausted, base)
}
