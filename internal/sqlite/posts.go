package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"modernc.org/sqlite"

	"inkwell/internal/inkwell"
)

const postNamespace = "-pst"

// sqlite extended result code for a UNIQUE constraint violation.
const codeConstraintUnique = 2067

func (r Repo) CreatePost(ctx context.Context, draft inkwell.Draft) (inkwell.Post, error) {
	const q = `INSERT INTO posts (id, title, slug, excerpt, body, cover_image_url, published, created_at)
VALUES (:id, :title, :slug, :excerpt, :body, :cover_image_url, :published, :created_at);`

	p := inkwell.Post{
		ID:        fmt.Sprintf("%s%s", uuid.NewString(), postNamespace),
		Title:     draft.Title,
		Slug:      draft.Slug,
		Excerpt:   draft.Excerpt,
		Body:      draft.Body,
		Published: draft.Published,
		CreatedAt: time.Now().UTC(),
	}
	if draft.CoverImageURL != "" {
		p.CoverImageURL = &draft.CoverImageURL
	}

	_, err := r.db.NamedExecContext(ctx, q, p)
	if sqliteErr := (&sqlite.Error{}); errors.As(err, &sqliteErr) && sqliteErr.Code() == codeConstraintUnique {
		return inkwell.Post{}, fmt.Errorf("slug %q already exists: %w", draft.Slug, inkwell.ErrConflict)
	}
	if err != nil {
		return inkwell.Post{}, fmt.Errorf("error inserting post: %s", err)
	}

	return r.post(ctx, p.ID)
}

func (r Repo) post(ctx context.Context, id string) (inkwell.Post, error) {
	const q = `SELECT * FROM posts WHERE id = ?;`

	var post inkwell.Post
	err := r.db.GetContext(ctx, &post, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return inkwell.Post{}, inkwell.ErrNotFound
	}
	if err != nil {
		return inkwell.Post{}, fmt.Errorf("error fetching post: %s", err)
	}

	return post, nil
}

func (r Repo) PostBySlug(ctx context.Context, slug string) (inkwell.Post, error) {
	const q = `SELECT * FROM posts WHERE slug = ?;`

	var post inkwell.Post
	err := r.db.GetContext(ctx, &post, q, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return inkwell.Post{}, inkwell.ErrNotFound
	}
	if err != nil {
		return inkwell.Post{}, fmt.Errorf("error fetching post by slug: %s", err)
	}

	return post, nil
}

func (r Repo) PublishedTitles(ctx context.Context) ([]string, error) {
	const q = `SELECT title FROM posts WHERE published = TRUE;`

	titles := []string{}
	if err := r.db.SelectContext(ctx, &titles, q); err != nil {
		return nil, fmt.Errorf("error fetching published titles: %s", err)
	}

	return titles, nil
}

func (r Repo) Posts(ctx context.Context, limit int) ([]inkwell.Post, error) {
	builder := sq.Select("*").From("posts").OrderBy("created_at DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	posts := []inkwell.Post{}
	if err := r.db.SelectContext(ctx, &posts, query, args...); err != nil {
		return nil, fmt.Errorf("error fetching posts: %s", err)
	}

	return posts, nil
}
