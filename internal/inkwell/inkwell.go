// Package inkwell holds the domain types shared across the drafting
// pipeline: feed sources and entries, candidates, drafts, persisted posts,
// and the audit record for a pipeline run.
package inkwell

import (
	"context"
	"errors"
	"time"
)

var (
	ErrConflict = errors.New("resource already exists")
	ErrNotFound = errors.New("resource not found")
)

type (
	// FeedSource is one configured syndication feed. The list is loaded at
	// startup and never changes while the process runs.
	FeedSource struct {
		Name   string   `yaml:"name"`
		URL    string   `yaml:"url"`
		Tags   []string `yaml:"tags"`
		Weight float64  `yaml:"weight"`
	}

	// FeedEntry is a normalized item pulled from one of the feeds. Entries
	// live only for the duration of a single pipeline run.
	FeedEntry struct {
		SourceName  string
		Title       string
		Link        string
		PublishedAt time.Time
		Tags        []string
	}

	// Candidate is a feed entry the selector has scored as worth drafting.
	Candidate struct {
		Entry  FeedEntry
		Score  float64
		Reason string
	}

	// Draft is a generated post before it reaches the store.
	Draft struct {
		Title         string
		Slug          string
		Excerpt       string
		Body          string
		CoverImageURL string
		Published     bool
		CreatedAt     time.Time
	}

	// Post is a persisted draft.
	Post struct {
		ID            string    `db:"id"`
		Title         string    `db:"title"`
		Slug          string    `db:"slug"`
		Excerpt       string    `db:"excerpt"`
		Body          string    `db:"body"`
		CoverImageURL *string   `db:"cover_image_url"`
		Published     bool      `db:"published"`
		CreatedAt     time.Time `db:"created_at"`
	}

	// RunMode says whether a run picks its own topics from the feeds or was
	// handed one by an operator.
	RunMode string

	// RunStatus is the terminal state of a pipeline run.
	RunStatus string

	// PipelineRun is the audit record for one invocation of the pipeline.
	PipelineRun struct {
		ID          string     `db:"id"`
		RequestedBy string     `db:"requested_by"`
		Mode        RunMode    `db:"mode"`
		Topic       *string    `db:"topic"`
		Status      RunStatus  `db:"status"`
		StartedAt   time.Time  `db:"started_at"`
		FinishedAt  *time.Time `db:"finished_at"`
		Error       *string    `db:"error"`
		Published   int        `db:"published"`
		Skipped     int        `db:"skipped"`
		Failed      int        `db:"failed"`
	}

	// Repository is the narrow surface the pipeline needs from the content
	// store.
	Repository interface {
		CreatePost(ctx context.Context, draft Draft) (Post, error)
		PostBySlug(ctx context.Context, slug string) (Post, error)
		PublishedTitles(ctx context.Context) ([]string, error)
		Posts(ctx context.Context, limit int) ([]Post, error)

		InsertRun(ctx context.Context, run PipelineRun) (PipelineRun, error)
		FinishRun(ctx context.Context, id string, args FinishRunArgs) error
		Runs(ctx context.Context, limit int) ([]PipelineRun, error)
	}

	// FinishRunArgs holds the terminal fields for a run record.
	FinishRunArgs struct {
		Status    RunStatus
		Error     string
		Published int
		Skipped   int
		Failed    int
	}
)

const (
	ModeAuto   RunMode = "auto"
	ModeManual RunMode = "manual"

	StatusRunning    RunStatus = "running"
	StatusSucceeded  RunStatus = "succeeded"
	StatusIncomplete RunStatus = "incomplete"
	StatusFailed     RunStatus = "failed"
)
