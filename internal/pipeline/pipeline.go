// Package pipeline drives one invocation of the drafting pipeline end to
// end: feeds to candidates to drafts to published posts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"inkwell/internal/compose"
	"inkwell/internal/inkwell"
	"inkwell/internal/logger"
	"inkwell/internal/publish"
	"inkwell/internal/selector"
)

// ErrBusy is returned when a run is requested while another is in flight.
// Runs are single-flight system-wide so slug disambiguation never races.
var ErrBusy = errors.New("a pipeline run is already in progress")

type (
	// Fetcher pulls the merged entry stream from the configured feeds.
	Fetcher interface {
		FetchAll(ctx context.Context) []inkwell.FeedEntry
	}

	// Drafter turns a candidate or topic into a draft.
	Drafter interface {
		Draft(ctx context.Context, req compose.Request) (inkwell.Draft, error)
	}

	// CoverSearcher finds a cover image url, or "" when it can't.
	CoverSearcher interface {
		CoverFor(ctx context.Context, query string) string
	}

	// Publisher persists one finished draft.
	Publisher interface {
		Publish(ctx context.Context, draft inkwell.Draft) (inkwell.Post, error)
	}

	// Driver owns one run at a time and everything a run needs.
	Driver struct {
		fetcher   Fetcher
		selector  selector.Selector
		sources   []inkwell.FeedSource
		drafter   Drafter
		covers    CoverSearcher
		publisher Publisher
		repo      inkwell.Repository

		timeout time.Duration
		running chan struct{}
	}

	// Request describes one invocation.
	Request struct {
		RequestedBy string
		Mode        inkwell.RunMode
		// Manual mode only:
		Topic       string
		Instruction string
		// Auto mode only: how many posts to aim for.
		Count int
	}

	// Result is what a trigger surface reports back to the operator.
	Result struct {
		RunID     string
		Status    inkwell.RunStatus
		Published []inkwell.Post
		Skipped   int
		Failed    int
		Err       error
	}
)

func NewDriver(
	fetcher Fetcher,
	sel selector.Selector,
	sources []inkwell.FeedSource,
	drafter Drafter,
	covers CoverSearcher,
	publisher Publisher,
	repo inkwell.Repository,
	timeout time.Duration,
) *Driver {
	running := make(chan struct{}, 1)
	running <- struct{}{}

	return &Driver{
		fetcher:   fetcher,
		selector:  sel,
		sources:   sources,
		drafter:   drafter,
		covers:    covers,
		publisher: publisher,
		repo:      repo,
		timeout:   timeout,
		running:   running,
	}
}

// Run executes one pipeline invocation under the hard wall-clock timeout.
//
// Only one run may be in flight; a second request comes straight back with
// [ErrBusy] instead of queueing. Item failures are absorbed into the result;
// only configuration-class failures and the timeout mark the whole run.
func (d *Driver) Run(ctx context.Context, req Request) Result {
	select {
	case <-d.running:
	default:
		return Result{Status: inkwell.StatusFailed, Err: ErrBusy}
	}
	defer func() { d.running <- struct{}{} }()

	record, err := d.repo.InsertRun(ctx, inkwell.PipelineRun{
		RequestedBy: req.RequestedBy,
		Mode:        req.Mode,
		Topic:       optional(req.Topic),
	})
	if err != nil {
		return Result{Status: inkwell.StatusFailed, Err: fmt.Errorf("error recording run: %w", err)}
	}

	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	runCtx = withRunAttrs(runCtx, record.ID, req)

	res := d.run(runCtx, req)
	res.RunID = record.ID

	// Record the outcome even when the run context is already dead.
	finishCtx, finishCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer finishCancel()
	finish := inkwell.FinishRunArgs{
		Status:    res.Status,
		Published: len(res.Published),
		Skipped:   res.Skipped,
		Failed:    res.Failed,
	}
	if res.Err != nil {
		finish.Error = res.Err.Error()
	}
	if err := d.repo.FinishRun(finishCtx, record.ID, finish); err != nil {
		slog.ErrorContext(finishCtx, "error finishing run record", "error", err)
	}

	return res
}

func (d *Driver) run(ctx context.Context, req Request) Result {
	requests, err := d.itemRequests(ctx, req)
	if err != nil {
		return Result{Status: inkwell.StatusFailed, Err: err}
	}

	var res Result
	for _, item := range requests {
		// The timeout abandons in-flight work and starts nothing new;
		// already published items stay published.
		if ctx.Err() != nil {
			res.Status = inkwell.StatusIncomplete
			res.Err = fmt.Errorf("run timed out with %d of %d items done", len(res.Published)+res.Skipped+res.Failed, len(requests))
			return res
		}

		switch post, err := d.runItem(ctx, item); {
		case err == nil:
			res.Published = append(res.Published, post)
		case isValidationFailure(err):
			slog.WarnContext(ctx, "skipping candidate", "error", err)
			res.Skipped++
		case ctx.Err() != nil:
			res.Status = inkwell.StatusIncomplete
			res.Err = fmt.Errorf("run timed out: %w", err)
			return res
		default:
			slog.WarnContext(ctx, "candidate failed", "error", err)
			res.Failed++
		}
	}

	res.Status = inkwell.StatusSucceeded
	return res
}

// itemRequests resolves the run request into per-item draft requests. Auto
// mode consults the feeds and the store; manual mode is a single topic.
func (d *Driver) itemRequests(ctx context.Context, req Request) ([]compose.Request, error) {
	if req.Mode == inkwell.ModeManual {
		return []compose.Request{{Topic: req.Topic, Instruction: req.Instruction}}, nil
	}

	titles, err := d.repo.PublishedTitles(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing published titles: %w", err)
	}

	entries := d.fetcher.FetchAll(ctx)
	candidates := d.selector.Select(entries, d.sources, titles, req.Count, time.Now())
	slog.InfoContext(ctx, "selected candidates", "entries", len(entries), "candidates", len(candidates))

	requests := make([]compose.Request, 0, len(candidates))
	for _, c := range candidates {
		requests = append(requests, compose.Request{Entry: &c.Entry})
	}

	return requests, nil
}

// runItem takes one candidate all the way to a published post: draft, cover,
// store write. Each external call blocks in turn; items never overlap.
func (d *Driver) runItem(ctx context.Context, item compose.Request) (inkwell.Post, error) {
	draft, err := d.drafter.Draft(ctx, item)
	if err != nil {
		return inkwell.Post{}, err
	}

	// A missing cover is fine, the frontend falls back to a placeholder.
	draft.CoverImageURL = d.covers.CoverFor(ctx, draft.Title)

	post, err := d.publisher.Publish(ctx, draft)
	if err != nil {
		return inkwell.Post{}, err
	}
	slog.InfoContext(ctx, "published post", "slug", post.Slug)

	return post, nil
}

// Validation failures drop the candidate without failing the run.
func isValidationFailure(err error) bool {
	return errors.Is(err, compose.ErrTooShort) || errors.Is(err, publish.ErrSlugExhausted)
}

// Summary renders the result as the human-readable line sent back to the
// operator.
func (r Result) Summary() string {
	if r.Err != nil && len(r.Published) == 0 && r.Skipped == 0 && r.Failed == 0 {
		return fmt.Sprintf("run failed: %s", r.Err)
	}

	s := fmt.Sprintf("published %d, skipped %d, failed %d", len(r.Published), r.Skipped, r.Failed)
	for _, p := range r.Published {
		s += "\n- " + p.Title + " (" + p.Slug + ")"
	}
	if r.Status == inkwell.StatusIncomplete {
		s += "\nrun was incomplete: " + r.Err.Error()
	}

	return s
}

func withRunAttrs(ctx context.Context, runID string, req Request) context.Context {
	return logger.With(ctx,
		slog.String("run_id", runID),
		slog.String("mode", string(req.Mode)),
		slog.String("requested_by", req.RequestedBy),
	)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
