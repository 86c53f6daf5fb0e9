package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"inkwell/internal/compose"
	"inkwell/internal/inkwell"
	"inkwell/internal/migrations"
	"inkwell/internal/pipeline"
	"inkwell/internal/publish"
	"inkwell/internal/selector"
	inksqlite "inkwell/internal/sqlite"
)

type fakeFetcher struct {
	entries []inkwell.FeedEntry
}

func (f fakeFetcher) FetchAll(ctx context.Context) []inkwell.FeedEntry {
	return f.entries
}

type fakeDrafter struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, call int, req compose.Request) (inkwell.Draft, error)
}

func (d *fakeDrafter) Draft(ctx context.Context, req compose.Request) (inkwell.Draft, error) {
	d.mu.Lock()
	d.calls++
	call := d.calls
	d.mu.Unlock()

	return d.fn(ctx, call, req)
}

type fakeCovers struct{ url string }

func (c fakeCovers) CoverFor(ctx context.Context, query string) string { return c.url }

func newTestRepo(t *testing.T) inksqlite.Repo {
	t.Helper()

	dbx, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { dbx.Close() })
	dbx.SetMaxOpenConns(1)

	require.NoError(t, migrations.Run(dbx))

	return inksqlite.New(dbx)
}

var testSources = []inkwell.FeedSource{
	{Name: "alpha", Weight: 2},
	{Name: "beta", Weight: 1},
}

func testEntries(n int) []inkwell.FeedEntry {
	entries := make([]inkwell.FeedEntry, 0, n)
	for i := range n {
		entries = append(entries, inkwell.FeedEntry{
			SourceName:  testSources[i%2].Name,
			Title:       fmt.Sprintf("Entry %d", i),
			Link:        fmt.Sprintf("https://example.com/%d", i),
			PublishedAt: time.Now().Add(-time.Duration(i) * time.Hour),
		})
	}

	return entries
}

// echoDraft drafts a post straight from the request, long enough to publish.
func echoDraft(req compose.Request) inkwell.Draft {
	title := req.Topic
	if req.Entry != nil {
		title = req.Entry.Title
	}

	return inkwell.Draft{
		Title:   title,
		Slug:    compose.Slugify(title),
		Excerpt: "excerpt",
		Body:    "A body comfortably longer than the floor configured in these tests.",
	}
}

func newDriver(t *testing.T, repo inkwell.Repository, drafter pipeline.Drafter, entries []inkwell.FeedEntry, timeout time.Duration) *pipeline.Driver {
	t.Helper()

	return pipeline.NewDriver(
		fakeFetcher{entries: entries},
		selector.New(72*time.Hour, 0.9),
		testSources,
		drafter,
		fakeCovers{url: "https://images.example.com/cover.jpg"},
		publish.New(repo, 10),
		repo,
		timeout,
	)
}

func TestRun_AutoPublishesRequestedCount(t *testing.T) {
	repo := newTestRepo(t)
	drafter := &fakeDrafter{fn: func(_ context.Context, _ int, req compose.Request) (inkwell.Draft, error) {
		return echoDraft(req), nil
	}}
	driver := newDriver(t, repo, drafter, testEntries(5), time.Minute)

	res := driver.Run(context.Background(), pipeline.Request{
		RequestedBy: "operator-1",
		Mode:        inkwell.ModeAuto,
		Count:       3,
	})

	require.NoError(t, res.Err)
	assert.Equal(t, inkwell.StatusSucceeded, res.Status)
	require.Len(t, res.Published, 3)

	slugs := map[string]struct{}{}
	for _, p := range res.Published {
		slugs[p.Slug] = struct{}{}
	}
	assert.Len(t, slugs, 3, "slugs must be distinct")

	// The run is recorded for auditing.
	runs, err := repo.Runs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, inkwell.StatusSucceeded, runs[0].Status)
	assert.Equal(t, 3, runs[0].Published)
}

func TestRun_ManualMode(t *testing.T) {
	repo := newTestRepo(t)
	drafter := &fakeDrafter{fn: func(_ context.Context, _ int, req compose.Request) (inkwell.Draft, error) {
		assert.Equal(t, "ship your side projects", req.Topic)
		assert.Equal(t, "keep it short", req.Instruction)
		return echoDraft(req), nil
	}}
	driver := newDriver(t, repo, drafter, nil, time.Minute)

	res := driver.Run(context.Background(), pipeline.Request{
		RequestedBy: "operator-1",
		Mode:        inkwell.ModeManual,
		Topic:       "ship your side projects",
		Instruction: "keep it short",
	})

	require.NoError(t, res.Err)
	require.Len(t, res.Published, 1)
	assert.Equal(t, "ship-your-side-projects", res.Published[0].Slug)
}

func TestRun_TooShortCandidateIsSkippedNotFatal(t *testing.T) {
	repo := newTestRepo(t)
	drafter := &fakeDrafter{fn: func(ctx context.Context, call int, req compose.Request) (inkwell.Draft, error) {
		if call == 2 {
			return inkwell.Draft{}, fmt.Errorf("%w: 12 words", compose.ErrTooShort)
		}
		return echoDraft(req), nil
	}}
	driver := newDriver(t, repo, drafter, testEntries(3), time.Minute)

	res := driver.Run(context.Background(), pipeline.Request{Mode: inkwell.ModeAuto, Count: 3})

	assert.Equal(t, inkwell.StatusSucceeded, res.Status)
	assert.Len(t, res.Published, 2)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.Failed)
}

func TestRun_TransientFailureIsIsolated(t *testing.T) {
	repo := newTestRepo(t)
	drafter := &fakeDrafter{fn: func(ctx context.Context, call int, req compose.Request) (inkwell.Draft, error) {
		if call == 1 {
			return inkwell.Draft{}, errors.New("claude error: 500")
		}
		return echoDraft(req), nil
	}}
	driver := newDriver(t, repo, drafter, testEntries(3), time.Minute)

	res := driver.Run(context.Background(), pipeline.Request{Mode: inkwell.ModeAuto, Count: 3})

	assert.Equal(t, inkwell.StatusSucceeded, res.Status)
	assert.Len(t, res.Published, 2)
	assert.Equal(t, 1, res.Failed)
}

func TestRun_TimeoutKeepsCommittedItems(t *testing.T) {
	repo := newTestRepo(t)
	drafter := &fakeDrafter{fn: func(ctx context.Context, call int, req compose.Request) (inkwell.Draft, error) {
		if call == 2 {
			// Hang until the run deadline abandons us.
			<-ctx.Done()
			return inkwell.Draft{}, ctx.Err()
		}
		return echoDraft(req), nil
	}}
	driver := newDriver(t, repo, drafter, testEntries(3), 300*time.Millisecond)

	res := driver.Run(context.Background(), pipeline.Request{Mode: inkwell.ModeAuto, Count: 3})

	assert.Equal(t, inkwell.StatusIncomplete, res.Status)
	assert.Error(t, res.Err)
	assert.Len(t, res.Published, 1)

	// Item 1 stays in the store; the run record says incomplete.
	_, err := repo.PostBySlug(context.Background(), "entry-0")
	assert.NoError(t, err)
	runs, err := repo.Runs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, inkwell.StatusIncomplete, runs[0].Status)
}

func TestRun_BusyRejectsSecondRun(t *testing.T) {
	repo := newTestRepo(t)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	drafter := &fakeDrafter{fn: func(ctx context.Context, call int, req compose.Request) (inkwell.Draft, error) {
		started <- struct{}{}
		<-release
		return echoDraft(req), nil
	}}
	driver := newDriver(t, repo, drafter, testEntries(1), time.Minute)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		driver.Run(context.Background(), pipeline.Request{Mode: inkwell.ModeAuto, Count: 1})
	}()

	<-started
	res := driver.Run(context.Background(), pipeline.Request{Mode: inkwell.ModeAuto, Count: 1})
	assert.ErrorIs(t, res.Err, pipeline.ErrBusy)

	close(release)
	wg.Wait()
}

type failingTitlesRepo struct {
	inksqlite.Repo
}

func (failingTitlesRepo) PublishedTitles(ctx context.Context) ([]string, error) {
	return nil, errors.New("store unavailable")
}

func TestRun_StoreFailureFailsTheRun(t *testing.T) {
	repo := failingTitlesRepo{Repo: newTestRepo(t)}
	drafter := &fakeDrafter{fn: func(_ context.Context, _ int, req compose.Request) (inkwell.Draft, error) {
		return echoDraft(req), nil
	}}
	driver := newDriver(t, repo, drafter, testEntries(2), time.Minute)

	res := driver.Run(context.Background(), pipeline.Request{Mode: inkwell.ModeAuto, Count: 2})

	assert.Equal(t, inkwell.StatusFailed, res.Status)
	assert.Error(t, res.Err)
	assert.Empty(t, res.Published)
}

func TestResultSummary(t *testing.T) {
	res := pipeline.Result{
		Status: inkwell.StatusSucceeded,
		Published: []inkwell.Post{
			{Title: "Mastering GSAP", Slug: "mastering-gsap"},
		},
		Skipped: 1,
	}

	s := res.Summary()
	assert.Contains(t, s, "published 1, skipped 1, failed 0")
	assert.Contains(t, s, "mastering-gsap")
}
