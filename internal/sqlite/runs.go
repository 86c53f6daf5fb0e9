package sqlite

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"inkwell/internal/inkwell"
)

const runNamespace = "-run"

func (r Repo) InsertRun(ctx context.Context, run inkwell.PipelineRun) (inkwell.PipelineRun, error) {
	const q = `INSERT INTO pipeline_runs (id, requested_by, mode, topic, status, started_at)
VALUES (:id, :requested_by, :mode, :topic, :status, :started_at);`

	run.ID = fmt.Sprintf("%s%s", uuid.NewString(), runNamespace)
	run.Status = inkwell.StatusRunning
	run.StartedAt = time.Now().UTC()

	if _, err := r.db.NamedExecContext(ctx, q, run); err != nil {
		return inkwell.PipelineRun{}, fmt.Errorf("error inserting run: %s", err)
	}

	return run, nil
}

func (r Repo) FinishRun(ctx context.Context, id string, args inkwell.FinishRunArgs) error {
	builder := sq.Update("pipeline_runs").
		Set("status", args.Status).
		Set("finished_at", time.Now().UTC()).
		Set("published", args.Published).
		Set("skipped", args.Skipped).
		Set("failed", args.Failed).
		Where(sq.Eq{"id": id})
	if args.Error != "" {
		builder = builder.Set("error", args.Error)
	}
	query, sqlArgs, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %s", err)
	}

	if _, err := r.db.ExecContext(ctx, query, sqlArgs...); err != nil {
		return fmt.Errorf("error finishing run: %s", err)
	}

	return nil
}

func (r Repo) Runs(ctx context.Context, limit int) ([]inkwell.PipelineRun, error) {
	builder := sq.Select("*").From("pipeline_runs").OrderBy("started_at DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	runs := []inkwell.PipelineRun{}
	if err := r.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("error fetching runs: %s", err)
	}

	return runs, nil
}
