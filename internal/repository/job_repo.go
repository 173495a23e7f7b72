package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/markm8/backend/internal/models"
)

type JobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

func (r *JobRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const jobColumns = `id, submission_id, account_id, status, cost_credits, queued_at, started_at, completed_at,
	error_message, percentage_lower, percentage_upper, feedback, model_results, total_cost_usd`

func scanJob(row interface{ Scan(dest ...any) error }, j *models.GradingJob) error {
	return row.Scan(&j.ID, &j.SubmissionID, &j.AccountID, &j.Status, &j.CostCredits, &j.QueuedAt, &j.StartedAt,
		&j.CompletedAt, &j.ErrorMessage, &j.PercentageLower, &j.PercentageUpper, &j.Feedback, &j.ModelResults, &j.TotalCostUSD)
}

// CreateTx inserts a queued job inside the caller's transaction so the
// insert commits or rolls back together with the credit reservation.
func (r *JobRepo) CreateTx(ctx context.Context, tx pgx.Tx, j *models.GradingJob) error {
	return tx.QueryRow(ctx, `
		INSERT INTO grading_jobs (id, submission_id, account_id, status, cost_credits)
		VALUES ($1, $2, $3, 'queued', $4)
		RETURNING queued_at
	`, j.ID, j.SubmissionID, j.AccountID, j.CostCredits).Scan(&j.QueuedAt)
}

func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.GradingJob, error) {
	var j models.GradingJob
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM grading_jobs WHERE id = $1`, id)
	if err := scanJob(row, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Claim is the queued -> processing transition. The conditional UPDATE is
// the sole mutual-exclusion point between concurrent processors: zero rows
// affected means another worker already claimed the job.
func (r *JobRepo) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE grading_jobs SET status = 'processing', started_at = now()
		WHERE id = $1 AND status = 'queued'
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// CompleteTx is the processing -> complete transition, guarded on current
// status so a job can never be settled twice.
func (r *JobRepo) CompleteTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, lower, upper float64, feedback, modelResults json.RawMessage, totalCostUSD float64) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE grading_jobs
		SET status = 'complete', completed_at = now(), percentage_lower = $2, percentage_upper = $3,
			feedback = $4, model_results = $5, total_cost_usd = $6
		WHERE id = $1 AND status = 'processing'
	`, id, lower, upper, feedback, modelResults, totalCostUSD)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// FailTx is the processing -> failed transition, same single-writer guard as
// CompleteTx. A queued job force-failed by the sweep (hard timeout before any
// claim) is also accepted.
func (r *JobRepo) FailTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, errorMessage string) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE grading_jobs SET status = 'failed', completed_at = now(), error_message = $2
		WHERE id = $1 AND status IN ('processing', 'queued')
	`, id, errorMessage)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListStaleQueued returns jobs still queued after the staleness threshold:
// their wake-up notification was lost or predates this process.
func (r *JobRepo) ListStaleQueued(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM grading_jobs WHERE status = 'queued' AND queued_at < now() - $1::interval
	`, olderThan.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

// ListTimedOut returns non-terminal jobs past the hard wall-clock deadline
// measured from queued_at.
func (r *JobRepo) ListTimedOut(ctx context.Context, wallClock time.Duration) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM grading_jobs
		WHERE status IN ('queued', 'processing') AND queued_at < now() - $1::interval
	`, wallClock.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (r *JobRepo) ListBySubmissionID(ctx context.Context, submissionID uuid.UUID) ([]*models.GradingJob, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM grading_jobs WHERE submission_id = $1 ORDER BY queued_at DESC
	`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.GradingJob
	for rows.Next() {
		var j models.GradingJob
		if err := scanJob(rows, &j); err != nil {
			return nil, err
		}
		list = append(list, &j)
	}
	return list, rows.Err()
}

func scanIDs(rows pgx.Rows) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
