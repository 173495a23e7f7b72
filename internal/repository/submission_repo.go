package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/markm8/backend/internal/models"
)

type SubmissionRepo struct {
	pool *pgxpool.Pool
}

func NewSubmissionRepo(pool *pgxpool.Pool) *SubmissionRepo {
	return &SubmissionRepo{pool: pool}
}

const submissionColumns = `id, account_id, title, instructions, subject, academic_level, rubric, focus_areas, content, word_count, status, submitted_at, created_at, updated_at`

func (r *SubmissionRepo) scanOne(row interface{ Scan(dest ...any) error }, s *models.Submission) error {
	return row.Scan(&s.ID, &s.AccountID, &s.Title, &s.Instructions, &s.Subject, &s.AcademicLevel,
		&s.Rubric, &s.FocusAreas, &s.Content, &s.WordCount, &s.Status, &s.SubmittedAt, &s.CreatedAt, &s.UpdatedAt)
}

// UpsertDraft saves the account's single draft. The partial unique index on
// (account_id) WHERE status = 'draft' makes this an insert-or-replace of the
// one allowed draft row.
func (r *SubmissionRepo) UpsertDraft(ctx context.Context, s *models.Submission) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO submissions (id, account_id, title, instructions, subject, academic_level, rubric, focus_areas, content, word_count, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'draft')
		ON CONFLICT (account_id) WHERE status = 'draft' DO UPDATE SET
			title = EXCLUDED.title,
			instructions = EXCLUDED.instructions,
			subject = EXCLUDED.subject,
			academic_level = EXCLUDED.academic_level,
			rubric = EXCLUDED.rubric,
			focus_areas = EXCLUDED.focus_areas,
			content = EXCLUDED.content,
			word_count = EXCLUDED.word_count,
			updated_at = now()
		RETURNING `+submissionColumns+`
	`, s.ID, s.AccountID, s.Title, s.Instructions, s.Subject, s.AcademicLevel, s.Rubric, s.FocusAreas, s.Content, s.WordCount)
	return r.scanOne(row, s)
}

func (r *SubmissionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Submission, error) {
	var s models.Submission
	row := r.pool.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id)
	if err := r.scanOne(row, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SubmissionRepo) GetDraft(ctx context.Context, accountID uuid.UUID) (*models.Submission, error) {
	var s models.Submission
	row := r.pool.QueryRow(ctx, `
		SELECT `+submissionColumns+` FROM submissions WHERE account_id = $1 AND status = 'draft'
	`, accountID)
	if err := r.scanOne(row, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// MarkSubmitted flips draft -> submitted. Zero rows affected means the
// submission was not in draft (the transition is one-way).
func (r *SubmissionRepo) MarkSubmitted(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE submissions SET status = 'submitted', submitted_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'draft'
	`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *SubmissionRepo) MarkArchived(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE submissions SET status = 'archived', updated_at = now() WHERE id = $1
	`, id)
	return err
}

func (r *SubmissionRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.Submission, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+submissionColumns+` FROM submissions WHERE account_id = $1 ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Submission
	for rows.Next() {
		var s models.Submission
		if err := r.scanOne(rows, &s); err != nil {
			return nil, err
		}
		list = append(list, &s)
	}
	return list, rows.Err()
}
