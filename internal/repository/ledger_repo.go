package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/markm8/backend/internal/models"
)

type LedgerRepo struct {
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// AppendTx inserts an entry inside the given transaction.
func (r *LedgerRepo) AppendTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	return tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, account_id, job_id, kind, amount, description, external_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, e.ID, e.AccountID, e.JobID, e.Kind, e.Amount, e.Description, e.ExternalRef).Scan(&e.CreatedAt)
}

// AppendUniqueRef inserts an entry keyed by external_ref, skipping the insert
// when an entry with that ref already exists. Returns true when a row was
// written. Relies on the partial unique index on external_ref.
func (r *LedgerRepo) AppendUniqueRef(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries (id, account_id, job_id, kind, amount, description, external_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (external_ref) WHERE external_ref IS NOT NULL DO NOTHING
	`, e.ID, e.AccountID, e.JobID, e.Kind, e.Amount, e.Description, e.ExternalRef)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *LedgerRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, job_id, kind, amount, description, external_ref, created_at
		FROM ledger_entries WHERE account_id = $1 ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.JobID, &e.Kind, &e.Amount, &e.Description, &e.ExternalRef, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

func (r *LedgerRepo) ListByJobID(ctx context.Context, jobID uuid.UUID) ([]*models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, job_id, kind, amount, description, external_ref, created_at
		FROM ledger_entries WHERE job_id = $1 ORDER BY created_at ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.JobID, &e.Kind, &e.Amount, &e.Description, &e.ExternalRef, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
