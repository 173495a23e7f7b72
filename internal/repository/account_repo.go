package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/markm8/backend/internal/models"
)

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

func (r *AccountRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// CreateTx inserts the account inside the caller's transaction so the row
// commits together with its signup-bonus ledger entry.
func (r *AccountRepo) CreateTx(ctx context.Context, tx pgx.Tx, a *models.Account) error {
	return tx.QueryRow(ctx, `
		INSERT INTO accounts (id, email, name, password_hash, balance_credits, reserved_credits)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, a.ID, a.Email, a.Name, a.PasswordHash, a.BalanceCredits, a.ReservedCredits).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var a models.Account
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, name, password_hash, balance_credits, reserved_credits, created_at, updated_at
		FROM accounts WHERE id = $1
	`, id).Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.BalanceCredits, &a.ReservedCredits, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	var a models.Account
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, name, password_hash, balance_credits, reserved_credits, created_at, updated_at
		FROM accounts WHERE email = $1
	`, email).Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.BalanceCredits, &a.ReservedCredits, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ReserveCredits atomically moves amount from balance to reserved, only when
// the balance covers it. Returns the number of rows affected: zero means the
// balance check failed and nothing was written.
func (r *AccountRepo) ReserveCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE accounts
		SET balance_credits = balance_credits - $1, reserved_credits = reserved_credits + $1, updated_at = now()
		WHERE id = $2 AND balance_credits >= $1
	`, amount, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ReleaseReserved decrements reserved without touching balance (settlement).
// Zero rows affected means reserved did not cover the amount.
func (r *AccountRepo) ReleaseReserved(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE accounts
		SET reserved_credits = reserved_credits - $1, updated_at = now()
		WHERE id = $2 AND reserved_credits >= $1
	`, amount, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ReturnReserved moves amount from reserved back to balance (refund).
// Zero rows affected means reserved did not cover the amount.
func (r *AccountRepo) ReturnReserved(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE accounts
		SET reserved_credits = reserved_credits - $1, balance_credits = balance_credits + $1, updated_at = now()
		WHERE id = $2 AND reserved_credits >= $1
	`, amount, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// AddCredits adds amount to balance and returns the new balance.
func (r *AccountRepo) AddCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE accounts SET balance_credits = balance_credits + $1, updated_at = now()
		WHERE id = $2
		RETURNING balance_credits
	`, amount, id).Scan(&newBalance)
	return newBalance, err
}
