package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/markm8/backend/internal/models"
)

// ErrDuplicateEmail is returned when registering with an email that already exists.
var ErrDuplicateEmail = errors.New("email already registered")

// ErrInvalidCredentials covers unknown email and wrong password alike.
var ErrInvalidCredentials = errors.New("invalid credentials")

const tokenTTL = 24 * time.Hour

// AccountStore is the account persistence contract for auth.
type AccountStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	CreateTx(ctx context.Context, tx pgx.Tx, a *models.Account) error
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
}

// Ledger grants the signup bonus.
type Ledger interface {
	Credit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int, kind, description string, externalRef *string) error
}

type Service struct {
	Accounts AccountStore
	Ledger   Ledger
	secret   []byte
}

func NewService(accounts AccountStore, ledger Ledger, secret string) *Service {
	return &Service{Accounts: accounts, Ledger: ledger, secret: []byte(secret)}
}

// Register creates the account and grants the signup bonus through the
// ledger in one transaction: either the account exists with its welcome
// credits and the signup_bonus audit entry, or it does not exist at all.
func (s *Service) Register(ctx context.Context, email, password, name string) (*models.Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	acc := &models.Account{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
	}

	tx, err := s.Accounts.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := s.Accounts.CreateTx(ctx, tx, acc); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	if err := s.Ledger.Credit(ctx, tx, acc.ID, models.SignupBonusCredits, models.EntrySignupBonus, "welcome credits", nil); err != nil {
		return nil, fmt.Errorf("grant signup bonus: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	acc.BalanceCredits = models.SignupBonusCredits
	return acc, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	acc, err := s.Accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   acc.ID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	})
	return token.SignedString(s.secret)
}

// ValidateToken implements middleware.TokenValidator.
func (s *Service) ValidateToken(_ context.Context, raw string) (uuid.UUID, error) {
	parsed, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return uuid.Nil, ErrInvalidCredentials
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return uuid.Nil, ErrInvalidCredentials
	}
	return uuid.Parse(claims.Subject)
}
