// Package submissions manages the work product: one live draft per account
// with upsert-on-save semantics, and the one-way draft -> submitted
// transition that makes it eligible for grading.
package submissions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/markm8/backend/internal/models"
)

var (
	ErrNotFound  = errors.New("submission not found")
	ErrNotOwner  = errors.New("submission not owned by account")
	ErrNotDraft  = errors.New("submission is not a draft")
	ErrWordCount = fmt.Errorf("word count must be between %d and %d", models.MinWordCount, models.MaxWordCount)
)

// Store is the submission persistence contract.
type Store interface {
	UpsertDraft(ctx context.Context, s *models.Submission) error
	GetDraft(ctx context.Context, accountID uuid.UUID) (*models.Submission, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Submission, error)
	MarkSubmitted(ctx context.Context, id uuid.UUID) (int64, error)
	MarkArchived(ctx context.Context, id uuid.UUID) error
	ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.Submission, error)
}

type Service struct {
	Repo Store
}

func NewService(repo Store) *Service {
	return &Service{Repo: repo}
}

// DraftInput is the editable draft payload.
type DraftInput struct {
	Title         string   `json:"title"`
	Instructions  string   `json:"instructions"`
	Subject       string   `json:"subject"`
	AcademicLevel string   `json:"academic_level"`
	Rubric        *string  `json:"rubric,omitempty"`
	FocusAreas    []string `json:"focus_areas,omitempty"`
	Content       string   `json:"content"`
}

// SaveDraft upserts the account's single draft. Word count is derived here,
// not trusted from the client.
func (s *Service) SaveDraft(ctx context.Context, accountID uuid.UUID, in DraftInput) (*models.Submission, error) {
	sub := &models.Submission{
		ID:            uuid.New(),
		AccountID:     accountID,
		Title:         in.Title,
		Instructions:  in.Instructions,
		Subject:       in.Subject,
		AcademicLevel: in.AcademicLevel,
		Rubric:        in.Rubric,
		FocusAreas:    in.FocusAreas,
		Content:       in.Content,
		WordCount:     len(strings.Fields(in.Content)),
		Status:        models.SubmissionStatusDraft,
	}
	if err := s.Repo.UpsertDraft(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Service) GetDraft(ctx context.Context, accountID uuid.UUID) (*models.Submission, error) {
	sub, err := s.Repo.GetDraft(ctx, accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sub, nil
}

// Submit validates the word-count bounds and flips the draft to submitted.
// The transition is a status change, not a data copy, and cannot be undone.
func (s *Service) Submit(ctx context.Context, accountID, id uuid.UUID) (*models.Submission, error) {
	sub, err := s.owned(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != models.SubmissionStatusDraft {
		return nil, ErrNotDraft
	}
	if sub.WordCount < models.MinWordCount || sub.WordCount > models.MaxWordCount {
		return nil, ErrWordCount
	}

	rows, err := s.Repo.MarkSubmitted(ctx, id)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrNotDraft
	}
	return s.Repo.GetByID(ctx, id)
}

func (s *Service) Archive(ctx context.Context, accountID, id uuid.UUID) error {
	if _, err := s.owned(ctx, accountID, id); err != nil {
		return err
	}
	return s.Repo.MarkArchived(ctx, id)
}

func (s *Service) List(ctx context.Context, accountID uuid.UUID) ([]*models.Submission, error) {
	return s.Repo.ListByAccountID(ctx, accountID)
}

func (s *Service) owned(ctx context.Context, accountID, id uuid.UUID) (*models.Submission, error) {
	sub, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if sub.AccountID != accountID {
		return nil, ErrNotOwner
	}
	return sub, nil
}
