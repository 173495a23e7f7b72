package models

import (
	"time"

	"github.com/google/uuid"
)

// Submission status enums. Exactly one draft may exist per account;
// draft -> submitted is one-way.
const (
	SubmissionStatusDraft     = "draft"
	SubmissionStatusSubmitted = "submitted"
	SubmissionStatusArchived  = "archived"
)

// Word count bounds enforced on submit.
const (
	MinWordCount = 100
	MaxWordCount = 5000
)

type Submission struct {
	ID            uuid.UUID  `json:"id"`
	AccountID     uuid.UUID  `json:"account_id"`
	Title         string     `json:"title"`
	Instructions  string     `json:"instructions"`
	Subject       string     `json:"subject"`
	AcademicLevel string     `json:"academic_level"`
	Rubric        *string    `json:"rubric,omitempty"`
	FocusAreas    []string   `json:"focus_areas,omitempty"`
	Content       string     `json:"content"`
	WordCount     int        `json:"word_count"`
	Status        string     `json:"status"`
	SubmittedAt   *time.Time `json:"submitted_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
