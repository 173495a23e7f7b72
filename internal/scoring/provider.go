// Package scoring calls the external multi-model scoring service and
// classifies its failures. Provider identity is configuration (an OpenRouter
// model ID), not code.
package scoring

import (
	"errors"
	"fmt"
)

// Feedback is the validated structured feedback one provider returns.
// Dynamic "any shape" payloads are rejected at parse time.
type Feedback struct {
	Strengths    []Strength    `json:"strengths"`
	Improvements []Improvement `json:"improvements"`
	LanguageTips []string      `json:"language_tips,omitempty"`
}

type Strength struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Evidence    string `json:"evidence,omitempty"`
}

type Improvement struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion,omitempty"`
}

// ScoreResult is one provider's verdict on a submission.
type ScoreResult struct {
	ProviderID string
	Percentage float64
	Feedback   Feedback
	CostUSD    float64
	Tokens     int
}

// Request carries the submission content and rubric context to a provider.
type Request struct {
	Title         string
	Content       string
	Instructions  string
	Subject       string
	AcademicLevel string
	Rubric        string
	FocusAreas    []string
}

// ProviderError classifies a provider failure. Transient failures (timeouts,
// rate limits, 5xx) are retried by the fan-out; permanent failures (auth,
// malformed input or output, other 4xx) are not. This classification is the
// single source of truth for the retry policy.
type ProviderError struct {
	Provider  string
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("provider %s: %s error: %v", e.Provider, kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a transient-classified provider error.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}

func transientErr(provider string, err error) error {
	return &ProviderError{Provider: provider, Transient: true, Err: err}
}

func permanentErr(provider string, err error) error {
	return &ProviderError{Provider: provider, Transient: false, Err: err}
}
