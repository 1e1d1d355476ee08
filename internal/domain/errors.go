package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrExtractionFailed  = errors.New("extraction failed")
	ErrAnalysisFailed    = errors.New("analysis failed")
	ErrPersistence       = errors.New("persistence failed")
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidScore      = errors.New("invalid score")
	ErrAlreadyRated      = errors.New("already rated")
	ErrNotRateable       = errors.New("request is not rateable")
	ErrInFlight          = errors.New("identical request in flight")
	ErrProviderTransient = errors.New("transient provider error")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// ValidationError names the offending input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// QuotaError reports a rejected admission together with the usage snapshot.
type QuotaError struct {
	Usage DailyUsage
	Units int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("quota exceeded: %d/%d used, %d requested, resets at %s",
		e.Usage.Count, e.Usage.MaxImages, e.Units, e.Usage.ResetAt.Format(time.RFC3339))
}

func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }

// Outcome groups failures by what the caller should do next.
type Outcome string

const (
	OutcomeRetry      Outcome = "try_again"
	OutcomeNotAllowed Outcome = "not_allowed"
	OutcomeDone       Outcome = "already_done"
	OutcomeMissing    Outcome = "not_found"
	OutcomeInternal   Outcome = "internal"
)

// Classification is the stable, user-visible shape of an error.
type Classification struct {
	Code      string
	Status    int
	Outcome   Outcome
	Retryable bool
}

// Classify maps err onto a stable error code and HTTP status.
func Classify(err error) Classification {
	switch {
	case err == nil:
		return Classification{Code: "ok", Status: http.StatusOK}
	case errors.Is(err, ErrValidation):
		return Classification{Code: "validation_error", Status: http.StatusBadRequest, Outcome: OutcomeNotAllowed}
	case errors.Is(err, ErrQuotaExceeded):
		return Classification{Code: "quota_exceeded", Status: http.StatusTooManyRequests, Outcome: OutcomeNotAllowed}
	case errors.Is(err, ErrInvalidScore):
		return Classification{Code: "invalid_score", Status: http.StatusBadRequest, Outcome: OutcomeNotAllowed}
	case errors.Is(err, ErrAlreadyRated):
		return Classification{Code: "already_rated", Status: http.StatusConflict, Outcome: OutcomeDone}
	case errors.Is(err, ErrNotRateable):
		return Classification{Code: "not_rateable", Status: http.StatusConflict, Outcome: OutcomeNotAllowed}
	case errors.Is(err, ErrNotFound):
		return Classification{Code: "not_found", Status: http.StatusNotFound, Outcome: OutcomeMissing}
	case errors.Is(err, ErrUnauthorized):
		return Classification{Code: "unauthorized", Status: http.StatusUnauthorized, Outcome: OutcomeNotAllowed}
	case errors.Is(err, ErrExtractionFailed):
		return Classification{Code: "extraction_failed", Status: http.StatusBadGateway, Outcome: OutcomeRetry, Retryable: true}
	case errors.Is(err, ErrAnalysisFailed):
		return Classification{Code: "analysis_failed", Status: http.StatusBadGateway, Outcome: OutcomeRetry, Retryable: true}
	case errors.Is(err, ErrInFlight):
		return Classification{Code: "in_flight", Status: http.StatusConflict, Outcome: OutcomeRetry, Retryable: true}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Classification{Code: "timeout", Status: http.StatusGatewayTimeout, Outcome: OutcomeRetry, Retryable: true}
	case errors.Is(err, ErrPersistence):
		return Classification{Code: "persistence_failed", Status: http.StatusServiceUnavailable, Outcome: OutcomeRetry, Retryable: true}
	default:
		return Classification{Code: "internal", Status: http.StatusInternalServerError, Outcome: OutcomeInternal}
	}
}

// Persistence wraps an infrastructure fault so it classifies as retryable.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
