package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"analyzer/internal/analysis"
	"analyzer/internal/domain"
	"analyzer/internal/middleware"
)

// Analyses is the pipeline surface the handlers drive.
type Analyses interface {
	Submit(ctx context.Context, sub analysis.Submission) (*analysis.Result, error)
	UsageStatus(ctx context.Context, owner string, maxImages int) (domain.DailyUsage, error)
	Rate(ctx context.Context, owner, id string, score int) error
	List(ctx context.Context, owner, cursor string) (analysis.Page, error)
	Get(ctx context.Context, owner, id string) (*domain.Request, error)
	Images(ctx context.Context, owner, id string) (*domain.Request, []analysis.StoredImage, error)
}

// CatalogReader lists the reference data.
type CatalogReader interface {
	Categories() []domain.Category
	AdviceList() []domain.Advice
}

type App struct {
	Analyses Analyses
	Catalog  CatalogReader
	Logger   zerolog.Logger

	// MaxUploadBytes caps the whole multipart body.
	MaxUploadBytes int64
	// Ping reports backing-store health; nil means always healthy.
	Ping func(ctx context.Context) error
}

func NewApp(analyses Analyses, catalog CatalogReader, maxUploadBytes int64, logger zerolog.Logger) *App {
	return &App{
		Analyses:       analyses,
		Catalog:        catalog,
		Logger:         logger.With().Str("component", "http").Logger(),
		MaxUploadBytes: maxUploadBytes,
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

func (a *App) error(w http.ResponseWriter, status int, code, msg string) {
	a.json(w, status, map[string]errorBody{"error": {Code: code, Message: msg}})
}

// fail renders err through the shared classification.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	c := domain.Classify(err)
	body := errorBody{Code: c.Code, Message: publicMessage(c, err), Retryable: c.Retryable}

	var qe *domain.QuotaError
	if errors.As(err, &qe) {
		body.Details = map[string]any{
			"current_count": qe.Usage.Count,
			"max_images":    qe.Usage.MaxImages,
			"requested":     qe.Units,
			"reset_at":      qe.Usage.ResetAt.UTC().Format(time.RFC3339),
		}
		w.Header().Set("Retry-After", retryAfter(qe.Usage.ResetAt))
	}

	ev := a.Logger.Warn()
	if c.Status >= http.StatusInternalServerError {
		ev = a.Logger.Error()
	}
	ev.Err(err).
		Str("code", c.Code).
		Str("request_id", middleware.RequestIDFromContext(r.Context())).
		Msg("request failed")

	a.json(w, c.Status, map[string]errorBody{"error": body})
}

func publicMessage(c domain.Classification, err error) string {
	switch c.Code {
	case "validation_error", "quota_exceeded", "invalid_score", "already_rated", "not_rateable":
		return err.Error()
	case "not_found":
		return "request not found"
	case "unauthorized":
		return "missing user context"
	case "extraction_failed":
		return "text extraction failed, try again"
	case "analysis_failed":
		return "analysis failed, try again"
	case "in_flight":
		return "an identical request is still running, try again shortly"
	case "timeout":
		return "request timed out, try again"
	case "persistence_failed":
		return "storage unavailable, try again"
	default:
		return "internal error"
	}
}

func retryAfter(resetAt time.Time) string {
	secs := int(time.Until(resetAt).Seconds()) + 1
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
