package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"analyzer/internal/domain"
	"analyzer/internal/infra"
	"analyzer/internal/sqlinline"
)

// inflightConstraint is the partial unique index over in-flight computations.
const inflightConstraint = "analysis_requests_inflight_uniq"

// RequestRepositoryPG implements domain.RequestStore backed by PostgreSQL.
type RequestRepositoryPG struct {
	sql infra.TxRunner
}

// NewRequestRepository creates a new request repository.
func NewRequestRepository(sql infra.TxRunner) *RequestRepositoryPG {
	return &RequestRepositoryPG{sql: sql}
}

// Create reserves quota (when res is non-nil) and inserts req in one transaction.
func (r *RequestRepositoryPG) Create(ctx context.Context, req *domain.Request, res *domain.Reservation) (int, error) {
	count := 0
	err := r.sql.InTx(ctx, func(tx infra.SQLExecutor) error {
		if res != nil {
			row := tx.QueryRow(ctx, sqlinline.QReserveUsage, res.Owner, res.Day, res.Units, res.MaxImages)
			if err := row.Scan(&count); err != nil {
				if infra.IsNoRows(err) {
					return domain.ErrQuotaExceeded
				}
				return domain.Persistence("reserve usage", err)
			}
		}
		_, err := tx.Exec(ctx, sqlinline.QInsertRequest,
			req.ID,
			req.Owner,
			req.CategoryID,
			req.AdviceID,
			imageRefs(req.ImageRefs),
			req.ImageCount,
			req.ExtractedText,
			req.AnalysisResult,
			req.Fingerprint,
			req.CacheHit,
			req.SourceRequestID,
			string(req.State),
			req.UsageDay,
			req.ReservedUnits,
			req.CreatedAt,
		)
		if err != nil {
			if infra.IsUniqueViolation(err, inflightConstraint) {
				return domain.ErrInFlight
			}
			return domain.Persistence("insert request", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Advance moves a request to `to` if it is currently in one of `from`.
func (r *RequestRepositoryPG) Advance(ctx context.Context, id string, from []domain.RequestState, to domain.RequestState) error {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QAdvanceRequest, id, states, string(to))
	if err != nil {
		return domain.Persistence("advance request", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, id, to)
	}
	return nil
}

// Complete stores the outputs and marks the request completed.
func (r *RequestRepositoryPG) Complete(ctx context.Context, id string, out domain.Outputs) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QCompleteRequest, id, out.ExtractedText, out.AnalysisResult, out.ExtractionFailures)
	if err != nil {
		return domain.Persistence("complete request", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s -> completed", domain.ErrInvalidTransition, id)
	}
	return nil
}

// Fail marks an in-flight request failed and releases its reserved units.
func (r *RequestRepositoryPG) Fail(ctx context.Context, id, reason string) error {
	var failed int
	if err := r.sql.QueryRow(ctx, sqlinline.QFailRequest, id, reason).Scan(&failed); err != nil {
		return domain.Persistence("fail request", err)
	}
	if failed == 0 {
		return fmt.Errorf("%w: %s -> failed", domain.ErrInvalidTransition, id)
	}
	return nil
}

// FailStale fails every in-flight request not updated since cutoff.
func (r *RequestRepositoryPG) FailStale(ctx context.Context, cutoff time.Time, reason string) ([]string, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QFailStaleRequests, cutoff, reason)
	if err != nil {
		return nil, domain.Persistence("fail stale requests", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.Persistence("scan stale request", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Persistence("iterate stale requests", err)
	}
	return ids, nil
}

// Get fetches one request owned by owner.
func (r *RequestRepositoryPG) Get(ctx context.Context, id, owner string) (*domain.Request, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	req, err := scanRequest(r.sql.QueryRow(ctx, sqlinline.QSelectRequest, id, owner))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.Persistence("get request", err)
	}
	return req, nil
}

// List returns up to limit requests older than cursor, newest first.
func (r *RequestRepositoryPG) List(ctx context.Context, owner string, cursor *domain.PageCursor, limit int) ([]domain.Request, error) {
	var (
		after   *time.Time
		afterID *string
	)
	if cursor != nil {
		after = &cursor.CreatedAt
		afterID = &cursor.ID
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListRequests, owner, after, afterID, limit)
	if err != nil {
		return nil, domain.Persistence("list requests", err)
	}
	defer rows.Close()

	out := make([]domain.Request, 0, limit)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, domain.Persistence("scan request", err)
		}
		out = append(out, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Persistence("iterate requests", err)
	}
	return out, nil
}

// FindCompleted returns the newest computed request for fingerprint, or nil.
func (r *RequestRepositoryPG) FindCompleted(ctx context.Context, owner, fingerprint string, notBefore time.Time) (*domain.Request, error) {
	req, err := scanRequest(r.sql.QueryRow(ctx, sqlinline.QFindCompletedRequest, owner, fingerprint, notBefore))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, nil
		}
		return nil, domain.Persistence("find completed request", err)
	}
	return req, nil
}

// Rate records score once on a completed request.
func (r *RequestRepositoryPG) Rate(ctx context.Context, id, owner string, score int) (*domain.Request, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	req, err := scanRequest(r.sql.QueryRow(ctx, sqlinline.QRateRequest, id, owner, score))
	if err == nil {
		return req, nil
	}
	if !infra.IsNoRows(err) {
		return nil, domain.Persistence("rate request", err)
	}

	current, err := r.Get(ctx, id, owner)
	if err != nil {
		return nil, err
	}
	if current.Rating != nil || current.State == domain.StateRated {
		return nil, domain.ErrAlreadyRated
	}
	return nil, fmt.Errorf("%w: state %s", domain.ErrNotRateable, current.State)
}

// Usage returns the counter for (owner, day); a missing row reads as zero.
func (r *RequestRepositoryPG) Usage(ctx context.Context, owner string, day time.Time) (int, error) {
	var count int
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectUsage, owner, day).Scan(&count); err != nil {
		if infra.IsNoRows(err) {
			return 0, nil
		}
		return 0, domain.Persistence("load usage", err)
	}
	return count, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*domain.Request, error) {
	var (
		req    domain.Request
		state  string
		rating *int
	)
	if err := row.Scan(
		&req.ID,
		&req.Owner,
		&req.CategoryID,
		&req.AdviceID,
		&req.ImageRefs,
		&req.ImageCount,
		&req.ExtractedText,
		&req.AnalysisResult,
		&req.Fingerprint,
		&req.CacheHit,
		&req.SourceRequestID,
		&rating,
		&state,
		&req.FailureReason,
		&req.ExtractionFailures,
		&req.UsageDay,
		&req.ReservedUnits,
		&req.CreatedAt,
		&req.UpdatedAt,
	); err != nil {
		return nil, err
	}
	req.State = domain.RequestState(state)
	req.Rating = rating
	return &req, nil
}

func imageRefs(refs []string) []string {
	if refs == nil {
		return []string{}
	}
	return refs
}

var _ domain.RequestStore = (*RequestRepositoryPG)(nil)
