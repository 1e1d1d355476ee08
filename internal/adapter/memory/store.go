// Package memory is an in-process domain.RequestStore. It enforces the same
// constraints as the Postgres schema and is used for tests and single-node runs.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"analyzer/internal/domain"
)

type usageKey struct {
	owner string
	day   string
}

// Store keeps requests and usage counters behind one mutex, so a reservation
// and its insert are applied atomically.
type Store struct {
	mu       sync.Mutex
	requests map[string]*domain.Request
	usage    map[usageKey]int
	now      func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		requests: make(map[string]*domain.Request),
		usage:    make(map[usageKey]int),
		now:      time.Now,
	}
}

// WithClock overrides the clock used for UpdatedAt.
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

func dayKey(owner string, day time.Time) usageKey {
	return usageKey{owner: owner, day: day.Format(time.DateOnly)}
}

func (s *Store) Create(ctx context.Context, req *domain.Request, res *domain.Reservation) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[req.ID]; exists {
		return 0, domain.Persistence("insert request", fmt.Errorf("duplicate id %s", req.ID))
	}
	if req.State.IsInFlight() && !req.CacheHit {
		for _, other := range s.requests {
			if other.Owner == req.Owner && other.Fingerprint == req.Fingerprint && other.State.IsInFlight() && !other.CacheHit {
				return 0, domain.ErrInFlight
			}
		}
	}

	count := 0
	if res != nil {
		key := dayKey(res.Owner, res.Day)
		if s.usage[key]+res.Units > res.MaxImages {
			return 0, domain.ErrQuotaExceeded
		}
		s.usage[key] += res.Units
		count = s.usage[key]
	}

	stored := clone(req)
	stored.UpdatedAt = stored.CreatedAt
	s.requests[req.ID] = stored
	return count, nil
}

func (s *Store) Advance(ctx context.Context, id string, from []domain.RequestState, to domain.RequestState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok || !slices.Contains(from, req.State) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, id, to)
	}
	req.State = to
	req.UpdatedAt = s.now()
	return nil
}

func (s *Store) Complete(ctx context.Context, id string, out domain.Outputs) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok || !req.State.IsInFlight() {
		return fmt.Errorf("%w: %s -> completed", domain.ErrInvalidTransition, id)
	}
	req.State = domain.StateCompleted
	req.ExtractedText = out.ExtractedText
	req.AnalysisResult = out.AnalysisResult
	req.ExtractionFailures = out.ExtractionFailures
	req.UpdatedAt = s.now()
	return nil
}

func (s *Store) Fail(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok || !req.State.IsInFlight() {
		return fmt.Errorf("%w: %s -> failed", domain.ErrInvalidTransition, id)
	}
	s.failLocked(req, reason)
	return nil
}

func (s *Store) FailStale(ctx context.Context, cutoff time.Time, reason string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for _, req := range s.requests {
		if req.State.IsInFlight() && req.UpdatedAt.Before(cutoff) {
			s.failLocked(req, reason)
			ids = append(ids, req.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) failLocked(req *domain.Request, reason string) {
	if req.ReservedUnits > 0 {
		key := dayKey(req.Owner, req.UsageDay)
		s.usage[key] = max(s.usage[key]-req.ReservedUnits, 0)
		req.ReservedUnits = 0
	}
	req.State = domain.StateFailed
	req.FailureReason = reason
	req.UpdatedAt = s.now()
}

func (s *Store) Get(ctx context.Context, id, owner string) (*domain.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok || req.Owner != owner {
		return nil, domain.ErrNotFound
	}
	return clone(req), nil
}

func (s *Store) List(ctx context.Context, owner string, cursor *domain.PageCursor, limit int) ([]domain.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*domain.Request
	for _, req := range s.requests {
		if req.Owner != owner {
			continue
		}
		if cursor != nil && !cursor.Before(req.CreatedAt, req.ID) {
			continue
		}
		matched = append(matched, req)
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]domain.Request, len(matched))
	for i, req := range matched {
		out[i] = *clone(req)
	}
	return out, nil
}

func (s *Store) FindCompleted(ctx context.Context, owner, fingerprint string, notBefore time.Time) (*domain.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *domain.Request
	for _, req := range s.requests {
		if req.Owner != owner || req.Fingerprint != fingerprint || req.CacheHit || !req.State.HasResult() {
			continue
		}
		if req.CreatedAt.Before(notBefore) {
			continue
		}
		if best == nil || req.CreatedAt.After(best.CreatedAt) ||
			(req.CreatedAt.Equal(best.CreatedAt) && req.ID > best.ID) {
			best = req
		}
	}
	if best == nil {
		return nil, nil
	}
	return clone(best), nil
}

func (s *Store) Rate(ctx context.Context, id, owner string, score int) (*domain.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok || req.Owner != owner {
		return nil, domain.ErrNotFound
	}
	if req.Rating != nil || req.State == domain.StateRated {
		return nil, domain.ErrAlreadyRated
	}
	if req.State != domain.StateCompleted {
		return nil, fmt.Errorf("%w: state %s", domain.ErrNotRateable, req.State)
	}
	req.Rating = &score
	req.State = domain.StateRated
	req.UpdatedAt = s.now()
	return clone(req), nil
}

func (s *Store) Usage(ctx context.Context, owner string, day time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[dayKey(owner, day)], nil
}

func clone(req *domain.Request) *domain.Request {
	out := *req
	out.ImageRefs = slices.Clone(req.ImageRefs)
	if req.Rating != nil {
		r := *req.Rating
		out.Rating = &r
	}
	return &out
}

var _ domain.RequestStore = (*Store)(nil)
