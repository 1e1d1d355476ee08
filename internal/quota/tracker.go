// Package quota owns the per-owner daily image counter: the usage day, its
// reset boundary and the reservations applied when a request is created.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"analyzer/internal/domain"
)

// UsageReader loads the counter for (owner, day). Absent rows read as zero.
type UsageReader interface {
	Usage(ctx context.Context, owner string, day time.Time) (int, error)
}

// Decision is the outcome of a check-and-reserve.
type Decision struct {
	Admitted     bool
	CurrentCount int
	ResetAt      time.Time
}

// Tracker derives usage days in a fixed server-side timezone.
type Tracker struct {
	usage UsageReader
	loc   *time.Location
	now   func() time.Time
}

// NewTracker builds a Tracker. A nil location means UTC.
func NewTracker(usage UsageReader, loc *time.Location) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{usage: usage, loc: loc, now: time.Now}
}

// WithClock overrides the time source.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	if now != nil {
		t.now = now
	}
	return t
}

// Location returns the reference timezone.
func (t *Tracker) Location() *time.Location { return t.loc }

// Now returns the tracker's current time.
func (t *Tracker) Now() time.Time { return t.now() }

// Day returns the usage day containing at, normalised to midnight UTC so it
// compares equal regardless of the reference timezone.
func (t *Tracker) Day(at time.Time) time.Time {
	y, m, d := at.In(t.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ResetAt returns the start of the next calendar day in the reference timezone.
func (t *Tracker) ResetAt(at time.Time) time.Time {
	y, m, d := at.In(t.loc).Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.loc)
}

// Status reports today's usage for owner against maxImages.
func (t *Tracker) Status(ctx context.Context, owner string, maxImages int) (domain.DailyUsage, error) {
	now := t.now()
	day := t.Day(now)
	count, err := t.usage.Usage(ctx, owner, day)
	if err != nil {
		return domain.DailyUsage{}, fmt.Errorf("load usage: %w", err)
	}
	return domain.DailyUsage{
		Owner:     owner,
		Day:       day,
		Count:     count,
		MaxImages: maxImages,
		ResetAt:   t.ResetAt(now),
	}, nil
}

// Admit is the advisory pre-check run before the fingerprint lookup. The
// authoritative check happens when the reservation is applied.
func (t *Tracker) Admit(ctx context.Context, owner string, units, maxImages int) (domain.DailyUsage, error) {
	usage, err := t.Status(ctx, owner, maxImages)
	if err != nil {
		return usage, err
	}
	if usage.Count+units > maxImages {
		return usage, &domain.QuotaError{Usage: usage, Units: units}
	}
	return usage, nil
}

// Plan builds the reservation for units images of owner today.
func (t *Tracker) Plan(owner string, units, maxImages int) domain.Reservation {
	return domain.Reservation{
		Owner:     owner,
		Day:       t.Day(t.now()),
		Units:     units,
		MaxImages: maxImages,
	}
}

// Decide turns the store's reservation result into a Decision. A quota
// rejection is a normal negative outcome and carries the current count.
func (t *Tracker) Decide(ctx context.Context, res domain.Reservation, count int, err error) (Decision, error) {
	resetAt := t.ResetAt(t.now())
	if err == nil {
		return Decision{Admitted: true, CurrentCount: count, ResetAt: resetAt}, nil
	}
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		return Decision{ResetAt: resetAt}, err
	}
	current, uerr := t.usage.Usage(ctx, res.Owner, res.Day)
	if uerr != nil {
		current = count
	}
	usage := domain.DailyUsage{Owner: res.Owner, Day: res.Day, Count: current, MaxImages: res.MaxImages, ResetAt: resetAt}
	return Decision{CurrentCount: current, ResetAt: resetAt}, &domain.QuotaError{Usage: usage, Units: res.Units}
}
