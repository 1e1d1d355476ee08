package domain

import "time"

// DailyUsage is the per (owner, day) admission counter. ResetAt is derived from
// the reference timezone and is never persisted.
type DailyUsage struct {
	Owner     string
	Day       time.Time
	Count     int
	MaxImages int
	ResetAt   time.Time
}

// CanMakeRequest reports whether at least one more image fits today.
func (u DailyUsage) CanMakeRequest() bool {
	return u.Count < u.MaxImages
}

// Remaining returns the number of images still admissible today.
func (u DailyUsage) Remaining() int {
	if u.Count >= u.MaxImages {
		return 0
	}
	return u.MaxImages - u.Count
}

// Reservation is a quota reservation applied in the same transaction that
// inserts a Request.
type Reservation struct {
	Owner     string
	Day       time.Time
	Units     int
	MaxImages int
}
