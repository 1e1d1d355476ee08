package domain

import (
	"context"
	"time"
)

// RequestStore persists analysis requests together with the quota counter they
// reserve against. Every mutation names the states it may leave from.
type RequestStore interface {
	// Create inserts req and, when res is non-nil, reserves res.Units in the
	// same transaction. It returns the usage count after the reservation.
	Create(ctx context.Context, req *Request, res *Reservation) (int, error)
	Advance(ctx context.Context, id string, from []RequestState, to RequestState) error
	Complete(ctx context.Context, id string, out Outputs) error
	// Fail moves an in-flight request to failed and releases its reservation.
	Fail(ctx context.Context, id, reason string) error
	FailStale(ctx context.Context, cutoff time.Time, reason string) ([]string, error)
	Get(ctx context.Context, id, owner string) (*Request, error)
	List(ctx context.Context, owner string, cursor *PageCursor, limit int) ([]Request, error)
	// FindCompleted returns the newest computed (non cache-hit) request with a result.
	FindCompleted(ctx context.Context, owner, fingerprint string, notBefore time.Time) (*Request, error)
	Rate(ctx context.Context, id, owner string, score int) (*Request, error)
	Usage(ctx context.Context, owner string, day time.Time) (int, error)
}

// ImageStore keeps the uploaded screenshots referenced by Request.ImageRefs.
type ImageStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// Prompt is the composite instruction sent to the analysis provider.
type Prompt struct {
	System string
	User   string
}

// Extractor reads the text visible in one image.
type Extractor interface {
	Extract(ctx context.Context, img Image) (string, error)
}

// Analyzer runs the AI analysis over a composite prompt.
type Analyzer interface {
	Analyze(ctx context.Context, p Prompt) (string, error)
}
