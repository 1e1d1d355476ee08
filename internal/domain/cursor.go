package domain

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PageCursor points just past the last item of a history page. Ordering is
// (created_at DESC, id DESC) so the pair is a strict total order.
type PageCursor struct {
	CreatedAt time.Time
	ID        string
}

// Encode renders the cursor as an opaque URL-safe token.
func (c PageCursor) Encode() string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by Encode. An empty token means "first page".
func DecodeCursor(token string) (*PageCursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, NewValidationError("cursor", "malformed cursor")
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, NewValidationError("cursor", "malformed cursor")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, NewValidationError("cursor", "malformed cursor timestamp")
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, NewValidationError("cursor", "malformed cursor id")
	}
	return &PageCursor{CreatedAt: createdAt, ID: id}, nil
}

// Before reports whether r sorts after the cursor position in history order.
func (c PageCursor) Before(createdAt time.Time, id string) bool {
	if createdAt.Equal(c.CreatedAt) {
		return id < c.ID
	}
	return createdAt.Before(c.CreatedAt)
}
