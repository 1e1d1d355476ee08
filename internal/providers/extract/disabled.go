package extract

import (
	"context"
	"errors"

	"analyzer/internal/domain"
)

// ErrDisabled is returned when no extraction provider is configured. Requests
// must then carry extracted-text overrides.
var ErrDisabled = errors.New("text extraction is disabled")

// Disabled is the extractor used when EXTRACTION_PROVIDER=disabled.
type Disabled struct{}

func (Disabled) Extract(context.Context, domain.Image) (string, error) {
	return "", ErrDisabled
}

var _ domain.Extractor = Disabled{}
