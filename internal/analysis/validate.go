package analysis

import (
	"fmt"
	"strings"

	"analyzer/internal/domain"
)

// validated is a Submission that passed every input check.
type validated struct {
	owner     string
	category  domain.Category
	advice    domain.Advice
	images    []domain.Image
	overrides []string
	data      [][]byte
	keys      []string
	units     int
	maxImages int
}

func (s *Service) validate(sub Submission) (validated, error) {
	owner := strings.TrimSpace(sub.Owner)
	if owner == "" {
		return validated{}, domain.ErrUnauthorized
	}
	category, ok := s.catalog.Category(sub.CategoryID)
	if !ok {
		return validated{}, domain.NewValidationError("category_id", "unknown category %q", sub.CategoryID)
	}
	advice, ok := s.catalog.Advice(sub.AdviceID)
	if !ok {
		return validated{}, domain.NewValidationError("advice_id", "unknown advice %q", sub.AdviceID)
	}

	n := len(sub.Images)
	if n == 0 {
		return validated{}, domain.NewValidationError("images", "at least one image is required")
	}
	if n > s.cfg.MaxImagesPerRequest {
		return validated{}, domain.NewValidationError("images", "at most %d images per request, got %d", s.cfg.MaxImagesPerRequest, n)
	}
	if len(sub.Overrides) > n {
		return validated{}, domain.NewValidationError("extracted_text_override", "%d overrides for %d images", len(sub.Overrides), n)
	}

	maxImages := sub.MaxImages
	if maxImages <= 0 {
		maxImages = s.cfg.DailyMaxImages
	}

	out := validated{
		owner:     owner,
		category:  category,
		advice:    advice,
		images:    sub.Images,
		data:      make([][]byte, n),
		keys:      make([]string, n),
		units:     n,
		maxImages: maxImages,
	}
	for i, img := range sub.Images {
		field := fmt.Sprintf("images[%d]", i)
		if len(img.Data) == 0 {
			return validated{}, domain.NewValidationError(field, "image is empty")
		}
		if int64(len(img.Data)) > s.cfg.MaxImageBytes {
			return validated{}, domain.NewValidationError(field, "image exceeds %d bytes", s.cfg.MaxImageBytes)
		}
		if ct := img.ContentType(); !strings.HasPrefix(ct, "image/") {
			return validated{}, domain.NewValidationError(field, "unsupported content type %q", ct)
		}
		out.data[i] = img.Data
		out.keys[i] = fmt.Sprintf("images/%s/%s%s", ownerSegment(owner), img.Digest(), img.Extension())
	}
	if len(sub.Overrides) > 0 {
		out.overrides = make([]string, len(sub.Overrides))
		for i, o := range sub.Overrides {
			out.overrides[i] = strings.TrimSpace(o)
		}
	}
	return out, nil
}
