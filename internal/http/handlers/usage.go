package handlers

import (
	"net/http"
	"time"

	"analyzer/internal/domain"
)

type usageResponse struct {
	CanMakeRequest bool      `json:"can_make_request"`
	CurrentCount   int       `json:"current_count"`
	MaxImages      int       `json:"max_images"`
	Remaining      int       `json:"remaining"`
	ResetAt        time.Time `json:"reset_at"`
}

func (a *App) Usage(w http.ResponseWriter, r *http.Request) {
	owner := a.currentUserID(r)
	if owner == "" {
		a.fail(w, r, domain.ErrUnauthorized)
		return
	}
	u, err := a.Analyses.UsageStatus(r.Context(), owner, 0)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, usageResponse{
		CanMakeRequest: u.CanMakeRequest(),
		CurrentCount:   u.Count,
		MaxImages:      u.MaxImages,
		Remaining:      u.Remaining(),
		ResetAt:        u.ResetAt.UTC(),
	})
}

func (a *App) ListCatalog(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"categories": a.Catalog.Categories(),
		"advice":     a.Catalog.AdviceList(),
	})
}
