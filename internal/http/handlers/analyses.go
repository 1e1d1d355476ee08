package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"analyzer/internal/analysis"
	"analyzer/internal/domain"
	"analyzer/pkg/zip"
)

const multipartMemory = 32 << 20

type submitResponse struct {
	Success bool `json:"success"`
	*analysis.Result
}

type requestView struct {
	ID                 string    `json:"id"`
	CategoryID         string    `json:"category_id"`
	AdviceID           string    `json:"advice_id"`
	ImageCount         int       `json:"image_count"`
	ExtractedText      string    `json:"extracted_text"`
	AnalysisResult     string    `json:"analysis_result"`
	CacheHit           bool      `json:"cache_hit"`
	SourceRequestID    string    `json:"source_request_id,omitempty"`
	Rating             *int      `json:"rating,omitempty"`
	State              string    `json:"state"`
	FailureReason      string    `json:"failure_reason,omitempty"`
	ExtractionFailures int       `json:"extraction_failures"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func viewOf(r *domain.Request) requestView {
	return requestView{
		ID:                 r.ID,
		CategoryID:         r.CategoryID,
		AdviceID:           r.AdviceID,
		ImageCount:         r.ImageCount,
		ExtractedText:      r.ExtractedText,
		AnalysisResult:     r.AnalysisResult,
		CacheHit:           r.CacheHit,
		SourceRequestID:    r.SourceRequestID,
		Rating:             r.Rating,
		State:              string(r.State),
		FailureReason:      r.FailureReason,
		ExtractionFailures: r.ExtractionFailures,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

// SubmitAnalysis accepts a multipart upload: category_id, advice_id, one or
// more images files and optional repeated extracted_text_override values.
func (a *App) SubmitAnalysis(w http.ResponseWriter, r *http.Request) {
	owner := a.currentUserID(r)
	if owner == "" {
		a.fail(w, r, domain.ErrUnauthorized)
		return
	}
	if a.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, a.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.fail(w, r, domain.NewValidationError("images", "upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		a.fail(w, r, domain.NewValidationError("body", "expected multipart/form-data"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	images, err := readImages(r.MultipartForm.File["images"])
	if err != nil {
		a.fail(w, r, err)
		return
	}
	res, err := a.Analyses.Submit(r.Context(), analysis.Submission{
		Owner:      owner,
		CategoryID: r.FormValue("category_id"),
		AdviceID:   r.FormValue("advice_id"),
		Images:     images,
		Overrides:  r.MultipartForm.Value["extracted_text_override"],
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, submitResponse{Success: true, Result: res})
}

func readImages(files []*multipart.FileHeader) ([]domain.Image, error) {
	images := make([]domain.Image, 0, len(files))
	for i, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("images[%d]", i), "unreadable file")
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("images[%d]", i), "unreadable file")
		}
		images = append(images, domain.Image{
			Name: fh.Filename,
			MIME: fh.Header.Get("Content-Type"),
			Data: data,
		})
	}
	return images, nil
}

func (a *App) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	owner := a.currentUserID(r)
	if owner == "" {
		a.fail(w, r, domain.ErrUnauthorized)
		return
	}
	req, err := a.Analyses.Get(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, viewOf(req))
}

func (a *App) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	owner := a.currentUserID(r)
	if owner == "" {
		a.fail(w, r, domain.ErrUnauthorized)
		return
	}
	page, err := a.Analyses.List(r.Context(), owner, r.URL.Query().Get("cursor"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	views := make([]requestView, len(page.Requests))
	for i := range page.Requests {
		views[i] = viewOf(&page.Requests[i])
	}
	a.json(w, http.StatusOK, map[string]any{
		"requests":    views,
		"next_cursor": page.NextCursor,
	})
}

type rateRequest struct {
	Score *int `json:"score"`
}

func (a *App) RateAnalysis(w http.ResponseWriter, r *http.Request) {
	owner := a.currentUserID(r)
	if owner == "" {
		a.fail(w, r, domain.ErrUnauthorized)
		return
	}
	var body rateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<10)).Decode(&body); err != nil || body.Score == nil {
		a.fail(w, r, domain.NewValidationError("score", "body must be {\"score\": 1..5}"))
		return
	}
	if err := a.Analyses.Rate(r.Context(), owner, chi.URLParam(r, "id"), *body.Score); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]bool{"success": true})
}

// DownloadImages streams the screenshots of one request as a zip archive.
func (a *App) DownloadImages(w http.ResponseWriter, r *http.Request) {
	owner := a.currentUserID(r)
	if owner == "" {
		a.fail(w, r, domain.ErrUnauthorized)
		return
	}
	req, images, err := a.Analyses.Images(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	assets := make([]zip.Asset, len(images))
	for i, img := range images {
		assets[i] = zip.Asset{
			Filename: fmt.Sprintf("%02d-%s", i+1, path.Base(img.Key)),
			Data:     img.Data,
			Modified: req.CreatedAt,
		}
	}
	var buf bytes.Buffer
	if err := zip.Write(&buf, assets); err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", req.ID+".zip"))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
