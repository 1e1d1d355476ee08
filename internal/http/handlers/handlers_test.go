package handlers

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"analyzer/internal/analysis"
	"analyzer/internal/domain"
	"analyzer/internal/middleware"
)

type fakeAnalyses struct {
	submitted analysis.Submission
	submitErr error
	usage     domain.DailyUsage
	rated     int
	rateErr   error
	page      analysis.Page
	cursor    string
	request   *domain.Request
	images    []analysis.StoredImage
}

func (f *fakeAnalyses) Submit(ctx context.Context, sub analysis.Submission) (*analysis.Result, error) {
	f.submitted = sub
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &analysis.Result{RequestID: "req-1", ExtractedText: "text", AnalysisResult: "advice"}, nil
}

func (f *fakeAnalyses) UsageStatus(ctx context.Context, owner string, maxImages int) (domain.DailyUsage, error) {
	return f.usage, nil
}

func (f *fakeAnalyses) Rate(ctx context.Context, owner, id string, score int) error {
	f.rated = score
	return f.rateErr
}

func (f *fakeAnalyses) List(ctx context.Context, owner, cursor string) (analysis.Page, error) {
	f.cursor = cursor
	return f.page, nil
}

func (f *fakeAnalyses) Get(ctx context.Context, owner, id string) (*domain.Request, error) {
	if f.request == nil || f.request.ID != id {
		return nil, domain.ErrNotFound
	}
	return f.request, nil
}

func (f *fakeAnalyses) Images(ctx context.Context, owner, id string) (*domain.Request, []analysis.StoredImage, error) {
	req, err := f.Get(ctx, owner, id)
	if err != nil {
		return nil, nil, err
	}
	return req, f.images, nil
}

type fakeCatalog struct{}

func (fakeCatalog) Categories() []domain.Category {
	return []domain.Category{{ID: "bug-report", Label: "Bug report", SystemPrompt: "secret"}}
}

func (fakeCatalog) AdviceList() []domain.Advice {
	return []domain.Advice{{ID: "concise", Name: "Concise", Prompt: "secret"}}
}

func newTestApp(f *fakeAnalyses) *App {
	return NewApp(f, fakeCatalog{}, 1<<20, zerolog.Nop())
}

func withOwner(req *http.Request, owner string) *http.Request {
	return req.WithContext(middleware.ContextWithUserID(req.Context(), owner))
}

func withID(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

type envelope struct {
	Error struct {
		Code      string         `json:"code"`
		Message   string         `json:"message"`
		Retryable bool           `json:"retryable"`
		Details   map[string]any `json:"details"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return env
}

func multipartBody(t *testing.T, fields map[string][]string, files int) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, vs := range fields {
		for _, v := range vs {
			if err := mw.WriteField(k, v); err != nil {
				t.Fatalf("WriteField: %v", err)
			}
		}
	}
	for i := 0; i < files; i++ {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename="shot%d.png"`, i))
		h.Set("Content-Type", "image/png")
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("CreatePart: %v", err)
		}
		part.Write([]byte{0x89, 'P', 'N', 'G', byte(i)})
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestSubmitAnalysisParsesMultipart(t *testing.T) {
	f := &fakeAnalyses{}
	app := newTestApp(f)

	body, ct := multipartBody(t, map[string][]string{
		"category_id":             {"bug-report"},
		"advice_id":               {"concise"},
		"extracted_text_override": {"first", "second"},
	}, 2)
	req := httptest.NewRequest(http.MethodPost, "/v1/analyses", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	app.SubmitAnalysis(rec, withOwner(req, "alice"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["success"] != true || resp["request_id"] != "req-1" || resp["cache_hit"] != false {
		t.Fatalf("response = %v", resp)
	}

	sub := f.submitted
	if sub.Owner != "alice" || sub.CategoryID != "bug-report" || sub.AdviceID != "concise" {
		t.Fatalf("submission = %+v", sub)
	}
	if len(sub.Images) != 2 || sub.Images[1].MIME != "image/png" || sub.Images[1].Name != "shot1.png" {
		t.Fatalf("images = %+v", sub.Images)
	}
	if strings.Join(sub.Overrides, "|") != "first|second" {
		t.Fatalf("overrides = %v", sub.Overrides)
	}
	if sub.MaxImages != 0 {
		t.Fatalf("MaxImages = %d, want server default", sub.MaxImages)
	}
}

func TestSubmitAnalysisRejectsNonMultipart(t *testing.T) {
	app := newTestApp(&fakeAnalyses{})
	req := httptest.NewRequest(http.MethodPost, "/v1/analyses", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	app.SubmitAnalysis(rec, withOwner(req, "alice"))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Error.Code != "validation_error" {
		t.Fatalf("code = %q", env.Error.Code)
	}
}

func TestSubmitAnalysisErrorEnvelope(t *testing.T) {
	resetAt := time.Now().Add(time.Hour)
	cases := []struct {
		name      string
		err       error
		status    int
		code      string
		retryable bool
	}{
		{"quota", &domain.QuotaError{Usage: domain.DailyUsage{Count: 20, MaxImages: 20, ResetAt: resetAt}, Units: 2}, http.StatusTooManyRequests, "quota_exceeded", false},
		{"validation", domain.NewValidationError("images", "at least one image is required"), http.StatusBadRequest, "validation_error", false},
		{"extraction", fmt.Errorf("%w: all images failed", domain.ErrExtractionFailed), http.StatusBadGateway, "extraction_failed", true},
		{"analysis", domain.ErrAnalysisFailed, http.StatusBadGateway, "analysis_failed", true},
		{"persistence", domain.Persistence("insert", errors.New("conn reset")), http.StatusServiceUnavailable, "persistence_failed", true},
		{"internal", errors.New("boom"), http.StatusInternalServerError, "internal", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newTestApp(&fakeAnalyses{submitErr: tc.err})
			body, ct := multipartBody(t, map[string][]string{"category_id": {"c"}, "advice_id": {"a"}}, 1)
			req := httptest.NewRequest(http.MethodPost, "/v1/analyses", body)
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()
			app.SubmitAnalysis(rec, withOwner(req, "alice"))

			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			env := decodeEnvelope(t, rec)
			if env.Error.Code != tc.code || env.Error.Retryable != tc.retryable {
				t.Fatalf("error = %+v", env.Error)
			}
			if tc.code == "internal" && env.Error.Message != "internal error" {
				t.Fatalf("internal message leaked: %q", env.Error.Message)
			}
			if tc.code == "quota_exceeded" {
				if env.Error.Details["current_count"] != float64(20) || rec.Header().Get("Retry-After") == "" {
					t.Fatalf("quota details = %v, Retry-After %q", env.Error.Details, rec.Header().Get("Retry-After"))
				}
			}
		})
	}
}

func TestHandlersRequireOwner(t *testing.T) {
	app := newTestApp(&fakeAnalyses{})
	handlers := map[string]http.HandlerFunc{
		"submit": app.SubmitAnalysis,
		"usage":  app.Usage,
		"list":   app.ListAnalyses,
		"get":    app.GetAnalysis,
		"rate":   app.RateAnalysis,
		"images": app.DownloadImages,
	}
	for name, h := range handlers {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d, want 401", name, rec.Code)
		}
	}
}

func TestUsage(t *testing.T) {
	resetAt := time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC)
	app := newTestApp(&fakeAnalyses{usage: domain.DailyUsage{Count: 3, MaxImages: 20, ResetAt: resetAt}})
	rec := httptest.NewRecorder()
	app.Usage(rec, withOwner(httptest.NewRequest(http.MethodGet, "/v1/usage", nil), "alice"))

	var got usageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.CanMakeRequest || got.CurrentCount != 3 || got.MaxImages != 20 || got.Remaining != 17 || !got.ResetAt.Equal(resetAt) {
		t.Fatalf("usage = %+v", got)
	}
}

func TestRateAnalysis(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{"ok", `{"score":4}`, nil, http.StatusOK, ""},
		{"missing score", `{}`, nil, http.StatusBadRequest, "validation_error"},
		{"bad json", `nope`, nil, http.StatusBadRequest, "validation_error"},
		{"out of range", `{"score":9}`, domain.ErrInvalidScore, http.StatusBadRequest, "invalid_score"},
		{"twice", `{"score":4}`, domain.ErrAlreadyRated, http.StatusConflict, "already_rated"},
		{"not completed", `{"score":4}`, domain.ErrNotRateable, http.StatusConflict, "not_rateable"},
		{"unknown", `{"score":4}`, domain.ErrNotFound, http.StatusNotFound, "not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeAnalyses{rateErr: tc.err}
			app := newTestApp(f)
			req := httptest.NewRequest(http.MethodPost, "/v1/analyses/x/rating", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			app.RateAnalysis(rec, withID(withOwner(req, "alice"), "x"))

			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.status, rec.Body.String())
			}
			if tc.code != "" {
				if env := decodeEnvelope(t, rec); env.Error.Code != tc.code {
					t.Fatalf("code = %q, want %q", env.Error.Code, tc.code)
				}
			} else if f.rated != 4 {
				t.Fatalf("rated = %d, want 4", f.rated)
			}
		})
	}
}

func TestListAndGetAnalyses(t *testing.T) {
	rating := 5
	req := domain.Request{
		ID: "req-1", CategoryID: "bug-report", AdviceID: "concise", ImageCount: 2,
		AnalysisResult: "advice", State: domain.StateRated, Rating: &rating,
		CreatedAt: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	f := &fakeAnalyses{
		page:    analysis.Page{Requests: []domain.Request{req}, NextCursor: "next"},
		request: &req,
	}
	app := newTestApp(f)

	rec := httptest.NewRecorder()
	app.ListAnalyses(rec, withOwner(httptest.NewRequest(http.MethodGet, "/v1/analyses?cursor=abc", nil), "alice"))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var page struct {
		Requests   []requestView `json:"requests"`
		NextCursor string        `json:"next_cursor"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.cursor != "abc" || page.NextCursor != "next" || len(page.Requests) != 1 || page.Requests[0].State != "rated" {
		t.Fatalf("page = %+v (cursor %q)", page, f.cursor)
	}

	rec = httptest.NewRecorder()
	app.GetAnalysis(rec, withID(withOwner(httptest.NewRequest(http.MethodGet, "/v1/analyses/req-1", nil), "alice"), "req-1"))
	var view requestView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.ID != "req-1" || view.Rating == nil || *view.Rating != 5 {
		t.Fatalf("view = %+v", view)
	}

	rec = httptest.NewRecorder()
	app.GetAnalysis(rec, withID(withOwner(httptest.NewRequest(http.MethodGet, "/v1/analyses/zzz", nil), "alice"), "zzz"))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d, want 404", rec.Code)
	}
}

func TestDownloadImagesReturnsZip(t *testing.T) {
	created := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	app := newTestApp(&fakeAnalyses{
		request: &domain.Request{ID: "req-1", CreatedAt: created},
		images: []analysis.StoredImage{
			{Key: "images/ab/aaa.png", Data: []byte("first")},
			{Key: "images/ab/bbb.jpg", Data: []byte("second")},
		},
	})
	rec := httptest.NewRecorder()
	app.DownloadImages(rec, withID(withOwner(httptest.NewRequest(http.MethodGet, "/v1/analyses/req-1/images.zip", nil), "alice"), "req-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("Content-Type = %q", ct)
	}
	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if len(zr.File) != 2 || zr.File[0].Name != "01-aaa.png" || zr.File[1].Name != "02-bbb.jpg" {
		t.Fatalf("entries = %v", zr.File)
	}

	rec = httptest.NewRecorder()
	app.DownloadImages(rec, withID(withOwner(httptest.NewRequest(http.MethodGet, "/", nil), "alice"), "nope"))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d, want 404", rec.Code)
	}
}

func TestCatalogHidesPrompts(t *testing.T) {
	app := newTestApp(&fakeAnalyses{})
	rec := httptest.NewRecorder()
	app.ListCatalog(rec, httptest.NewRequest(http.MethodGet, "/v1/catalog", nil))
	if strings.Contains(rec.Body.String(), "secret") {
		t.Fatalf("catalog leaked prompts: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"bug-report"`) {
		t.Fatalf("catalog body = %s", rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	app := newTestApp(&fakeAnalyses{})
	rec := httptest.NewRecorder()
	app.Health(rec, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	app.Ping = func(context.Context) error { return errors.New("db down") }
	rec = httptest.NewRecorder()
	app.Health(rec, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestOpenAPIJSONRevalidates(t *testing.T) {
	app := newTestApp(&fakeAnalyses{})
	rec := httptest.NewRecorder()
	app.OpenAPIJSON(rec, httptest.NewRequest(http.MethodGet, "/v1/openapi.json", nil))

	var doc struct {
		Paths map[string]any `json:"paths"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode openapi: %v", err)
	}
	if _, ok := doc.Paths["/v1/analyses/{id}/images.zip"]; !ok {
		t.Fatalf("paths = %v", doc.Paths)
	}
	etag := rec.Header().Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag")
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/openapi.json", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	app.OpenAPIJSON(rec, req)
	if rec.Code != http.StatusNotModified || rec.Body.Len() != 0 {
		t.Fatalf("revalidate status = %d body = %d bytes", rec.Code, rec.Body.Len())
	}
}
