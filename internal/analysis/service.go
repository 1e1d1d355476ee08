// Package analysis is the screenshot-analysis pipeline: quota admission,
// fingerprint cache with single-flight, orchestration and persistence.
package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"analyzer/internal/domain"
	"analyzer/internal/fingerprint"
	"analyzer/internal/orchestrator"
	"analyzer/internal/quota"
)

// Catalog resolves the read-only reference data.
type Catalog interface {
	Category(id string) (domain.Category, bool)
	Advice(id string) (domain.Advice, bool)
}

// Pipeline runs extraction and analysis for one request.
type Pipeline interface {
	Process(ctx context.Context, in orchestrator.Input, hooks orchestrator.Hooks) (domain.Outputs, error)
}

// Config holds the pipeline limits.
type Config struct {
	DailyMaxImages        int
	MaxImagesPerRequest   int
	MaxImageBytes         int64
	CacheTTL              time.Duration
	CacheHitConsumesQuota bool
	InflightWait          time.Duration
	InflightPoll          time.Duration
	PageSize              int
	StaleAfter            time.Duration
}

func (c Config) withDefaults() Config {
	if c.DailyMaxImages <= 0 {
		c.DailyMaxImages = 20
	}
	if c.MaxImagesPerRequest <= 0 {
		c.MaxImagesPerRequest = 5
	}
	if c.MaxImageBytes <= 0 {
		c.MaxImageBytes = 8 << 20
	}
	if c.InflightPoll <= 0 {
		c.InflightPoll = 500 * time.Millisecond
	}
	if c.PageSize <= 0 {
		c.PageSize = 20
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Minute
	}
	return c
}

// Submission is the input of Submit. MaxImages of zero means the configured
// daily limit.
type Submission struct {
	Owner      string
	CategoryID string
	AdviceID   string
	Images     []domain.Image
	Overrides  []string
	MaxImages  int
}

// Result is what the caller receives for a successful submission.
type Result struct {
	RequestID      string `json:"request_id"`
	ExtractedText  string `json:"extracted_text"`
	AnalysisResult string `json:"analysis_result"`
	CacheHit       bool   `json:"cache_hit"`
}

// Page is one page of an owner's history.
type Page struct {
	Requests   []domain.Request
	NextCursor string
}

// Service is safe for concurrent use.
type Service struct {
	store    domain.RequestStore
	images   domain.ImageStore
	catalog  Catalog
	pipeline Pipeline
	tracker  *quota.Tracker
	cfg      Config
	logger   zerolog.Logger

	group singleflight.Group
	newID func() string
}

// NewService wires the pipeline. images may be nil, in which case uploads are
// not persisted.
func NewService(
	store domain.RequestStore,
	images domain.ImageStore,
	catalog Catalog,
	pipeline Pipeline,
	tracker *quota.Tracker,
	cfg Config,
	logger zerolog.Logger,
) *Service {
	return &Service{
		store:    store,
		images:   images,
		catalog:  catalog,
		pipeline: pipeline,
		tracker:  tracker,
		cfg:      cfg.withDefaults(),
		logger:   logger.With().Str("component", "analysis").Logger(),
		newID:    uuid.NewString,
	}
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// computed is what a single-flight leader shares with its followers.
type computed struct {
	source *domain.Request
	fresh  bool
}

// Submit runs one screenshot analysis end to end.
func (s *Service) Submit(ctx context.Context, sub Submission) (*Result, error) {
	in, err := s.validate(sub)
	if err != nil {
		return nil, err
	}
	fp := fingerprint.Compute(in.data, in.category.ID, in.advice.ID, in.overrides)
	log := s.logger.With().Str("owner", sub.Owner).Str("fingerprint", shortFP(fp)).Logger()

	src, err := s.lookup(ctx, sub.Owner, fp)
	if err != nil {
		return nil, err
	}
	if src != nil {
		log.Debug().Str("source_request_id", src.ID).Msg("fingerprint cache hit")
		return s.serveCacheHit(ctx, in, fp, src, log)
	}

	key := sub.Owner + "\x00" + fp
	for {
		leader := false
		ch := s.group.DoChan(key, func() (any, error) {
			leader = true
			return s.compute(ctx, in, fp, log)
		})

		var res singleflight.Result
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res = <-ch:
		}

		if res.Err != nil {
			// A cancelled leader must not fail followers that are still waiting.
			if !leader && isContextErr(res.Err) && ctx.Err() == nil {
				continue
			}
			return nil, res.Err
		}
		out := res.Val.(computed)
		if leader && out.fresh {
			return resultFrom(out.source, false), nil
		}
		return s.serveCacheHit(ctx, in, fp, out.source, log)
	}
}

// admit is the advisory quota pre-check. The reservation made by Create is
// authoritative.
func (s *Service) admit(ctx context.Context, in validated, log zerolog.Logger) error {
	if _, err := s.tracker.Admit(ctx, in.owner, in.units, in.maxImages); err != nil {
		log.Info().Err(err).Int("units", in.units).Msg("submission rejected by quota")
		return err
	}
	return nil
}

// compute is the single-flight leader's work: reserve, persist, orchestrate.
func (s *Service) compute(ctx context.Context, in validated, fp string, log zerolog.Logger) (computed, error) {
	src, err := s.lookup(ctx, in.owner, fp)
	if err != nil {
		return computed{}, err
	}
	if src != nil {
		return computed{source: src}, nil
	}
	if err := s.admit(ctx, in, log); err != nil {
		return computed{}, err
	}

	now := s.now()
	res := s.tracker.Plan(in.owner, in.units, in.maxImages)
	req := &domain.Request{
		ID:            s.newID(),
		Owner:         in.owner,
		CategoryID:    in.category.ID,
		AdviceID:      in.advice.ID,
		ImageRefs:     in.keys,
		ImageCount:    in.units,
		Fingerprint:   fp,
		State:         domain.StatePending,
		UsageDay:      res.Day,
		ReservedUnits: in.units,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	count, err := s.store.Create(ctx, req, &res)
	if errors.Is(err, domain.ErrInFlight) {
		log.Info().Msg("identical request in flight elsewhere, waiting for it")
		src, werr := s.waitForInflight(ctx, in.owner, fp)
		if werr != nil {
			return computed{}, werr
		}
		return computed{source: src}, nil
	}
	if _, err := s.tracker.Decide(ctx, res, count, err); err != nil {
		return computed{}, err
	}
	log = log.With().Str("request_id", req.ID).Logger()
	log.Info().Int("images", in.units).Int("usage_count", count).Msg("request admitted")

	if err := s.storeImages(ctx, in); err != nil {
		s.release(ctx, req.ID, err, log)
		return computed{}, err
	}

	hooks := orchestrator.Hooks{OnStage: func(ctx context.Context, state domain.RequestState) error {
		return s.store.Advance(ctx, req.ID, previousStates(state), state)
	}}
	out, err := s.pipeline.Process(ctx, orchestrator.Input{
		Images:    in.images,
		Overrides: in.overrides,
		Category:  in.category,
		Advice:    in.advice,
	}, hooks)
	if err != nil {
		s.release(ctx, req.ID, err, log)
		return computed{}, err
	}
	if err := s.store.Complete(ctx, req.ID, out); err != nil {
		s.release(ctx, req.ID, err, log)
		return computed{}, err
	}

	req.State = domain.StateCompleted
	req.ExtractedText = out.ExtractedText
	req.AnalysisResult = out.AnalysisResult
	req.ExtractionFailures = out.ExtractionFailures
	log.Info().Int("extraction_failures", out.ExtractionFailures).Msg("request completed")
	return computed{source: req, fresh: true}, nil
}

// serveCacheHit persists a cache-hit request pointing at src and returns src's
// outputs. Hits only pass through quota when CacheHitConsumesQuota is set.
func (s *Service) serveCacheHit(ctx context.Context, in validated, fp string, src *domain.Request, log zerolog.Logger) (*Result, error) {
	now := s.now()
	req := &domain.Request{
		ID:                 s.newID(),
		Owner:              in.owner,
		CategoryID:         in.category.ID,
		AdviceID:           in.advice.ID,
		ImageRefs:          in.keys,
		ImageCount:         in.units,
		ExtractedText:      src.ExtractedText,
		AnalysisResult:     src.AnalysisResult,
		ExtractionFailures: src.ExtractionFailures,
		Fingerprint:        fp,
		CacheHit:           true,
		SourceRequestID:    src.Origin(),
		State:              domain.StateCompleted,
		UsageDay:           s.tracker.Day(now),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if s.cfg.CacheHitConsumesQuota {
		if err := s.admit(ctx, in, log); err != nil {
			return nil, err
		}
		res := s.tracker.Plan(in.owner, in.units, in.maxImages)
		req.UsageDay = res.Day
		req.ReservedUnits = in.units
		count, err := s.store.Create(ctx, req, &res)
		if _, err := s.tracker.Decide(ctx, res, count, err); err != nil {
			return nil, err
		}
	} else if _, err := s.store.Create(ctx, req, nil); err != nil {
		return nil, err
	}

	log.Info().
		Str("request_id", req.ID).
		Str("source_request_id", req.SourceRequestID).
		Msg("served from cache")
	return resultFrom(req, true), nil
}

func (s *Service) lookup(ctx context.Context, owner, fp string) (*domain.Request, error) {
	var notBefore time.Time
	if s.cfg.CacheTTL > 0 {
		notBefore = s.now().Add(-s.cfg.CacheTTL)
	}
	return s.store.FindCompleted(ctx, owner, fp, notBefore)
}

// waitForInflight polls for a request with the same fingerprint computed by
// another process.
func (s *Service) waitForInflight(ctx context.Context, owner, fp string) (*domain.Request, error) {
	if s.cfg.InflightWait <= 0 {
		return nil, domain.ErrInFlight
	}
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.InflightWait)
	defer cancel()

	ticker := time.NewTicker(s.cfg.InflightPoll)
	defer ticker.Stop()
	for {
		src, err := s.lookup(waitCtx, owner, fp)
		if err != nil && !isContextErr(err) {
			return nil, err
		}
		if src != nil {
			return src, nil
		}
		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, domain.ErrInFlight
		case <-ticker.C:
		}
	}
}

func (s *Service) storeImages(ctx context.Context, in validated) error {
	if s.images == nil {
		return nil
	}
	for i, img := range in.images {
		if _, err := s.images.Put(ctx, in.keys[i], img.Data, img.ContentType()); err != nil {
			return domain.Persistence("store image", err)
		}
	}
	return nil
}

// release fails the request and gives back its quota. It runs even when ctx
// has been cancelled.
func (s *Service) release(ctx context.Context, id string, cause error, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	reason := domain.Classify(cause).Code
	if err := s.store.Fail(ctx, id, reason); err != nil {
		log.Error().Err(err).Str("reason", reason).Msg("failed to release request")
		return
	}
	log.Warn().Err(cause).Str("reason", reason).Msg("request failed, quota released")
}

// UsageStatus reports today's quota for owner. maxImages of zero means the
// configured daily limit.
func (s *Service) UsageStatus(ctx context.Context, owner string, maxImages int) (domain.DailyUsage, error) {
	if strings.TrimSpace(owner) == "" {
		return domain.DailyUsage{}, domain.ErrUnauthorized
	}
	if maxImages <= 0 {
		maxImages = s.cfg.DailyMaxImages
	}
	return s.tracker.Status(ctx, owner, maxImages)
}

// Rate records a one-time 1..5 score on a completed request.
func (s *Service) Rate(ctx context.Context, owner, id string, score int) error {
	if score < 1 || score > 5 {
		return fmt.Errorf("%w: %d is outside 1..5", domain.ErrInvalidScore, score)
	}
	if strings.TrimSpace(owner) == "" {
		return domain.ErrUnauthorized
	}
	req, err := s.store.Rate(ctx, id, owner, score)
	if err != nil {
		return err
	}
	s.logger.Info().Str("request_id", req.ID).Str("owner", owner).Int("score", score).Msg("request rated")
	return nil
}

// List returns one page of owner's history, newest first.
func (s *Service) List(ctx context.Context, owner, cursor string) (Page, error) {
	if strings.TrimSpace(owner) == "" {
		return Page{}, domain.ErrUnauthorized
	}
	after, err := domain.DecodeCursor(cursor)
	if err != nil {
		return Page{}, err
	}
	limit := s.cfg.PageSize
	items, err := s.store.List(ctx, owner, after, limit+1)
	if err != nil {
		return Page{}, err
	}
	page := Page{Requests: items}
	if len(items) > limit {
		last := items[limit-1]
		page.Requests = items[:limit]
		page.NextCursor = domain.PageCursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode()
	}
	return page, nil
}

// Get returns one of owner's requests.
func (s *Service) Get(ctx context.Context, owner, id string) (*domain.Request, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, domain.ErrUnauthorized
	}
	return s.store.Get(ctx, id, owner)
}

// StoredImage is one screenshot read back from the image store.
type StoredImage struct {
	Key  string
	Data []byte
}

// Images loads the screenshots referenced by one of owner's requests, in
// submission order.
func (s *Service) Images(ctx context.Context, owner, id string) (*domain.Request, []StoredImage, error) {
	req, err := s.Get(ctx, owner, id)
	if err != nil {
		return nil, nil, err
	}
	if s.images == nil {
		return nil, nil, fmt.Errorf("%w: image storage is disabled", domain.ErrNotFound)
	}
	out := make([]StoredImage, 0, len(req.ImageRefs))
	for _, key := range req.ImageRefs {
		data, err := s.images.Get(ctx, key)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, nil, fmt.Errorf("%w: image %s", domain.ErrNotFound, key)
			}
			return nil, nil, domain.Persistence("load image", err)
		}
		out = append(out, StoredImage{Key: key, Data: data})
	}
	return req, out, nil
}

// ReapStale fails requests stuck in flight for longer than StaleAfter and
// releases their quota.
func (s *Service) ReapStale(ctx context.Context) ([]string, error) {
	cutoff := s.now().Add(-s.cfg.StaleAfter)
	ids, err := s.store.FailStale(ctx, cutoff, "stale")
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		s.logger.Warn().Strs("request_ids", ids).Msg("reaped stale requests")
	}
	return ids, nil
}

// now is truncated to microseconds so it survives a Postgres round trip and
// cursors compare exactly.
func (s *Service) now() time.Time {
	return s.tracker.Now().UTC().Truncate(time.Microsecond)
}

func resultFrom(req *domain.Request, cacheHit bool) *Result {
	return &Result{
		RequestID:      req.ID,
		ExtractedText:  req.ExtractedText,
		AnalysisResult: req.AnalysisResult,
		CacheHit:       cacheHit,
	}
}

func previousStates(to domain.RequestState) []domain.RequestState {
	switch to {
	case domain.StateExtracting:
		return []domain.RequestState{domain.StatePending}
	case domain.StateAnalyzing:
		return []domain.RequestState{domain.StateExtracting, domain.StateAnalyzing}
	default:
		return domain.InFlightStates
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func shortFP(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

// ownerSegment keeps arbitrary owner ids out of storage paths.
func ownerSegment(owner string) string {
	sum := sha256.Sum256([]byte(owner))
	return hex.EncodeToString(sum[:8])
}
