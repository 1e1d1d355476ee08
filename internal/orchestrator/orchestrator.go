// Package orchestrator runs text extraction over every screenshot of a request
// and then a single AI analysis call over the aggregated text.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"analyzer/internal/domain"
)

// Options bounds the external calls.
type Options struct {
	ExtractionTimeout     time.Duration
	ExtractionConcurrency int
	AnalysisTimeout       time.Duration
	MaxAttempts           int
	Backoff               time.Duration
}

// DefaultOptions mirrors the config defaults.
func DefaultOptions() Options {
	return Options{
		ExtractionTimeout:     30 * time.Second,
		ExtractionConcurrency: 4,
		AnalysisTimeout:       60 * time.Second,
		MaxAttempts:           3,
		Backoff:               500 * time.Millisecond,
	}
}

// Input is one request's worth of work.
type Input struct {
	Images    []domain.Image
	Overrides []string
	Category  domain.Category
	Advice    domain.Advice
}

// Hooks lets the caller persist stage transitions. OnStage(StateAnalyzing) is
// repeated before each analysis retry. A hook error aborts processing.
type Hooks struct {
	OnStage func(ctx context.Context, state domain.RequestState) error
}

func (h Hooks) stage(ctx context.Context, state domain.RequestState) error {
	if h.OnStage == nil {
		return nil
	}
	return h.OnStage(ctx, state)
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	extractor domain.Extractor
	analyzer  domain.Analyzer
	opts      Options
	logger    zerolog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// New builds an Orchestrator; zero option fields fall back to DefaultOptions.
func New(extractor domain.Extractor, analyzer domain.Analyzer, opts Options, logger zerolog.Logger) *Orchestrator {
	def := DefaultOptions()
	if opts.ExtractionTimeout <= 0 {
		opts.ExtractionTimeout = def.ExtractionTimeout
	}
	if opts.ExtractionConcurrency <= 0 {
		opts.ExtractionConcurrency = def.ExtractionConcurrency
	}
	if opts.AnalysisTimeout <= 0 {
		opts.AnalysisTimeout = def.AnalysisTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.Backoff < 0 {
		opts.Backoff = 0
	}
	return &Orchestrator{
		extractor: extractor,
		analyzer:  analyzer,
		opts:      opts,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// Process extracts text from every image, then analyzes the aggregate once.
func (o *Orchestrator) Process(ctx context.Context, in Input, hooks Hooks) (domain.Outputs, error) {
	if err := hooks.stage(ctx, domain.StateExtracting); err != nil {
		return domain.Outputs{}, err
	}
	texts, failures, err := o.extract(ctx, in)
	if err != nil {
		return domain.Outputs{ExtractionFailures: failures}, err
	}
	out := domain.Outputs{
		ExtractedText:      JoinExtracted(texts),
		ExtractionFailures: failures,
	}

	if err := hooks.stage(ctx, domain.StateAnalyzing); err != nil {
		return out, err
	}
	result, err := o.analyze(ctx, BuildPrompt(in.Category, in.Advice, texts), hooks)
	if err != nil {
		return out, err
	}
	out.AnalysisResult = result
	return out, nil
}

func (o *Orchestrator) extract(ctx context.Context, in Input) ([]string, int, error) {
	texts := make([]string, len(in.Images))
	var failed atomic.Int32
	var attempted atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.ExtractionConcurrency)
	for i, img := range in.Images {
		if i < len(in.Overrides) && strings.TrimSpace(in.Overrides[i]) != "" {
			texts[i] = strings.TrimSpace(in.Overrides[i])
			continue
		}
		attempted.Add(1)
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, o.opts.ExtractionTimeout)
			defer cancel()
			text, err := o.extractor.Extract(cctx, img)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				failed.Add(1)
				o.logger.Warn().Err(err).Int("image_index", i).Str("mime", img.ContentType()).Msg("orchestrator: extraction failed, substituting empty text")
				return nil
			}
			texts[i] = strings.TrimSpace(text)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, int(failed.Load()), err
	}
	n := int(failed.Load())
	if attempted.Load() > 0 && n == len(in.Images) {
		return nil, n, fmt.Errorf("%w: all %d images failed", domain.ErrExtractionFailed, n)
	}
	return texts, n, nil
}

// analyze re-reports the analyzing stage before every retry so the request's
// progress timestamp moves while attempts continue.
func (o *Orchestrator) analyze(ctx context.Context, p domain.Prompt, hooks Hooks) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= o.opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if attempt > 1 {
			if err := hooks.stage(ctx, domain.StateAnalyzing); err != nil {
				return "", err
			}
		}
		actx, cancel := context.WithTimeout(ctx, o.opts.AnalysisTimeout)
		result, err := o.analyzer.Analyze(actx, p)
		cancel()
		if err == nil {
			if strings.TrimSpace(result) == "" {
				return "", fmt.Errorf("%w: empty response", domain.ErrAnalysisFailed)
			}
			return strings.TrimSpace(result), nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
		if !isTransient(err) {
			return "", fmt.Errorf("%w: %w", domain.ErrAnalysisFailed, err)
		}
		o.logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", o.opts.MaxAttempts).Msg("orchestrator: transient analysis error")
		if attempt < o.opts.MaxAttempts {
			if err := o.sleep(ctx, o.backoff(attempt)); err != nil {
				return "", err
			}
		}
	}
	return "", fmt.Errorf("%w: after %d attempts: %w", domain.ErrAnalysisFailed, o.opts.MaxAttempts, lastErr)
}

// backoff doubles per attempt: base, 2*base, 4*base...
func (o *Orchestrator) backoff(attempt int) time.Duration {
	return o.opts.Backoff << (attempt - 1)
}

func isTransient(err error) bool {
	return errors.Is(err, domain.ErrProviderTransient) || errors.Is(err, context.DeadlineExceeded)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
