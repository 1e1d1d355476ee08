// Package analyze holds the AI analysis providers. Every provider reports
// rate limits, server faults and network errors as domain.ErrProviderTransient
// so the orchestrator can retry them.
package analyze

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"analyzer/internal/domain"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiOptions configures the Gemini analysis provider.
type GeminiOptions struct {
	APIKey      string
	Model       string
	Temperature float32
	Logger      zerolog.Logger
}

// generator is the slice of the genai Models service the provider uses.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini runs the analysis prompt through google.golang.org/genai.
type Gemini struct {
	models      generator
	model       string
	temperature float32
	logger      zerolog.Logger
}

// NewGemini creates the provider with its own genai client.
func NewGemini(ctx context.Context, opts GeminiOptions) (*Gemini, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultGeminiModel
	}
	temp := opts.Temperature
	if temp == 0 {
		temp = 0.4
	}
	return &Gemini{
		models:      client.Models,
		model:       model,
		temperature: temp,
		logger:      opts.Logger.With().Str("provider", "gemini").Str("model", model).Logger(),
	}, nil
}

// Analyze sends p as one GenerateContent call.
func (g *Gemini) Analyze(ctx context.Context, p domain.Prompt) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: &g.temperature,
	}
	if p.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(p.System, genai.RoleUser)
	}
	contents := []*genai.Content{genai.NewContentFromText(p.User, genai.RoleUser)}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", classifyGeminiError(err)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		reason := string(resp.PromptFeedback.BlockReason)
		if resp.PromptFeedback.BlockReasonMessage != "" {
			reason = resp.PromptFeedback.BlockReasonMessage
		}
		return "", fmt.Errorf("gemini blocked the prompt: %s", reason)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		finish := "unknown"
		if len(resp.Candidates) > 0 {
			finish = string(resp.Candidates[0].FinishReason)
		}
		g.logger.Warn().Str("finish_reason", finish).Msg("gemini returned empty content")
		return "", fmt.Errorf("gemini returned empty content (finish reason %s)", finish)
	}
	return text, nil
}

func classifyGeminiError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	}
	if code == 0 || isTransientStatus(code) {
		return fmt.Errorf("gemini: %w: %w", domain.ErrProviderTransient, err)
	}
	return fmt.Errorf("gemini: %w", err)
}

// isTransientStatus reports whether an HTTP status is worth retrying.
func isTransientStatus(code int) bool {
	return code == 408 || code == 429 || code >= 500
}

var _ domain.Analyzer = (*Gemini)(nil)
