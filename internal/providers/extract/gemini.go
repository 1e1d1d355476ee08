// Package extract holds the text-extraction providers that read the visible
// text out of a screenshot.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"analyzer/internal/domain"
)

const transcribeInstruction = `You transcribe screenshots. Return only the text that is visible in the image,
preserving line breaks and reading order. Do not describe, summarise or translate.
If the image contains no text, return an empty response.`

// contentGenerator is the part of *genai.GenerativeModel the extractor needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Gemini extracts text with a Gemini vision model.
type Gemini struct {
	client *genai.Client
	model  contentGenerator
}

// NewGemini opens a generative-ai-go client for model.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini extract: new client: %w", err)
	}
	m := cl.GenerativeModel(strings.TrimSpace(model))
	m.GenerationConfig = genai.GenerationConfig{
		Temperature: ptrFloat32(0),
	}
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(transcribeInstruction)}}
	return &Gemini{client: cl, model: m}, nil
}

// Extract returns the text visible in img. An image without text yields "".
func (e *Gemini) Extract(ctx context.Context, img domain.Image) (string, error) {
	if len(img.Data) == 0 {
		return "", errors.New("gemini extract: empty image")
	}
	resp, err := e.model.GenerateContent(ctx,
		genai.Text("Transcribe the text in this screenshot."),
		&genai.Blob{MIMEType: img.ContentType(), Data: img.Data},
	)
	if err != nil {
		return "", fmt.Errorf("gemini extract: %w", err)
	}
	return strings.TrimSpace(firstText(resp)), nil
}

// Close releases the underlying client.
func (e *Gemini) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		if sb.Len() > 0 {
			break
		}
	}
	return sb.String()
}

func ptrFloat32(v float32) *float32 { return &v }

var _ domain.Extractor = (*Gemini)(nil)
