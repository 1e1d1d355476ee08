// Package credentials keeps provider API keys in the integration_tokens
// table so operators can rotate them without redeploying.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"analyzer/internal/infra"
	"analyzer/internal/sqlinline"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

var ErrUnknownProvider = errors.New("unknown provider")

// envKeys maps each provider to the environment variable that overrides the
// stored key.
var envKeys = map[string]string{
	ProviderGemini: "GEMINI_API_KEY",
	ProviderOpenAI: "OPENAI_API_KEY",
}

// Normalize lower-cases provider and checks it is one we store keys for.
func Normalize(provider string) (string, error) {
	p := strings.ToLower(strings.TrimSpace(provider))
	if _, ok := envKeys[p]; !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownProvider, provider)
	}
	return p, nil
}

// EnvKey returns the configured environment value for provider.
func EnvKey(provider string) string {
	return strings.TrimSpace(os.Getenv(envKeys[provider]))
}

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Token returns the stored key for provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	var token string
	if err := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider).Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("read %s key: %w", provider, err)
	}
	return strings.TrimSpace(token), nil
}

// Set upserts the key for provider.
func (s *Store) Set(ctx context.Context, provider, token string) error {
	provider, err := Normalize(provider)
	if err != nil {
		return err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%s api key is required", provider)
	}
	if _, err := s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token); err != nil {
		return fmt.Errorf("store %s key: %w", provider, err)
	}
	return nil
}

// Resolve prefers the configured value and falls back to the stored key. A
// nil Store only ever returns the configured value.
func (s *Store) Resolve(ctx context.Context, provider, configured string) (string, error) {
	if v := strings.TrimSpace(configured); v != "" {
		return v, nil
	}
	if s == nil {
		return "", nil
	}
	return s.Token(ctx, provider)
}

// Mask keeps the first and last four characters of long keys.
func Mask(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
