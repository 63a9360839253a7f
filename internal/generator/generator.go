// Package generator produces personalized newsletter body text for one user
// from their subscription prompt and accumulated feedback.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ignite/personifeed/internal/pkg/logger"
	"github.com/ignite/personifeed/internal/store"
)

// Classified generation failures. The batch coordinator records the stable
// label from Detail on the user's newsletter record.
var (
	ErrTimeout     = errors.New("generation timed out")
	ErrProvider    = errors.New("completion provider returned an error")
	ErrEmptyResult = errors.New("completion provider returned no usable content")
)

// Detail returns the stable failure label for a classified generation error.
func Detail(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "GenerationTimeout"
	case errors.Is(err, ErrProvider):
		return "ProviderError"
	case errors.Is(err, ErrEmptyResult):
		return "EmptyResult"
	default:
		return "GenerationFailure"
	}
}

// Provider is a one-shot completion backend
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
	Name() string
}

// Generator assembles bounded prompts and requests completions.
// It holds no per-user state; concurrent calls are independent.
type Generator struct {
	provider  Provider
	fallback  Provider // optional, tried when the primary classifies as ProviderError
	maxTokens int
}

// New creates a generator. fallback may be nil.
func New(provider, fallback Provider, maxTokens int) *Generator {
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	return &Generator{provider: provider, fallback: fallback, maxTokens: maxTokens}
}

// Generate produces newsletter body text for one user. history is the
// bounded feedback window from the store, chronological, initial entry first.
// An empty history (brand-new subscriber whose initial entry has not landed
// yet) falls back to the user's subscription prompt alone.
func (g *Generator) Generate(ctx context.Context, user *store.User, history []*store.FeedbackEntry) (string, error) {
	systemPrompt, userPrompt := BuildPrompt(user, history)

	body, err := g.complete(ctx, g.provider, systemPrompt, userPrompt)
	if err != nil && g.fallback != nil && errors.Is(err, ErrProvider) {
		logger.Warn("primary completion provider failed, trying fallback",
			"provider", g.provider.Name(), "fallback", g.fallback.Name(), "error", err)
		body, err = g.complete(ctx, g.fallback, systemPrompt, userPrompt)
	}
	if err != nil {
		return "", err
	}
	return body, nil
}

func (g *Generator) complete(ctx context.Context, p Provider, systemPrompt, userPrompt string) (string, error) {
	body, err := p.Complete(ctx, systemPrompt, userPrompt, g.maxTokens)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %s: %v", ErrTimeout, p.Name(), err)
		}
		if isClassified(err) {
			return "", err
		}
		return "", fmt.Errorf("%w: %s: %v", ErrProvider, p.Name(), err)
	}
	if strings.TrimSpace(body) == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyResult, p.Name())
	}
	return strings.TrimSpace(body), nil
}

func isClassified(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrProvider) || errors.Is(err, ErrEmptyResult)
}
