// Package imagegen adapts an image-generation provider to the spec's
// ImageGenerator capability: non-streaming bytes from a prompt, with
// retries.
package imagegen

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"adventure.app/engine/internal/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	maxAttempts     = 5
	backoffBase     = 1 * time.Second
	backoffCap      = 30 * time.Second
	attemptTimeout  = 30 * time.Second
)

// ImageGenerator is the spec's ImageGenerator adapter.
type ImageGenerator interface {
	// Generate returns image bytes for prompt. On persistent failure it
	// returns an *model.EngineError of kind ImageUnavailable — the caller
	// treats this as non-fatal and omits the image frame.
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

// provider is the single round-trip this package retries around. Splitting
// it out of imageGenerator lets the retry/backoff logic be exercised with a
// fake in tests without reaching the real Images API.
type provider interface {
	generateImage(ctx context.Context, prompt string) ([]byte, error)
}

type imageGenerator struct {
	provider provider
}

// New wraps the OpenAI Images API as an ImageGenerator.
func New(apiKey, baseURL, model string) ImageGenerator {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "dall-e-3"
	}
	p := &openAIProvider{client: openai.NewClient(opts...), model: model}
	return newWithProvider(p)
}

func newWithProvider(p provider) ImageGenerator {
	return &imageGenerator{provider: p}
}

func (g *imageGenerator) Generate(ctx context.Context, prompt string) ([]byte, error) {
	delay := backoffBase
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		bytes, err := g.provider.generateImage(attemptCtx, prompt)
		cancel()
		if err == nil {
			return bytes, nil
		}
		lastErr = err

		slog.WarnContext(ctx, "image generation attempt failed",
			"attempt", attempt, "max_attempts", maxAttempts, "error", err)

		if attempt == maxAttempts {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, model.NewEngineError(model.ErrImageUnavailable, "context cancelled during backoff", ctx.Err())
		}
		delay *= 2
		if delay > backoffCap {
			delay = backoffCap
		}
	}

	return nil, model.NewEngineError(model.ErrImageUnavailable, "image generation exhausted retries", lastErr)
}

type openAIProvider struct {
	client openai.Client
	model  string
}

func (p *openAIProvider) generateImage(ctx context.Context, prompt string) ([]byte, error) {
	resp, err := p.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Model:          openai.ImageModel(p.model),
		Prompt:         prompt,
		N:              openai.Int(1),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	})
	if err != nil {
		return nil, fmt.Errorf("image generate: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("image generate: empty response")
	}

	bytes, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decoding image payload: %w", err)
	}
	return bytes, nil
}
