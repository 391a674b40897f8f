// Package textgen adapts common/llm's AgentClient to the spec's
// TextGenerator capability: streaming and non-streaming completion with
// retries and a paragraph-formatting quality gate.
package textgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"adventure.app/engine/common/llm"
	"adventure.app/engine/internal/model"
	"adventure.app/engine/internal/prompt"
)

const (
	retryBaseDelay = 500 * time.Millisecond
	retryFactor    = 2
	maxAttempts    = 5
)

// TextGenerator is the spec's TextGenerator adapter.
type TextGenerator interface {
	// StreamChapter yields raw text chunks as they arrive on chunks, and
	// sends exactly one quality-gated final text on final once the stream
	// closes and the formatting analysis completes. Both channels are
	// closed when done.
	StreamChapter(ctx context.Context, p prompt.Prompt) (chunks <-chan string, final <-chan string, err error)
	// CompleteJSON is a non-streaming completion used for summaries, scene
	// extraction, visual updates, and image-synthesis meta-prompts.
	CompleteJSON(ctx context.Context, p prompt.Prompt) (string, error)
}

type textGenerator struct {
	client    llm.AgentClient
	maxTokens int
}

// New wraps an llm.AgentClient as a TextGenerator.
func New(client llm.AgentClient, maxTokens int) TextGenerator {
	return &textGenerator{client: client, maxTokens: maxTokens}
}

func (g *textGenerator) StreamChapter(ctx context.Context, p prompt.Prompt) (<-chan string, <-chan string, error) {
	req := g.toRequest(p)

	stream, err := g.client.StreamChat(ctx, req)
	if err != nil {
		return nil, nil, model.NewEngineError(model.ErrTextGenerationFailed, "starting chapter stream", err)
	}

	chunks := make(chan string)
	final := make(chan string, 1)

	go func() {
		defer close(chunks)
		defer close(final)

		var buf strings.Builder
		var streamErr error

		for chunk := range stream {
			if chunk.Err != nil {
				streamErr = chunk.Err
				break
			}
			if chunk.Delta != "" {
				buf.WriteString(chunk.Delta)
				select {
				case chunks <- chunk.Delta:
				case <-ctx.Done():
					return
				}
			}
			if chunk.Done {
				break
			}
		}

		text := buf.String()
		if streamErr != nil {
			slog.ErrorContext(ctx, "chapter stream failed mid-flight", "error", streamErr)
			// Whatever was received is still what we can offer as a final;
			// the Engine surfaces TextGenerationFailed only when nothing
			// was streamed at all.
		}

		finalText := g.applyQualityGate(ctx, text, p)
		select {
		case final <- finalText:
		case <-ctx.Done():
		}
	}()

	return chunks, final, nil
}

func (g *textGenerator) CompleteJSON(ctx context.Context, p prompt.Prompt) (string, error) {
	resp, err := g.retryingChat(ctx, g.toRequest(p))
	if err != nil {
		return "", model.NewEngineError(model.ErrTextGenerationFailed, "completeJSON", err)
	}
	return extractJSON(resp.Content), nil
}

// completeText is the plain non-streaming counterpart used internally by
// the quality gate's regeneration attempts — the chapter text it produces
// is prose, not JSON, so it bypasses CompleteJSON's naming but shares the
// same retry path.
func (g *textGenerator) completeText(ctx context.Context, p prompt.Prompt) (string, error) {
	resp, err := g.retryingChat(ctx, g.toRequest(p))
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (g *textGenerator) toRequest(p prompt.Prompt) llm.AgentRequest {
	return llm.AgentRequest{
		Messages: []llm.Message{
			{Role: "system", Content: p.System},
			{Role: "user", Content: p.User},
		},
		MaxTokens: g.maxTokens,
	}
}

// retryingChat retries transient provider errors with exponential backoff
// (base 500ms, factor 2, up to 5 attempts) per spec.md §4.3.
func (g *textGenerator) retryingChat(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
	delay := retryBaseDelay
	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		resp, err := g.client.ChatWithTools(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !isRetryable(err) || attempt == maxAttempts {
			break
		}

		slog.WarnContext(ctx, "text generation attempt failed, retrying",
			"attempt", attempt, "delay_ms", delay.Milliseconds(), "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= retryFactor
	}

	return nil, fmt.Errorf("text generation failed after %d attempts: %w", attempts, lastErr)
}

// statusCoder is implemented by provider SDK errors that carry an HTTP
// status code.
type statusCoder interface {
	StatusCode() int
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		return code == 429 || code >= 500
	}

	msg := strings.ToLower(err.Error())
	for _, sub := range []string{"429", "500", "502", "503", "504", "rate limit", "timeout", "connection reset", "eof"} {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}
