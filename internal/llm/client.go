// SPDX-License-Identifier: MIT

// Package llm generates novel affirmation text via the OpenAI chat API.
package llm

import (
	"context"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
	"golang.org/x/time/rate"

	"github.com/mindloop/affirmd/internal/domain"
	"github.com/mindloop/affirmd/internal/log"
	"github.com/mindloop/affirmd/internal/metrics"
)

// Output bounds on a parsed completion.
const (
	minLines = 6
	maxLines = 12
)

// completer is the slice of the OpenAI client the generator needs; tests
// substitute a fake.
type completer interface {
	complete(ctx context.Context, params oai.ChatCompletionNewParams) (string, error)
}

type oaiCompleter struct {
	client oai.Client
}

func (c *oaiCompleter) complete(ctx context.Context, params oai.ChatCompletionNewParams) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Client produces 6..10 affirmations from a structured prompt. It isolates
// retries: a malformed completion is retried once with a prompt nudge, then
// surfaces an error so the matcher can fall back.
type Client struct {
	completer completer
	model     string
	// limiter is an in-process token bucket; the llm rate-limit class bounds
	// request ingress, this guards the outbound connection itself.
	limiter *rate.Limiter
}

// New creates a Client for the given API key and model.
func New(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("llm: model must not be empty")
	}
	client := oai.NewClient(option.WithAPIKey(apiKey))
	return &Client{
		completer: &oaiCompleter{client: client},
		model:     model,
		limiter:   rate.NewLimiter(rate.Limit(2), 4),
	}, nil
}

// Generate returns 6..10 affirmation lines for the goal and intention.
func (c *Client) Generate(ctx context.Context, goal domain.Goal, userIntention string) ([]string, error) {
	logger := log.WithComponentFromContext(ctx, "llm")

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}

	lines, err := c.generateOnce(ctx, goal, userIntention, "")
	if err == nil {
		metrics.LLMCallTotal.WithLabelValues("ok").Inc()
		return lines, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	// One retry with a small nudge towards the output contract.
	logger.Warn().Err(err).Str(log.FieldGoal, string(goal)).Msg("completion rejected, retrying with nudge")
	metrics.LLMCallTotal.WithLabelValues("parse_error").Inc()

	lines, err = c.generateOnce(ctx, goal, userIntention,
		"Respond with plain lines only: one affirmation per line, between 6 and 10 lines, no numbering, no commentary.")
	if err != nil {
		metrics.LLMCallTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.LLMCallTotal.WithLabelValues("ok").Inc()
	return lines, nil
}

func (c *Client) generateOnce(ctx context.Context, goal domain.Goal, userIntention, nudge string) ([]string, error) {
	messages := []oai.ChatCompletionMessageParamUnion{
		oai.SystemMessage(systemPrompt(goal)),
		oai.UserMessage(userPrompt(goal, userIntention, nudge)),
	}
	params := oai.ChatCompletionNewParams{
		Model:               shared.ChatModel(c.model),
		Messages:            messages,
		Temperature:         param.NewOpt(0.9),
		MaxCompletionTokens: param.NewOpt(int64(400)),
	}

	raw, err := c.completer.complete(ctx, params)
	if err != nil {
		return nil, err
	}
	return parseCompletion(raw)
}

// parseCompletion strips whitespace and empty lines and enforces the 6..12
// line contract.
func parseCompletion(raw string) ([]string, error) {
	var lines []string
	for _, l := range strings.Split(raw, "\n") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		lines = append(lines, l)
	}
	if len(lines) < minLines || len(lines) > maxLines {
		return nil, fmt.Errorf("llm: completion has %d lines, want %d..%d", len(lines), minLines, maxLines)
	}
	if len(lines) > 10 {
		lines = lines[:10]
	}
	return lines, nil
}
