// Package llmclient adapts a concrete model provider to the ports.LLM port.
// The core never imports this package directly; it is wired in by cmd/argus.
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"

	"github.com/argus-dev/argus/internal/ports"
)

const (
	defaultMaxTokens  = 4096
	requestMaxElapsed = 2 * time.Minute
)

var errAPIKeyRequired = errors.New("llmclient: ANTHROPIC_API_KEY is required")

// Client adapts the Anthropic Messages API to ports.LLM. Every call is a
// fresh, stateless request: the core never holds a conversation open across
// issues (spec §6).
type Client struct {
	api   anthropic.Client
	model anthropic.Model
}

// New builds an Anthropic-backed LLM port. apiKey falls back to the
// ANTHROPIC_API_KEY environment variable when empty; model is the provider's
// model identifier (e.g. "claude-3-5-sonnet-20241022").
func New(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	if model == "" {
		return nil, errors.New("llmclient: model is required")
	}

	return &Client{
		api:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		model: anthropic.Model(model),
	}, nil
}

// Send implements ports.LLM. System-role messages are merged into the
// request's system prompt; everything else becomes a user or assistant turn
// in call order.
func (c *Client) Send(ctx context.Context, messages []ports.LLMMessage) (string, error) {
	var turns []anthropic.MessageParam
	var system []anthropic.TextBlockParam

	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case "assistant":
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if len(turns) == 0 {
		return "", errors.New("llmclient: no user or assistant turns in request")
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: defaultMaxTokens,
		Messages:  turns,
	}
	if len(system) > 0 {
		params.System = system
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = requestMaxElapsed

	var text string
	err := backoff.Retry(func() error {
		msg, err := c.api.Messages.New(ctx, params)
		if err != nil {
			if isRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if len(msg.Content) == 0 {
			return backoff.Permanent(fmt.Errorf("llmclient: empty response"))
		}
		block := msg.Content[0]
		if block.Type != "text" {
			return backoff.Permanent(fmt.Errorf("llmclient: unexpected response block type %q", block.Type))
		}
		text = block.Text
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return "", fmt.Errorf("llmclient: anthropic request failed: %w", err)
	}
	return text, nil
}

// isRetryable mirrors the provider's own guidance: rate limits and server
// errors are worth another attempt, everything else (bad request, auth,
// context cancellation) is not.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
