package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// MessagesClient captures the subset of the Anthropic SDK client used by
// APIChannel, the same narrowing goa-ai's anthropic adapter applies so a
// test double can stand in for *sdk.MessageService.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// APIOptions configures an APIChannel.
type APIOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
	System      string
}

// APIChannel drives the assistant over the hosted Anthropic Messages API
// instead of a local subprocess, for deployments without a CLI binary
// available. Adapted from goa-ai's anthropic model.Client adapter,
// narrowed to the single-turn request/reply shape a chat Channel needs.
type APIChannel struct {
	client MessagesClient
	opts   APIOptions

	mu      sync.Mutex
	history []Message
	turns   []sdk.MessageParam
}

// NewAPIChannel wraps an already-constructed Anthropic client.
func NewAPIChannel(client MessagesClient, opts APIOptions) (*APIChannel, error) {
	if client == nil {
		return nil, errors.New("chat: anthropic client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("chat: model identifier is required")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	return &APIChannel{client: client, opts: opts}, nil
}

// NewAPIChannelFromAPIKey builds a channel using the default Anthropic
// HTTP client, mirroring goa-ai's anthropic.NewFromAPIKey.
func NewAPIChannelFromAPIKey(apiKey string, opts APIOptions) (*APIChannel, error) {
	if apiKey == "" {
		return nil, errors.New("chat: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAPIChannel(&ac.Messages, opts)
}

// Send appends prompt to the running turn history and issues a
// Messages.New request containing the full conversation so far.
func (c *APIChannel) Send(ctx context.Context, prompt string) (string, error) {
	c.mu.Lock()
	c.turns = append(c.turns, sdk.NewUserMessage(sdk.NewTextBlock(prompt)))
	c.history = append(c.history, Message{Role: RoleController, Text: prompt, At: time.Now()})
	turns := append([]sdk.MessageParam(nil), c.turns...)
	c.mu.Unlock()

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.opts.Model),
		MaxTokens: int64(c.opts.MaxTokens),
		Messages:  turns,
	}
	if c.opts.System != "" {
		params.System = []sdk.TextBlockParam{{Text: c.opts.System}}
	}
	if c.opts.Temperature > 0 {
		params.Temperature = sdk.Float(c.opts.Temperature)
	}

	msg, err := c.client.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat: anthropic messages.new: %w", err)
	}

	reply := extractText(msg)

	c.mu.Lock()
	c.turns = append(c.turns, sdk.NewAssistantMessage(sdk.NewTextBlock(reply)))
	c.history = append(c.history, Message{Role: RoleAssistant, Text: reply, At: time.Now()})
	c.mu.Unlock()

	return reply, nil
}

// extractText concatenates every text content block in msg, the same
// block-type switch goa-ai's translateResponse uses.
func extractText(msg *sdk.Message) string {
	var out string
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			out += block.Text
		}
	}
	return out
}

func (c *APIChannel) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.history))
	copy(out, c.history)
	return out
}

func (c *APIChannel) Close() error { return nil }
