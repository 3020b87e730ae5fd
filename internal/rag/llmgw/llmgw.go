// Package llmgw implements the LLM Gateway (C5): short completions for
// query expansion (HyDE) and streaming generation for answer composition
// (spec §4.5).
//
// Grounded on the teacher's internal/llm/anthropic.Client (NewStreaming +
// ContentBlockDeltaEvent/TextDelta loop), stripped of tool-calling and
// extended-thinking support the spec's simpler gateway contract doesn't need.
package llmgw

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/enzoberreur/rag-regulation-bancaire/internal/config"
	"github.com/enzoberreur/rag-regulation-bancaire/internal/ragerrors"
)

// Message is one turn in a chat-style prompt.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Gateway is the narrow LLM contract the RAG core needs: a short,
// non-streamed completion for query expansion, and a streamed completion
// for answer generation.
type Gateway interface {
	// CompleteShort returns a single short completion (spec §4.8 HyDE step).
	CompleteShort(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error)
	// Stream emits completion text deltas on the returned channel and closes
	// it on completion; a non-nil error is sent as the final error return
	// once the channel closes, via the returned error channel.
	Stream(ctx context.Context, messages []Message, system string, temperature float64, maxTokens int) (<-chan string, <-chan error)
}

type anthropicGateway struct {
	sdk   anthropic.Client
	model string
}

// NewAnthropic constructs a Gateway backed by the Anthropic Messages API.
func NewAnthropic(cfg config.AnthropicConfig, httpClient *http.Client) Gateway {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &anthropicGateway{sdk: anthropic.NewClient(opts...), model: model}
}

func (g *anthropicGateway) CompleteShort(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 250
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Temperature: anthropic.Float(temperature),
	}
	resp, err := g.sdk.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ragerrors.ErrLLMUnavailable, err)
	}
	var b strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	return b.String(), nil
}

func (g *anthropicGateway) Stream(ctx context.Context, messages []Message, system string, temperature float64, maxTokens int) (<-chan string, <-chan error) {
	textCh := make(chan string)
	errCh := make(chan error, 1)

	if maxTokens <= 0 {
		maxTokens = 2048
	}
	converted := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == "assistant" {
			converted = append(converted, anthropic.NewAssistantMessage(block))
		} else {
			converted = append(converted, anthropic.NewUserMessage(block))
		}
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(g.model),
		MaxTokens:   int64(maxTokens),
		Messages:    converted,
		Temperature: anthropic.Float(temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	go func() {
		defer close(textCh)
		defer close(errCh)

		stream := g.sdk.Messages.NewStreaming(ctx, params)
		defer func() { _ = stream.Close() }()

		sent := false
		for stream.Next() {
			event := stream.Current()
			if ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
					select {
					case textCh <- delta.Text:
						sent = true
					case <-ctx.Done():
						errCh <- ctx.Err()
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			if sent {
				errCh <- fmt.Errorf("%w: %v", ragerrors.ErrLLMStreamTruncated, err)
				return
			}
			errCh <- fmt.Errorf("%w: %v", ragerrors.ErrLLMUnavailable, err)
			return
		}
	}()

	return textCh, errCh
}
