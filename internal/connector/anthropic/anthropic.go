// Package anthropic adapts Anthropic's Messages API to the
// connector.Connector contract. Request/response conversion is grounded
// on the teacher's internal/providers/anthropic/provider.go; unlike the
// teacher, GenerateStream is fully implemented here using the SDK's
// server-sent-events streaming client rather than returning "not yet
// implemented".
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/intellirouter/intellirouter/internal/apierr"
	"github.com/intellirouter/intellirouter/internal/connector"
	"github.com/intellirouter/intellirouter/internal/types"
)

// Config configures a Connector instance.
type Config struct {
	APIKey  string
	BaseURL string
	Models  []string
	Timeout time.Duration

	// Budgets maps a served model id to its local pre-flight limits
	// (spec §4.2, §8 boundary). A model with no entry is unbounded.
	Budgets map[string]connector.Budget
}

// Connector implements connector.Connector against the Anthropic API.
type Connector struct {
	client  *anthropic.Client
	models  []string
	timeout time.Duration
	budgets map[string]connector.Budget
}

func New(cfg Config) *Connector {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Connector{client: &client, models: cfg.Models, timeout: timeout, budgets: cfg.Budgets}
}

func (c *Connector) Generate(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	if err := c.checkBudget(req); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params, err := toAnthropicParams(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Messages.New(ctx, *params)
	if err != nil {
		return nil, classifyError(err)
	}
	return fromAnthropicMessage(resp), nil
}

func (c *Connector) GenerateStream(ctx context.Context, req *types.ChatRequest) (*connector.ChatStream, error) {
	if err := c.checkBudget(req); err != nil {
		return nil, err
	}

	params, err := toAnthropicParams(req)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream := c.client.Messages.NewStreaming(streamCtx, *params)

	ch := make(chan connector.StreamItem, connector.StreamChannelCapacity)
	go func() {
		defer close(ch)

		id := ""
		model := req.Model
		created := time.Now().Unix()
		var usage types.Usage

		for stream.Next() {
			event := stream.Current()
			switch ev := event.AsAny().(type) {
			case anthropic.MessageStartEvent:
				id = ev.Message.ID
				usage.PromptTokens = int(ev.Message.Usage.InputTokens)
			case anthropic.ContentBlockDeltaEvent:
				delta, ok := ev.Delta.AsAny().(anthropic.TextDelta)
				if !ok || delta.Text == "" {
					continue
				}
				chunk := &types.ChatChunk{
					ID:      id,
					Object:  "chat.completion.chunk",
					Created: created,
					Model:   model,
					Choices: []types.ChoiceChunk{{
						Index: 0,
						Delta: &types.Message{Content: delta.Text},
					}},
				}
				select {
				case ch <- connector.StreamItem{Chunk: chunk}:
				case <-streamCtx.Done():
					return
				}
			case anthropic.MessageDeltaEvent:
				usage.CompletionTokens = int(ev.Usage.OutputTokens)
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case ch <- connector.StreamItem{Err: classifyError(err)}:
			case <-streamCtx.Done():
			}
			return
		}

		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		final := &types.ChatChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   model,
			Choices: []types.ChoiceChunk{{Index: 0, Delta: &types.Message{}, FinishReason: "stop"}},
			Usage:   &usage,
		}
		select {
		case ch <- connector.StreamItem{Chunk: final}:
		case <-streamCtx.Done():
		}
	}()

	return &connector.ChatStream{Chunks: ch, Cancel: cancel}, nil
}

func (c *Connector) HealthCheck(ctx context.Context, timeout int) (*types.HealthResult, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model("claude-3-haiku-20240307"),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock("ping"))},
		MaxTokens: 1,
	})
	latency := float64(time.Since(start).Milliseconds())
	if err != nil {
		return &types.HealthResult{Healthy: false, LatencyMS: latency, Error: err.Error(), Timestamp: time.Now()}, nil
	}
	return &types.HealthResult{Healthy: true, LatencyMS: latency, Timestamp: time.Now()}, nil
}

func (c *Connector) SupportedModels() []string { return c.models }

func (c *Connector) Capabilities(modelID string) types.Capabilities {
	return types.Capabilities{
		Streaming:       true,
		FunctionCalling: true,
		Vision:          true,
		Tools:           true,
	}
}

// EstimateTokens uses the ~3.5-chars-per-token heuristic from the teacher
// provider; Anthropic's SDK does not expose a local tokenizer, unlike
// OpenAI's tiktoken-go path.
func (c *Connector) EstimateTokens(req *types.ChatRequest) int {
	totalChars := 0
	for _, msg := range req.Messages {
		switch content := msg.Content.(type) {
		case string:
			totalChars += len(content)
		case []types.ContentPart:
			for _, part := range content {
				if part.Type == "text" {
					totalChars += len(part.Text)
				}
				if part.Type == "image_url" {
					totalChars += 1500
				}
			}
		default:
			totalChars += len(msg.ContentText())
		}
		totalChars += len(msg.Role)
	}
	for _, tool := range req.Tools {
		totalChars += len(tool.Function.Name) + len(tool.Function.Description)
	}
	return totalChars * 10 / 35
}

// checkBudget enforces the served model's local context window / max-tokens
// limit before any network I/O (spec §4.2, §8 boundary).
func (c *Connector) checkBudget(req *types.ChatRequest) error {
	budget, ok := c.budgets[req.Model]
	if !ok {
		return nil
	}
	return connector.CheckBudget(budget, c.EstimateTokens(req), req)
}

func toAnthropicParams(req *types.ChatRequest) (*anthropic.MessageNewParams, error) {
	var systemMessage string
	var messages []anthropic.MessageParam

	for _, msg := range req.Messages {
		if msg.Role == "system" {
			s, ok := msg.Content.(string)
			if !ok {
				return nil, apierr.New(apierr.InvalidRequest, "system messages must be text only for anthropic")
			}
			systemMessage = s
			continue
		}
		messages = append(messages, convertMessage(msg))
	}

	params := &anthropic.MessageNewParams{
		Model:    anthropic.Model(req.Model),
		Messages: messages,
	}
	if systemMessage != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemMessage, Type: "text"}}
	}
	if req.MaxTokens != nil {
		params.MaxTokens = int64(*req.MaxTokens)
	} else {
		params.MaxTokens = 1024
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*req.Temperature))
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(float64(*req.TopP))
	}
	if len(req.Stop) > 0 {
		params.StopSequences = append([]string(nil), req.Stop...)
	}
	return params, nil
}

func convertMessage(msg types.Message) anthropic.MessageParam {
	switch content := msg.Content.(type) {
	case string:
		if msg.Role == "user" {
			return anthropic.NewUserMessage(anthropic.NewTextBlock(content))
		}
		return anthropic.NewAssistantMessage(anthropic.NewTextBlock(content))
	case []types.ContentPart:
		var blocks []anthropic.ContentBlockParamUnion
		for _, part := range content {
			if part.Type == "text" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		}
		if msg.Role == "user" {
			return anthropic.NewUserMessage(blocks...)
		}
		return anthropic.NewAssistantMessage(blocks...)
	default:
		text := fmt.Sprintf("%v", content)
		if msg.Role == "user" {
			return anthropic.NewUserMessage(anthropic.NewTextBlock(text))
		}
		return anthropic.NewAssistantMessage(anthropic.NewTextBlock(text))
	}
}

func fromAnthropicMessage(resp *anthropic.Message) *types.ChatResponse {
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	var usage *types.Usage
	if resp.Usage.InputTokens > 0 || resp.Usage.OutputTokens > 0 {
		usage = &types.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		}
	}

	return &types.ChatResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   string(resp.Model),
		Choices: []types.Choice{{
			Index:        0,
			FinishReason: string(resp.StopReason),
			Message:      types.Message{Role: "assistant", Content: text.String()},
		}},
		Usage: usage,
	}
}

func classifyError(err error) *apierr.Error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		switch apiErr.StatusCode {
		case 401, 403:
			return apierr.New(apierr.Authentication, msg)
		case 429:
			return apierr.New(apierr.RateLimited, msg)
		case 400:
			if strings.Contains(strings.ToLower(msg), "max_tokens") || strings.Contains(strings.ToLower(msg), "context") {
				return apierr.New(apierr.ContextLengthExceeded, msg)
			}
			return apierr.New(apierr.InvalidRequest, msg)
		case 408, 504:
			return apierr.New(apierr.Timeout, msg)
		}
		if apiErr.StatusCode >= 500 {
			return apierr.New(apierr.ProviderUnavailable, msg)
		}
		return apierr.New(apierr.TransportFailure, msg)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apierr.Wrap(apierr.Timeout, err, "anthropic connector: request timed out")
	}
	return apierr.Wrap(apierr.TransportFailure, err, "anthropic connector: request failed")
}

var _ connector.Connector = (*Connector)(nil)
