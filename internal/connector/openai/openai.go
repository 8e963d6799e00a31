// Package openai adapts OpenAI's Chat Completions API (and any
// OpenAI-compatible endpoint reachable by overriding the base URL, e.g.
// Azure OpenAI or a self-hosted gateway) to the connector.Connector
// contract. Transport and wire types are delegated to
// github.com/sashabaranov/go-openai; HTTP-status-to-taxonomy
// classification follows the pattern in the Sanix-Darker-prev provider
// (classifyHTTPError), adapted to internal/apierr. Token estimation uses
// github.com/pkoukk/tiktoken-go, grounded on
// BaSui01-agentflow/llm/tokenizer/tiktoken.go.
package openai

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/intellirouter/intellirouter/internal/apierr"
	"github.com/intellirouter/intellirouter/internal/connector"
	"github.com/intellirouter/intellirouter/internal/types"
)

// Config configures a Connector instance; typically built from a
// ModelMetadata.ConnectorConfig by the registry's connector factory.
type Config struct {
	APIKey  string
	BaseURL string // empty uses the OpenAI default
	OrgID   string
	Models  []string // model ids this connector instance serves
	Timeout time.Duration

	// Budgets maps a served model id to its local pre-flight limits
	// (spec §4.2, §8 boundary). A model with no entry is unbounded.
	Budgets map[string]connector.Budget
}

// Connector implements connector.Connector against the OpenAI API.
type Connector struct {
	client  *openai.Client
	models  []string
	timeout time.Duration
	tok     *tokenizer
	budgets map[string]connector.Budget
}

// New builds a Connector from cfg.
func New(cfg Config) *Connector {
	oaCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaCfg.BaseURL = cfg.BaseURL
	}
	if cfg.OrgID != "" {
		oaCfg.OrgID = cfg.OrgID
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Connector{
		client:  openai.NewClientWithConfig(oaCfg),
		models:  cfg.Models,
		timeout: timeout,
		tok:     newTokenizer(),
		budgets: cfg.Budgets,
	}
}

func (c *Connector) Generate(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	if err := c.checkBudget(req); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, toOpenAIRequest(req, false))
	if err != nil {
		return nil, classifyError(err)
	}
	return fromOpenAIResponse(&resp, req.Model), nil
}

func (c *Connector) GenerateStream(ctx context.Context, req *types.ChatRequest) (*connector.ChatStream, error) {
	if err := c.checkBudget(req); err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)

	stream, err := c.client.CreateChatCompletionStream(streamCtx, toOpenAIRequest(req, true))
	if err != nil {
		cancel()
		return nil, classifyError(err)
	}

	ch := make(chan connector.StreamItem, connector.StreamChannelCapacity)
	go func() {
		defer close(ch)
		defer stream.Close()
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				select {
				case ch <- connector.StreamItem{Err: classifyError(err)}:
				case <-streamCtx.Done():
				}
				return
			}
			select {
			case ch <- connector.StreamItem{Chunk: fromOpenAIChunk(&chunk, req.Model)}:
			case <-streamCtx.Done():
				return
			}
		}
	}()

	return &connector.ChatStream{Chunks: ch, Cancel: cancel}, nil
}

func (c *Connector) HealthCheck(ctx context.Context, timeout int) (*types.HealthResult, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.client.ListModels(ctx)
	latency := float64(time.Since(start).Milliseconds())
	if err != nil {
		return &types.HealthResult{Healthy: false, LatencyMS: latency, Error: err.Error(), Timestamp: time.Now()}, nil
	}
	return &types.HealthResult{Healthy: true, LatencyMS: latency, Timestamp: time.Now()}, nil
}

func (c *Connector) SupportedModels() []string { return c.models }

func (c *Connector) Capabilities(modelID string) types.Capabilities {
	caps := types.Capabilities{
		Streaming:       true,
		FunctionCalling: true,
		Tools:           true,
		JSONMode:        true,
		Seed:            true,
		ResponseFormat:  true,
	}
	if strings.HasPrefix(modelID, "gpt-4o") || strings.Contains(modelID, "vision") {
		caps.Vision = true
	}
	return caps
}

func (c *Connector) EstimateTokens(req *types.ChatRequest) int {
	return c.tok.countMessages(req.Model, req.Messages)
}

// checkBudget enforces the served model's local context window / max-tokens
// limit before any network I/O (spec §4.2, §8 boundary).
func (c *Connector) checkBudget(req *types.ChatRequest) error {
	budget, ok := c.budgets[req.Model]
	if !ok {
		return nil
	}
	return connector.CheckBudget(budget, c.tok.countMessages(req.Model, req.Messages), req)
}

func toOpenAIRequest(req *types.ChatRequest, stream bool) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toOpenAIMessages(req.Messages),
		Stream:   stream,
		User:     req.User,
	}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}
	if req.TopP != nil {
		out.TopP = *req.TopP
	}
	if req.N != nil {
		out.N = *req.N
	}
	if req.FrequencyPenalty != nil {
		out.FrequencyPenalty = *req.FrequencyPenalty
	}
	if req.PresencePenalty != nil {
		out.PresencePenalty = *req.PresencePenalty
	}
	if req.Seed != nil {
		out.Seed = req.Seed
	}
	out.Stop = req.Stop
	out.LogitBias = req.LogitBias
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolType(t.Type),
			Function: &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	if stream {
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	return out
}

func toOpenAIMessages(msgs []types.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(msgs))
	for i, m := range msgs {
		out[i] = openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.ContentText(),
			Name:    m.Name,
		}
		for _, tc := range m.ToolCalls {
			out[i].ToolCalls = append(out[i].ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolType(tc.Type),
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: functionArgsToString(tc.Function.Parameters),
				},
			})
		}
	}
	return out
}

func functionArgsToString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func fromOpenAIResponse(r *openai.ChatCompletionResponse, model string) *types.ChatResponse {
	resp := &types.ChatResponse{
		ID:                r.ID,
		Object:            "chat.completion",
		Created:           r.Created,
		Model:             model,
		SystemFingerprint: r.SystemFingerprint,
		Usage: &types.Usage{
			PromptTokens:     r.Usage.PromptTokens,
			CompletionTokens: r.Usage.CompletionTokens,
			TotalTokens:      r.Usage.TotalTokens,
		},
	}
	for _, ch := range r.Choices {
		resp.Choices = append(resp.Choices, types.Choice{
			Index:        ch.Index,
			Message:      types.Message{Role: ch.Message.Role, Content: ch.Message.Content},
			FinishReason: string(ch.FinishReason),
		})
	}
	return resp
}

func fromOpenAIChunk(r *openai.ChatCompletionStreamResponse, model string) *types.ChatChunk {
	chunk := &types.ChatChunk{
		ID:      r.ID,
		Object:  "chat.completion.chunk",
		Created: r.Created,
		Model:   model,
	}
	if r.Usage != nil {
		chunk.Usage = &types.Usage{
			PromptTokens:     r.Usage.PromptTokens,
			CompletionTokens: r.Usage.CompletionTokens,
			TotalTokens:      r.Usage.TotalTokens,
		}
	}
	for _, ch := range r.Choices {
		chunk.Choices = append(chunk.Choices, types.ChoiceChunk{
			Index:        ch.Index,
			Delta:        &types.Message{Role: ch.Delta.Role, Content: ch.Delta.Content},
			FinishReason: string(ch.FinishReason),
		})
	}
	return chunk
}

// classifyError maps go-openai's *openai.APIError into the canonical
// taxonomy, following the classifyHTTPError pattern from
// Sanix-Darker-prev/internal/provider/openai/openai.go.
func classifyError(err error) *apierr.Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		switch {
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return apierr.New(apierr.Authentication, msg)
		case apiErr.HTTPStatusCode == 429:
			return apierr.New(apierr.RateLimited, msg)
		case apiErr.HTTPStatusCode == 400 && strings.Contains(strings.ToLower(msg), "maximum context length"):
			return apierr.New(apierr.ContextLengthExceeded, msg)
		case apiErr.HTTPStatusCode == 400 && strings.Contains(strings.ToLower(msg), "content management policy"):
			return apierr.New(apierr.ContentFilter, msg)
		case apiErr.HTTPStatusCode == 400:
			return apierr.New(apierr.InvalidRequest, msg)
		case apiErr.HTTPStatusCode == 408 || apiErr.HTTPStatusCode == 504:
			return apierr.New(apierr.Timeout, msg)
		case apiErr.HTTPStatusCode >= 500:
			return apierr.New(apierr.ProviderUnavailable, msg)
		}
		return apierr.New(apierr.TransportFailure, msg)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apierr.Wrap(apierr.Timeout, err, "openai connector: request timed out")
	}
	return apierr.Wrap(apierr.TransportFailure, err, "openai connector: request failed")
}

var _ connector.Connector = (*Connector)(nil)
