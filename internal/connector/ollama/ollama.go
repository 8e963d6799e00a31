// Package ollama adapts a local or self-hosted Ollama server's /api/chat
// endpoint to the connector.Connector contract. The wire client is
// grounded on the hartyporpoise llama.porp Ollama client
// (internal/ollama/client.go): raw net/http + bufio.Scanner over
// newline-delimited JSON, no third-party HTTP library, since Ollama's
// streaming wire format is NDJSON rather than SSE and none of the pack's
// SSE helpers apply here.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/intellirouter/intellirouter/internal/apierr"
	"github.com/intellirouter/intellirouter/internal/connector"
	"github.com/intellirouter/intellirouter/internal/types"
)

// Config configures a Connector instance.
type Config struct {
	BaseURL string
	Models  []string
	Timeout time.Duration

	// Budgets maps a served model id to its local pre-flight limits
	// (spec §4.2, §8 boundary). A model with no entry is unbounded.
	Budgets map[string]connector.Budget
}

// Connector implements connector.Connector against an Ollama server.
type Connector struct {
	baseURL    string
	models     []string
	httpClient *http.Client
	budgets    map[string]connector.Budget
}

func New(cfg Config) *Connector {
	timeout := cfg.Timeout
	return &Connector{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		models:     cfg.Models,
		httpClient: &http.Client{Timeout: timeout}, // 0 == no timeout for long streams
		budgets:    cfg.Budgets,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *options      `json:"options,omitempty"`
}

type options struct {
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type chatChunk struct {
	Model           string      `json:"model"`
	CreatedAt       string      `json:"created_at"`
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	PromptEvalCount int         `json:"prompt_eval_count,omitempty"`
	EvalCount       int         `json:"eval_count,omitempty"`
}

func toOllamaRequest(req *types.ChatRequest, stream bool) chatRequest {
	out := chatRequest{Model: req.Model, Stream: stream}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, chatMessage{Role: m.Role, Content: m.ContentText()})
	}
	opts := &options{Stop: req.Stop}
	if req.Temperature != nil {
		opts.Temperature = float64(*req.Temperature)
	}
	if req.TopP != nil {
		opts.TopP = float64(*req.TopP)
	}
	if req.MaxTokens != nil {
		opts.NumPredict = *req.MaxTokens
	}
	out.Options = opts
	return out
}

func (c *Connector) Generate(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	if err := c.checkBudget(req); err != nil {
		return nil, err
	}

	body, err := json.Marshal(toOllamaRequest(req, false))
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, err, "ollama connector: encode request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, err, "ollama connector: build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, classifyStatus(resp.StatusCode, string(b))
	}

	var chunk chatChunk
	if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
		return nil, apierr.Wrap(apierr.TransportFailure, err, "ollama connector: decode response")
	}

	return &types.ChatResponse{
		ID:      fmt.Sprintf("ollama-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []types.Choice{{
			Index:        0,
			Message:      types.Message{Role: "assistant", Content: chunk.Message.Content},
			FinishReason: "stop",
		}},
		Usage: &types.Usage{
			PromptTokens:     chunk.PromptEvalCount,
			CompletionTokens: chunk.EvalCount,
			TotalTokens:      chunk.PromptEvalCount + chunk.EvalCount,
		},
	}, nil
}

func (c *Connector) GenerateStream(ctx context.Context, req *types.ChatRequest) (*connector.ChatStream, error) {
	if err := c.checkBudget(req); err != nil {
		return nil, err
	}

	body, err := json.Marshal(toOllamaRequest(req, true))
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, err, "ollama connector: encode request")
	}

	streamCtx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, apierr.Wrap(apierr.Internal, err, "ollama connector: build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, classifyTransportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, classifyStatus(resp.StatusCode, string(b))
	}

	ch := make(chan connector.StreamItem, connector.StreamChannelCapacity)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		id := fmt.Sprintf("ollama-%d", time.Now().UnixNano())
		created := time.Now().Unix()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var chunk chatChunk
			if err := json.Unmarshal(line, &chunk); err != nil {
				select {
				case ch <- connector.StreamItem{Err: apierr.Wrap(apierr.TransportFailure, err, "ollama connector: decode chunk")}:
				case <-streamCtx.Done():
				}
				return
			}

			out := &types.ChatChunk{
				ID:      id,
				Object:  "chat.completion.chunk",
				Created: created,
				Model:   req.Model,
				Choices: []types.ChoiceChunk{{
					Index: 0,
					Delta: &types.Message{Content: chunk.Message.Content},
				}},
			}
			if chunk.Done {
				out.Choices[0].FinishReason = "stop"
				out.Usage = &types.Usage{
					PromptTokens:     chunk.PromptEvalCount,
					CompletionTokens: chunk.EvalCount,
					TotalTokens:      chunk.PromptEvalCount + chunk.EvalCount,
				}
			}

			select {
			case ch <- connector.StreamItem{Chunk: out}:
			case <-streamCtx.Done():
				return
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil && streamCtx.Err() == nil {
			select {
			case ch <- connector.StreamItem{Err: apierr.Wrap(apierr.TransportFailure, err, "ollama connector: stream read error")}:
			case <-streamCtx.Done():
			}
		}
	}()

	return &connector.ChatStream{Chunks: ch, Cancel: cancel}, nil
}

func (c *Connector) HealthCheck(ctx context.Context, timeout int) (*types.HealthResult, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Millisecond)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/version", nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, err, "ollama connector: build health request")
	}
	resp, err := c.httpClient.Do(req)
	latency := float64(time.Since(start).Milliseconds())
	if err != nil {
		return &types.HealthResult{Healthy: false, LatencyMS: latency, Error: err.Error(), Timestamp: time.Now()}, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &types.HealthResult{Healthy: false, LatencyMS: latency, Error: fmt.Sprintf("ollama %d", resp.StatusCode), Timestamp: time.Now()}, nil
	}
	return &types.HealthResult{Healthy: true, LatencyMS: latency, Timestamp: time.Now()}, nil
}

func (c *Connector) SupportedModels() []string { return c.models }

func (c *Connector) Capabilities(modelID string) types.Capabilities {
	return types.Capabilities{Streaming: true}
}

// EstimateTokens uses the same chars/4 heuristic Ollama's own /api/chat
// response later corrects via prompt_eval_count; there is no local
// tokenizer available for arbitrary Ollama models.
func (c *Connector) EstimateTokens(req *types.ChatRequest) int {
	total := 0
	for _, m := range req.Messages {
		total += len(m.ContentText())
	}
	return total/4 + 1
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

func classifyTransportError(err error) *apierr.Error {
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "deadline exceeded") {
		return apierr.Wrap(apierr.Timeout, err, "ollama connector: request timed out")
	}
	return apierr.Wrap(apierr.ProviderUnavailable, err, "ollama connector: request failed")
}

func classifyStatus(status int, body string) *apierr.Error {
	switch {
	case status == http.StatusNotFound:
		return apierr.Newf(apierr.InvalidRequest, "ollama model not found: %s", body)
	case status == http.StatusTooManyRequests:
		return apierr.Newf(apierr.RateLimited, "ollama: %s", body)
	case status >= 500:
		return apierr.Newf(apierr.ProviderUnavailable, "ollama %d: %s", status, body)
	default:
		return apierr.Newf(apierr.TransportFailure, "ollama %d: %s", status, body)
	}
}

var _ connector.Connector = (*Connector)(nil)
