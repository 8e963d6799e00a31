// Package mock is an in-repo Connector used by tests and by operators who
// want a deterministic backend for the end-to-end scenarios in spec §8.
// It requires no outbound network access. Grounded on the teacher's
// deleted internal/providers test fixtures, which used a similar canned
// responder to exercise the router without live API calls.
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/intellirouter/intellirouter/internal/apierr"
	"github.com/intellirouter/intellirouter/internal/connector"
	"github.com/intellirouter/intellirouter/internal/types"
)

// Connector is a scriptable, in-memory Connector implementation.
type Connector struct {
	modelID string
	caps    types.Capabilities

	mu         sync.Mutex
	latency    time.Duration
	failNext   int
	failErr    *apierr.Error
	response   string
	tokensFunc func(*types.ChatRequest) int
}

// New constructs a mock connector that answers for exactly one model id.
func New(modelID string) *Connector {
	return &Connector{
		modelID: modelID,
		caps: types.Capabilities{
			Streaming:       true,
			FunctionCalling: true,
			JSONMode:        true,
		},
		response: "mock response",
	}
}

// WithLatency makes every call sleep for d before returning, simulating a
// slow backend for timeout/cancellation tests.
func (c *Connector) WithLatency(d time.Duration) *Connector {
	c.mu.Lock()
	c.latency = d
	c.mu.Unlock()
	return c
}

// WithResponse sets the literal text returned as the assistant message.
func (c *Connector) WithResponse(text string) *Connector {
	c.mu.Lock()
	c.response = text
	c.mu.Unlock()
	return c
}

// FailNext makes the next n calls return err, then resume succeeding.
// Useful for exercising the routing engine's retry/fallback paths.
func (c *Connector) FailNext(n int, err *apierr.Error) *Connector {
	c.mu.Lock()
	c.failNext = n
	c.failErr = err
	c.mu.Unlock()
	return c
}

func (c *Connector) takeFailure() *apierr.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext > 0 {
		c.failNext--
		return c.failErr
	}
	return nil
}

func (c *Connector) sleep(ctx context.Context) error {
	c.mu.Lock()
	d := c.latency
	c.mu.Unlock()
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connector) Generate(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	if err := c.sleep(ctx); err != nil {
		return nil, apierr.Wrap(apierr.Timeout, err, "mock connector: context ended while generating")
	}
	if fe := c.takeFailure(); fe != nil {
		return nil, fe
	}

	c.mu.Lock()
	text := c.response
	c.mu.Unlock()

	prompt := c.EstimateTokens(req)
	completion := len(strings.Fields(text))

	return &types.ChatResponse{
		ID:      "mock-" + req.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []types.Choice{{
			Index:        0,
			Message:      types.Message{Role: "assistant", Content: text},
			FinishReason: "stop",
		}},
		Usage: &types.Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	}, nil
}

func (c *Connector) GenerateStream(ctx context.Context, req *types.ChatRequest) (*connector.ChatStream, error) {
	if fe := c.takeFailure(); fe != nil {
		return nil, fe
	}

	c.mu.Lock()
	text := c.response
	latency := c.latency
	c.mu.Unlock()

	streamCtx, cancel := context.WithCancel(ctx)
	ch := make(chan connector.StreamItem, connector.StreamChannelCapacity)

	words := strings.Fields(text)
	go func() {
		defer close(ch)
		id := "mock-" + req.ID
		created := time.Now().Unix()
		perToken := latency
		if len(words) > 0 {
			perToken = latency / time.Duration(len(words))
		}
		for i, w := range words {
			if perToken > 0 {
				t := time.NewTimer(perToken)
				select {
				case <-t.C:
				case <-streamCtx.Done():
					t.Stop()
					ch <- connector.StreamItem{Err: apierr.Wrap(apierr.Timeout, streamCtx.Err(), "mock stream cancelled")}
					return
				}
			}
			delta := w
			if i < len(words)-1 {
				delta += " "
			}
			chunk := &types.ChatChunk{
				ID:      id,
				Object:  "chat.completion.chunk",
				Created: created,
				Model:   req.Model,
				Choices: []types.ChoiceChunk{{
					Index: 0,
					Delta: &types.Message{Content: delta},
				}},
			}
			select {
			case ch <- connector.StreamItem{Chunk: chunk}:
			case <-streamCtx.Done():
				return
			}
		}
		finish := "stop"
		ch <- connector.StreamItem{Chunk: &types.ChatChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
			Choices: []types.ChoiceChunk{{Index: 0, Delta: &types.Message{}, FinishReason: finish}},
		}}
	}()

	return &connector.ChatStream{Chunks: ch, Cancel: cancel}, nil
}

func (c *Connector) HealthCheck(ctx context.Context, timeout int) (*types.HealthResult, error) {
	start := time.Now()
	if err := c.sleep(ctx); err != nil {
		return &types.HealthResult{Healthy: false, Error: err.Error(), Timestamp: time.Now()}, nil
	}
	return &types.HealthResult{
		Healthy:   true,
		LatencyMS: float64(time.Since(start).Milliseconds()),
		Timestamp: time.Now(),
	}, nil
}

func (c *Connector) SupportedModels() []string { return []string{c.modelID} }

func (c *Connector) Capabilities(modelID string) types.Capabilities { return c.caps }

// EstimateTokens approximates prompt size by word count; the mock
// connector has no real tokenizer, unlike the openai connector, which
// uses tiktoken-go (the anthropic connector uses a character-count
// heuristic).
func (c *Connector) EstimateTokens(req *types.ChatRequest) int {
	total := 0
	for _, m := range req.Messages {
		total += len(strings.Fields(m.ContentText()))
	}
	if total == 0 {
		return 1
	}
	return total
}

var _ connector.Connector = (*Connector)(nil)
