// Package connector defines the uniform contract every backend adapter
// implements (spec §4.2), grounded on the teacher's
// internal/providers/interfaces.go LLMProvider interface and extended with
// streaming, supported-model enumeration, and the canonical error
// taxonomy from internal/apierr.
package connector

import (
	"context"

	"github.com/intellirouter/intellirouter/internal/types"
)

// ChatStream is the lazy, finite sequence of chunks a connector produces
// for a streaming request (spec §4.2, §9 "Streaming representation").
// Consumers pull by ranging over Chunks; the connector closes Chunks when
// done and, on a mid-stream failure, sends exactly one error chunk before
// closing. Cancel must be called by the consumer in every code path
// (including normal completion) to release the connector's goroutine and
// any upstream connection.
type ChatStream struct {
	Chunks <-chan StreamItem
	Cancel context.CancelFunc
}

// StreamItem is one pulled element: either a chunk or a terminal error,
// never both.
type StreamItem struct {
	Chunk *types.ChatChunk
	Err   error
}

// Connector is the adapter between the canonical request/response model
// and a specific provider's wire format (spec §4.2).
type Connector interface {
	// Generate performs a single non-streaming completion.
	Generate(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error)

	// GenerateStream opens a streaming completion. The returned stream's
	// channel is bounded (recommended capacity 16, spec §4.4); the
	// connector suspends production when it is full.
	GenerateStream(ctx context.Context, req *types.ChatRequest) (*ChatStream, error)

	// HealthCheck probes backend reachability within timeout.
	HealthCheck(ctx context.Context, timeout int) (*types.HealthResult, error)

	// SupportedModels lists the model ids this connector can serve.
	SupportedModels() []string

	// Capabilities reports the feature set for a specific model id backed
	// by this connector.
	Capabilities(modelID string) types.Capabilities

	// EstimateTokens returns a tokenizer-grounded estimate of the prompt
	// token count for req, used by the routing engine's capability filter
	// (spec §4.3 step 2) and by cost-based strategies.
	EstimateTokens(req *types.ChatRequest) int
}

// StreamChannelCapacity is the recommended bounded-channel size between a
// connector and its consumer (spec §4.4).
const StreamChannelCapacity = 16
