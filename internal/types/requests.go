package types

import (
	"time"

	"github.com/intellirouter/intellirouter/internal/apierr"
)

// ChatRequest is the canonical OpenAI-compatible request body accepted by
// POST /v1/chat/completions.
type ChatRequest struct {
	ID               string          `json:"id,omitempty"`
	Model            string          `json:"model"`
	Messages         []Message       `json:"messages"`
	Temperature      *float32        `json:"temperature,omitempty"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	TopP             *float32        `json:"top_p,omitempty"`
	N                *int            `json:"n,omitempty"`
	FrequencyPenalty *float32        `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float32        `json:"presence_penalty,omitempty"`
	LogitBias        map[string]int  `json:"logit_bias,omitempty"`
	Stop             []string        `json:"stop,omitempty"`
	Stream           bool            `json:"stream"`
	Tools            []Tool          `json:"tools,omitempty"`
	ToolChoice       interface{}     `json:"tool_choice,omitempty"`
	ResponseFormat   *ResponseFormat `json:"response_format,omitempty"`
	Seed             *int            `json:"seed,omitempty"`
	User             string          `json:"user,omitempty"`

	// Routing hints, consumed by the routing engine and stripped before
	// the request is handed to a connector.
	Routing *RoutingHints `json:"routing,omitempty"`

	Timestamp time.Time `json:"-"`
}

// RoutingHints carries request-scoped routing preferences. Distinct from
// RoutingOptions (internal/types/routing.go): hints travel in the wire
// body, options are assembled by the proxy/chain executor per call.
type RoutingHints struct {
	PreferredModelID string   `json:"preferred_model_id,omitempty"`
	ExcludedModelIDs []string `json:"excluded_model_ids,omitempty"`
	Strategy         string   `json:"strategy,omitempty"`
	MaxAttempts      int      `json:"max_attempts,omitempty"`
	MaxCost          *float64 `json:"max_cost,omitempty"`
}

// Message is one turn in a chat conversation.
type Message struct {
	Role      string      `json:"role"`
	Content   interface{} `json:"content"` // string or []ContentPart for multimodal
	Name      string      `json:"name,omitempty"`
	ToolCalls []ToolCall  `json:"tool_calls,omitempty"`
}

// ContentText returns the message content as a plain string, flattening
// multimodal content parts to their text segments. Used by strategies and
// the chain executor's template renderer, which only ever operate on text.
func (m Message) ContentText() string {
	switch v := m.Content.(type) {
	case string:
		return v
	case []ContentPart:
		out := ""
		for _, p := range v {
			if p.Type == "text" {
				out += p.Text
			}
		}
		return out
	case []interface{}:
		out := ""
		for _, raw := range v {
			if part, ok := raw.(map[string]interface{}); ok {
				if t, _ := part["text"].(string); t != "" {
					out += t
				}
			}
		}
		return out
	default:
		return ""
	}
}

type ContentPart struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"` // "auto", "low", "high"
}

type Function struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  interface{} `json:"parameters,omitempty"`
}

type Tool struct {
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

type ToolCall struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

type ResponseFormat struct {
	Type       string      `json:"type"` // "text", "json_object", "json_schema"
	JSONSchema *JSONSchema `json:"json_schema,omitempty"`
}

type JSONSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Schema      map[string]interface{} `json:"schema"`
	Strict      bool                   `json:"strict,omitempty"`
}

// Validate checks the boundary conditions spec §8 requires the proxy to
// enforce before any routing/connector work happens.
func (r *ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return apierr.Newf(apierr.InvalidRequest, "messages must not be empty")
	}
	for i, m := range r.Messages {
		switch m.Role {
		case "system", "user", "assistant", "tool":
		default:
			return apierr.Newf(apierr.InvalidRequest, "messages[%d].role is invalid", i)
		}
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return apierr.Newf(apierr.InvalidRequest, "temperature must be within [0,2]")
	}
	if r.TopP != nil && (*r.TopP < 0 || *r.TopP > 1) {
		return apierr.Newf(apierr.InvalidRequest, "top_p must be within [0,1]")
	}
	if r.N != nil && *r.N < 1 {
		return apierr.Newf(apierr.InvalidRequest, "n must be >= 1")
	}
	if r.N != nil && *r.N > 1 && r.Stream {
		// Open Question resolution (SPEC_FULL §9): n>1 streaming is rejected
		// rather than defining a chunk-interleaving scheme.
		return apierr.Newf(apierr.InvalidRequest, "n > 1 is not supported for streaming requests")
	}
	return nil
}
