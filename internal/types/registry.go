package types

import "time"

// ModelType enumerates the kind of inference a registry entry performs.
type ModelType string

const (
	ModelTypeChat        ModelType = "chat"
	ModelTypeText        ModelType = "text"
	ModelTypeEmbedding   ModelType = "embedding"
	ModelTypeImage       ModelType = "image"
	ModelTypeAudio       ModelType = "audio"
	ModelTypeMultimodal  ModelType = "multimodal"
)

// ModelStatus is the single source of truth for routing eligibility
// (SPEC_FULL §3 / spec.md §3 ModelMetadata invariants).
type ModelStatus string

const (
	StatusAvailable   ModelStatus = "available"
	StatusUnavailable ModelStatus = "unavailable"
	StatusMaintenance ModelStatus = "maintenance"
	StatusDeprecated  ModelStatus = "deprecated"
	StatusLimited     ModelStatus = "limited"
)

// Capabilities describes what a registered model can do; the routing
// engine's capability filter (spec §4.3 step 2) consults this.
type Capabilities struct {
	Streaming               bool              `json:"streaming"`
	FunctionCalling         bool              `json:"function_calling"`
	Vision                  bool              `json:"vision"`
	Audio                   bool              `json:"audio"`
	Tools                   bool              `json:"tools"`
	JSONMode                bool              `json:"json_mode"`
	ParallelFunctionCalling bool              `json:"parallel_function_calling"`
	ResponseFormat          bool              `json:"response_format"`
	Seed                    bool              `json:"seed"`
	Extras                  map[string]bool   `json:"extras,omitempty"`
}

// ConnectorConfig tells the registry which connector implementation backs
// a model and how to reach it.
type ConnectorConfig struct {
	Type       string            `json:"type"` // "openai", "anthropic", "ollama", "mock"
	EndpointURL string           `json:"endpoint_url,omitempty"`
	APIKeyRef  string            `json:"api_key_ref,omitempty"` // env var name, never the secret itself
	OrgID      string            `json:"org_id,omitempty"`
	TimeoutMS  int               `json:"timeout_ms,omitempty"`
	MaxRetries int               `json:"max_retries,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
}

// ModelMetadata is a single registry entry (spec §3).
type ModelMetadata struct {
	ID               string          `json:"id"`
	Provider         string          `json:"provider"`
	Version          string          `json:"version,omitempty"`
	Type             ModelType       `json:"type"`
	Status           ModelStatus     `json:"status"`
	ContextWindow    uint            `json:"context_window"`
	Capabilities     Capabilities    `json:"capabilities"`
	CostPer1KInput   float32         `json:"cost_per_1k_input"`
	CostPer1KOutput  float32         `json:"cost_per_1k_output"`
	AvgLatencyMS     float32         `json:"avg_latency_ms"`
	MaxTokensPerReq  int             `json:"max_tokens_per_request,omitempty"`
	MaxRPM           int             `json:"max_rpm,omitempty"`
	LastCheckedAt    time.Time       `json:"last_checked_at"`
	Tags             map[string]bool `json:"tags,omitempty"`
	ConnectorConfig  ConnectorConfig `json:"connector_config"`
}

// Validate enforces the InvalidMetadata conditions named in spec §4.1.
func (m ModelMetadata) Validate() error {
	if m.ID == "" {
		return invalidMetadata("id must not be empty")
	}
	if m.ContextWindow == 0 {
		return invalidMetadata("context_window must be non-zero")
	}
	if m.CostPer1KInput < 0 || m.CostPer1KOutput < 0 {
		return invalidMetadata("costs must not be negative")
	}
	return nil
}

func invalidMetadata(msg string) error {
	return &metadataError{msg: msg}
}

type metadataError struct{ msg string }

func (e *metadataError) Error() string { return "invalid metadata: " + e.msg }

// HasTag reports whether the entry carries a required tag (spec §3
// ModelFilter "required tags").
func (m ModelMetadata) HasTag(tag string) bool {
	return m.Tags != nil && m.Tags[tag]
}

// Eligible reports whether the entry is in a status the routing engine may
// select (spec §4.3 step 1: status ∈ {available, limited}).
func (m ModelMetadata) Eligible() bool {
	return m.Status == StatusAvailable || m.Status == StatusLimited
}

// ModelFilter is a conjunctive predicate over registry entries (spec §3).
type ModelFilter struct {
	Providers           []string
	Types               []ModelType
	Statuses            []ModelStatus
	MinContextWindow    uint
	RequireStreaming    bool
	RequireFunctionCall bool
	RequireVision       bool
	RequireTools        bool
	RequireJSONMode     bool
	MaxInputCost        *float32
	MaxOutputCost       *float32
	MaxLatencyMS        *float32
	RequiredTags        []string
	MetadataEquals      map[string]string
}

// Matches evaluates every predicate conjunctively; an empty/zero-value
// field is treated as "no constraint," matching everything.
func (f ModelFilter) Matches(m ModelMetadata) bool {
	if len(f.Providers) > 0 && !containsStr(f.Providers, m.Provider) {
		return false
	}
	if len(f.Types) > 0 && !containsType(f.Types, m.Type) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, m.Status) {
		return false
	}
	if m.ContextWindow < f.MinContextWindow {
		return false
	}
	if f.RequireStreaming && !m.Capabilities.Streaming {
		return false
	}
	if f.RequireFunctionCall && !m.Capabilities.FunctionCalling {
		return false
	}
	if f.RequireVision && !m.Capabilities.Vision {
		return false
	}
	if f.RequireTools && !m.Capabilities.Tools {
		return false
	}
	if f.RequireJSONMode && !m.Capabilities.JSONMode {
		return false
	}
	if f.MaxInputCost != nil && m.CostPer1KInput > *f.MaxInputCost {
		return false
	}
	if f.MaxOutputCost != nil && m.CostPer1KOutput > *f.MaxOutputCost {
		return false
	}
	if f.MaxLatencyMS != nil && m.AvgLatencyMS > *f.MaxLatencyMS {
		return false
	}
	for _, tag := range f.RequiredTags {
		if !m.HasTag(tag) {
			return false
		}
	}
	for k, v := range f.MetadataEquals {
		if m.ConnectorConfig.Params[k] != v {
			return false
		}
	}
	return true
}

func containsStr(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsType(set []ModelType, v ModelType) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsStatus(set []ModelStatus, v ModelStatus) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// HealthResult is the outcome of a single check_health invocation (spec
// §4.1).
type HealthResult struct {
	Healthy   bool      `json:"healthy"`
	LatencyMS float64   `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
