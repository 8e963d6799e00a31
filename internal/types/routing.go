package types

import "time"

// RoutingOptions parameterizes a single Engine.Route call (spec §4.3).
type RoutingOptions struct {
	PreferredModelID string
	ExcludedIDs      []string
	MaxAttempts      int
	OverallTimeout   time.Duration
	Strategy         string
	StrategyParams   map[string]interface{}
	Filter           ModelFilter

	FallbackStrategy    string
	MaxFallbackAttempts int
}

// RoutingDecision is emitted exactly once per terminal Route outcome (spec
// §3 / §4.3 step 7).
type RoutingDecision struct {
	SelectedModelID   string                 `json:"selected_model_id"`
	StrategyName      string                 `json:"strategy_name"`
	RoutingStartTime  time.Time              `json:"routing_start_time"`
	RoutingEndTime    time.Time              `json:"routing_end_time"`
	RoutingTimeMS     float64                `json:"routing_time_ms"`
	ModelsConsidered  uint                   `json:"models_considered"`
	Attempts          uint                   `json:"attempts"`
	IsFallback        bool                   `json:"is_fallback"`
	SelectionCriteria string                 `json:"selection_criteria,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// RouteHeader renders the compact JSON the proxy attaches as
// X-IntelliRouter-Route (spec §6).
type RouteHeader struct {
	Model    string `json:"model"`
	Strategy string `json:"strategy"`
	Attempts uint   `json:"attempts"`
	Fallback bool   `json:"fallback"`
	MS       int64  `json:"ms"`
}

func (d RoutingDecision) Header() RouteHeader {
	return RouteHeader{
		Model:    d.SelectedModelID,
		Strategy: d.StrategyName,
		Attempts: d.Attempts,
		Fallback: d.IsFallback,
		MS:       int64(d.RoutingTimeMS),
	}
}
