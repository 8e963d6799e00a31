// Package routing implements the pluggable-strategy routing engine (spec
// §4.3), generalizing the teacher's internal/routing.Router (provider
// maps, round-robin index, cost/performance heuristics) from a
// provider-keyed design to a model-keyed one operating over the
// registry package.
package routing

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/intellirouter/intellirouter/internal/types"
)

// Strategy ranks candidate models for a request, most-preferred first
// (spec §9 "pluggable strategy interface").
type Strategy interface {
	Name() string
	Rank(candidates []types.ModelMetadata, req *types.ChatRequest, params map[string]interface{}) []types.ModelMetadata
}

// RoundRobin cycles through candidates sorted by id, mirroring
// the teacher's roundRobinIndex field on Router.
type RoundRobin struct {
	mu    sync.Mutex
	index uint64
}

func NewRoundRobin() *RoundRobin { return &RoundRobin{} }

func (s *RoundRobin) Name() string { return "round_robin" }

func (s *RoundRobin) Rank(candidates []types.ModelMetadata, req *types.ChatRequest, params map[string]interface{}) []types.ModelMetadata {
	if len(candidates) == 0 {
		return candidates
	}
	sorted := sortedByID(candidates)
	n := atomic.AddUint64(&s.index, 1) - 1
	start := int(n % uint64(len(sorted)))
	return rotate(sorted, start)
}

// LoadBalanced prefers the model with the fewest in-flight requests,
// consulting an InFlightCounter.
type LoadBalanced struct {
	counters *InFlightCounters
}

func NewLoadBalanced(counters *InFlightCounters) *LoadBalanced {
	return &LoadBalanced{counters: counters}
}

func (s *LoadBalanced) Name() string { return "load_balanced" }

func (s *LoadBalanced) Rank(candidates []types.ModelMetadata, req *types.ChatRequest, params map[string]interface{}) []types.ModelMetadata {
	out := append([]types.ModelMetadata(nil), candidates...)
	sort.SliceStable(out, func(i, j int) bool {
		return s.counters.Get(out[i].ID) < s.counters.Get(out[j].ID)
	})
	return out
}

// ContentBased inspects the request (multimodal content, tool use), keeps
// the models whose capabilities cover it (all candidates if none do), and
// orders them smallest context window first to avoid routing small
// requests at large, expensive models. Prompt size is not examined here;
// the engine's candidate filter has already dropped models whose context
// window is too small.
type ContentBased struct{}

func NewContentBased() *ContentBased { return &ContentBased{} }

func (s *ContentBased) Name() string { return "content_based" }

func (s *ContentBased) Rank(candidates []types.ModelMetadata, req *types.ChatRequest, params map[string]interface{}) []types.ModelMetadata {
	needsVision := requestNeedsVision(req)
	needsTools := len(req.Tools) > 0

	fit := make([]types.ModelMetadata, 0, len(candidates))
	rest := make([]types.ModelMetadata, 0, len(candidates))
	for _, m := range candidates {
		if needsVision && !m.Capabilities.Vision {
			continue
		}
		if needsTools && !m.Capabilities.Tools {
			continue
		}
		fit = append(fit, m)
	}
	if len(fit) == 0 {
		fit = rest
		for _, m := range candidates {
			fit = append(fit, m)
		}
	}
	sort.SliceStable(fit, func(i, j int) bool {
		return fit[i].ContextWindow < fit[j].ContextWindow
	})
	return fit
}

func requestNeedsVision(req *types.ChatRequest) bool {
	for _, msg := range req.Messages {
		if parts, ok := msg.Content.([]types.ContentPart); ok {
			for _, p := range parts {
				if p.Type == "image_url" {
					return true
				}
			}
		}
	}
	return false
}

// CostOptimized sorts by blended input/output cost ascending, the
// model-centric analogue of the teacher's routeByCost.
type CostOptimized struct{}

func NewCostOptimized() *CostOptimized { return &CostOptimized{} }

func (s *CostOptimized) Name() string { return "cost_optimized" }

func (s *CostOptimized) Rank(candidates []types.ModelMetadata, req *types.ChatRequest, params map[string]interface{}) []types.ModelMetadata {
	out := append([]types.ModelMetadata(nil), candidates...)
	sort.SliceStable(out, func(i, j int) bool {
		return blendedCost(out[i]) < blendedCost(out[j])
	})
	return out
}

func blendedCost(m types.ModelMetadata) float32 {
	return m.CostPer1KInput + m.CostPer1KOutput
}

// LatencyOptimized sorts by observed average latency ascending, the
// model-centric analogue of the teacher's routeByPerformance (which used
// a hardcoded per-provider heuristic; this uses the registry's
// continuously-updated AvgLatencyMS instead).
type LatencyOptimized struct{}

func NewLatencyOptimized() *LatencyOptimized { return &LatencyOptimized{} }

func (s *LatencyOptimized) Name() string { return "latency_optimized" }

func (s *LatencyOptimized) Rank(candidates []types.ModelMetadata, req *types.ChatRequest, params map[string]interface{}) []types.ModelMetadata {
	out := append([]types.ModelMetadata(nil), candidates...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AvgLatencyMS < out[j].AvgLatencyMS
	})
	return out
}

// Custom wraps a user-supplied ranking function, letting callers register
// ad hoc strategies through Engine.RegisterStrategy without the engine
// depending on a concrete implementation.
type Custom struct {
	name string
	fn   func([]types.ModelMetadata, *types.ChatRequest, map[string]interface{}) []types.ModelMetadata
}

func NewCustom(name string, fn func([]types.ModelMetadata, *types.ChatRequest, map[string]interface{}) []types.ModelMetadata) *Custom {
	return &Custom{name: name, fn: fn}
}

func (s *Custom) Name() string { return s.name }

func (s *Custom) Rank(candidates []types.ModelMetadata, req *types.ChatRequest, params map[string]interface{}) []types.ModelMetadata {
	return s.fn(candidates, req, params)
}

func sortedByID(in []types.ModelMetadata) []types.ModelMetadata {
	out := append([]types.ModelMetadata(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func rotate(in []types.ModelMetadata, start int) []types.ModelMetadata {
	out := make([]types.ModelMetadata, len(in))
	for i := range in {
		out[i] = in[(start+i)%len(in)]
	}
	return out
}
