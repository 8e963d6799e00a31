package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/intellirouter/intellirouter/internal/apierr"
	"github.com/intellirouter/intellirouter/internal/connector"
	"github.com/intellirouter/intellirouter/internal/types"
)

// handleChatCompletion is the OpenAI-compatible entry point (spec §6
// POST /v1/chat/completions), grounded on the teacher's
// handleChatCompletion dispatch to streaming/non-streaming paths.
func (s *Server) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeAPIError(w, apierr.Wrap(apierr.InvalidRequest, err, "invalid JSON body"))
		return
	}
	if req.ID == "" {
		req.ID = fmt.Sprintf("chatcmpl-%s", uuid.NewString())
	}
	req.Timestamp = time.Now()

	if err := req.Validate(); err != nil {
		s.writeAPIError(w, err)
		return
	}

	opts := routingOptionsFromRequest(&req)

	if req.Stream {
		s.handleStreamingCompletion(w, r, &req, opts)
		return
	}
	s.handleNonStreamingCompletion(w, r, &req, opts)
}

// routingOptionsFromRequest translates the wire-level RoutingHints into
// the engine's RoutingOptions, stripping them from the request before it
// reaches a connector (spec §3: hints never cross the connector
// boundary).
func routingOptionsFromRequest(req *types.ChatRequest) types.RoutingOptions {
	opts := types.RoutingOptions{MaxAttempts: 3}
	if req.Routing != nil {
		h := req.Routing
		opts.PreferredModelID = h.PreferredModelID
		opts.ExcludedIDs = h.ExcludedModelIDs
		opts.Strategy = h.Strategy
		if h.MaxAttempts > 0 {
			opts.MaxAttempts = h.MaxAttempts
		}
		if h.MaxCost != nil {
			cost := float32(*h.MaxCost)
			opts.Filter.MaxInputCost = &cost
		}
		req.Routing = nil
	}
	if opts.PreferredModelID == "" && req.Model != "" {
		opts.PreferredModelID = req.Model
	}
	return opts
}

// handleNonStreamingCompletion routes and executes req, writing the
// completed ChatResponse with the X-IntelliRouter-Route header attached
// (spec §6).
func (s *Server) handleNonStreamingCompletion(w http.ResponseWriter, r *http.Request, req *types.ChatRequest, opts types.RoutingOptions) {
	start := time.Now()
	var resp *types.ChatResponse

	result, err := s.engine.Route(r.Context(), req, opts, func(ctx context.Context, conn connector.Connector, meta types.ModelMetadata) error {
		req.Model = meta.ID
		out, genErr := conn.Generate(ctx, req)
		if genErr != nil {
			return genErr
		}
		resp = out
		return nil
	})
	if err != nil {
		s.writeAPIError(w, err)
		if s.metrics != nil {
			s.metrics.ObserveRequest(req.Model, "error", time.Since(start))
		}
		return
	}

	if s.metrics != nil {
		s.metrics.ObserveRequest(result.ModelID, "success", time.Since(start))
		s.metrics.ObserveRouting(result.Decision.StrategyName, result.Decision.Attempts, result.Decision.IsFallback)
		if resp.Usage != nil {
			s.metrics.ObserveTokens(result.ModelID, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		}
	}

	writeRouteHeader(w, result.Decision)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// writeRouteHeader attaches the compact routing decision as
// X-IntelliRouter-Route (spec §6), the header-only alternative to
// POST /v1/routing/decision in the teacher.
func writeRouteHeader(w http.ResponseWriter, decision types.RoutingDecision) {
	data, err := json.Marshal(decision.Header())
	if err != nil {
		return
	}
	w.Header().Set("X-IntelliRouter-Route", string(data))
}

// handleListModels returns the registry's current contents (SPEC_FULL
// §6 ambient operational endpoint; the teacher's nearest analogue is
// handleListProviders).
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models := s.registry.List()
	resp := types.ModelsResponse{Object: "list", Data: models}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleGetModel returns one model's metadata, answering 400 (InvalidRequest) if unknown
// (teacher's handleGetProvider, generalized to model ids).
func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	id := muxVar(r, "id")
	meta, ok := s.registry.Get(id)
	if !ok {
		s.writeAPIError(w, apierr.Newf(apierr.InvalidRequest, "unknown model %q", id))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(meta)
}

// handleHealth reports aggregate registry health: healthy only when
// every registered model is in an eligible status (teacher's
// handleHealthCheck, generalized from provider names to model ids).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	models := s.registry.List()
	healthy := true
	for _, m := range models {
		if !m.Eligible() {
			healthy = false
			break
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    status,
		"models":    models,
		"timestamp": time.Now().Unix(),
	})
}

// handleMetrics exposes the real Prometheus registry built in
// internal/metrics, replacing the teacher's handleMetrics (which only
// ever rendered a canned placeholder string).
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metricsHandler(s.metrics).ServeHTTP(w, r)
}
