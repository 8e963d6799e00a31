package proxy

import (
	"encoding/json"
	"net/http"

	"github.com/intellirouter/intellirouter/internal/apierr"
	"github.com/intellirouter/intellirouter/internal/types"
)

// handlePutChain registers or replaces a chain definition (spec §4.5
// register). There is no teacher equivalent; this and its siblings are
// grounded on the registry's REST shape (GET/list/remove) applied to
// chain.Store instead of the model registry.
func (s *Server) handlePutChain(w http.ResponseWriter, r *http.Request) {
	var c types.Chain
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		s.writeAPIError(w, apierr.Wrap(apierr.InvalidRequest, err, "invalid JSON body"))
		return
	}
	if err := s.chains.Put(c); err != nil {
		s.writeAPIError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(c)
}

func (s *Server) handleListChains(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"chains": s.chains.List()})
}

func (s *Server) handleGetChain(w http.ResponseWriter, r *http.Request) {
	id := muxVar(r, "id")
	c, ok := s.chains.Get(id)
	if !ok {
		s.writeAPIError(w, apierr.Newf(apierr.InvalidRequest, "unknown chain %q", id))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(c)
}

func (s *Server) handleDeleteChain(w http.ResponseWriter, r *http.Request) {
	s.chains.Delete(muxVar(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

// executeChainRequest is the execute() request body (spec §4.5).
type executeChainRequest struct {
	Input     string            `json:"input"`
	Variables map[string]string `json:"variables,omitempty"`
	Stream    bool              `json:"stream,omitempty"`
}

// handleExecuteChain runs a registered chain to completion (non-
// streaming) or relays its ChainEvent sequence over SSE (streaming),
// per the request body's stream flag (spec §4.5).
func (s *Server) handleExecuteChain(w http.ResponseWriter, r *http.Request) {
	id := muxVar(r, "id")
	c, ok := s.chains.Get(id)
	if !ok {
		s.writeAPIError(w, apierr.Newf(apierr.InvalidRequest, "unknown chain %q", id))
		return
	}
	if s.executor == nil {
		s.writeAPIError(w, apierr.New(apierr.Internal, "chain execution component is not enabled on this server"))
		return
	}

	var req executeChainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeAPIError(w, apierr.Wrap(apierr.InvalidRequest, err, "invalid JSON body"))
		return
	}

	if req.Stream {
		s.handleExecuteChainStreaming(w, r, c, req)
		return
	}

	var published *types.Execution
	exec, err := s.executor.Execute(r.Context(), c, req.Input, req.Variables, func(executionID string) {
		published = &types.Execution{
			ExecutionID: executionID,
			ChainID:     c.ID,
			Status:      types.ExecutionRunning,
			TotalSteps:  len(c.Steps),
		}
		s.executions.Put(published)
	})
	if exec != nil {
		s.executions.Put(exec)
	}
	if s.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		s.metrics.ObserveChainExecution(c.ID, outcome)
	}
	if err != nil {
		s.writeAPIError(w, err)
		return
	}

	resp := types.ChainExecutionResponse{
		ExecutionID: exec.ExecutionID,
		ChainID:     exec.ChainID,
		Status:      exec.Status,
		Output:      exec.Output,
		StepResults: exec.StepResults,
		TotalTokens: exec.TotalTokens,
		Error:       exec.Error,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleExecuteChainStreaming relays the executor's ChainEvent channel
// as SSE frames (spec §4.5 streaming mode), mirroring
// handleStreamingCompletion's frame-per-item loop.
func (s *Server) handleExecuteChainStreaming(w http.ResponseWriter, r *http.Request, c types.Chain, req executeChainRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeAPIError(w, apierr.New(apierr.Internal, "streaming unsupported by response writer"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := s.executor.ExecuteStreaming(r.Context(), c, req.Input, req.Variables)
	outcome := "success"
	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("data: "))
		_, _ = w.Write(data)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
		if ev.Type == types.EventChainFailed {
			outcome = "error"
		}
	}

	if s.metrics != nil {
		s.metrics.ObserveChainExecution(c.ID, outcome)
	}

	_, _ = w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

// handleCancelExecution implements spec §4.5's cancel(execution_id) → bool
// contract op over HTTP: it aborts the in-flight step, preserves every
// StepResult already recorded, and flips the stored record's status to
// cancelled. Returns 400 if the execution is unknown or already finished.
func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := muxVar(r, "execution_id")
	if s.executor == nil {
		s.writeAPIError(w, apierr.New(apierr.Internal, "chain execution component is not enabled on this server"))
		return
	}
	if !s.executor.Cancel(id) {
		s.writeAPIError(w, apierr.Newf(apierr.InvalidRequest, "no in-flight execution %q", id))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"execution_id": id, "cancelled": true})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := muxVar(r, "execution_id")
	exec, ok := s.executions.Get(id)
	if !ok {
		s.writeAPIError(w, apierr.Newf(apierr.InvalidRequest, "unknown execution %q", id))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(exec)
}
