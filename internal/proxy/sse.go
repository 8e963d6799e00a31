package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/intellirouter/intellirouter/internal/apierr"
	"github.com/intellirouter/intellirouter/internal/connector"
	"github.com/intellirouter/intellirouter/internal/types"
)

// handleStreamingCompletion opens an SSE response and relays one
// connector's ChatStream to the client, one "data: <chunk>\n\n" frame
// per item, terminated by "data: [DONE]\n\n" (spec §4.4 / §9). Grounded
// on the teacher's handleStreamingCompletionWithRetry SSE loop, adapted
// to connector.ChatStream's StreamItem{Chunk,Err} shape in place of the
// teacher's plain *types.ChatChunk channel.
func (s *Server) handleStreamingCompletion(w http.ResponseWriter, r *http.Request, req *types.ChatRequest, opts types.RoutingOptions) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeAPIError(w, apierr.New(apierr.Internal, "streaming unsupported by response writer"))
		return
	}

	start := time.Now()
	var stream *connector.ChatStream
	var decision types.RoutingDecision
	var selectedModel string

	result, err := s.engine.Route(r.Context(), req, opts, func(ctx context.Context, conn connector.Connector, meta types.ModelMetadata) error {
		req.Model = meta.ID
		selectedModel = meta.ID
		st, genErr := conn.GenerateStream(ctx, req)
		if genErr != nil {
			return genErr
		}
		stream = st
		return nil
	})
	if err != nil {
		s.writeAPIError(w, err)
		if s.metrics != nil {
			s.metrics.ObserveRequest(req.Model, "error", time.Since(start))
		}
		return
	}
	decision = result.Decision
	defer stream.Cancel()

	if s.metrics != nil {
		s.metrics.StreamingActive.Inc()
		defer s.metrics.StreamingActive.Dec()
	}

	writeRouteHeader(w, decision)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var promptTokens, completionTokens int
	outcome := "success"

	for item := range stream.Chunks {
		if item.Err != nil {
			writeSSEError(w, flusher, item.Err)
			outcome = "error"
			if s.metrics != nil {
				s.metrics.ObserveError(string(apierr.FromError(item.Err).Kind))
			}
			break
		}
		if item.Chunk.Usage != nil {
			promptTokens = item.Chunk.Usage.PromptTokens
			completionTokens = item.Chunk.Usage.CompletionTokens
		}
		writeSSEChunk(w, flusher, item.Chunk)
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()

	if s.metrics != nil {
		s.metrics.ObserveRequest(selectedModel, outcome, time.Since(start))
		s.metrics.ObserveRouting(decision.StrategyName, decision.Attempts, decision.IsFallback)
		if promptTokens > 0 || completionTokens > 0 {
			s.metrics.ObserveTokens(selectedModel, promptTokens, completionTokens)
		}
	}
}

func writeSSEChunk(w http.ResponseWriter, f http.Flusher, chunk *types.ChatChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	f.Flush()
}

// writeSSEError emits one final error chunk before [DONE], since the SSE
// protocol has already committed to a 200 status line — mid-stream
// failures can't be reported as an HTTP error status (spec §9).
func writeSSEError(w http.ResponseWriter, f http.Flusher, err error) {
	e := apierr.FromError(err)
	payload := types.ErrorResponse{Error: types.ErrorDetail{
		Message: e.Message,
		Type:    apierr.WireType(e.Kind),
	}}
	data, merr := json.Marshal(payload)
	if merr != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	f.Flush()
}
