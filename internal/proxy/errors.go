package proxy

import (
	"encoding/json"
	"net/http"

	"github.com/intellirouter/intellirouter/internal/apierr"
	"github.com/intellirouter/intellirouter/internal/types"
)

// writeAPIError renders err as the canonical {error:{...}} envelope,
// using apierr's Kind/HTTPStatus/WireType mapping when err classifies,
// and records the outcome in metrics. This replaces the teacher's
// isRetryableError-style string matching with the typed taxonomy.
func (s *Server) writeAPIError(w http.ResponseWriter, err error) {
	e := apierr.FromError(err)
	status := apierr.HTTPStatus(e.Kind)

	if s.metrics != nil {
		s.metrics.ObserveError(string(e.Kind))
	}

	detail := types.ErrorDetail{
		Message: e.Message,
		Type:    apierr.WireType(e.Kind),
		Param:   e.Param,
	}
	if detail.Message == "" {
		detail.Message = e.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: detail})
}
