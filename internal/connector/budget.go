package connector

import (
	"github.com/intellirouter/intellirouter/internal/apierr"
	"github.com/intellirouter/intellirouter/internal/types"
)

// Budget carries the per-model limits a connector enforces locally before
// making any network call (spec §4.2 "Request shaping", §8 boundary:
// "Prompt tokens > model context_window ⇒ ContextLengthExceeded from the
// connector even before network I/O"). Zero fields are treated as
// unbounded, matching models whose registry entry omits the limit.
type Budget struct {
	ContextWindow   uint
	MaxTokensPerReq int
}

// CheckBudget enforces budget against an already-estimated prompt token
// count and the request's requested completion size, classifying any
// violation as ContextLengthExceeded — the more specific kind the §8
// boundary test names, rather than the generic InvalidRequest the request
// shaping section mentions in passing. Called by every connector's
// Generate/GenerateStream before touching the network.
func CheckBudget(budget Budget, promptTokens int, req *types.ChatRequest) error {
	if promptTokens < 0 {
		promptTokens = 0
	}
	requested := 0
	if req.MaxTokens != nil {
		requested = *req.MaxTokens
	}

	if budget.ContextWindow > 0 && uint(promptTokens) > budget.ContextWindow {
		return apierr.Newf(apierr.ContextLengthExceeded,
			"prompt (~%d tokens) exceeds model context window of %d", promptTokens, budget.ContextWindow)
	}
	if budget.MaxTokensPerReq > 0 && requested > budget.MaxTokensPerReq {
		return apierr.Newf(apierr.ContextLengthExceeded,
			"requested max_tokens %d exceeds model's per-request limit of %d", requested, budget.MaxTokensPerReq)
	}
	if budget.ContextWindow > 0 && requested > 0 && uint(promptTokens+requested) > budget.ContextWindow {
		return apierr.Newf(apierr.ContextLengthExceeded,
			"prompt (~%d tokens) plus requested max_tokens (%d) exceeds model context window of %d",
			promptTokens, requested, budget.ContextWindow)
	}
	return nil
}
