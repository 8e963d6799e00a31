package routing

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/intellirouter/intellirouter/internal/apierr"
	"github.com/intellirouter/intellirouter/internal/connector"
	"github.com/intellirouter/intellirouter/internal/registry"
	"github.com/intellirouter/intellirouter/internal/types"
)

// Engine orchestrates candidate filtering, strategy ranking, the
// attempts/backoff loop, and fallback, emitting exactly one
// RoutingDecision per Route call (spec §4.3 steps 1-7).
type Engine struct {
	registry   *registry.Registry
	strategies map[string]Strategy
	inFlight   *InFlightCounters
	logger     *logrus.Logger

	defaultStrategy string
	baseDelay       time.Duration
	maxDelay        time.Duration
}

// Option configures an Engine at construction time.
type Option func(*Engine)

func WithBaseDelay(d time.Duration) Option { return func(e *Engine) { e.baseDelay = d } }
func WithMaxDelay(d time.Duration) Option  { return func(e *Engine) { e.maxDelay = d } }
func WithDefaultStrategy(name string) Option {
	return func(e *Engine) { e.defaultStrategy = name }
}

// New builds an Engine with the five built-in ranking strategies
// registered; Custom strategies are added with RegisterStrategy.
func New(reg *registry.Registry, logger *logrus.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	inFlight := NewInFlightCounters()
	e := &Engine{
		registry:        reg,
		inFlight:        inFlight,
		logger:          logger,
		defaultStrategy: "cost_optimized",
		baseDelay:       200 * time.Millisecond,
		maxDelay:        5 * time.Second,
		strategies:      make(map[string]Strategy),
	}
	for _, s := range []Strategy{
		NewRoundRobin(),
		NewLoadBalanced(inFlight),
		NewContentBased(),
		NewCostOptimized(),
		NewLatencyOptimized(),
	} {
		e.strategies[s.Name()] = s
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterStrategy adds or replaces a strategy by name, supporting the
// "custom" strategy kind named in spec §4.3.
func (e *Engine) RegisterStrategy(s Strategy) {
	e.strategies[s.Name()] = s
}

// InFlight exposes the engine's shared per-model in-flight counters.
func (e *Engine) InFlight() *InFlightCounters { return e.inFlight }

// Attempt records one outcome of invoking a connector (model id and
// error). Route's attempts loop tracks failures internally and does not
// produce or return Attempt values.
type Attempt struct {
	ModelID string
	Err     error
}

// Result bundles the terminal response/stream with the emitted decision.
type Result struct {
	ModelID  string
	Decision types.RoutingDecision
}

// estimatePromptTokens gives a connector-agnostic estimate of the prompt
// size for the capability filter (spec §4.3 step 2), using the same
// chars/4 heuristic the ollama connector falls back to absent a local
// tokenizer. Precise per-connector counts still happen later, inside
// each connector's own pre-flight budget check.
func estimatePromptTokens(req *types.ChatRequest) uint {
	total := 0
	for _, m := range req.Messages {
		total += len(m.ContentText())
	}
	return uint(total/4 + 1)
}

// candidates applies the registry filter plus the request's implied
// capability requirements and excluded-id list (spec §4.3 steps 1-2):
// context_window must cover the estimated prompt, tool use implies
// function_calling, and stream=true implies streaming support.
func (e *Engine) candidates(req *types.ChatRequest, opts types.RoutingOptions) []types.ModelMetadata {
	filter := opts.Filter
	if need := estimatePromptTokens(req); need > filter.MinContextWindow {
		filter.MinContextWindow = need
	}
	if len(req.Tools) > 0 {
		filter.RequireFunctionCall = true
	}
	if req.Stream {
		filter.RequireStreaming = true
	}

	all := e.registry.Find(filter)
	out := make([]types.ModelMetadata, 0, len(all))
	excluded := make(map[string]bool, len(opts.ExcludedIDs))
	for _, id := range opts.ExcludedIDs {
		excluded[id] = true
	}
	for _, m := range all {
		if excluded[m.ID] || !m.Eligible() {
			continue
		}
		out = append(out, m)
	}
	return out
}

// order produces the ranked candidate list for one routing attempt,
// placing a configured PreferredModelID first if it is present and
// eligible (spec §4.3 step 2).
func (e *Engine) order(candidates []types.ModelMetadata, req *types.ChatRequest, opts types.RoutingOptions) []types.ModelMetadata {
	strategyName := opts.Strategy
	if strategyName == "" {
		strategyName = e.defaultStrategy
	}
	strategy, ok := e.strategies[strategyName]
	if !ok {
		strategy = e.strategies[e.defaultStrategy]
	}
	ranked := strategy.Rank(candidates, req, opts.StrategyParams)

	if opts.PreferredModelID == "" {
		return ranked
	}
	preferred := -1
	for i, m := range ranked {
		if m.ID == opts.PreferredModelID {
			preferred = i
			break
		}
	}
	if preferred <= 0 {
		return ranked
	}
	out := make([]types.ModelMetadata, 0, len(ranked))
	out = append(out, ranked[preferred])
	out = append(out, ranked[:preferred]...)
	out = append(out, ranked[preferred+1:]...)
	return out
}

// Route selects a model and invokes fn against its connector, retrying
// across the ranked candidate list with exponential backoff before
// falling back, then returns the first successful outcome's decision
// (spec §4.3). fn is expected to call either Generate or GenerateStream
// on the supplied connector and report whether the attempt succeeded.
func (e *Engine) Route(ctx context.Context, req *types.ChatRequest, opts types.RoutingOptions, fn func(context.Context, connector.Connector, types.ModelMetadata) error) (*Result, error) {
	start := time.Now()
	strategyName := opts.Strategy
	if strategyName == "" {
		strategyName = e.defaultStrategy
	}

	pool := e.candidates(req, opts)
	if len(pool) == 0 {
		return nil, apierr.New(apierr.NoCandidates, "routing: no eligible candidates for request")
	}
	ranked := e.order(pool, req, opts)

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	considered := uint(len(ranked))
	var attempts uint

	modelID, err, stop := e.attemptLoop(ctx, ranked, maxAttempts, fn, &attempts)
	if err == nil {
		return e.emit(modelID, strategyName, start, considered, attempts, false), nil
	}
	if stop {
		return nil, err
	}

	// Fallback (spec §4.3 step 6): only reached when every primary attempt
	// failed with a retriable error. Re-rank the same candidate pool under
	// the configured fallback strategy and retry, bounded separately.
	if opts.FallbackStrategy != "" {
		fallbackOpts := opts
		fallbackOpts.Strategy = opts.FallbackStrategy
		fallbackRanked := e.order(pool, req, fallbackOpts)
		considered += uint(len(fallbackRanked))

		fbMaxAttempts := opts.MaxFallbackAttempts
		if fbMaxAttempts <= 0 {
			fbMaxAttempts = 1
		}

		fbModelID, fbErr, fbStop := e.attemptLoop(ctx, fallbackRanked, fbMaxAttempts, fn, &attempts)
		if fbErr == nil {
			return e.emit(fbModelID, opts.FallbackStrategy, start, considered, attempts, true), nil
		}
		if fbStop {
			return nil, fbErr
		}
		err = fbErr
	}

	if err == nil {
		err = apierr.New(apierr.AllAttemptsFailed, "routing: exhausted candidates")
	}
	return nil, apierr.Wrap(apierr.AllAttemptsFailed, err, "routing: all attempts failed")
}

// attemptLoop iterates ranked candidates up to maxAttempts, invoking fn
// against each one's connector with per-attempt backoff (spec §4.3 step
// 5). It returns the winning model id on success; otherwise the terminal
// error and whether Route must stop immediately (a non-retriable
// classified error, or context cancellation) rather than continue to
// fallback.
func (e *Engine) attemptLoop(ctx context.Context, ranked []types.ModelMetadata, maxAttempts int, fn func(context.Context, connector.Connector, types.ModelMetadata) error, attempts *uint) (string, error, bool) {
	var lastErr error

	for i, m := range ranked {
		if uint(i) >= uint(maxAttempts) {
			break
		}
		if i > 0 {
			delay := e.backoff(i)
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return "", apierr.Wrap(apierr.Timeout, ctx.Err(), "routing: cancelled during backoff"), true
			}
		}

		conn, ok := e.registry.Connector(m.ID)
		if !ok {
			lastErr = apierr.Newf(apierr.Internal, "routing: model %q has no connector", m.ID)
			continue
		}

		release := e.inFlight.Inc(m.ID)
		*attempts++
		err := fn(ctx, conn, m)
		release()

		if err == nil {
			return m.ID, nil, false
		}

		lastErr = err
		e.logger.WithError(err).WithField("model_id", m.ID).Warn("routing attempt failed")

		if apiErr, ok := apierr.As(err); ok && !apierr.Retriable(apiErr.Kind) {
			// Non-retriable error: stop per spec §4.3 step 5 and surface
			// the specific error instead of masking it as AllAttemptsFailed.
			return "", err, true
		}
	}

	return "", lastErr, false
}

// emit builds and logs the single RoutingDecision for a terminal Route
// outcome (spec §4.3 step 7).
func (e *Engine) emit(modelID, strategyName string, start time.Time, considered, attempts uint, isFallback bool) *Result {
	decision := types.RoutingDecision{
		SelectedModelID:  modelID,
		StrategyName:     strategyName,
		RoutingStartTime: start,
		RoutingEndTime:   time.Now(),
		ModelsConsidered: considered,
		Attempts:         attempts,
		IsFallback:       isFallback,
	}
	decision.RoutingTimeMS = float64(decision.RoutingEndTime.Sub(decision.RoutingStartTime).Microseconds()) / 1000.0
	e.logger.WithFields(logrus.Fields{
		"model_id": modelID,
		"strategy": strategyName,
		"attempts": attempts,
		"fallback": isFallback,
	}).Info("request routed")
	return &Result{ModelID: modelID, Decision: decision}
}

// backoff computes exponential delay for the given (1-indexed) attempt,
// generalizing the teacher's calculateBackoffDelay (exponential branch
// only; the spec has no linear-backoff knob, so that option is dropped).
func (e *Engine) backoff(attempt int) time.Duration {
	multiplier := math.Pow(2, float64(attempt-1))
	delay := time.Duration(float64(e.baseDelay) * multiplier)
	if e.maxDelay > 0 && delay > e.maxDelay {
		delay = e.maxDelay
	}
	return delay
}
