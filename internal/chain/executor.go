// Package chain implements sequential multi-step chain execution (spec
// §4.5): per-step template rendering, per-step routing through the
// routing engine, and an execution record updated as steps complete.
// There is no teacher equivalent — the teacher router serves single
// requests only — so this package is grounded on the teacher's
// request/response conventions (logrus.Fields logging, *apierr.Error
// propagation) applied to a new orchestration loop.
package chain

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/intellirouter/intellirouter/internal/apierr"
	"github.com/intellirouter/intellirouter/internal/connector"
	"github.com/intellirouter/intellirouter/internal/routing"
	"github.com/intellirouter/intellirouter/internal/types"
)

// Executor runs Chain definitions against the routing engine.
type Executor struct {
	engine *routing.Engine
	logger *logrus.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func New(engine *routing.Engine, logger *logrus.Logger) *Executor {
	if logger == nil {
		logger = logrus.New()
	}
	return &Executor{engine: engine, logger: logger, cancels: make(map[string]context.CancelFunc)}
}

// Cancel aborts the in-flight execution identified by executionID (spec
// §4.5 cancel): the running step's context is cancelled, which unwinds the
// connector call in progress, and run() records the terminal status as
// ExecutionCancelled while preserving every StepResult recorded so far. It
// reports false if executionID names no execution currently in flight
// (already finished, or never existed).
func (x *Executor) Cancel(executionID string) bool {
	x.mu.Lock()
	cancel, ok := x.cancels[executionID]
	x.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

func (x *Executor) track(executionID string, cancel context.CancelFunc) {
	x.mu.Lock()
	x.cancels[executionID] = cancel
	x.mu.Unlock()
}

func (x *Executor) untrack(executionID string) {
	x.mu.Lock()
	delete(x.cancels, executionID)
	x.mu.Unlock()
}

// Execute runs every step of chain sequentially against input and
// variables, returning the completed Execution record (spec §4.5
// non-streaming mode). Steps observe each other's output exclusively
// through ${steps.ID.output} template references — there is no shared
// mutable state between steps. onStart, if non-nil, is invoked with the
// execution's id as soon as it is assigned, before the first
// step runs, so a caller can publish a running record a concurrent request
// can later target with Cancel.
func (x *Executor) Execute(ctx context.Context, c types.Chain, input string, variables map[string]string, onStart func(executionID string)) (*types.Execution, error) {
	return x.run(ctx, c, input, variables, noopEmit, onStart)
}

// ExecuteStreaming runs chain the same way as Execute but additionally
// emits a types.ChainEvent for every step/token transition (spec §4.5
// streaming mode), each stamped with the execution id so a streaming
// client can learn it and issue a concurrent Cancel. The returned channel
// is closed when the chain terminates; cancelling ctx stops execution
// after the in-flight step completes or errors.
func (x *Executor) ExecuteStreaming(ctx context.Context, c types.Chain, input string, variables map[string]string) <-chan types.ChainEvent {
	events := make(chan types.ChainEvent, 16)
	go func() {
		defer close(events)
		emit := func(e types.ChainEvent) {
			select {
			case events <- e:
			case <-ctx.Done():
			}
		}
		_, _ = x.run(ctx, c, input, variables, emit, nil)
	}()
	return events
}

func (x *Executor) run(ctx context.Context, c types.Chain, input string, variables map[string]string, emit emitter, onStart func(string)) (*types.Execution, error) {
	exec := &types.Execution{
		ExecutionID: uuid.NewString(),
		ChainID:     c.ID,
		Status:      types.ExecutionRunning,
		TotalSteps:  len(c.Steps),
		StartTime:   time.Now(),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	x.track(exec.ExecutionID, cancel)
	defer x.untrack(exec.ExecutionID)

	rawEmit := emit
	emit = func(e types.ChainEvent) {
		e.ExecutionID = exec.ExecutionID
		rawEmit(e)
	}

	if onStart != nil {
		onStart(exec.ExecutionID)
	}

	stepOutputs := make(map[string]string, len(c.Steps))
	runningInput := input

	for i, step := range c.Steps {
		select {
		case <-ctx.Done():
			return x.cancelled(exec, step.ID, ctx.Err(), emit)
		default:
		}

		exec.CurrentStepID = step.ID
		rendered, err := render(step.InputTemplate, renderContext{Input: input, Variables: variables, Steps: stepOutputs})
		if err != nil {
			return x.fail(exec, step.ID, err, emit)
		}

		stepStarted(emit, step.ID, i, rendered)
		stepStart := time.Now()

		output, tokens, model, err := x.runStep(ctx, step, rendered, emit)
		duration := time.Since(stepStart)

		result := types.StepResult{
			StepID:    step.ID,
			Input:     rendered,
			StartTime: stepStart,
			EndTime:   time.Now(),
			Tokens:    tokens,
			Model:     model,
		}
		if err != nil {
			if ctx.Err() != nil {
				result.Status = types.StepCancelled
				result.Error = ctx.Err().Error()
				exec.StepResults = append(exec.StepResults, result)
				return x.cancelled(exec, step.ID, ctx.Err(), emit)
			}
			result.Status = types.StepFailed
			result.Error = err.Error()
			exec.StepResults = append(exec.StepResults, result)
			stepFailed(emit, step.ID, err)
			return x.fail(exec, step.ID, err, emit)
		}

		result.Status = types.StepSucceeded
		result.Output = output
		exec.StepResults = append(exec.StepResults, result)
		exec.CompletedSteps++
		exec.TotalTokens += tokens
		stepOutputs[step.ID] = output
		runningInput = output

		stepCompleted(emit, step.ID, output, tokens, duration.Milliseconds())
	}

	exec.Status = types.ExecutionSucceeded
	exec.Output = runningInput
	exec.EndTime = time.Now()
	chainCompleted(emit, exec.Output, exec.TotalTokens)
	return exec, nil
}

// cancelled finalizes exec as ExecutionCancelled (spec §4.5 cancel), keeping
// every StepResult recorded before the cancellation took effect.
func (x *Executor) cancelled(exec *types.Execution, stepID string, ctxErr error, emit emitter) (*types.Execution, error) {
	exec.Status = types.ExecutionCancelled
	exec.EndTime = time.Now()
	exec.Error = ctxErr.Error()
	chainFailed(emit, ctxErr)
	x.logger.WithFields(logrus.Fields{
		"chain_id": exec.ChainID,
		"step_id":  stepID,
	}).Info("chain execution cancelled")
	return exec, apierr.Wrap(apierr.Timeout, ctxErr, "chain: execution cancelled at step "+stepID)
}

func (x *Executor) fail(exec *types.Execution, stepID string, err error, emit emitter) (*types.Execution, error) {
	exec.Status = types.ExecutionFailed
	exec.Error = err.Error()
	exec.EndTime = time.Now()
	chainFailed(emit, err)
	x.logger.WithError(err).WithFields(logrus.Fields{
		"chain_id": exec.ChainID,
		"step_id":  stepID,
	}).Warn("chain execution failed")
	return exec, err
}

// runStep routes one step's rendered input through the engine and
// returns the assembled output text, token count, and selected model id.
func (x *Executor) runStep(ctx context.Context, step types.Step, rendered string, emit emitter) (string, int, string, error) {
	req := &types.ChatRequest{
		ID: uuid.NewString(),
		Messages: buildMessages(step, rendered),
		Stream:   step.Stream,
	}
	if step.MaxTokens != nil {
		req.MaxTokens = step.MaxTokens
	}
	if step.Temperature != nil {
		req.Temperature = step.Temperature
	}

	opts := types.RoutingOptions{MaxAttempts: 1}
	if step.ModelHint != "" {
		opts.PreferredModelID = step.ModelHint
		req.Model = step.ModelHint
	}

	var output string
	var tokens int
	var selectedModel string

	result, err := x.engine.Route(ctx, req, opts, func(ctx context.Context, conn connector.Connector, meta types.ModelMetadata) error {
		selectedModel = meta.ID
		req.Model = meta.ID

		if step.Stream {
			stream, err := conn.GenerateStream(ctx, req)
			if err != nil {
				return err
			}
			defer stream.Cancel()
			var sb strings.Builder
			for item := range stream.Chunks {
				if item.Err != nil {
					return item.Err
				}
				if len(item.Chunk.Choices) == 0 {
					continue
				}
				delta := item.Chunk.Choices[0].Delta
				if delta != nil {
					sb.WriteString(delta.ContentText())
					tokenGenerated(emit, step.ID, delta.ContentText())
				}
				if item.Chunk.Usage != nil {
					tokens = item.Chunk.Usage.CompletionTokens
				}
			}
			output = sb.String()
			return nil
		}

		resp, err := conn.Generate(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) > 0 {
			output = resp.Choices[0].Message.ContentText()
		}
		if resp.Usage != nil {
			tokens = resp.Usage.CompletionTokens
		}
		return nil
	})
	if err != nil {
		return "", 0, "", err
	}
	if selectedModel == "" {
		selectedModel = result.ModelID
	}
	return output, tokens, selectedModel, nil
}

func buildMessages(step types.Step, rendered string) []types.Message {
	msgs := make([]types.Message, 0, 2)
	if step.SystemPrompt != "" {
		msgs = append(msgs, types.Message{Role: "system", Content: step.SystemPrompt})
	}
	msgs = append(msgs, types.Message{Role: "user", Content: rendered})
	return msgs
}
