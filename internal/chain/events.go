package chain

import "github.com/intellirouter/intellirouter/internal/types"

// emitter narrows chan<- types.ChainEvent to the subset executor.go needs,
// letting tests substitute a buffered slice-backed sink.
type emitter func(types.ChainEvent)

func noopEmit(types.ChainEvent) {}

func stepStarted(emit emitter, stepID string, index int, input string) {
	emit(types.ChainEvent{Type: types.EventStepStarted, StepID: stepID, Index: index, Input: input})
}

func tokenGenerated(emit emitter, stepID string, token string) {
	emit(types.ChainEvent{Type: types.EventTokenGenerated, StepID: stepID, Token: token})
}

func stepCompleted(emit emitter, stepID string, output string, tokens int, durationMS int64) {
	emit(types.ChainEvent{Type: types.EventStepCompleted, StepID: stepID, Output: output, Tokens: tokens, DurationMS: durationMS})
}

func stepFailed(emit emitter, stepID string, err error) {
	emit(types.ChainEvent{Type: types.EventStepFailed, StepID: stepID, Error: err.Error()})
}

func chainCompleted(emit emitter, output string, totalTokens int) {
	emit(types.ChainEvent{Type: types.EventChainCompleted, Output: output, TotalTokens: totalTokens})
}

func chainFailed(emit emitter, err error) {
	emit(types.ChainEvent{Type: types.EventChainFailed, Error: err.Error()})
}
