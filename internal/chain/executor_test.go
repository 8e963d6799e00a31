package chain

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellirouter/intellirouter/internal/connector/mock"
	"github.com/intellirouter/intellirouter/internal/registry"
	"github.com/intellirouter/intellirouter/internal/routing"
	"github.com/intellirouter/intellirouter/internal/types"
)

func newTestExecutor(t *testing.T, response string) *Executor {
	t.Helper()
	reg := registry.New(logrus.New())
	conn := mock.New("m1").WithResponse(response)
	require.NoError(t, reg.Register(types.ModelMetadata{
		ID: "m1", Provider: "mock", Type: types.ModelTypeChat,
		Status: types.StatusAvailable, ContextWindow: 8192,
	}, conn))
	engine := routing.New(reg, logrus.New())
	return New(engine, logrus.New())
}

func TestExecutor_Execute_SingleStep(t *testing.T) {
	x := newTestExecutor(t, "hello there")

	c := types.Chain{
		ID: "c1",
		Steps: []types.Step{
			{ID: "s1", InputTemplate: "${input}"},
		},
	}

	exec, err := x.Execute(context.Background(), c, "hi", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, types.ExecutionSucceeded, exec.Status)
	assert.Equal(t, "hello there", exec.Output)
	assert.Equal(t, 1, exec.CompletedSteps)
}

func TestExecutor_Execute_ChainsStepOutputs(t *testing.T) {
	x := newTestExecutor(t, "step output")

	c := types.Chain{
		ID: "c1",
		Steps: []types.Step{
			{ID: "s1", InputTemplate: "${input}"},
			{ID: "s2", InputTemplate: "prefix:${steps.s1.output}"},
		},
	}

	exec, err := x.Execute(context.Background(), c, "hi", nil, nil)
	require.NoError(t, err)
	require.Len(t, exec.StepResults, 2)
	assert.Equal(t, "prefix:step output", exec.StepResults[1].Input)
}

func TestExecutor_Execute_UnknownVariableFails(t *testing.T) {
	x := newTestExecutor(t, "unused")

	c := types.Chain{
		ID: "c1",
		Steps: []types.Step{
			{ID: "s1", InputTemplate: "${variables.missing}"},
		},
	}

	exec, err := x.Execute(context.Background(), c, "hi", nil, nil)
	require.Error(t, err)
	assert.Equal(t, types.ExecutionFailed, exec.Status)
}

func TestExecutor_ExecuteStreaming_EmitsLifecycleEvents(t *testing.T) {
	x := newTestExecutor(t, "a b c")

	c := types.Chain{
		ID: "c1",
		Steps: []types.Step{
			{ID: "s1", InputTemplate: "${input}", Stream: true},
		},
	}

	var types_ []types.ChainEventType
	for ev := range x.ExecuteStreaming(context.Background(), c, "hi", nil) {
		types_ = append(types_, ev.Type)
	}

	assert.Contains(t, types_, types.EventStepStarted)
	assert.Contains(t, types_, types.EventStepCompleted)
	assert.Contains(t, types_, types.EventChainCompleted)
}

func TestExecutor_Cancel_AbortsInFlightStepAndKeepsPriorResults(t *testing.T) {
	reg := registry.New(logrus.New())
	conn := mock.New("m1").WithResponse("step output").WithLatency(150 * time.Millisecond)
	require.NoError(t, reg.Register(types.ModelMetadata{
		ID: "m1", Provider: "mock", Type: types.ModelTypeChat,
		Status: types.StatusAvailable, ContextWindow: 8192,
	}, conn))
	engine := routing.New(reg, logrus.New())
	x := New(engine, logrus.New())

	c := types.Chain{
		ID: "c1",
		Steps: []types.Step{
			{ID: "s1", InputTemplate: "${input}"},
			{ID: "s2", InputTemplate: "${steps.s1.output}"},
		},
	}

	var executionID string
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(200 * time.Millisecond)
		assert.True(t, x.Cancel(executionID))
	}()

	exec, err := x.Execute(context.Background(), c, "hi", nil, func(id string) { executionID = id })
	wg.Wait()

	require.Error(t, err)
	assert.Equal(t, types.ExecutionCancelled, exec.Status)
	require.Len(t, exec.StepResults, 2)
	assert.Equal(t, types.StepSucceeded, exec.StepResults[0].Status)
	assert.Equal(t, types.StepCancelled, exec.StepResults[1].Status)
}

func TestExecutor_Cancel_UnknownExecutionReturnsFalse(t *testing.T) {
	x := newTestExecutor(t, "unused")
	assert.False(t, x.Cancel("does-not-exist"))
}
