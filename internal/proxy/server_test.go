package proxy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellirouter/intellirouter/internal/chain"
	"github.com/intellirouter/intellirouter/internal/connector/mock"
	"github.com/intellirouter/intellirouter/internal/metrics"
	"github.com/intellirouter/intellirouter/internal/registry"
	"github.com/intellirouter/intellirouter/internal/routing"
	"github.com/intellirouter/intellirouter/internal/types"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := logrus.New()
	reg := registry.New(logger)
	conn := mock.New("m1").WithResponse("hello from mock")
	require.NoError(t, reg.Register(types.ModelMetadata{
		ID: "m1", Provider: "mock", Type: types.ModelTypeChat,
		Status: types.StatusAvailable, ContextWindow: 8192,
		Capabilities: types.Capabilities{Streaming: true},
	}, conn))

	engine := routing.New(reg, logger)
	executor := chain.New(engine, logger)
	m := metrics.New()

	return New(Config{Port: "0"}, reg, engine, executor, m, logger, nil, nil)
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rec, req)
	return rec
}

func TestHandleChatCompletion_NonStreaming(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/v1/chat/completions", map[string]interface{}{
		"model":    "m1",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-IntelliRouter-Route"))

	var resp types.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hello from mock", resp.Choices[0].Message.ContentText())
}

func TestHandleChatCompletion_InvalidJSON(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var errResp types.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "invalid_request", errResp.Error.Type)
}

func TestHandleChatCompletion_EmptyMessagesRejected(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/v1/chat/completions", map[string]interface{}{
		"model":    "m1",
		"messages": []map[string]string{},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChatCompletion_Streaming(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(`{
		"model": "m1",
		"messages": [{"role": "user", "content": "hi"}],
		"stream": true
	}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	scanner := bufio.NewScanner(rec.Body)
	var sawDone bool
	var frames int
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		frames++
		if strings.TrimPrefix(line, "data: ") == "[DONE]" {
			sawDone = true
		}
	}
	assert.True(t, sawDone, "expected a terminal [DONE] frame")
	assert.Greater(t, frames, 1)
}

func TestHandleListModels(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/v1/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp types.ModelsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "m1", resp.Data[0].ID)
}

func TestHandleGetModel_Unknown(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/v1/models/does-not-exist", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestHandleMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "intellirouter_")
}

func TestChainLifecycle(t *testing.T) {
	s := newTestServer(t)

	chainDef := map[string]interface{}{
		"id": "c1",
		"steps": []map[string]string{
			{"id": "s1", "input_template": "${input}"},
		},
	}

	putRec := doRequest(t, s, http.MethodPut, "/v1/chains", chainDef)
	require.Equal(t, http.StatusOK, putRec.Code)

	listRec := doRequest(t, s, http.MethodGet, "/v1/chains", nil)
	require.Equal(t, http.StatusOK, listRec.Code)
	var listBody map[string][]types.Chain
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &listBody))
	assert.Len(t, listBody["chains"], 1)

	getRec := doRequest(t, s, http.MethodGet, "/v1/chains/c1", nil)
	require.Equal(t, http.StatusOK, getRec.Code)

	execRec := doRequest(t, s, http.MethodPost, "/v1/chains/c1/execute", map[string]interface{}{
		"input": "hi there",
	})
	require.Equal(t, http.StatusOK, execRec.Code)
	var execResp types.ChainExecutionResponse
	require.NoError(t, json.Unmarshal(execRec.Body.Bytes(), &execResp))
	assert.Equal(t, types.ExecutionSucceeded, execResp.Status)
	assert.Equal(t, "hello from mock", execResp.Output)

	getExecRec := doRequest(t, s, http.MethodGet, "/v1/chains/c1/executions/"+execResp.ExecutionID, nil)
	require.Equal(t, http.StatusOK, getExecRec.Code)

	deleteRec := doRequest(t, s, http.MethodDelete, "/v1/chains/c1", nil)
	assert.Equal(t, http.StatusNoContent, deleteRec.Code)

	getAfterDeleteRec := doRequest(t, s, http.MethodGet, "/v1/chains/c1", nil)
	assert.Equal(t, http.StatusBadRequest, getAfterDeleteRec.Code)
}

func TestHandleExecuteChain_ExecutorDisabled(t *testing.T) {
	s := newTestServer(t)
	s.executor = nil

	putRec := doRequest(t, s, http.MethodPut, "/v1/chains", map[string]interface{}{
		"id": "c1",
		"steps": []map[string]string{
			{"id": "s1", "input_template": "${input}"},
		},
	})
	require.Equal(t, http.StatusOK, putRec.Code)

	execRec := doRequest(t, s, http.MethodPost, "/v1/chains/c1/execute", map[string]interface{}{"input": "hi"})
	assert.Equal(t, http.StatusInternalServerError, execRec.Code)
}

func TestHandleCancelExecution_UnknownExecutionReturnsBadRequest(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/v1/chains/c1/executions/does-not-exist/cancel", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var errResp types.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "invalid_request", errResp.Error.Type)
}

// TestHandleCancelExecution_AbortsInFlightRunAndPreservesPriorSteps drives the
// cancel HTTP route against a real in-flight execution: the chain runs
// through s.executor directly (so the test learns the execution id the
// moment it is assigned, the same way the non-streaming handler's onStart
// callback does), while the cancel request itself goes through the full
// route table, exercising handleCancelExecution end to end.
func TestHandleCancelExecution_AbortsInFlightRunAndPreservesPriorSteps(t *testing.T) {
	logger := logrus.New()
	reg := registry.New(logger)
	conn := mock.New("m1").WithResponse("step output").WithLatency(150 * time.Millisecond)
	require.NoError(t, reg.Register(types.ModelMetadata{
		ID: "m1", Provider: "mock", Type: types.ModelTypeChat,
		Status: types.StatusAvailable, ContextWindow: 8192,
	}, conn))
	engine := routing.New(reg, logger)
	executor := chain.New(engine, logger)
	s := New(Config{Port: "0"}, reg, engine, executor, metrics.New(), logger, nil, nil)
	router := s.setupRoutes()

	c := types.Chain{
		ID: "c1",
		Steps: []types.Step{
			{ID: "s1", InputTemplate: "${input}"},
			{ID: "s2", InputTemplate: "${steps.s1.output}"},
		},
	}

	var executionID string
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(1)
	var exec *types.Execution
	var execErr error
	go func() {
		defer wg.Done()
		exec, execErr = executor.Execute(context.Background(), c, "hi", nil, func(id string) {
			mu.Lock()
			executionID = id
			mu.Unlock()
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return executionID != ""
	}, time.Second, time.Millisecond)

	mu.Lock()
	id := executionID
	mu.Unlock()

	// Let s1 (150ms) finish so the cancel lands while s2 is in flight.
	time.Sleep(200 * time.Millisecond)

	cancelRec := httptest.NewRecorder()
	cancelReq := httptest.NewRequest(http.MethodPost, "/v1/chains/c1/executions/"+id+"/cancel", nil)
	router.ServeHTTP(cancelRec, cancelReq)
	require.Equal(t, http.StatusOK, cancelRec.Code)

	var cancelResp map[string]interface{}
	require.NoError(t, json.Unmarshal(cancelRec.Body.Bytes(), &cancelResp))
	assert.Equal(t, true, cancelResp["cancelled"])

	wg.Wait()
	require.Error(t, execErr)
	assert.Equal(t, types.ExecutionCancelled, exec.Status)
	require.Len(t, exec.StepResults, 2)
	assert.Equal(t, types.StepSucceeded, exec.StepResults[0].Status)
	assert.Equal(t, types.StepCancelled, exec.StepResults[1].Status)
}
