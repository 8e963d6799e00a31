package types

import "time"

// Step is one node of a Chain (spec §3).
type Step struct {
	ID            string                 `json:"id"`
	ModelHint     string                 `json:"model_hint,omitempty"`
	SystemPrompt  string                 `json:"system_prompt,omitempty"`
	InputTemplate string                 `json:"input_template"`
	OutputFormat  string                 `json:"output_format,omitempty"`
	MaxTokens     *int                   `json:"max_tokens,omitempty"`
	Temperature   *float32               `json:"temperature,omitempty"`
	Stream        bool                   `json:"stream,omitempty"`
	Params        map[string]interface{} `json:"params,omitempty"`
}

// Chain is an ordered sequence of steps (spec §3 / §4.5).
type Chain struct {
	ID      string `json:"id"`
	Version string `json:"version,omitempty"`
	Steps   []Step `json:"steps"`
}

// ExecutionStatus is the lifecycle state of a chain run (spec §3).
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// StepStatus is the lifecycle state of one step result.
type StepStatus string

const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepCancelled StepStatus = "cancelled"
)

// StepResult records the outcome of one executed step.
type StepResult struct {
	StepID    string     `json:"step_id"`
	Status    StepStatus `json:"status"`
	Input     string     `json:"input"`
	Output    string     `json:"output,omitempty"`
	Error     string     `json:"error,omitempty"`
	StartTime time.Time  `json:"start_time"`
	EndTime   time.Time  `json:"end_time"`
	Tokens    int        `json:"tokens"`
	Model     string     `json:"model,omitempty"`
}

// Execution is the run-time record of one chain invocation (spec §3).
type Execution struct {
	ExecutionID    string          `json:"execution_id"`
	ChainID        string          `json:"chain_id"`
	Status         ExecutionStatus `json:"status"`
	CurrentStepID  string          `json:"current_step_id,omitempty"`
	CompletedSteps int             `json:"completed_steps"`
	TotalSteps     int             `json:"total_steps"`
	StartTime      time.Time       `json:"start_time"`
	EndTime        time.Time       `json:"end_time,omitempty"`
	Output         string          `json:"output,omitempty"`
	StepResults    []StepResult    `json:"step_results"`
	TotalTokens    int             `json:"total_tokens"`
	Error          string          `json:"error,omitempty"`
}

// ChainExecutionResponse is the non-streaming execute() reply (spec §4.5).
type ChainExecutionResponse struct {
	ExecutionID string       `json:"execution_id"`
	ChainID     string       `json:"chain_id"`
	Status      ExecutionStatus `json:"status"`
	Output      string       `json:"output,omitempty"`
	StepResults []StepResult `json:"step_results"`
	TotalTokens int          `json:"total_tokens"`
	Error       string       `json:"error,omitempty"`
}

// ChainEventType enumerates the streaming-mode event kinds (spec §4.5).
type ChainEventType string

const (
	EventStepStarted     ChainEventType = "step_started"
	EventTokenGenerated   ChainEventType = "token_generated"
	EventStepCompleted    ChainEventType = "step_completed"
	EventStepFailed       ChainEventType = "step_failed"
	EventChainCompleted   ChainEventType = "chain_completed"
	EventChainFailed      ChainEventType = "chain_failed"
)

// ChainEvent is one item of the chain executor's streaming-mode event
// sequence (spec §4.5).
type ChainEvent struct {
	Type        ChainEventType `json:"type"`
	ExecutionID string         `json:"execution_id,omitempty"`
	StepID      string         `json:"step_id,omitempty"`
	Index       int            `json:"index,omitempty"`
	Input       string         `json:"input,omitempty"`
	Token       string         `json:"token,omitempty"`
	Output      string         `json:"output,omitempty"`
	Tokens      int            `json:"tokens,omitempty"`
	Error       string         `json:"error,omitempty"`
	TotalTokens int            `json:"total_tokens,omitempty"`
	DurationMS  int64          `json:"duration_ms,omitempty"`
}
