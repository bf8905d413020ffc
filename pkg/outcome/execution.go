package outcome

import (
	"fmt"
	"time"
)

// Execution is an immutable record of one concluded operation. It is
// built once by a per-state factory and never mutated afterward.
type Execution struct {
	state    State
	value    interface{}
	err      error
	duration time.Duration
	metadata map[string]interface{}
}

// Success records a completed operation carrying a result value.
func Success(value interface{}, duration time.Duration) Execution {
	return newExecution(StateSuccess, value, nil, duration)
}

// FinalAnswer records a completed operation whose value is the agent's
// final answer.
func FinalAnswer(value interface{}, duration time.Duration) Execution {
	return newExecution(StateFinalAnswer, value, nil, duration)
}

// Failure records an errored operation.
func Failure(err error, duration time.Duration) Execution {
	if err == nil {
		err = fmt.Errorf("operation failed")
	}
	return newExecution(StateError, nil, err, duration)
}

// MaxSteps records an operation that hit its step limit.
func MaxSteps(duration time.Duration) Execution {
	return newExecution(StateMaxSteps, nil, nil, duration)
}

// Timeout records an operation that ran out of time.
func Timeout(duration time.Duration) Execution {
	return newExecution(StateTimeout, nil, nil, duration)
}

// Partial records a resumable-but-incomplete operation.
func Partial(duration time.Duration) Execution {
	return newExecution(StatePartial, nil, nil, duration)
}

func newExecution(state State, value interface{}, err error, duration time.Duration) Execution {
	if duration < 0 {
		duration = 0
	}
	return Execution{
		state:    state,
		value:    value,
		err:      err,
		duration: duration,
	}
}

// WithMetadata returns a copy of the execution carrying the given
// metadata entries. Metadata is an open mapping for domain-specific
// fields (tool name, step number) rather than subclassing.
func (e Execution) WithMetadata(metadata map[string]interface{}) Execution {
	if len(metadata) == 0 {
		return e
	}

	merged := make(map[string]interface{}, len(e.metadata)+len(metadata))
	for k, v := range e.metadata {
		merged[k] = v
	}
	for k, v := range metadata {
		merged[k] = v
	}

	e.metadata = merged
	return e
}

// State returns the outcome tag.
func (e Execution) State() State {
	return e.state
}

// OutcomeState implements StateReporter.
func (e Execution) OutcomeState() State {
	return e.state
}

// Value returns the result value. It is set only for completed states.
func (e Execution) Value() interface{} {
	return e.value
}

// Err returns the failure cause. It is set only for the error state.
func (e Execution) Err() error {
	return e.err
}

// Duration returns how long the operation ran.
func (e Execution) Duration() time.Duration {
	return e.duration
}

// Metadata returns a copy of the metadata map.
func (e Execution) Metadata() map[string]interface{} {
	if e.metadata == nil {
		return nil
	}

	copied := make(map[string]interface{}, len(e.metadata))
	for k, v := range e.metadata {
		copied[k] = v
	}
	return copied
}

// Completed returns true for success-like outcomes.
func (e Execution) Completed() bool {
	return e.state.Completed()
}

// Failed returns true for failure-like outcomes.
func (e Execution) Failed() bool {
	return e.state.Failed()
}

// Unwrap returns the value for completed outcomes and an error for
// everything else, so callers can treat an execution like an ordinary
// function result.
func (e Execution) Unwrap() (interface{}, error) {
	if e.state.Completed() {
		return e.value, nil
	}
	if e.err != nil {
		return nil, e.err
	}
	return nil, fmt.Errorf("execution ended with state %s", e.state)
}

// EventPayload converts the execution into a loggable event payload.
// Completed outcomes carry the value; errored outcomes carry the error
// class name and message; never both.
func (e Execution) EventPayload() map[string]interface{} {
	payload := map[string]interface{}{
		"state":       string(e.state),
		"duration_ms": e.duration.Milliseconds(),
		"timestamp":   time.Now().UnixMilli(),
	}

	if len(e.metadata) > 0 {
		payload["metadata"] = e.Metadata()
	}

	if e.state.Completed() {
		payload["value"] = e.value
	} else if e.err != nil {
		payload["error_type"] = fmt.Sprintf("%T", e.err)
		payload["error"] = e.err.Error()
	}

	return payload
}
