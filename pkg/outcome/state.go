package outcome

// State classifies how an operation ended.
type State string

const (
	StateSuccess     State = "success"
	StateFinalAnswer State = "final_answer"
	StateError       State = "error"
	StateMaxSteps    State = "max_steps_reached"
	StateTimeout     State = "timeout"
	StatePartial     State = "partial"
)

// StateReporter is implemented by results that carry their own state.
type StateReporter interface {
	OutcomeState() State
}

// Valid returns true if the state is one of the known tags.
func (s State) Valid() bool {
	switch s {
	case StateSuccess, StateFinalAnswer, StateError, StateMaxSteps, StateTimeout, StatePartial:
		return true
	}
	return false
}

// Terminal returns true if the state ends the unit of work for good.
func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateFinalAnswer, StateError, StateTimeout:
		return true
	}
	return false
}

// Retriable returns true if the unit of work may be attempted again.
// Partial counts as retriable: the work is resumable but incomplete.
func (s State) Retriable() bool {
	switch s {
	case StateMaxSteps, StatePartial:
		return true
	}
	return false
}

// Completed returns true for success-like states.
func (s State) Completed() bool {
	return s == StateSuccess || s == StateFinalAnswer
}

// Failed returns true for failure-like states.
func (s State) Failed() bool {
	return s == StateError || s == StateTimeout
}

// Derive computes the canonical state for a result. An override error
// always wins, even when the result itself reports success: the
// operation looked done but the caller detected a problem afterward.
// Derive is total; it never panics and always returns a valid tag.
func Derive(result StateReporter, override error) State {
	if override != nil {
		return StateError
	}

	if result == nil {
		return StateError
	}

	if s := result.OutcomeState(); s.Valid() {
		return s
	}

	return StateError
}
