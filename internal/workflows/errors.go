package workflows

import (
	"errors"
	"fmt"

	"github.com/srujansrutha/amri/internal/state"
)

var (
	// ErrNotFound means no checkpoint exists for the thread.
	ErrNotFound = errors.New("thread not found")
	// ErrInvalidState means the operation does not apply to the thread's
	// current status, or the input was rejected.
	ErrInvalidState = errors.New("invalid thread state")
	// ErrStepExecution wraps a failure raised by a step.
	ErrStepExecution = errors.New("step execution failed")
	// ErrPersistence means the checkpoint store could not be read or written.
	ErrPersistence = errors.New("checkpoint persistence failed")
	// ErrThreadBusy means another execution holds the thread. It is reported
	// as an invalid-state error.
	ErrThreadBusy = errors.New("thread has an execution in flight")
)

// Error carries the kind of failure plus where it happened. Kind is one of
// the sentinels above; errors.Is matches both Kind and the cause.
type Error struct {
	Kind     error
	ThreadID string
	Step     state.Step
	Err      error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.ThreadID != "" {
		msg = fmt.Sprintf("%s (thread %s", msg, e.ThreadID)
		if e.Step != "" {
			msg += ", step " + string(e.Step)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, threadID string, step state.Step, err error) *Error {
	return &Error{Kind: kind, ThreadID: threadID, Step: step, Err: err}
}
