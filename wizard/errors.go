package wizard

import (
	"errors"
	"fmt"
)

var (
	ErrBusy    = errors.New("another action is still running")
	ErrClosed  = errors.New("wizard closed")
	ErrNoMedia = errors.New("no recording to submit")
)

// TransitionError reports an action that is not valid in the current step.
type TransitionError struct {
	Action string
	Step   Step
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s during %s step", e.Action, e.Step)
}

// SubmissionError wraps a sink failure. The recording it was sent with is
// still held by the session.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string { return "submission failed: " + e.Err.Error() }

func (e *SubmissionError) Unwrap() error { return e.Err }
