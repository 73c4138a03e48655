package dispatch

import (
	"errors"
	"fmt"
)

// ErrTaskRunning is returned when every execution of a batch is already
// in success or executing.
var ErrTaskRunning = errors.New("task is running or finished")

// PauseError is a cooperative halt raised by a pause-category execution.
// It carries the pause command's content as human-readable context.
type PauseError struct {
	Input  string
	Output string
}

func (e *PauseError) Error() string {
	return fmt.Sprintf("task paused: %s", e.Input)
}

// BindingError reports a failed late-binding lookup on a sync execution.
type BindingError struct {
	Hint   string
	Detail string
}

func (e *BindingError) Error() string {
	return fmt.Sprintf("late binding failed for %q: %s", e.Hint, e.Detail)
}
