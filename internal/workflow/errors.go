package workflow

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed definition, such as a duplicate node id
// or an edge referencing an undeclared node. It is raised synchronously from
// Compile, before any run exists.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "invalid definition: " + e.Msg
}

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConfigurationError reports an environment problem discovered at dispatch
// time, such as a code_ref with no registered handler. It fails the run, not
// the process.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Msg
}

// ErrAlreadyRunning is returned by StartWorkflow when the run for an
// explicitly supplied thread id is already occupying a worker.
var ErrAlreadyRunning = errors.New("workflow: run is already running")

// ErrRunTerminal is returned when a start targets a run that has reached a
// terminal status; terminal runs never go back to running.
var ErrRunTerminal = errors.New("workflow: run already reached a terminal status")

// ErrQueueFull is returned when the worker pool cannot accept another run.
var ErrQueueFull = errors.New("workflow: worker queue is full")
