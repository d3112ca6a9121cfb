package executor

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Executor knows how to run a command line locally or over SSH
// and return its typed outcome.
type Executor interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// Command is a single shell command line. Sudo asks the executor to run it
// with elevated privileges.
type Command struct {
	Line string
	Sudo bool
}

func (c Command) String() string {
	if c.Sudo {
		return "sudo " + c.Line
	}
	return c.Line
}

// Result captures what a command printed and how it exited.
// ExitStatus is -1 when the command never reported one.
type Result struct {
	Command    string        `json:"command"`
	ExitStatus int           `json:"exitStatus"`
	Stdout     []string      `json:"stdout,omitempty"`
	Stderr     []string      `json:"stderr,omitempty"`
	Duration   time.Duration `json:"duration"`
}

func (r *Result) Success() bool {
	return r != nil && r.ExitStatus == 0
}

// ExitError is returned alongside the Result when a command ran and exited
// with a non-zero status.
type ExitError struct {
	Result *Result
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command %q exited with status %d", e.Result.Command, e.Result.ExitStatus)
	if len(e.Result.Stderr) > 0 {
		msg += ": " + strings.Join(e.Result.Stderr, "\n")
	}
	return msg
}

func (e *ExitError) ExitCode() int {
	return e.Result.ExitStatus
}
