// Package pipeline builds and runs the external analysis tools.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Command is one invocation of an external tool.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Result captures what a finished command produced.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner executes commands. Implementations must honour ctx cancellation.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Command, e.Code)
	if tail := lastLine(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

// ExecRunner runs commands as local subprocesses.
type ExecRunner struct {
	Logger logrus.FieldLogger
}

func NewExecRunner(logger logrus.FieldLogger) *ExecRunner {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ExecRunner{Logger: logger}
}

func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.Logger.WithField("dir", c.Dir).Infof("running command: %s", c)
	start := time.Now()
	runErr := cmd.Run()
	res := Result{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	r.Logger.WithFields(logrus.Fields{
		"exit_code": res.ExitCode,
		"duration":  res.Duration.Round(time.Millisecond),
	}).Infof("stdout: %s stderr: %s", res.Stdout, res.Stderr)

	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, fmt.Errorf("run %s: %w", c.Name, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return res, &ExitError{Command: c.Name, Code: res.ExitCode, Stderr: res.Stderr}
		}
		return res, fmt.Errorf("run %s: %w", c.Name, runErr)
	}
	return res, nil
}

var _ Runner = (*ExecRunner)(nil)
