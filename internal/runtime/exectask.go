package runtime

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/pkg/errors"
)

var ErrTimeout = errors.New("process timed out")

// ExecCommandFunc creates the exec.Cmd for a task. Tests swap it for a helper process.
type ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

type ExecTask struct {
	Command string
	Args    []string
	// Env is appended to the inherited environment.
	Env   []string
	Cwd   string
	Stdin io.Reader

	// OutputFile, when set, receives combined stdout and stderr; the file
	// contents are read back into ExecResult.Stdout after the process exits.
	OutputFile string

	// Timeout bounds the process; zero leaves only the context deadline.
	Timeout time.Duration

	ExecCommand ExecCommandFunc
}

type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Execute runs the task to completion. A non-zero exit is reported through
// ExitCode, not as an error; errors mean the process could not run at all.
func (t ExecTask) Execute(ctx context.Context) (ExecResult, error) {
	var res ExecResult

	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	execCommand := t.ExecCommand
	if execCommand == nil {
		execCommand = exec.CommandContext
	}

	cmd := execCommand(ctx, t.Command, t.Args...)
	if len(t.Env) > 0 {
		base := cmd.Env
		if base == nil {
			base = os.Environ()
		}
		cmd.Env = append(base, t.Env...)
	}
	if t.Cwd != "" {
		cmd.Dir = t.Cwd
	}
	if t.Stdin != nil {
		cmd.Stdin = t.Stdin
	}

	var stdout, stderr bytes.Buffer
	if t.OutputFile != "" {
		out, err := os.Create(t.OutputFile)
		if err != nil {
			return res, errors.Wrapf(err, "unable to create output file %s", t.OutputFile)
		}
		defer out.Close()
		cmd.Stdout = out
		cmd.Stderr = out
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	start := time.Now()
	err := cmd.Run()
	res.Duration = time.Since(start)

	if t.OutputFile != "" {
		data, readErr := os.ReadFile(t.OutputFile)
		if readErr != nil {
			return res, errors.Wrapf(readErr, "unable to read output file %s", t.OutputFile)
		}
		res.Stdout = string(data)
	} else {
		res.Stdout = stdout.String()
		res.Stderr = stderr.String()
	}

	// Partial output stays in res on timeout.
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(ctxErr, context.DeadlineExceeded) {
		return res, errors.Wrapf(ErrTimeout, "%s exceeded %s", t.Command, res.Duration.Round(time.Millisecond))
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return res, errors.Wrapf(err, "unable to run %s", t.Command)
	}
	return res, nil
}
