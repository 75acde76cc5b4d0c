package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/refinery-labs/container-lambda/internal/runtime"
)

var ErrCommandFailed = errors.New("udocker command failed")

// CommandError carries the exit status and output of a failed engine command.
type CommandError struct {
	Args     []string
	ExitCode int
	Output   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("udocker %s exited with status %d: %s",
		strings.Join(e.Args, " "), e.ExitCode, strings.TrimSpace(e.Output))
}

func (e *CommandError) Unwrap() error { return ErrCommandFailed }

type Option func(*Udocker)

// WithExecCommand replaces process creation, for tests.
func WithExecCommand(fn runtime.ExecCommandFunc) Option {
	return func(u *Udocker) {
		u.execCommand = fn
	}
}

// Udocker runs the udocker binary with HOME pointed at its state directory.
type Udocker struct {
	binary      string
	home        string
	execCommand runtime.ExecCommandFunc
	logger      *zap.Logger
}

func New(binary, home string, logger *zap.Logger, opts ...Option) *Udocker {
	u := &Udocker{
		binary: binary,
		home:   home,
		logger: logger.Named("udocker"),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func (u *Udocker) task(args []string) runtime.ExecTask {
	return runtime.ExecTask{
		Command:     u.binary,
		Args:        args,
		Env:         []string{"HOME=" + u.home},
		ExecCommand: u.execCommand,
	}
}

func (u *Udocker) command(ctx context.Context, args ...string) (string, error) {
	u.logger.Debug("running udocker", zap.Strings("args", args))

	res, err := u.task(args).Execute(ctx)
	if err != nil {
		return "", errors.Wrapf(err, "udocker %s", args[0])
	}
	if res.ExitCode != 0 {
		return "", errors.WithStack(&CommandError{
			Args:     args,
			ExitCode: res.ExitCode,
			Output:   res.Stdout + res.Stderr,
		})
	}
	return res.Stdout, nil
}

func (u *Udocker) Images(ctx context.Context) ([]string, error) {
	out, err := u.command(ctx, "images")
	if err != nil {
		return nil, err
	}
	return parseImages(out), nil
}

func (u *Udocker) Pull(ctx context.Context, image string) error {
	_, err := u.command(ctx, "pull", image)
	return err
}

func (u *Udocker) Containers(ctx context.Context) ([]Container, error) {
	out, err := u.command(ctx, "ps")
	if err != nil {
		return nil, err
	}
	return parseContainers(out), nil
}

func (u *Udocker) Create(ctx context.Context, name, image string) error {
	_, err := u.command(ctx, "create", "--name="+name, image)
	return err
}

// Setup sets the container execution mode, e.g. F1 for fakechroot.
func (u *Udocker) Setup(ctx context.Context, name, execMode string) error {
	_, err := u.command(ctx, "setup", "--execmode="+execMode, name)
	return err
}

func (u *Udocker) Remove(ctx context.Context, name string) error {
	_, err := u.command(ctx, "rm", name)
	return err
}

// Run executes the engine with fully planned arguments, sending combined
// output to outputFile. The container's exit status is returned in the result
// and is never turned into an error here.
func (u *Udocker) Run(ctx context.Context, args []string, outputFile string, timeout time.Duration) (runtime.ExecResult, error) {
	task := u.task(args)
	task.OutputFile = outputFile
	task.Timeout = timeout

	u.logger.Info("udocker command", zap.String("binary", u.binary), zap.Strings("args", args))
	res, err := task.Execute(ctx)
	if err != nil {
		return res, errors.Wrap(err, "udocker run")
	}
	return res, nil
}
