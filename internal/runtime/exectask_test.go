package runtime

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func TestExecTaskCapturesStreams(t *testing.T) {
	sh := requireShell(t)

	res, err := ExecTask{
		Command: sh,
		Args:    []string{"-c", "echo out; echo err >&2"},
	}.Execute(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
}

func TestExecTaskCombinesIntoOutputFile(t *testing.T) {
	sh := requireShell(t)
	output := filepath.Join(t.TempDir(), "stdout.txt")

	res, err := ExecTask{
		Command:    sh,
		Args:       []string{"-c", "echo hi; echo oops >&2"},
		OutputFile: output,
	}.Execute(context.Background())

	require.NoError(t, err)
	assert.Contains(t, res.Stdout, "hi\n")
	assert.Contains(t, res.Stdout, "oops\n")
	assert.Empty(t, res.Stderr)
}

func TestExecTaskReportsExitCode(t *testing.T) {
	sh := requireShell(t)

	res, err := ExecTask{
		Command: sh,
		Args:    []string{"-c", "echo failing; exit 3"},
	}.Execute(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "failing\n", res.Stdout)
}

func TestExecTaskForwardsEnv(t *testing.T) {
	sh := requireShell(t)

	res, err := ExecTask{
		Command: sh,
		Args:    []string{"-c", "echo $REQUEST_ID"},
		Env:     []string{"REQUEST_ID=abc-123"},
	}.Execute(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "abc-123\n", res.Stdout)
}

func TestExecTaskStdin(t *testing.T) {
	sh := requireShell(t)

	res, err := ExecTask{
		Command: sh,
		Args:    []string{"-c", "cat"},
		Stdin:   strings.NewReader("piped"),
	}.Execute(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "piped", res.Stdout)
}

func TestExecTaskTimeout(t *testing.T) {
	sh := requireShell(t)

	_, err := ExecTask{
		Command: sh,
		Args:    []string{"-c", "exec sleep 5"},
		Timeout: 50 * time.Millisecond,
	}.Execute(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestExecTaskTimeoutKeepsPartialOutput(t *testing.T) {
	sh := requireShell(t)
	output := filepath.Join(t.TempDir(), "stdout.txt")

	res, err := ExecTask{
		Command:    sh,
		Args:       []string{"-c", "echo partial; exec sleep 5"},
		OutputFile: output,
		Timeout:    300 * time.Millisecond,
	}.Execute(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, "partial\n", res.Stdout)
}

func TestExecTaskMissingBinary(t *testing.T) {
	_, err := ExecTask{
		Command: filepath.Join(t.TempDir(), "does-not-exist"),
	}.Execute(context.Background())

	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTimeout))
}
