package supervisor

import (
	"fmt"
	"io"

	"github.com/refinery-labs/container-lambda/internal/planner"
)

// State tracks how far an invocation progressed.
type State string

const (
	StateReceived         State = "RECEIVED"
	StateStagedEvent      State = "STAGED_EVENT"
	StateInputDownloaded  State = "INPUT_DOWNLOADED"
	StateEnvironmentReady State = "ENVIRONMENT_READY"
	StateContainerReady   State = "CONTAINER_READY"
	StateCommandPlanned   State = "COMMAND_PLANNED"
	StateExecuted         State = "EXECUTED"
	StateOutputUploaded   State = "OUTPUT_UPLOADED"
	StateDone             State = "DONE"
	StateFailed           State = "FAILED"
)

// Step names the part of the pipeline an error came from.
type Step string

const (
	StepStage     Step = "stage"
	StepDownload  Step = "download"
	StepBootstrap Step = "bootstrap"
	StepProvision Step = "provision"
	StepPlan      Step = "plan"
	StepExecute   Step = "execute"
	StepUpload    Step = "upload"
)

type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Format prints the wrapped error's stack trace with %+v.
func (e *StepError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "%s step failed: %+v", e.Step, e.Err)
			return
		}
		fallthrough
	case 's':
		io.WriteString(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}

type Result struct {
	State State
	Mode  planner.Mode
	// Output is the container's combined stdout and stderr.
	Output   string
	ExitCode int
	Uploaded []string
	Err      *StepError
}

func (r *Result) Failed() bool {
	return r.Err != nil
}

func (r *Result) fail(step Step, err error) {
	r.State = StateFailed
	r.Err = &StepError{Step: step, Err: err}
}
