package supervisor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/refinery-labs/container-lambda/internal/config"
	"github.com/refinery-labs/container-lambda/internal/planner"
	"github.com/refinery-labs/container-lambda/internal/runtime"
	"github.com/refinery-labs/container-lambda/internal/staging"
)

type Bootstrapper interface {
	PrepareEnvironment() error
}

type Provisioner interface {
	PrepareContainer(ctx context.Context, image string) error
}

type Runner interface {
	Run(ctx context.Context, args []string, outputFile string, timeout time.Duration) (runtime.ExecResult, error)
}

type Stager interface {
	DownloadInput(ctx context.Context, req runtime.Request, requestID string) error
	UploadOutput(ctx context.Context, requestID, bucket string) ([]string, error)
	OutputBucket(req runtime.Request) string
}

type Deps struct {
	Bootstrapper Bootstrapper
	Provisioner  Provisioner
	Runner       Runner
	Stager       Stager
}

// Invocation identifies one call. Log coordinates only feed the report preamble.
type Invocation struct {
	RequestID     string
	LogGroupName  string
	LogStreamName string
	Payload       []byte
}

// NewInvocation reads the request id from the Lambda context, falling back to
// a random id outside Lambda.
func NewInvocation(ctx context.Context, payload []byte) Invocation {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	inv := Invocation{
		LogGroupName:  lambdacontext.LogGroupName,
		LogStreamName: lambdacontext.LogStreamName,
		Payload:       payload,
	}
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		inv.RequestID = lc.AwsRequestID
	} else {
		inv.RequestID = uuid.New().String()
	}
	return inv
}

type Handler struct {
	cfg     *config.Config
	fs      afero.Fs
	planner *planner.Planner
	deps    Deps
	logger  *zap.Logger
}

func NewHandler(cfg *config.Config, fs afero.Fs, deps Deps, logger *zap.Logger) *Handler {
	return &Handler{
		cfg:     cfg,
		fs:      fs,
		planner: planner.New(fs, cfg),
		deps:    deps,
		logger:  logger.Named("supervisor"),
	}
}

// Handle is the Lambda entrypoint. It never returns an error: failures are
// rendered into the returned report.
func (h *Handler) Handle(ctx context.Context, payload json.RawMessage) (string, error) {
	inv := NewInvocation(ctx, payload)
	h.logger.Debug("received event",
		zap.String("request_id", inv.RequestID),
		zap.ByteString("event", inv.Payload),
	)

	res := h.Invoke(ctx, inv)
	report := Report(inv, res)

	h.logger.Info("invocation finished",
		zap.String("request_id", inv.RequestID),
		zap.String("state", string(res.State)),
		zap.Int("exit_code", res.ExitCode),
		zap.Strings("uploaded", res.Uploaded),
		zap.String("report", report),
	)
	return report, nil
}

// HandleAPIGateway runs the same pipeline for a proxied HTTP request, using
// the body as the payload.
func (h *Handler) HandleAPIGateway(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	body := []byte(request.Body)
	if request.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(request.Body)
		if err != nil {
			return events.APIGatewayProxyResponse{StatusCode: 400, Body: "invalid base64 body"}, nil
		}
		body = decoded
	}

	report, _ := h.Handle(ctx, body)
	return events.APIGatewayProxyResponse{
		StatusCode: 200,
		Headers:    map[string]string{"Content-Type": "text/plain; charset=utf-8"},
		Body:       report,
	}, nil
}

// Invoke runs the pipeline for one invocation. Each step runs once, in order;
// the first failure ends the invocation.
func (h *Handler) Invoke(ctx context.Context, inv Invocation) (res *Result) {
	res = &Result{State: StateReceived}
	logger := h.logger.With(zap.String("request_id", inv.RequestID))

	step := StepStage
	defer func() {
		if r := recover(); r != nil {
			res.fail(step, errors.Errorf("panic: %v", r))
			logger.Error("invocation panicked", zap.String("step", string(step)), zap.Any("panic", r))
		}
	}()

	do := func(s Step, next State, fn func() error) bool {
		step = s
		if err := fn(); err != nil {
			if _, ok := err.(interface{ StackTrace() errors.StackTrace }); !ok {
				err = errors.WithStack(err)
			}
			res.fail(s, err)
			logger.Error("invocation step failed", zap.String("step", string(s)), zap.Error(err))
			return false
		}
		res.State = next
		return true
	}

	var (
		req  runtime.Request
		plan planner.Plan
		ws   = staging.NewWorkspace(h.cfg.ScratchRoot, inv.RequestID)
	)

	ok := do(StepStage, StateStagedEvent, func() error {
		if err := ws.StageEvent(h.fs, inv.Payload); err != nil {
			return err
		}
		var err error
		req, err = runtime.ParseRequest(inv.Payload)
		return errors.Wrap(err, "unable to parse request")
	}) && do(StepDownload, StateInputDownloaded, func() error {
		return h.deps.Stager.DownloadInput(ctx, req, inv.RequestID)
	}) && do(StepBootstrap, StateEnvironmentReady, func() error {
		return h.deps.Bootstrapper.PrepareEnvironment()
	}) && do(StepProvision, StateContainerReady, func() error {
		return h.deps.Provisioner.PrepareContainer(ctx, h.cfg.ImageID)
	}) && do(StepPlan, StateCommandPlanned, func() error {
		var err error
		plan, err = h.planner.Plan(req, inv.RequestID)
		if err == nil {
			res.Mode = plan.Mode
			logger.Info("planned container command",
				zap.String("mode", plan.Mode.String()),
				zap.Strings("args", plan.Args),
			)
		}
		return err
	}) && do(StepExecute, StateExecuted, func() error {
		out, err := h.deps.Runner.Run(ctx, plan.Args, h.cfg.Exec.OutputFile, h.cfg.Exec.Timeout)
		res.Output = out.Stdout
		res.ExitCode = out.ExitCode
		if err != nil {
			return err
		}
		if out.ExitCode != 0 {
			logger.Warn("container exited with non-zero status",
				zap.Int("exit_code", out.ExitCode),
				zap.Duration("duration", out.Duration),
			)
		}
		return nil
	}) && do(StepUpload, StateOutputUploaded, func() error {
		bucket := h.deps.Stager.OutputBucket(req)
		if bucket == "" {
			logger.Warn("no output bucket configured, skipping upload")
			return nil
		}
		uploaded, err := h.deps.Stager.UploadOutput(ctx, inv.RequestID, bucket)
		res.Uploaded = uploaded
		return err
	})

	if ok {
		res.State = StateDone
	}
	return res
}
