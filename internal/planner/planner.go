package planner

import (
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/refinery-labs/container-lambda/internal/config"
	"github.com/refinery-labs/container-lambda/internal/runtime"
)

// Mode is how the container is invoked. Exactly one applies per request.
type Mode int

const (
	ModeScript Mode = iota + 1
	ModeArgs
	ModeInitScript
	ModeDefault
)

func (m Mode) String() string {
	switch m {
	case ModeScript:
		return "script"
	case ModeArgs:
		return "cmd_args"
	case ModeInitScript:
		return "init_script"
	case ModeDefault:
		return "default"
	}
	return "unknown"
}

// Plan holds the udocker arguments, without the binary itself.
type Plan struct {
	Mode Mode
	Args []string
}

type Planner struct {
	fs  afero.Fs
	cfg *config.Config
}

func New(fs afero.Fs, cfg *config.Config) *Planner {
	return &Planner{fs: fs, cfg: cfg}
}

// BaseArgs are shared by every mode: quiet run, scratch and device mounts, no
// system directories, the request id, then forwarded CONT_VAR_ entries.
func (p *Planner) BaseArgs(requestID string) []string {
	args := []string{
		"--quiet", "run",
		"-v", p.cfg.ScratchRoot,
		"-v", "/dev",
		"-v", "/proc",
		"--nosysdirs",
		"--env", "REQUEST_ID=" + requestID,
	}
	for _, v := range p.cfg.ContainerEnv {
		args = append(args, "--env", v.String())
	}
	return args
}

// Plan picks the first matching mode: inline script, command arguments,
// recurring init script, then the image's default command.
func (p *Planner) Plan(req runtime.Request, requestID string) (Plan, error) {
	args := p.BaseArgs(requestID)
	name := p.cfg.ContainerName

	switch {
	case req.Script != "":
		if err := p.writeScript(req.Script); err != nil {
			return Plan{}, err
		}
		args = append(args, p.entrypoint(p.cfg.Exec.ScriptPath), name)
		return Plan{Mode: ModeScript, Args: args}, nil

	case len(req.CmdArgs) > 0:
		args = append(args, name)
		args = append(args, req.CmdArgs...)
		return Plan{Mode: ModeArgs, Args: args}, nil

	case p.cfg.HasInitScript():
		args = append(args, p.entrypoint(p.cfg.InitScript.Staged), name)
		return Plan{Mode: ModeInitScript, Args: args}, nil
	}

	args = append(args, name)
	return Plan{Mode: ModeDefault, Args: args}, nil
}

func (p *Planner) entrypoint(script string) string {
	return "--entrypoint=" + p.cfg.Exec.Interpreter + " " + script
}

func (p *Planner) writeScript(script string) error {
	path := p.cfg.Exec.ScriptPath
	if err := p.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "unable to create script directory for %s", path)
	}
	if err := afero.WriteFile(p.fs, path, []byte(script), 0o644); err != nil {
		return errors.Wrapf(err, "unable to write script %s", path)
	}
	return nil
}
