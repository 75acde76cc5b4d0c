package config

import (
	"bytes"
	_ "embed"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	uberconfig "go.uber.org/config"
)

const (
	// FileEnv names an optional YAML file layered over the embedded defaults.
	FileEnv = "SUPERVISOR_CONFIG"

	// ContainerVarPrefix marks process environment entries forwarded into the container.
	ContainerVarPrefix = "CONT_VAR_"

	rootKey = "supervisor"
)

//go:embed defaults.yaml
var defaults []byte

var ErrInvalidConfig = errors.New("invalid supervisor configuration")

type EngineConfig struct {
	Source   string `yaml:"source"`
	Binary   string `yaml:"binary"`
	Home     string `yaml:"home"`
	ExecMode string `yaml:"exec_mode"`
}

type InitScriptConfig struct {
	Source string `yaml:"source"`
	Staged string `yaml:"staged"`
}

type ExecConfig struct {
	ScriptPath  string        `yaml:"script_path"`
	Interpreter string        `yaml:"interpreter"`
	OutputFile  string        `yaml:"output_file"`
	Timeout     time.Duration `yaml:"timeout"`
}

type UploadConfig struct {
	ExcludeControlFiles bool `yaml:"exclude_control_files"`
}

type ProvisionConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// Config is read once per process and threaded through every component, so
// tests can run against isolated names and paths.
type Config struct {
	ImageID        string           `yaml:"image_id"`
	InitScriptPath string           `yaml:"init_script_path"`
	OutputBucket   string           `yaml:"output_bucket"`
	Region         string           `yaml:"region"`
	ScratchRoot    string           `yaml:"scratch_root"`
	ContainerName  string           `yaml:"container_name"`
	Engine         EngineConfig     `yaml:"engine"`
	InitScript     InitScriptConfig `yaml:"init_script"`
	Exec           ExecConfig       `yaml:"exec"`
	Upload         UploadConfig     `yaml:"upload"`
	Provision      ProvisionConfig  `yaml:"provision"`

	// ContainerEnv holds the CONT_VAR_ entries in environment order.
	ContainerEnv []EnvVar `yaml:"-"`
}

type EnvVar struct {
	Name  string
	Value string
}

func (e EnvVar) String() string {
	return e.Name + "=" + e.Value
}

// HasInitScript reports whether a recurring init script is configured.
func (c *Config) HasInitScript() bool {
	return c.InitScriptPath != ""
}

func (c *Config) Validate() error {
	switch {
	case c.ContainerName == "":
		return errors.Wrap(ErrInvalidConfig, "container_name is required")
	case c.Engine.Binary == "":
		return errors.Wrap(ErrInvalidConfig, "engine.binary is required")
	case !filepath.IsAbs(c.ScratchRoot):
		return errors.Wrapf(ErrInvalidConfig, "scratch_root %q must be absolute", c.ScratchRoot)
	case c.Exec.Interpreter == "":
		return errors.Wrap(ErrInvalidConfig, "exec.interpreter is required")
	case c.Exec.Timeout < 0:
		return errors.Wrap(ErrInvalidConfig, "exec.timeout must not be negative")
	}
	return nil
}

// Load builds the configuration from the embedded defaults, the optional file
// named by SUPERVISOR_CONFIG, and the given environment.
func Load(environ []string) (*Config, error) {
	lookup := lookupFunc(environ)

	opts := []uberconfig.YAMLOption{
		uberconfig.Source(bytes.NewReader(defaults)),
		uberconfig.Expand(lookup),
	}
	if path, ok := lookup(FileEnv); ok && path != "" {
		opts = append(opts, uberconfig.File(path))
	}

	provider, err := uberconfig.NewYAML(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to build config provider")
	}

	var cfg Config
	if err := provider.Get(rootKey).Populate(&cfg); err != nil {
		return nil, errors.Wrap(err, "unable to populate config")
	}
	cfg.ContainerEnv = ContainerEnv(environ)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ContainerEnv extracts CONT_VAR_<NAME>=<value> entries, stripping the prefix.
func ContainerEnv(environ []string) []EnvVar {
	var vars []EnvVar
	for _, kv := range environ {
		if !strings.HasPrefix(kv, ContainerVarPrefix) {
			continue
		}
		key, value, _ := strings.Cut(kv, "=")
		name := strings.TrimPrefix(key, ContainerVarPrefix)
		if name == "" {
			continue
		}
		vars = append(vars, EnvVar{Name: name, Value: value})
	}
	return vars
}

func lookupFunc(environ []string) func(string) (string, bool) {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		key, value, _ := strings.Cut(kv, "=")
		env[key] = value
	}
	return func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}
}
