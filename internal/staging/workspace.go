package staging

import (
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

const (
	EventFileName = "event.json"
	InputFileName = "input"
)

// Workspace is the per-request scratch directory <root>/<request-id>/.
type Workspace struct {
	Root      string
	RequestID string
}

func NewWorkspace(root, requestID string) Workspace {
	return Workspace{Root: root, RequestID: requestID}
}

func (w Workspace) Dir() string {
	return filepath.Join(w.Root, w.RequestID)
}

func (w Workspace) EventFile() string {
	return filepath.Join(w.Dir(), EventFileName)
}

func (w Workspace) InputFile() string {
	return filepath.Join(w.Dir(), InputFileName)
}

// StageEvent creates the workspace and writes the serialized request into it.
func (w Workspace) StageEvent(fs afero.Fs, payload []byte) error {
	if w.RequestID == "" {
		return errors.New("request id is required to stage a workspace")
	}
	if err := fs.MkdirAll(w.Dir(), 0o755); err != nil {
		return errors.Wrapf(err, "unable to create workspace %s", w.Dir())
	}
	if err := afero.WriteFile(fs, w.EventFile(), payload, 0o644); err != nil {
		return errors.Wrapf(err, "unable to write %s", w.EventFile())
	}
	return nil
}
