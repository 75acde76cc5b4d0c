package bootstrap

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/refinery-labs/container-lambda/internal/config"
)

const (
	binaryMode = 0o755
	scriptMode = 0o644
	stateDir   = ".udocker"

	partialSuffix = ".partial"
)

// Bootstrapper installs the engine into the writable scratch area. Everything
// it creates lives as long as the warm execution environment, so each step only
// runs when its artifact is missing or incomplete.
type Bootstrapper struct {
	fs     afero.Fs
	cfg    *config.Config
	logger *zap.Logger
}

func New(fs afero.Fs, cfg *config.Config, logger *zap.Logger) *Bootstrapper {
	return &Bootstrapper{
		fs:     fs,
		cfg:    cfg,
		logger: logger.Named("bootstrap"),
	}
}

func (b *Bootstrapper) PrepareEnvironment() error {
	if err := b.install(b.cfg.Engine.Source, b.cfg.Engine.Binary, binaryMode); err != nil {
		return errors.Wrap(err, "unable to install udocker")
	}

	home := filepath.Join(b.cfg.Engine.Home, stateDir)
	if err := b.fs.MkdirAll(home, 0o755); err != nil {
		return errors.Wrapf(err, "unable to create udocker home %s", home)
	}

	if b.cfg.HasInitScript() {
		if err := b.install(b.cfg.InitScript.Source, b.cfg.InitScript.Staged, scriptMode); err != nil {
			return errors.Wrap(err, "unable to stage init script")
		}
	}
	return nil
}

// install copies src to dst with mode. An existing dst is kept when it matches
// the size of src, or when src is gone; a mismatched dst is replaced.
func (b *Bootstrapper) install(src, dst string, mode os.FileMode) error {
	if info, err := b.fs.Stat(dst); err == nil && info.Mode().IsRegular() {
		srcInfo, srcErr := b.fs.Stat(src)
		if srcErr != nil || srcInfo.Size() == info.Size() {
			if info.Mode().Perm() == mode {
				return nil
			}
			return errors.WithStack(b.fs.Chmod(dst, mode))
		}
		b.logger.Warn("replacing incomplete file",
			zap.String("destination", dst),
			zap.Int64("size", info.Size()),
			zap.Int64("expected", srcInfo.Size()),
		)
	}

	b.logger.Info("installing file", zap.String("source", src), zap.String("destination", dst))

	if err := b.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.WithStack(err)
	}

	tmp := dst + partialSuffix
	if err := copyFile(b.fs, src, tmp, mode); err != nil {
		b.fs.Remove(tmp)
		return err
	}
	if err := b.fs.Chmod(tmp, mode); err != nil {
		b.fs.Remove(tmp)
		return errors.WithStack(err)
	}
	if err := b.fs.Rename(tmp, dst); err != nil {
		b.fs.Remove(tmp)
		return errors.WithStack(err)
	}
	return nil
}

func copyFile(fs afero.Fs, src, dst string, mode os.FileMode) error {
	in, err := fs.Open(src)
	if err != nil {
		return errors.WithStack(err)
	}
	defer in.Close()

	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.WithStack(err)
	}
	return errors.WithStack(out.Close())
}
