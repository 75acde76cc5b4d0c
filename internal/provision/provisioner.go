package provision

import (
	"context"
	"time"

	"github.com/ReneKroon/ttlcache/v2"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/refinery-labs/container-lambda/internal/engine"
)

var (
	ErrImageRequired   = errors.New("IMAGE_ID is not set")
	ErrNoContainerName = errors.New("container name is required")
)

// Engine is the subset of udocker operations needed to provision a container.
type Engine interface {
	Images(ctx context.Context) ([]string, error)
	Pull(ctx context.Context, image string) error
	Containers(ctx context.Context) ([]engine.Container, error)
	Create(ctx context.Context, name, image string) error
	Setup(ctx context.Context, name, execMode string) error
	Remove(ctx context.Context, name string) error
}

type Provisioner struct {
	engine        Engine
	containerName string
	execMode      string
	cache         *ttlcache.Cache
	logger        *zap.Logger
}

// New returns a provisioner for the named container. A positive cacheTTL
// remembers successful provisioning so warm invocations skip the listings.
func New(eng Engine, containerName, execMode string, cacheTTL time.Duration, logger *zap.Logger) *Provisioner {
	p := &Provisioner{
		engine:        eng,
		containerName: containerName,
		execMode:      execMode,
		logger:        logger.Named("provision"),
	}
	if cacheTTL > 0 {
		cache := ttlcache.NewCache()
		cache.SkipTTLExtensionOnHit(true)
		_ = cache.SetTTL(cacheTTL)
		p.cache = cache
	}
	return p
}

func (p *Provisioner) Close() error {
	if p.cache == nil {
		return nil
	}
	return p.cache.Close()
}

// PrepareContainer ensures the image is pulled and a container with the fixed
// name exists, bound to that image and set to the configured execution mode.
func (p *Provisioner) PrepareContainer(ctx context.Context, image string) error {
	if image == "" {
		return errors.WithStack(ErrImageRequired)
	}
	if p.containerName == "" {
		return errors.WithStack(ErrNoContainerName)
	}

	cacheKey := p.containerName + "|" + normalize(image)
	if p.cache != nil {
		if _, err := p.cache.Get(cacheKey); err == nil {
			p.logger.Debug("container recently provisioned", zap.String("image", image))
			return nil
		}
	}

	if err := p.ensureImage(ctx, image); err != nil {
		return err
	}
	if err := p.ensureContainer(ctx, image); err != nil {
		return err
	}

	if p.cache != nil {
		_ = p.cache.Set(cacheKey, true)
	}
	return nil
}

func (p *Provisioner) ensureImage(ctx context.Context, image string) error {
	images, err := p.engine.Images(ctx)
	if err != nil {
		return errors.Wrap(err, "unable to list images")
	}
	for _, known := range images {
		if sameImage(known, image) {
			p.logger.Info("container image already available", zap.String("image", image))
			return nil
		}
	}

	p.logger.Info("pulling container image", zap.String("image", image))
	if err := p.engine.Pull(ctx, image); err != nil {
		return errors.Wrapf(err, "unable to pull %s", image)
	}
	return nil
}

func (p *Provisioner) ensureContainer(ctx context.Context, image string) error {
	containers, err := p.engine.Containers(ctx)
	if err != nil {
		return errors.Wrap(err, "unable to list containers")
	}

	for _, c := range containers {
		if !c.HasName(p.containerName) {
			continue
		}
		if sameImage(c.Image, image) {
			p.logger.Info("container already available", zap.String("container", p.containerName))
			return nil
		}

		p.logger.Warn("container bound to a different image, recreating",
			zap.String("container", p.containerName),
			zap.String("current_image", c.Image),
			zap.String("image", image),
		)
		if err := p.engine.Remove(ctx, p.containerName); err != nil {
			return errors.Wrapf(err, "unable to remove stale container %s", p.containerName)
		}
		break
	}

	p.logger.Info("creating container",
		zap.String("container", p.containerName),
		zap.String("image", image),
	)
	if err := p.engine.Create(ctx, p.containerName, image); err != nil {
		return errors.Wrapf(err, "unable to create container %s", p.containerName)
	}
	if err := p.engine.Setup(ctx, p.containerName, p.execMode); err != nil {
		return errors.Wrapf(err, "unable to set execution mode %s on %s", p.execMode, p.containerName)
	}
	return nil
}

func sameImage(a, b string) bool {
	return normalize(a) == normalize(b)
}

// normalize expands short references, so "alpine" and
// "index.docker.io/library/alpine:latest" compare equal.
func normalize(ref string) string {
	parsed, err := name.ParseReference(ref)
	if err != nil {
		return ref
	}
	return parsed.Name()
}
