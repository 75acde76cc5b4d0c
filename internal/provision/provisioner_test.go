package provision

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/refinery-labs/container-lambda/internal/engine"
)

// fakeEngine keeps udocker state in memory.
type fakeEngine struct {
	images     []string
	containers []engine.Container

	pullErr error

	listings int
	pulls    []string
	creates  []string
	setups   []string
	removes  []string
}

func (f *fakeEngine) Images(ctx context.Context) ([]string, error) {
	f.listings++
	return f.images, nil
}

func (f *fakeEngine) Pull(ctx context.Context, image string) error {
	f.pulls = append(f.pulls, image)
	if f.pullErr != nil {
		return f.pullErr
	}
	f.images = append(f.images, image)
	return nil
}

func (f *fakeEngine) Containers(ctx context.Context) ([]engine.Container, error) {
	return f.containers, nil
}

func (f *fakeEngine) Create(ctx context.Context, name, image string) error {
	f.creates = append(f.creates, name+"="+image)
	f.containers = append(f.containers, engine.Container{ID: "id-" + name, Names: []string{name}, Image: image})
	return nil
}

func (f *fakeEngine) Setup(ctx context.Context, name, execMode string) error {
	f.setups = append(f.setups, name+"="+execMode)
	return nil
}

func (f *fakeEngine) Remove(ctx context.Context, name string) error {
	f.removes = append(f.removes, name)
	kept := f.containers[:0]
	for _, c := range f.containers {
		if !c.HasName(name) {
			kept = append(kept, c)
		}
	}
	f.containers = kept
	return nil
}

func newTestProvisioner(t *testing.T, eng Engine, ttl time.Duration) *Provisioner {
	p := New(eng, "lambda_cont", "F1", ttl, zaptest.NewLogger(t))
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPrepareContainerIsIdempotent(t *testing.T) {
	eng := &fakeEngine{}
	p := newTestProvisioner(t, eng, 0)
	ctx := context.Background()

	require.NoError(t, p.PrepareContainer(ctx, "alpine"))
	require.NoError(t, p.PrepareContainer(ctx, "alpine"))

	assert.Equal(t, []string{"alpine"}, eng.pulls)
	assert.Equal(t, []string{"lambda_cont=alpine"}, eng.creates)
	assert.Equal(t, []string{"lambda_cont=F1"}, eng.setups)
	assert.Empty(t, eng.removes)
}

func TestPrepareContainerMatchesNormalizedReference(t *testing.T) {
	eng := &fakeEngine{
		images:     []string{"alpine:latest"},
		containers: []engine.Container{{ID: "1", Names: []string{"lambda_cont"}, Image: "alpine:latest"}},
	}

	require.NoError(t, newTestProvisioner(t, eng, 0).PrepareContainer(context.Background(), "alpine"))

	assert.Empty(t, eng.pulls)
	assert.Empty(t, eng.creates)
}

func TestPrepareContainerPullsDifferentTag(t *testing.T) {
	eng := &fakeEngine{images: []string{"alpine:3.18"}}

	require.NoError(t, newTestProvisioner(t, eng, 0).PrepareContainer(context.Background(), "alpine:3.19"))

	assert.Equal(t, []string{"alpine:3.19"}, eng.pulls)
}

func TestPrepareContainerIgnoresNamePrefix(t *testing.T) {
	eng := &fakeEngine{
		images:     []string{"alpine:latest"},
		containers: []engine.Container{{ID: "1", Names: []string{"lambda_cont_old"}, Image: "alpine:latest"}},
	}

	require.NoError(t, newTestProvisioner(t, eng, 0).PrepareContainer(context.Background(), "alpine"))

	assert.Equal(t, []string{"lambda_cont=alpine"}, eng.creates)
	assert.Empty(t, eng.removes)
}

func TestPrepareContainerRecreatesStaleContainer(t *testing.T) {
	eng := &fakeEngine{
		images:     []string{"alpine:latest", "busybox:latest"},
		containers: []engine.Container{{ID: "1", Names: []string{"lambda_cont"}, Image: "busybox:latest"}},
	}

	require.NoError(t, newTestProvisioner(t, eng, 0).PrepareContainer(context.Background(), "alpine"))

	assert.Equal(t, []string{"lambda_cont"}, eng.removes)
	assert.Equal(t, []string{"lambda_cont=alpine"}, eng.creates)
	require.Len(t, eng.containers, 1)
	assert.Equal(t, "alpine", eng.containers[0].Image)
}

func TestPrepareContainerPullFailure(t *testing.T) {
	eng := &fakeEngine{pullErr: errors.New("manifest unknown")}

	err := newTestProvisioner(t, eng, 0).PrepareContainer(context.Background(), "no/such-image")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to pull no/such-image")
	assert.Contains(t, err.Error(), "manifest unknown")
	assert.Empty(t, eng.creates)
}

func TestPrepareContainerRequiresImage(t *testing.T) {
	eng := &fakeEngine{}

	err := newTestProvisioner(t, eng, 0).PrepareContainer(context.Background(), "")

	assert.True(t, errors.Is(err, ErrImageRequired))
	assert.Zero(t, eng.listings)
}

func TestPrepareContainerCache(t *testing.T) {
	eng := &fakeEngine{}
	p := newTestProvisioner(t, eng, time.Minute)
	ctx := context.Background()

	require.NoError(t, p.PrepareContainer(ctx, "alpine"))
	require.NoError(t, p.PrepareContainer(ctx, "alpine:latest"))
	assert.Equal(t, 1, eng.listings)

	require.NoError(t, p.PrepareContainer(ctx, "busybox"))
	assert.Equal(t, 2, eng.listings)
}
