package machine_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiceci/voiceci/pkg/machine"
	"github.com/voiceci/voiceci/pkg/store"
)

type fakeControlPlane struct {
	provisioned []string
}

func (f *fakeControlPlane) Provision(ctx context.Context, imageRef string, size machine.Size, env map[string]string) (string, error) {
	f.provisioned = append(f.provisioned, imageRef)
	return "vm-1", nil
}
func (f *fakeControlPlane) Wait(ctx context.Context, vmID string) error    { return nil }
func (f *fakeControlPlane) Destroy(ctx context.Context, vmID string) error { return nil }

func TestResolveImageUsesBaseImageWithoutLockfileHash(t *testing.T) {
	cp := &fakeControlPlane{}
	p := machine.NewProvisioner(cp, nil, "base:latest")

	run := &store.Run{ID: uuid.New(), SourceType: store.SourceRemote}
	imageRef, err := p.ResolveImage(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, "base:latest", imageRef)
}

func TestResolveImageUsesBaseImageWithoutBundleKey(t *testing.T) {
	cp := &fakeControlPlane{}
	p := machine.NewProvisioner(cp, nil, "base:latest")

	run := &store.Run{ID: uuid.New(), LockfileHash: "abc123"}
	imageRef, err := p.ResolveImage(context.Background(), run)
	require.NoError(t, err)
	assert.Equal(t, "base:latest", imageRef)
}

func TestProvisionRequestsResolvedImage(t *testing.T) {
	cp := &fakeControlPlane{}
	p := machine.NewProvisioner(cp, nil, "base:latest")

	run := &store.Run{ID: uuid.New(), CallbackURL: "https://example/callback"}
	vm, err := p.Provision(context.Background(), run, machine.Size{Class: "shared", CPUs: 1, MemoryGiB: 1})
	require.NoError(t, err)
	assert.Equal(t, "base:latest", vm.ImageRef)
	assert.Equal(t, []string{"base:latest"}, cp.provisioned)
}
