// Package machine implements C10's provision/wait/destroy primitives
// against an ephemeral-VM control plane, plus the dependency-image
// resolution algorithm that caches a bundle's built dependency image
// keyed by lockfile hash (§4.10).
package machine

import (
	"context"
	"fmt"
	"time"

	"github.com/voiceci/voiceci/pkg/store"
)

// Size is a VM's class/CPU/memory sizing, chosen by the scheduler's
// machineSizeFor rule (§4.9).
type Size struct {
	Class     string // "shared" | "perf"
	CPUs      int
	MemoryGiB int
}

// VM is a handle to one provisioned ephemeral machine.
type VM struct {
	ID        string
	RunID     string
	ImageRef  string
	Size      Size
}

// ControlPlane is the VM provisioning API VoiceCI treats as an external
// collaborator (§6 "Out of scope": "the machine-provisioning control
// plane"); implemented against whatever fleet API backs it in production.
type ControlPlane interface {
	Provision(ctx context.Context, imageRef string, size Size, env map[string]string) (vmID string, err error)
	Wait(ctx context.Context, vmID string) error // blocks until the VM process exits
	Destroy(ctx context.Context, vmID string) error
}

const (
	defaultProvisionTimeout = 10 * time.Minute
	builderPollInterval     = 5 * time.Second
	builderPollTimeout      = 5 * time.Minute
)

// Provisioner drives one ephemeral VM per machine-path run, resolving the
// dependency image to use first.
type Provisioner struct {
	cp        ControlPlane
	images    *store.ImageRepository
	baseImage string
}

// NewProvisioner builds a Provisioner. baseImage is the default image used
// when no bundle-specific dependency image applies.
func NewProvisioner(cp ControlPlane, images *store.ImageRepository, baseImage string) *Provisioner {
	return &Provisioner{cp: cp, images: images, baseImage: baseImage}
}

// Provision resolves run's image (§4.10) and provisions a VM sized per
// size.
func (p *Provisioner) Provision(ctx context.Context, run *store.Run, size Size) (*VM, error) {
	imageRef, err := p.ResolveImage(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("machine: resolve image: %w", err)
	}

	env := map[string]string{
		"VOICECI_RUN_ID":      run.ID.String(),
		"VOICECI_CALLBACK_URL": run.CallbackURL,
	}
	vmID, err := p.cp.Provision(ctx, imageRef, size, env)
	if err != nil {
		return nil, fmt.Errorf("machine: provision: %w", err)
	}
	return &VM{ID: vmID, RunID: run.ID.String(), ImageRef: imageRef, Size: size}, nil
}

// WaitUntilExit blocks until vm exits or defaultProvisionTimeout elapses.
func (p *Provisioner) WaitUntilExit(ctx context.Context, vm *VM) error {
	waitCtx, cancel := context.WithTimeout(ctx, defaultProvisionTimeout)
	defer cancel()
	return p.cp.Wait(waitCtx, vm.ID)
}

// Destroy tears the VM down, best-effort (called on both success and
// error paths, §4.9).
func (p *Provisioner) Destroy(ctx context.Context, vm *VM) error {
	return p.cp.Destroy(ctx, vm.ID)
}
