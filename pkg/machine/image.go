package machine

import (
	"context"
	"fmt"
	"time"

	"github.com/voiceci/voiceci/pkg/store"
)

// ResolveImage implements the seven-step image resolution rule for bundled
// runs (§4.10). Steps:
//  1. No lockfile hash or no bundle URL -> base image.
//  2. Look up DependencyImage by lockfile_hash.
//  3. ready + base unchanged -> cached image.
//  4. ready + base changed -> drop record, proceed to build.
//  5. building -> poll up to 5 minutes (5s interval); ready->image,
//     failed->base, timeout->base.
//  6. failed -> base.
//  7. otherwise, try to claim the build; losers fall to the polling
//     branch; the winner spawns a builder VM and awaits its callback.
func (p *Provisioner) ResolveImage(ctx context.Context, run *store.Run) (string, error) {
	if run.LockfileHash == "" || run.BundleKey == "" {
		return p.baseImage, nil
	}

	img, err := p.images.Get(ctx, run.LockfileHash)
	if err != nil {
		if err != store.ErrNotFound {
			return "", err
		}
		return p.claimAndBuild(ctx, run)
	}

	switch img.Status {
	case store.ImageReady:
		if img.BaseImageRef == p.baseImage {
			return img.ImageRef, nil
		}
		if err := p.images.Drop(ctx, run.LockfileHash); err != nil {
			return "", err
		}
		return p.claimAndBuild(ctx, run)

	case store.ImageBuilding:
		return p.pollUntilReady(ctx, run.LockfileHash)

	case store.ImageFailed:
		return p.baseImage, nil

	default:
		return p.baseImage, nil
	}
}

func (p *Provisioner) claimAndBuild(ctx context.Context, run *store.Run) (string, error) {
	imageRef := fmt.Sprintf("%s-dep-%s", p.baseImage, run.LockfileHash[:minInt(12, len(run.LockfileHash))])

	claimed, err := p.images.TryClaimBuild(ctx, run.LockfileHash, imageRef, p.baseImage)
	if err != nil {
		return "", err
	}
	if !claimed {
		// Another worker won the race; fall to the polling branch.
		return p.pollUntilReady(ctx, run.LockfileHash)
	}

	builderVMID, err := p.cp.Provision(ctx, p.baseImage, Size{Class: "shared", CPUs: 1, MemoryGiB: 1}, map[string]string{
		"VOICECI_BUILD_LOCKFILE_HASH": run.LockfileHash,
		"VOICECI_BUILD_BUNDLE_KEY":    run.BundleKey,
		"VOICECI_BUILD_IMAGE_REF":     imageRef,
	})
	if err != nil {
		_ = p.images.MarkFailed(ctx, run.LockfileHash, err.Error())
		return p.baseImage, nil
	}
	if err := p.images.SetBuilderMachine(ctx, run.LockfileHash, builderVMID); err != nil {
		return "", err
	}

	// The builder VM's result arrives via its own callback (kind=image_build,
	// per SPEC_FULL.md's callback discriminator), which calls MarkReady or
	// MarkFailed on pkg/store.ImageRepository; we just wait for that row to
	// settle here.
	return p.pollUntilReady(ctx, run.LockfileHash)
}

func (p *Provisioner) pollUntilReady(ctx context.Context, lockfileHash string) (string, error) {
	deadline := time.Now().Add(builderPollTimeout)
	ticker := time.NewTicker(builderPollInterval)
	defer ticker.Stop()

	for {
		img, err := p.images.Get(ctx, lockfileHash)
		if err == nil {
			switch img.Status {
			case store.ImageReady:
				return img.ImageRef, nil
			case store.ImageFailed:
				return p.baseImage, nil
			}
		} else if err != store.ErrNotFound {
			return "", err
		}

		if time.Now().After(deadline) {
			_ = p.images.MarkFailed(ctx, lockfileHash, "builder poll timeout")
			return p.baseImage, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
