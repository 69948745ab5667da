package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// uploadURLTTL bounds how long a presigned upload URL remains valid.
const uploadURLTTL = 15 * time.Minute

// excludedPaths is the fixed tar exclude list prepare_upload's shell
// command applies (§4.8).
var excludedPaths = []string{".git", "node_modules", "vendor", "dist", "build", ".venv", "__pycache__"}

// ObjectStore is the presigned-upload backend VoiceCI treats as an
// external collaborator, mirroring machine.ControlPlane's out-of-scope
// pattern (§6 "Out of scope").
type ObjectStore interface {
	PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// prepareUpload mints a bundle key and presigned URL, returning the shell
// command a client runs locally to tar, hash, and upload the project
// (§4.8).
func prepareUpload(ctx context.Context, store ObjectStore, projectRoot string) (bundleKey, uploadCommand string, err error) {
	if projectRoot == "" {
		projectRoot = "."
	}
	bundleKey = fmt.Sprintf("bundles/%s.tar.gz", uuid.NewString())

	url, err := store.PresignPut(ctx, bundleKey, uploadURLTTL)
	if err != nil {
		return "", "", NewErrorf(KindUpstreamUnavailable, "presign upload url: %v", err)
	}

	exclude := ""
	for _, p := range excludedPaths {
		exclude += fmt.Sprintf(" --exclude=%s", p)
	}

	uploadCommand = fmt.Sprintf(
		"tar -czf /tmp/%s%s -C %s . && "+
			"LOCKFILE_HASH=$(sha256sum %s/*.lock %s/go.sum 2>/dev/null | sha256sum | cut -d' ' -f1) && "+
			"curl -X PUT --upload-file /tmp/%s %q",
		bundleKeyBase(bundleKey), exclude, projectRoot, projectRoot, projectRoot, bundleKeyBase(bundleKey), url,
	)
	return bundleKey, uploadCommand, nil
}

func bundleKeyBase(bundleKey string) string {
	for i := len(bundleKey) - 1; i >= 0; i-- {
		if bundleKey[i] == '/' {
			return bundleKey[i+1:]
		}
	}
	return bundleKey
}
