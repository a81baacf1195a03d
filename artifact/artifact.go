// Package artifact writes generation results to durable storage.
//
// Both backends key artifacts by job ID, so writing the same job twice
// overwrites in place and returns the same URI.
package artifact

import (
	"context"
	"path"
	"strings"

	"github.com/teranos/pressline/am"
	"github.com/teranos/pressline/errors"
	"github.com/teranos/pressline/pulse/async"
)

// New builds the configured artifact store
func New(ctx context.Context, cfg am.ArtifactsConfig) (async.ArtifactStore, error) {
	switch cfg.Backend {
	case "", am.BackendFS:
		return NewFSStore(cfg.Dir, cfg.Prefix)
	case am.BackendS3:
		return NewS3Store(ctx, cfg)
	default:
		return nil, errors.NewInvalidRequestError("unknown artifacts backend %q", cfg.Backend)
	}
}

// objectKey returns prefix/jobID.json with a clean prefix
func objectKey(prefix, jobID string) (string, error) {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return "", errors.NewInvalidRequestError("invalid job id %q for artifact key", jobID)
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return jobID + ".json", nil
	}
	return path.Join(prefix, jobID+".json"), nil
}
