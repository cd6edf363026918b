// Package storage provides per-job working directories for staged media and
// optional publishing of finished exports to S3.
package storage

import (
	"context"
	"io"
)

// Storage defines the working storage used by export jobs.
type Storage interface {
	// NewWorkspace creates an isolated directory owned by a single job.
	// The name is used as a prefix for the directory.
	NewWorkspace(ctx context.Context, name string) (*Workspace, error)

	// Publish uploads a finished export and returns its URL.
	// Returns ErrS3NotConfigured if publishing is not configured.
	Publish(ctx context.Context, key, contentType string, data io.Reader) (url string, err error)
}
