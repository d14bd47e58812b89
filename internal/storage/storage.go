// Package storage provides the object storage that diagnostic snapshots are
// written to: the local filesystem for development and S3 for deployments.
package storage

import (
	"context"

	mentorerrors "github.com/arkilian/planmentor/internal/errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = mentorerrors.NewStorageError(mentorerrors.CodeObjectNotFound, "object not found", nil)
	ErrUploadFailed   = mentorerrors.NewStorageError(mentorerrors.CodeUploadFailed, "upload failed", nil)
	ErrDownloadFailed = mentorerrors.NewStorageError(mentorerrors.CodeDownloadFailed, "download failed", nil)
)

// ObjectStorage stores whole objects by key.
type ObjectStorage interface {
	// Put writes data under key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte) error

	// Get reads the object at key. It returns ErrObjectNotFound when absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the object at key. Deleting a missing object is not an
	// error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns every key under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

func uploadFailed(key string, cause error) error {
	return mentorerrors.NewStorageError(mentorerrors.CodeUploadFailed, "upload failed", cause).
		WithDetails(map[string]interface{}{"key": key})
}

func downloadFailed(key string, cause error) error {
	return mentorerrors.NewStorageError(mentorerrors.CodeDownloadFailed, "download failed", cause).
		WithDetails(map[string]interface{}{"key": key})
}
