// Package storage provides object storage for archiving quarantined
// corrupt-store snapshots offsite. The integrity guardian is its only caller.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectStorage abstracts the archive destination for quarantine snapshots.
// Implementations include S3 and local filesystem for development and tests.
type ObjectStorage interface {
	// Upload copies a local file to objectPath in the archive.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Download copies an archived object to localPath.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object from the archive.
	Delete(ctx context.Context, objectPath string) error

	// Exists checks whether an object exists in the archive.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}
