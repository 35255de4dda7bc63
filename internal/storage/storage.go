// Package storage provides output, temporary and remote file storage.
// It defines the Storage interface (port) and implementations for local
// disk and S3.
package storage

import (
	"context"
	"io"
)

// Storage defines where exports read uploaded sources from and write
// their results to.
type Storage interface {
	// AllocateOutput returns a fresh, process-unique path in the output
	// directory ending in ext. A stale file at that path is removed best effort.
	AllocateOutput(ext string) (path string, err error)

	// SaveTemp saves data to a temporary file and returns the file path.
	// The name parameter is used as a hint for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// LoadTemp opens a file previously written by this storage.
	// The caller is responsible for closing the returned ReadCloser.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the specified files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// UploadToS3 uploads data to S3 and returns the public URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	UploadToS3(ctx context.Context, key string, data io.Reader) (url string, err error)
}
