// internal/domain/storage.go
package domain

import (
	"context"
	"io"
)

// FileStorage stages binary inputs so that any process consuming a task
// can resolve them by path.
type FileStorage interface {
	// Save writes content under a unique name keeping the extension of name
	// and returns the resulting path.
	Save(ctx context.Context, content io.Reader, name string) (string, error)
	// SaveGenerated stores a generated image and returns its public path.
	SaveGenerated(ctx context.Context, data []byte, ext string) (string, error)
	// Remove deletes a staged upload. Missing files are not an error; paths
	// outside the upload directory fail with ValidationFailure.
	Remove(ctx context.Context, path string) error
	// Archive moves a public sprite into the archive directory.
	Archive(ctx context.Context, imagePath string) error
	// ListSprites returns the public paths of sprite images on disk.
	ListSprites(ctx context.Context) ([]string, error)
	// Resolve maps a public path to a path readable by providers. Paths
	// outside the managed directories fail with ValidationFailure.
	Resolve(publicPath string) (string, error)
}
