// internal/infra/storage/file_storage.go
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"ai-orchestrator/internal/domain"
)

const (
	// SpritesURLPrefix is the public path prefix of catalogued sprites.
	SpritesURLPrefix = "/sprites/"
	// GeneratedURLPrefix is the public path prefix of generated images.
	GeneratedURLPrefix = "/generated_images/"
)

var imageExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true}

// Dirs locates the directories managed by FileStorage.
type Dirs struct {
	Upload    string
	Generated string
	Sprites   string
	Archive   string
}

// FileStorage keeps uploads, generated images and sprites on a filesystem
// shared by the API and the workers.
type FileStorage struct {
	fs     afero.Fs
	dirs   Dirs
	logger *slog.Logger
}

var _ domain.FileStorage = (*FileStorage)(nil)

// New creates a FileStorage on fs. Use afero.NewOsFs() in production.
func New(fs afero.Fs, dirs Dirs, logger *slog.Logger) *FileStorage {
	return &FileStorage{fs: fs, dirs: dirs, logger: logger.With("component", "file-storage")}
}

// Fs exposes the underlying filesystem for providers reading staged files.
func (s *FileStorage) Fs() afero.Fs {
	return s.fs
}

// Save copies content to the upload directory under a fresh UUID name that
// keeps the extension of name. It returns the absolute path of the file.
func (s *FileStorage) Save(ctx context.Context, content io.Reader, name string) (string, error) {
	if err := s.fs.MkdirAll(s.dirs.Upload, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}
	target := filepath.Join(s.dirs.Upload, uuid.NewString()+strings.ToLower(filepath.Ext(name)))

	f, err := s.fs.Create(target)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", target, err)
	}
	if _, err := io.Copy(f, content); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(target)
		return "", fmt.Errorf("failed to write %s: %w", target, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", target, err)
	}
	return target, nil
}

// SaveGenerated stores a generated image and returns its public path.
func (s *FileStorage) SaveGenerated(ctx context.Context, data []byte, ext string) (string, error) {
	if err := s.fs.MkdirAll(s.dirs.Generated, 0o755); err != nil {
		return "", fmt.Errorf("failed to create generated image directory: %w", err)
	}
	if ext == "" {
		ext = ".png"
	} else if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	name := uuid.NewString() + ext
	if err := afero.WriteFile(s.fs, filepath.Join(s.dirs.Generated, name), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write generated image: %w", err)
	}
	return GeneratedURLPrefix + name, nil
}

// Remove deletes a staged upload; a missing file is ignored. Paths outside
// the upload directory are rejected.
func (s *FileStorage) Remove(ctx context.Context, p string) error {
	if !within(s.dirs.Upload, p) {
		return domain.ValidationFailure("storage.Remove", "only staged uploads can be removed", p)
	}
	if err := s.fs.Remove(filepath.Clean(p)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", p, err)
	}
	return nil
}

// Archive moves a sprite file into the archive directory, keeping its
// relative path. A sprite without a file on disk is only logged.
func (s *FileStorage) Archive(ctx context.Context, imagePath string) error {
	rel, err := relativeSpritePath(imagePath)
	if err != nil {
		return err
	}
	source := filepath.Join(s.dirs.Sprites, rel)
	destination := filepath.Join(s.dirs.Archive, rel)

	if _, err := s.fs.Stat(source); err != nil {
		if os.IsNotExist(err) {
			s.logger.Warn("sprite file not found, nothing to archive", "path", source)
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", source, err)
	}
	if err := s.fs.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}
	if err := s.fs.Rename(source, destination); err != nil {
		return fmt.Errorf("failed to move %s to archive: %w", source, err)
	}
	s.logger.Info("sprite archived", "from", source, "to", destination)
	return nil
}

// ListSprites walks the sprites directory and returns public image paths.
func (s *FileStorage) ListSprites(ctx context.Context) ([]string, error) {
	exists, err := afero.DirExists(s.fs, s.dirs.Sprites)
	if err != nil {
		return nil, fmt.Errorf("failed to check sprites directory: %w", err)
	}
	if !exists {
		return []string{}, nil
	}

	var sprites []string
	err = afero.Walk(s.fs, s.dirs.Sprites, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(p))] {
			return nil
		}
		rel, err := filepath.Rel(s.dirs.Sprites, p)
		if err != nil {
			return err
		}
		sprites = append(sprites, SpritesURLPrefix+filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan sprites directory: %w", err)
	}
	sort.Strings(sprites)
	return sprites, nil
}

// Resolve maps a public path to a filesystem path. Filesystem paths are
// accepted only inside one of the managed directories.
func (s *FileStorage) Resolve(p string) (string, error) {
	switch {
	case strings.HasPrefix(p, SpritesURLPrefix):
		return filepath.Join(s.dirs.Sprites, cleanRel(strings.TrimPrefix(p, SpritesURLPrefix))), nil
	case strings.HasPrefix(p, GeneratedURLPrefix):
		return filepath.Join(s.dirs.Generated, cleanRel(strings.TrimPrefix(p, GeneratedURLPrefix))), nil
	}
	for _, dir := range []string{s.dirs.Upload, s.dirs.Generated, s.dirs.Sprites, s.dirs.Archive} {
		if within(dir, p) {
			return filepath.Clean(p), nil
		}
	}
	return "", domain.ValidationFailure("storage.Resolve", "path outside the managed directories", p)
}

// within reports whether p names a file below dir.
func within(dir, p string) bool {
	if dir == "" || p == "" {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(p))
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// relativeSpritePath accepts "/sprites/a/b.png", "a/b.png" or "/a/b.png".
func relativeSpritePath(imagePath string) (string, error) {
	p := strings.TrimPrefix(imagePath, SpritesURLPrefix)
	rel := cleanRel(p)
	if rel == "" || rel == "." {
		return "", domain.ValidationFailure("storage.Archive", "invalid sprite path", imagePath)
	}
	return rel, nil
}

// cleanRel normalises p and strips any attempt to leave the base directory.
func cleanRel(p string) string {
	return strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(p)), "/")
}
