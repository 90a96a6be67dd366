package storage

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"ai-orchestrator/internal/domain"
)

var testDirs = Dirs{
	Upload:    "/data/uploads",
	Generated: "/data/generated",
	Sprites:   "/data/public/sprites",
	Archive:   "/data/public/sprites_archive",
}

func newTestStorage() (*FileStorage, afero.Fs) {
	fs := afero.NewMemMapFs()
	return New(fs, testDirs, slog.New(slog.NewTextHandler(io.Discard, nil))), fs
}

func TestSaveKeepsExtensionAndUniqueName(t *testing.T) {
	s, fs := newTestStorage()
	ctx := context.Background()

	p1, err := s.Save(ctx, strings.NewReader("image-bytes"), "photo.JPG")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	p2, _ := s.Save(ctx, strings.NewReader("image-bytes"), "photo.JPG")

	if p1 == p2 {
		t.Errorf("Save() returned the same path twice: %s", p1)
	}
	if filepath.Dir(p1) != testDirs.Upload || filepath.Ext(p1) != ".jpg" {
		t.Errorf("Save() path = %s, want %s/<uuid>.jpg", p1, testDirs.Upload)
	}
	data, err := afero.ReadFile(fs, p1)
	if err != nil || string(data) != "image-bytes" {
		t.Errorf("saved content = %q, %v", data, err)
	}

	if err := s.Remove(ctx, p1); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := s.Remove(ctx, p1); err != nil {
		t.Errorf("Remove() of missing file error = %v, want nil", err)
	}
}

func TestSaveGeneratedReturnsPublicPath(t *testing.T) {
	s, fs := newTestStorage()

	public, err := s.SaveGenerated(context.Background(), []byte("png"), "png")
	if err != nil {
		t.Fatalf("SaveGenerated() error = %v", err)
	}
	if !strings.HasPrefix(public, GeneratedURLPrefix) || !strings.HasSuffix(public, ".png") {
		t.Errorf("SaveGenerated() = %s, want /generated_images/<uuid>.png", public)
	}
	local, err := s.Resolve(public)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ok, _ := afero.Exists(fs, local); !ok {
		t.Errorf("generated file missing at %s", local)
	}
}

func TestArchiveMovesSprite(t *testing.T) {
	s, fs := newTestStorage()
	ctx := context.Background()
	_ = afero.WriteFile(fs, "/data/public/sprites/heroes/knight.png", []byte("k"), 0o644)

	if err := s.Archive(ctx, "/sprites/heroes/knight.png"); err != nil {
		t.Fatalf("Archive() error = %v", err)
	}
	if ok, _ := afero.Exists(fs, "/data/public/sprites/heroes/knight.png"); ok {
		t.Error("source still exists after Archive()")
	}
	if ok, _ := afero.Exists(fs, "/data/public/sprites_archive/heroes/knight.png"); !ok {
		t.Error("archived file missing")
	}

	if err := s.Archive(ctx, "/sprites/heroes/knight.png"); err != nil {
		t.Errorf("Archive() of missing file error = %v, want nil", err)
	}
}

func TestArchiveCannotEscapeSpritesDir(t *testing.T) {
	s, fs := newTestStorage()
	_ = afero.WriteFile(fs, "/data/secret.txt", []byte("s"), 0o644)

	_ = s.Archive(context.Background(), "/sprites/../../secret.txt")
	if ok, _ := afero.Exists(fs, "/data/secret.txt"); !ok {
		t.Error("file outside the sprites directory was moved")
	}
}

func TestRemoveOnlyDeletesUploads(t *testing.T) {
	s, fs := newTestStorage()
	_ = afero.WriteFile(fs, "/etc/important.conf", []byte("c"), 0o644)
	_ = afero.WriteFile(fs, "/data/public/sprites/knight.png", []byte("k"), 0o644)

	for _, p := range []string{"/etc/important.conf", "/data/uploads/../public/sprites/knight.png", "/data/uploads", "/sprites/knight.png"} {
		if err := s.Remove(context.Background(), p); !domain.IsKind(err, domain.KindValidationFailure) {
			t.Errorf("Remove(%s) error = %v, want ValidationFailure", p, err)
		}
	}
	for _, p := range []string{"/etc/important.conf", "/data/public/sprites/knight.png"} {
		if ok, _ := afero.Exists(fs, p); !ok {
			t.Errorf("%s was removed", p)
		}
	}
}

func TestResolve(t *testing.T) {
	s, _ := newTestStorage()
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "/sprites/heroes/knight.png", want: "/data/public/sprites/heroes/knight.png"},
		{in: "/sprites/../../etc/passwd", want: "/data/public/sprites/etc/passwd"},
		{in: "/generated_images/a.png", want: "/data/generated/a.png"},
		{in: "/data/uploads/x.jpg", want: "/data/uploads/x.jpg"},
		{in: "/etc/passwd", wantErr: true},
		{in: "/data/uploads/../secret.txt", wantErr: true},
		{in: "relative.png", wantErr: true},
	}
	for _, tt := range tests {
		got, err := s.Resolve(tt.in)
		if tt.wantErr {
			if !domain.IsKind(err, domain.KindValidationFailure) {
				t.Errorf("Resolve(%s) = %q, %v; want ValidationFailure", tt.in, got, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("Resolve(%s) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestListSprites(t *testing.T) {
	s, fs := newTestStorage()
	_ = afero.WriteFile(fs, "/data/public/sprites/b.png", []byte("b"), 0o644)
	_ = afero.WriteFile(fs, "/data/public/sprites/sub/a.webp", []byte("a"), 0o644)
	_ = afero.WriteFile(fs, "/data/public/sprites/notes.txt", []byte("n"), 0o644)

	got, err := s.ListSprites(context.Background())
	if err != nil {
		t.Fatalf("ListSprites() error = %v", err)
	}
	want := []string{"/sprites/b.png", "/sprites/sub/a.webp"}
	if len(got) != len(want) {
		t.Fatalf("ListSprites() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ListSprites()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestListSpritesWithoutDirectory(t *testing.T) {
	s, _ := newTestStorage()
	got, err := s.ListSprites(context.Background())
	if err != nil || len(got) != 0 {
		t.Errorf("ListSprites() = %v, %v; want empty", got, err)
	}
}
