package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var audioExt = map[string]bool{
	".mp3": true, ".wav": true, ".flac": true, ".ogg": true, ".m4a": true, ".aac": true,
}

var thumbExt = []string{".jpg", ".jpeg", ".png", ".webp"}

// Dir serves tracks from a local directory. It cannot download.
type Dir struct {
	Root string
}

// NewDir returns a library rooted at root.
func NewDir(root string) *Dir {
	return &Dir{Root: root}
}

func (d *Dir) path(name string) (string, error) {
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return filepath.Join(d.Root, name), nil
}

// List returns the audio files in the directory, newest first.
func (d *Dir) List(ctx context.Context) ([]File, error) {
	entries, err := os.ReadDir(d.Root)
	if err != nil {
		return nil, fmt.Errorf("read library dir: %w", err)
	}

	type stamped struct {
		file File
		mod  time.Time
	}
	var found []stamped
	for _, e := range entries {
		if e.IsDir() || !audioExt[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, stamped{
			file: File{MP3: e.Name(), Thumbnail: d.thumbnail(e.Name())},
			mod:  info.ModTime(),
		})
	}
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].mod.Equal(found[j].mod) {
			return found[i].file.MP3 < found[j].file.MP3
		}
		return found[i].mod.After(found[j].mod)
	})

	files := make([]File, len(found))
	for i, f := range found {
		files[i] = f.file
	}
	return files, nil
}

func (d *Dir) thumbnail(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	for _, ext := range thumbExt {
		if _, err := os.Stat(filepath.Join(d.Root, base+ext)); err == nil {
			return base + ext
		}
	}
	return ""
}

// Open opens a file from the directory.
func (d *Dir) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	p, err := d.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return f, err
}

// Download is not available for a local directory.
func (d *Dir) Download(ctx context.Context, link string) error {
	return ErrUnsupported
}

// Delete removes a track and its thumbnail.
func (d *Dir) Delete(ctx context.Context, fileName string) error {
	p, err := d.path(fileName)
	if err != nil {
		return err
	}
	thumb := d.thumbnail(fileName)
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, fileName)
		}
		return err
	}
	if thumb != "" {
		os.Remove(filepath.Join(d.Root, thumb))
	}
	return nil
}
