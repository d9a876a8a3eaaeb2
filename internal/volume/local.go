package volume

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
)

// LocalVolume implements Volume directly against a local directory tree.
type LocalVolume struct {
	root string
}

// NewLocal returns a Volume rooted at root. root is created on first
// write if it does not already exist.
func NewLocal(root string) *LocalVolume {
	return &LocalVolume{root: root}
}

func (l *LocalVolume) resolve(p string) string {
	return filepath.Join(l.root, filepath.FromSlash(p))
}

func (l *LocalVolume) Listdir(_ context.Context, dir string) ([]Entry, error) {
	full := l.resolve(dir)
	entries, err := os.ReadDir(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		kind := KindFile
		if e.IsDir() {
			kind = KindDirectory
		}
		relPath := filepath.ToSlash(filepath.Join(dir, e.Name()))
		out = append(out, Entry{Path: relPath, Kind: kind, Size: info.Size(), Mtime: info.ModTime()})
	}
	return out, nil
}

func (l *LocalVolume) ReadFile(_ context.Context, p string) ([]byte, error) {
	return os.ReadFile(l.resolve(p))
}

func (l *LocalVolume) WriteFiles(_ context.Context, files map[string][]byte) error {
	for p, content := range files {
		if err := AtomicWriteFile(l.resolve(p), content, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", p, err)
		}
	}
	return nil
}

func (l *LocalVolume) Stat(_ context.Context, p string) (Entry, error) {
	info, err := os.Stat(l.resolve(p))
	if err != nil {
		return Entry{}, err
	}
	kind := KindFile
	if info.IsDir() {
		kind = KindDirectory
	}
	return Entry{Path: path.Clean(p), Kind: kind, Size: info.Size(), Mtime: info.ModTime()}, nil
}

func (l *LocalVolume) RemoveFile(_ context.Context, p string) error {
	err := os.Remove(l.resolve(p))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (l *LocalVolume) RemoveDirectory(_ context.Context, dir string) error {
	return os.RemoveAll(l.resolve(dir))
}

func (l *LocalVolume) Scoped(prefix string) Volume {
	return NewScoped(l, prefix)
}
