// Package volume implements the filesystem-like, prefix-scopable handle
// into a host's persistent storage (spec §4.2, C3).
package volume

import (
	"context"
	"path"
	"strings"
	"time"
)

// EntryKind distinguishes files from directories in a listing.
type EntryKind string

const (
	KindFile      EntryKind = "FILE"
	KindDirectory EntryKind = "DIRECTORY"
)

// Entry describes one path returned by Listdir.
type Entry struct {
	Path  string
	Kind  EntryKind
	Size  int64
	Mtime time.Time
}

// Volume is a filesystem-like access surface that may be backed by a
// local directory, an SSH-mediated remote directory, or a cloud-volume.
// Concrete backends may serialize writes through a single long-running
// helper process (e.g. exec into the Docker backend's state container).
type Volume interface {
	Listdir(ctx context.Context, dir string) ([]Entry, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// WriteFiles writes each entry in turn. The batch is not atomic as a
	// whole: a failure part-way leaves the earlier entries written.
	WriteFiles(ctx context.Context, files map[string][]byte) error
	RemoveFile(ctx context.Context, path string) error
	RemoveDirectory(ctx context.Context, dir string) error
	// Stat returns metadata for a single file, notably its Mtime — used
	// by idle enforcement to read the authoritative activity timestamp
	// off activity/ssh without listing its parent directory.
	Stat(ctx context.Context, path string) (Entry, error)
	// Scoped returns a Volume that prepends prefix/ to every path passed
	// in and strips it from Listdir output. Scoped composes:
	// v.Scoped("a").Scoped("b") behaves like v.Scoped("a/b").
	Scoped(prefix string) Volume
}

// scopedVolume wraps a base Volume, rewriting paths through a prefix.
type scopedVolume struct {
	base   Volume
	prefix string // always cleaned, no leading/trailing slash, "" for root
}

// NewScoped wraps base so every operation is rooted at prefix.
func NewScoped(base Volume, prefix string) Volume {
	return &scopedVolume{base: base, prefix: cleanPrefix(prefix)}
}

func cleanPrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" || p == "." {
		return ""
	}
	return path.Clean(p)
}

func (s *scopedVolume) full(p string) string {
	p = strings.TrimPrefix(p, "/")
	if s.prefix == "" {
		return p
	}
	if p == "" || p == "." {
		return s.prefix
	}
	return s.prefix + "/" + p
}

func (s *scopedVolume) strip(p string) string {
	if s.prefix == "" {
		return p
	}
	trimmed := strings.TrimPrefix(p, s.prefix+"/")
	if trimmed == p && p == s.prefix {
		return ""
	}
	return trimmed
}

func (s *scopedVolume) Listdir(ctx context.Context, dir string) ([]Entry, error) {
	entries, err := s.base.Listdir(ctx, s.full(dir))
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		e.Path = s.strip(e.Path)
		out[i] = e
	}
	return out, nil
}

func (s *scopedVolume) ReadFile(ctx context.Context, p string) ([]byte, error) {
	return s.base.ReadFile(ctx, s.full(p))
}

func (s *scopedVolume) WriteFiles(ctx context.Context, files map[string][]byte) error {
	scoped := make(map[string][]byte, len(files))
	for p, content := range files {
		scoped[s.full(p)] = content
	}
	return s.base.WriteFiles(ctx, scoped)
}

func (s *scopedVolume) RemoveFile(ctx context.Context, p string) error {
	return s.base.RemoveFile(ctx, s.full(p))
}

func (s *scopedVolume) RemoveDirectory(ctx context.Context, dir string) error {
	return s.base.RemoveDirectory(ctx, s.full(dir))
}

func (s *scopedVolume) Stat(ctx context.Context, p string) (Entry, error) {
	e, err := s.base.Stat(ctx, s.full(p))
	if err != nil {
		return Entry{}, err
	}
	e.Path = s.strip(e.Path)
	return e, nil
}

func (s *scopedVolume) Scoped(prefix string) Volume {
	return NewScoped(s.base, s.full(prefix))
}
