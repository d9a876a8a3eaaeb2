package volume

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SSHVolume implements Volume by running file operations over SFTP
// against a single SSH-reachable host, rooted at root on that host.
type SSHVolume struct {
	client *sftp.Client
	root   string
}

// NewSSH wraps an already-dialed ssh.Client's SFTP subsystem as a Volume
// rooted at root on the remote filesystem.
func NewSSH(conn *ssh.Client, root string) (*SSHVolume, error) {
	client, err := sftp.NewClient(conn)
	if err != nil {
		return nil, fmt.Errorf("opening sftp subsystem: %w", err)
	}
	return &SSHVolume{client: client, root: root}, nil
}

// Close releases the underlying SFTP session.
func (s *SSHVolume) Close() error { return s.client.Close() }

func (s *SSHVolume) resolve(p string) string {
	return path.Join(s.root, p)
}

func (s *SSHVolume) Listdir(_ context.Context, dir string) ([]Entry, error) {
	full := s.resolve(dir)
	infos, err := s.client.ReadDir(full)
	if err != nil {
		if sftpIsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Entry, 0, len(infos))
	for _, info := range infos {
		kind := KindFile
		if info.IsDir() {
			kind = KindDirectory
		}
		out = append(out, Entry{
			Path:  path.Join(dir, info.Name()),
			Kind:  kind,
			Size:  info.Size(),
			Mtime: info.ModTime(),
		})
	}
	return out, nil
}

func (s *SSHVolume) ReadFile(_ context.Context, p string) ([]byte, error) {
	f, err := s.client.Open(s.resolve(p))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// WriteFiles writes each file to a sibling temp path then renames it into
// place, so a reader never sees partial content. Because SFTP rename
// historically refuses to overwrite, the remote file is removed first if
// present; a reader between the remove and the rename finds no file.
func (s *SSHVolume) WriteFiles(_ context.Context, files map[string][]byte) error {
	for p, content := range files {
		full := s.resolve(p)
		dir := path.Dir(full)
		if err := s.client.MkdirAll(dir); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
		tmp := full + ".tmp-corral"
		f, err := s.client.Create(tmp)
		if err != nil {
			return fmt.Errorf("creating temp file %s: %w", tmp, err)
		}
		if _, err := f.Write(content); err != nil {
			f.Close()
			return fmt.Errorf("writing temp file %s: %w", tmp, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("closing temp file %s: %w", tmp, err)
		}
		_ = s.client.Remove(full) // best effort; Posix rename would overwrite, SFTP may not
		if err := s.client.Rename(tmp, full); err != nil {
			return fmt.Errorf("renaming %s to %s: %w", tmp, full, err)
		}
	}
	return nil
}

func (s *SSHVolume) Stat(_ context.Context, p string) (Entry, error) {
	info, err := s.client.Stat(s.resolve(p))
	if err != nil {
		return Entry{}, err
	}
	kind := KindFile
	if info.IsDir() {
		kind = KindDirectory
	}
	return Entry{Path: path.Clean(p), Kind: kind, Size: info.Size(), Mtime: info.ModTime()}, nil
}

func (s *SSHVolume) RemoveFile(_ context.Context, p string) error {
	err := s.client.Remove(s.resolve(p))
	if err != nil && sftpIsNotExist(err) {
		return nil
	}
	return err
}

func (s *SSHVolume) RemoveDirectory(_ context.Context, dir string) error {
	return s.removeAll(s.resolve(dir))
}

func (s *SSHVolume) removeAll(full string) error {
	infos, err := s.client.ReadDir(full)
	if err != nil {
		if sftpIsNotExist(err) {
			return nil
		}
		return err
	}
	for _, info := range infos {
		childPath := path.Join(full, info.Name())
		if info.IsDir() {
			if err := s.removeAll(childPath); err != nil {
				return err
			}
			continue
		}
		if err := s.client.Remove(childPath); err != nil {
			return err
		}
	}
	return s.client.RemoveDirectory(full)
}

func sftpIsNotExist(err error) bool {
	return errors.Is(err, sftp.ErrSSHFxNoSuchFile) || os.IsNotExist(err)
}

func (s *SSHVolume) Scoped(prefix string) Volume {
	return NewScoped(s, prefix)
}
