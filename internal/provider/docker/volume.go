package docker

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	dockerclient "github.com/docker/docker/client"

	"github.com/corralhq/corral/internal/common/errors"
	"github.com/corralhq/corral/internal/volume"
)

// containerVolume implements volume.Volume by running shell commands
// inside the state container, giving agent stores the same interface
// whether a host is local, SSH-reachable, or a Docker state container.
type containerVolume struct {
	host *containerHost
	root string
}

func newContainerVolume(cli *dockerclient.Client, containerName, root string) *containerVolume {
	return &containerVolume{host: newContainerHost(cli, containerName, root), root: root}
}

func (v *containerVolume) resolve(p string) string { return path.Join(v.root, p) }

func (v *containerVolume) Listdir(ctx context.Context, dir string) ([]volume.Entry, error) {
	full := v.resolve(dir)
	result, err := v.host.exec(ctx, []string{"sh", "-c", "find " + shellQuote(full) + " -mindepth 1 -maxdepth 1 -printf '%y\\t%s\\t%T@\\t%f\\n' 2>/dev/null"})
	if err != nil {
		return nil, err
	}
	if result.ReturnCode != 0 {
		return nil, nil
	}
	var out []volume.Entry
	for _, line := range strings.Split(strings.TrimRight(result.Stdout, "\n"), "\n") {
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 4)
		if len(fields) != 4 {
			continue
		}
		kind := volume.KindFile
		if fields[0] == "d" {
			kind = volume.KindDirectory
		}
		size, _ := strconv.ParseInt(fields[1], 10, 64)
		epoch, _ := strconv.ParseFloat(fields[2], 64)
		out = append(out, volume.Entry{
			Path:  path.Join(dir, fields[3]),
			Kind:  kind,
			Size:  size,
			Mtime: time.Unix(int64(epoch), 0),
		})
	}
	return out, nil
}

func (v *containerVolume) ReadFile(ctx context.Context, p string) ([]byte, error) {
	content, err := v.host.ReadTextFile(ctx, v.resolve(p))
	if err != nil {
		return nil, err
	}
	return []byte(content), nil
}

func (v *containerVolume) WriteFiles(ctx context.Context, files map[string][]byte) error {
	for p, content := range files {
		full := v.resolve(p)
		if _, err := v.host.exec(ctx, []string{"mkdir", "-p", path.Dir(full)}); err != nil {
			return err
		}
		if err := v.host.WriteTextFile(ctx, full, string(content)); err != nil {
			return err
		}
	}
	return nil
}

func (v *containerVolume) RemoveFile(ctx context.Context, p string) error {
	result, err := v.host.exec(ctx, []string{"rm", "-f", v.resolve(p)})
	if err != nil {
		return err
	}
	if result.ReturnCode != 0 {
		return errors.Internal("", nil, "removing %s: %s", p, result.Stderr)
	}
	return nil
}

func (v *containerVolume) RemoveDirectory(ctx context.Context, dir string) error {
	result, err := v.host.exec(ctx, []string{"rm", "-rf", v.resolve(dir)})
	if err != nil {
		return err
	}
	if result.ReturnCode != 0 {
		return errors.Internal("", nil, "removing directory %s: %s", dir, result.Stderr)
	}
	return nil
}

func (v *containerVolume) Stat(ctx context.Context, p string) (volume.Entry, error) {
	full := v.resolve(p)
	result, err := v.host.exec(ctx, []string{"sh", "-c", fmt.Sprintf("stat -c '%%F\\t%%s\\t%%Y' %s", shellQuote(full))})
	if err != nil {
		return volume.Entry{}, err
	}
	if result.ReturnCode != 0 {
		return volume.Entry{}, errors.NotFound("file", p)
	}
	fields := strings.SplitN(strings.TrimSpace(result.Stdout), "\t", 3)
	if len(fields) != 3 {
		return volume.Entry{}, errors.Internal("", nil, "unexpected stat output for %s", p)
	}
	kind := volume.KindFile
	if strings.Contains(fields[0], "directory") {
		kind = volume.KindDirectory
	}
	size, _ := strconv.ParseInt(fields[1], 10, 64)
	epoch, _ := strconv.ParseInt(fields[2], 10, 64)
	return volume.Entry{Path: path.Clean(p), Kind: kind, Size: size, Mtime: time.Unix(epoch, 0)}, nil
}

func (v *containerVolume) Scoped(prefix string) volume.Volume {
	return volume.NewScoped(v, prefix)
}

var _ volume.Volume = (*containerVolume)(nil)
