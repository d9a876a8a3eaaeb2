package cloudsandbox

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	sprites "github.com/superfly/sprites-go"

	"github.com/corralhq/corral/internal/common/errors"
	"github.com/corralhq/corral/internal/volume"
)

// sandboxVolume implements volume.Volume over a cloud sandbox's shell,
// mirroring the docker backend's exec-based containerVolume.
type sandboxVolume struct {
	host *sandboxHost
	root string
}

func newSandboxVolume(sprite *sprites.Sprite, root string) *sandboxVolume {
	return &sandboxVolume{host: newSandboxHost(sprite, root), root: root}
}

func (v *sandboxVolume) resolve(p string) string { return path.Join(v.root, p) }

func (v *sandboxVolume) Listdir(ctx context.Context, dir string) ([]volume.Entry, error) {
	full := v.resolve(dir)
	result, err := v.host.shell(ctx, "find "+shellQuote(full)+" -mindepth 1 -maxdepth 1 -printf '%y\\t%s\\t%T@\\t%f\\n' 2>/dev/null")
	if err != nil {
		return nil, err
	}
	if !result.Success {
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

func (v *sandboxVolume) ReadFile(ctx context.Context, p string) ([]byte, error) {
	content, err := v.host.ReadTextFile(ctx, v.resolve(p))
	if err != nil {
		return nil, err
	}
	return []byte(content), nil
}

func (v *sandboxVolume) WriteFiles(ctx context.Context, files map[string][]byte) error {
	for p, content := range files {
		full := v.resolve(p)
		if _, err := v.host.shell(ctx, "mkdir -p "+shellQuote(path.Dir(full))); err != nil {
			return err
		}
		if err := v.host.WriteTextFile(ctx, full, string(content)); err != nil {
			return err
		}
	}
	return nil
}

func (v *sandboxVolume) RemoveFile(ctx context.Context, p string) error {
	result, err := v.host.shell(ctx, "rm -f "+shellQuote(v.resolve(p)))
	if err != nil {
		return err
	}
	if !result.Success {
		return errors.Internal("", nil, "removing %s: %s", p, result.Stderr)
	}
	return nil
}

func (v *sandboxVolume) RemoveDirectory(ctx context.Context, dir string) error {
	result, err := v.host.shell(ctx, "rm -rf "+shellQuote(v.resolve(dir)))
	if err != nil {
		return err
	}
	if !result.Success {
		return errors.Internal("", nil, "removing directory %s: %s", dir, result.Stderr)
	}
	return nil
}

func (v *sandboxVolume) Stat(ctx context.Context, p string) (volume.Entry, error) {
	full := v.resolve(p)
	result, err := v.host.shell(ctx, fmt.Sprintf("stat -c '%%F\\t%%s\\t%%Y' %s", shellQuote(full)))
	if err != nil {
		return volume.Entry{}, err
	}
	if !result.Success {
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

func (v *sandboxVolume) Scoped(prefix string) volume.Volume {
	return volume.NewScoped(v, prefix)
}

var _ volume.Volume = (*sandboxVolume)(nil)
