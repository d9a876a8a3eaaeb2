package docker

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/corralhq/corral/internal/common/errors"
	hostiface "github.com/corralhq/corral/internal/host"
)

// containerHost implements host.Interface by running every command
// through `docker exec` against a single long-lived state container
// (spec §4.5).
type containerHost struct {
	cli           *dockerclient.Client
	containerName string
	stateDir      string
}

func newContainerHost(cli *dockerclient.Client, containerName, stateDir string) *containerHost {
	return &containerHost{cli: cli, containerName: containerName, stateDir: stateDir}
}

func (h *containerHost) HostDir() string { return h.stateDir }
func (h *containerHost) IsLocal() bool   { return false }

func (h *containerHost) exec(ctx context.Context, cmd []string) (*hostiface.CommandResult, error) {
	execCfg := container.ExecOptions{Cmd: cmd, AttachStdout: true, AttachStderr: true}
	created, err := h.cli.ContainerExecCreate(ctx, h.containerName, execCfg)
	if err != nil {
		return nil, errors.Provider(err, "creating exec for %s", strings.Join(cmd, " "))
	}
	attached, err := h.cli.ContainerExecAttach(ctx, created.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, errors.Provider(err, "attaching exec for %s", strings.Join(cmd, " "))
	}
	defer attached.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attached.Reader); err != nil {
		return nil, errors.Provider(err, "reading exec output for %s", strings.Join(cmd, " "))
	}

	inspect, err := h.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, errors.Provider(err, "inspecting exec for %s", strings.Join(cmd, " "))
	}
	return &hostiface.CommandResult{
		ReturnCode: inspect.ExitCode,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		Success:    inspect.ExitCode == 0,
	}, nil
}

func (h *containerHost) ExecuteCommand(ctx context.Context, command []string, opts hostiface.ExecOptions) (*hostiface.CommandResult, error) {
	if len(command) == 0 {
		return nil, errors.UserInput("empty command")
	}
	cmd := command
	if opts.Cwd != "" {
		cmd = append([]string{"sh", "-c", "cd " + shellQuote(opts.Cwd) + " && exec " + shellQuoteAll(command)})
	}
	return h.exec(ctx, cmd)
}

func shellQuote(s string) string { return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'" }

func shellQuoteAll(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

func (h *containerHost) WriteTextFile(ctx context.Context, path string, content string) error {
	result, err := h.exec(ctx, []string{"sh", "-c", "cat > " + shellQuote(path) + " <<'CORRAL_EOF'\n" + content + "\nCORRAL_EOF"})
	if err != nil {
		return err
	}
	if result.ReturnCode != 0 {
		return errors.Internal("", nil, "writing %s: %s", path, result.Stderr)
	}
	return nil
}

func (h *containerHost) ReadTextFile(ctx context.Context, path string) (string, error) {
	result, err := h.exec(ctx, []string{"cat", path})
	if err != nil {
		return "", err
	}
	if result.ReturnCode != 0 {
		return "", errors.NotFound("file", path)
	}
	return result.Stdout, nil
}

func (h *containerHost) HasSession(ctx context.Context, name string) (bool, error) {
	result, err := h.exec(ctx, []string{"tmux", "has-session", "-t", name})
	if err != nil {
		return false, err
	}
	return result.ReturnCode == 0, nil
}

func (h *containerHost) StartTmuxSession(ctx context.Context, name string, command []string, env []string) error {
	exists, err := h.HasSession(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return errors.AlreadyExists("tmux session", name)
	}
	cmd := append([]string{"tmux", "new-session", "-d", "-s", name}, command...)
	result, err := h.exec(ctx, cmd)
	if err != nil {
		return err
	}
	if result.ReturnCode != 0 {
		return errors.Internal("", nil, "tmux new-session: %s", result.Stderr)
	}
	return nil
}

func (h *containerHost) AttachTmux(context.Context, string) (hostiface.AttachHandle, error) {
	return nil, errors.State("interactive attach is not supported for docker hosts")
}

func (h *containerHost) SendKeys(ctx context.Context, target string, text string) error {
	result, err := h.exec(ctx, []string{"tmux", "send-keys", "-t", target, "-l", text})
	if err != nil {
		return err
	}
	if result.ReturnCode != 0 {
		return &hostiface.TmuxSendError{Target: target, Reason: "tmux send-keys failed: " + strings.TrimSpace(result.Stderr)}
	}
	return nil
}

func (h *containerHost) CapturePane(ctx context.Context, target string) (string, error) {
	result, err := h.exec(ctx, []string{"tmux", "capture-pane", "-t", target, "-p"})
	if err != nil {
		return "", err
	}
	if result.ReturnCode != 0 {
		return "", nil
	}
	return result.Stdout, nil
}

func (h *containerHost) WaitFor(ctx context.Context, channel string, timeout time.Duration) (bool, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result, err := h.exec(waitCtx, []string{"tmux", "wait-for", channel})
	if waitCtx.Err() != nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return result.ReturnCode == 0, nil
}

func (h *containerHost) KillSession(ctx context.Context, name string) error {
	result, err := h.exec(ctx, []string{"tmux", "kill-session", "-t", name})
	if err != nil {
		return err
	}
	if result.ReturnCode != 0 && !strings.Contains(result.Stderr, "session not found") {
		return errors.Internal("", nil, "tmux kill-session: %s", result.Stderr)
	}
	return nil
}

func (h *containerHost) RenameSession(ctx context.Context, oldName, newName string) error {
	exists, err := h.HasSession(ctx, oldName)
	if err != nil {
		return err
	}
	if !exists {
		renamed, err := h.HasSession(ctx, newName)
		if err == nil && renamed {
			return nil
		}
		return errors.NotFound("tmux session", oldName)
	}
	result, err := h.exec(ctx, []string{"tmux", "rename-session", "-t", oldName, newName})
	if err != nil {
		return err
	}
	if result.ReturnCode != 0 {
		return errors.Internal("", nil, "tmux rename-session: %s", result.Stderr)
	}
	return nil
}

func (h *containerHost) SendSignal(ctx context.Context, target string, sig string) error {
	result, err := h.exec(ctx, []string{"tmux", "list-panes", "-t", target, "-F", "#{pane_pid}"})
	if err != nil {
		return err
	}
	pid := strings.TrimSpace(strings.SplitN(result.Stdout, "\n", 2)[0])
	if pid == "" {
		return errors.NotFound("tmux pane", target)
	}
	killResult, err := h.exec(ctx, []string{"kill", "-s", sig, pid})
	if err != nil {
		return err
	}
	if killResult.ReturnCode != 0 {
		return errors.Internal("", nil, "kill %s: %s", sig, killResult.Stderr)
	}
	return nil
}

var _ hostiface.Interface = (*containerHost)(nil)
