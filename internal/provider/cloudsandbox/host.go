package cloudsandbox

import (
	"context"
	"strings"
	"time"

	sprites "github.com/superfly/sprites-go"

	"github.com/corralhq/corral/internal/common/errors"
	hostiface "github.com/corralhq/corral/internal/host"
)

// sandboxHost implements host.Interface by running commands through
// `sprite.CommandContext` and file access through the sandbox's
// filesystem API, grounded on the teacher's Sprites executor.
type sandboxHost struct {
	sprite  *sprites.Sprite
	workDir string
}

func newSandboxHost(sprite *sprites.Sprite, workDir string) *sandboxHost {
	return &sandboxHost{sprite: sprite, workDir: workDir}
}

func (h *sandboxHost) HostDir() string { return h.workDir }
func (h *sandboxHost) IsLocal() bool   { return false }

func (h *sandboxHost) ExecuteCommand(ctx context.Context, command []string, opts hostiface.ExecOptions) (*hostiface.CommandResult, error) {
	if len(command) == 0 {
		return nil, errors.UserInput("empty command")
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	cmd := h.sprite.CommandContext(ctx, command[0], command[1:]...)
	out, err := cmd.Output()
	if err != nil {
		return &hostiface.CommandResult{ReturnCode: 1, Stderr: err.Error()}, nil
	}
	return &hostiface.CommandResult{ReturnCode: 0, Stdout: string(out), Success: true}, nil
}

func (h *sandboxHost) WriteTextFile(ctx context.Context, path string, content string) error {
	if err := h.sprite.Filesystem().WriteFileContext(ctx, path, []byte(content), 0o644); err != nil {
		return errors.Provider(err, "writing %s to cloud sandbox", path)
	}
	return nil
}

func (h *sandboxHost) ReadTextFile(ctx context.Context, path string) (string, error) {
	data, err := h.sprite.Filesystem().ReadFileContext(ctx, path)
	if err != nil {
		return "", errors.NotFound("remote file", path)
	}
	return string(data), nil
}

func (h *sandboxHost) shell(ctx context.Context, script string) (*hostiface.CommandResult, error) {
	return h.ExecuteCommand(ctx, []string{"sh", "-c", script}, hostiface.ExecOptions{})
}

func (h *sandboxHost) HasSession(ctx context.Context, name string) (bool, error) {
	result, err := h.shell(ctx, "tmux has-session -t "+shellQuote(name))
	if err != nil {
		return false, err
	}
	return result.Success, nil
}

func (h *sandboxHost) StartTmuxSession(ctx context.Context, name string, command []string, env []string) error {
	exists, err := h.HasSession(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return errors.AlreadyExists("tmux session", name)
	}
	envPrefix := ""
	for _, kv := range env {
		envPrefix += shellQuote(kv) + " "
	}
	result, err := h.shell(ctx, "tmux new-session -d -s "+shellQuote(name)+" "+envPrefix+shellQuoteAll(command))
	if err != nil {
		return err
	}
	if !result.Success {
		return errors.Internal("", nil, "tmux new-session: %s", result.Stderr)
	}
	return nil
}

func (h *sandboxHost) AttachTmux(context.Context, string) (hostiface.AttachHandle, error) {
	return nil, errors.State("interactive attach is not supported for cloud sandbox hosts")
}

func (h *sandboxHost) SendKeys(ctx context.Context, target string, text string) error {
	result, err := h.shell(ctx, "tmux send-keys -t "+shellQuote(target)+" -l "+shellQuote(text))
	if err != nil {
		return err
	}
	if !result.Success {
		return &hostiface.TmuxSendError{Target: target, Reason: "tmux send-keys failed: " + strings.TrimSpace(result.Stderr)}
	}
	return nil
}

func (h *sandboxHost) CapturePane(ctx context.Context, target string) (string, error) {
	result, err := h.shell(ctx, "tmux capture-pane -t "+shellQuote(target)+" -p")
	if err != nil {
		return "", err
	}
	if !result.Success {
		return "", nil
	}
	return result.Stdout, nil
}

func (h *sandboxHost) WaitFor(ctx context.Context, channel string, timeout time.Duration) (bool, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result, err := h.shell(waitCtx, "tmux wait-for "+shellQuote(channel))
	if waitCtx.Err() != nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return result.Success, nil
}

func (h *sandboxHost) KillSession(ctx context.Context, name string) error {
	result, err := h.shell(ctx, "tmux kill-session -t "+shellQuote(name))
	if err != nil {
		return err
	}
	if !result.Success && !strings.Contains(result.Stderr, "session not found") {
		return errors.Internal("", nil, "tmux kill-session: %s", result.Stderr)
	}
	return nil
}

func (h *sandboxHost) RenameSession(ctx context.Context, oldName, newName string) error {
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
	result, err := h.shell(ctx, "tmux rename-session -t "+shellQuote(oldName)+" "+shellQuote(newName))
	if err != nil {
		return err
	}
	if !result.Success {
		return errors.Internal("", nil, "tmux rename-session: %s", result.Stderr)
	}
	return nil
}

func (h *sandboxHost) SendSignal(ctx context.Context, target string, sig string) error {
	result, err := h.shell(ctx, "tmux list-panes -t "+shellQuote(target)+" -F '#{pane_pid}'")
	if err != nil {
		return err
	}
	pid := strings.TrimSpace(strings.SplitN(result.Stdout, "\n", 2)[0])
	if pid == "" {
		return errors.NotFound("tmux pane", target)
	}
	killResult, err := h.shell(ctx, "kill -s "+sig+" "+pid)
	if err != nil {
		return err
	}
	if !killResult.Success {
		return errors.Internal("", nil, "kill %s: %s", sig, killResult.Stderr)
	}
	return nil
}

func shellQuote(s string) string { return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'" }

func shellQuoteAll(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shellQuote(a)
	}
	return strings.Join(quoted, " ")
}

var _ hostiface.Interface = (*sandboxHost)(nil)
