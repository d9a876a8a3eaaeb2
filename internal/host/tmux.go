package host

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/creack/pty"

	"github.com/corralhq/corral/internal/common/errors"
	"github.com/corralhq/corral/internal/concurrency"
)

// TmuxSendError reports that a `tmux send-keys` (or related) invocation
// targeting a session failed, distinguishing "no such session" from other
// tmux failures for callers that want to react to a vanished agent.
type TmuxSendError struct {
	Target string
	Reason string
}

func (e *TmuxSendError) Error() string {
	return fmt.Sprintf("tmux send to %q failed: %s", e.Target, e.Reason)
}

// LocalHost runs tmux directly on the operator's own machine. A non-empty
// tmuxTmpDir is passed to every tmux invocation as TMUX_TMPDIR, isolating
// it from a developer's interactive tmux server (the tests use this); an
// empty one uses the default tmux server.
type LocalHost struct {
	hostDir     string
	group       *concurrency.Group
	tmuxTmpDir  string
	sessionPfx  string
}

// NewLocalHost wraps group (its lifetime owns every tmux invocation this
// host makes) as a host rooted at hostDir.
func NewLocalHost(hostDir string, group *concurrency.Group, tmuxTmpDir string) *LocalHost {
	return &LocalHost{hostDir: hostDir, group: group, tmuxTmpDir: tmuxTmpDir}
}

func (h *LocalHost) HostDir() string { return h.hostDir }
func (h *LocalHost) IsLocal() bool   { return true }

func (h *LocalHost) tmuxEnv() []string {
	if h.tmuxTmpDir == "" {
		return nil
	}
	return []string{"TMUX_TMPDIR=" + h.tmuxTmpDir}
}

func (h *LocalHost) runTmux(ctx context.Context, args ...string) (*concurrency.ProcessResult, error) {
	return concurrency.RunToCompletion(ctx, h.group.ShutdownEvent(), concurrency.ProcessSpec{
		Command: append([]string{"tmux"}, args...),
		Env:     h.tmuxEnv(),
	})
}

func (h *LocalHost) ExecuteCommand(ctx context.Context, command []string, opts ExecOptions) (*CommandResult, error) {
	if len(command) == 0 {
		return nil, errors.UserInput("empty command")
	}
	result, err := concurrency.RunToCompletion(ctx, h.group.ShutdownEvent(), concurrency.ProcessSpec{
		Command: command,
		Cwd:     opts.Cwd,
		Env:     opts.Env,
		Timeout: opts.Timeout,
	})
	if err != nil {
		return nil, errors.Process(err, strings.Join(command, " "), -1)
	}
	return &CommandResult{
		ReturnCode: result.ReturnCode,
		Stdout:     result.Stdout,
		Stderr:     result.Stderr,
		Success:    result.ReturnCode == 0,
	}, nil
}

func (h *LocalHost) WriteTextFile(_ context.Context, path string, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

func (h *LocalHost) ReadTextFile(_ context.Context, path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func (h *LocalHost) HasSession(ctx context.Context, name string) (bool, error) {
	result, err := h.runTmux(ctx, "has-session", "-t", name)
	if err != nil {
		return false, err
	}
	return result.ReturnCode == 0, nil
}

func (h *LocalHost) StartTmuxSession(ctx context.Context, name string, command []string, env []string) error {
	exists, err := h.HasSession(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return errors.AlreadyExists("tmux session", name)
	}
	args := append([]string{"new-session", "-d", "-s", name}, command...)
	spec := concurrency.ProcessSpec{Command: append([]string{"tmux"}, args...), Env: append(h.tmuxEnv(), env...)}
	result, err := concurrency.RunToCompletion(ctx, h.group.ShutdownEvent(), spec)
	if err != nil {
		return errors.Process(err, "tmux new-session", -1)
	}
	if result.ReturnCode != 0 {
		return errors.Process(fmt.Errorf("%s", result.Stderr), "tmux new-session", result.ReturnCode)
	}
	return nil
}

func (h *LocalHost) SendKeys(ctx context.Context, target string, text string) error {
	result, err := h.runTmux(ctx, "send-keys", "-t", target, "-l", text)
	if err != nil {
		return err
	}
	if result.ReturnCode != 0 {
		return &TmuxSendError{Target: target, Reason: "tmux send-keys failed: " + strings.TrimSpace(result.Stderr)}
	}
	return nil
}

// SendEnterAndWaitForSignal sends a literal Enter keystroke to target,
// then blocks on `tmux wait-for` for channel, letting a PreSubmit/
// PostSubmit hook inside the agent confirm the prompt was actually
// accepted before the caller proceeds (spec §4.6 resume-message timing).
func (h *LocalHost) SendEnterAndWaitForSignal(ctx context.Context, target, channel string, timeout time.Duration) (bool, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	waitDone := make(chan error, 1)
	go func() {
		_, err := h.runTmux(waitCtx, "wait-for", channel)
		waitDone <- err
	}()

	if _, err := h.runTmux(ctx, "send-keys", "-t", target, "Enter"); err != nil {
		return false, err
	}

	select {
	case err := <-waitDone:
		return err == nil, nil
	case <-waitCtx.Done():
		return false, nil
	}
}

func (h *LocalHost) CapturePane(ctx context.Context, target string) (string, error) {
	result, err := h.runTmux(ctx, "capture-pane", "-t", target, "-p")
	if err != nil {
		return "", err
	}
	if result.ReturnCode != 0 {
		return "", nil
	}
	return result.Stdout, nil
}

func (h *LocalHost) WaitFor(ctx context.Context, channel string, timeout time.Duration) (bool, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result, err := h.runTmux(waitCtx, "wait-for", channel)
	if waitCtx.Err() != nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return result.ReturnCode == 0, nil
}

func (h *LocalHost) KillSession(ctx context.Context, name string) error {
	result, err := h.runTmux(ctx, "kill-session", "-t", name)
	if err != nil {
		return err
	}
	if result.ReturnCode != 0 && !strings.Contains(result.Stderr, "session not found") {
		return errors.Process(fmt.Errorf("%s", result.Stderr), "tmux kill-session", result.ReturnCode)
	}
	return nil
}

func (h *LocalHost) RenameSession(ctx context.Context, oldName, newName string) error {
	exists, err := h.HasSession(ctx, oldName)
	if err != nil {
		return err
	}
	if !exists {
		// Idempotent rename: a prior attempt may have already renamed the
		// session but crashed before the record update (spec §4.6).
		renamed, err := h.HasSession(ctx, newName)
		if err == nil && renamed {
			return nil
		}
		return errors.NotFound("tmux session", oldName)
	}
	result, err := h.runTmux(ctx, "rename-session", "-t", oldName, newName)
	if err != nil {
		return err
	}
	if result.ReturnCode != 0 {
		return errors.Process(fmt.Errorf("%s", result.Stderr), "tmux rename-session", result.ReturnCode)
	}
	return nil
}

func (h *LocalHost) SendSignal(ctx context.Context, target string, sig string) error {
	result, err := h.runTmux(ctx, "list-panes", "-t", target, "-F", "#{pane_pid}")
	if err != nil {
		return err
	}
	pid := strings.TrimSpace(strings.SplitN(result.Stdout, "\n", 2)[0])
	if pid == "" {
		return errors.NotFound("tmux pane", target)
	}
	killResult, err := concurrency.RunToCompletion(ctx, h.group.ShutdownEvent(), concurrency.ProcessSpec{
		Command: []string{"kill", "-s", sig, pid},
	})
	if err != nil {
		return err
	}
	if killResult.ReturnCode != 0 {
		return errors.Process(fmt.Errorf("%s", killResult.Stderr), "kill "+sig, killResult.ReturnCode)
	}
	return nil
}

// ptyAttachHandle relays a pty-backed `tmux attach-session` to the proxy's
// WebSocket relay or `corral-attach`'s raw terminal.
type ptyAttachHandle struct {
	cmd *exec.Cmd
	f   *os.File
}

func (h *LocalHost) AttachTmux(_ context.Context, name string) (AttachHandle, error) {
	cmd := exec.Command("tmux", "attach-session", "-t", name)
	cmd.Env = append(os.Environ(), h.tmuxEnv()...)
	f, err := pty.Start(cmd)
	if err != nil {
		return nil, errors.Process(err, "tmux attach-session", -1)
	}
	return &ptyAttachHandle{cmd: cmd, f: f}, nil
}

func (a *ptyAttachHandle) Resize(cols, rows int) error {
	return pty.Setsize(a.f, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

func (a *ptyAttachHandle) Read(p []byte) (int, error)  { return a.f.Read(p) }
func (a *ptyAttachHandle) Write(p []byte) (int, error) { return a.f.Write(p) }

func (a *ptyAttachHandle) Close() error {
	_ = a.f.Close()
	if a.cmd.Process != nil {
		_ = a.cmd.Process.Kill()
	}
	return a.cmd.Wait()
}
