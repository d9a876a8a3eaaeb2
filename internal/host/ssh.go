package host

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/corralhq/corral/internal/common/errors"
)

// SSHHost runs the same tmux-based connector protocol as LocalHost, but
// over an already-dialed SSH connection, for hosts declared under
// `[hosts.<name>]` (spec §4.5).
type SSHHost struct {
	hostDir string
	conn    *ssh.Client
}

// NewSSHHost wraps an already-dialed SSH client as a host rooted at
// hostDir on the remote filesystem.
func NewSSHHost(conn *ssh.Client, hostDir string) *SSHHost {
	return &SSHHost{hostDir: hostDir, conn: conn}
}

func (h *SSHHost) HostDir() string { return h.hostDir }
func (h *SSHHost) IsLocal() bool   { return false }

func (h *SSHHost) runRemote(ctx context.Context, command string) (*CommandResult, error) {
	session, err := h.conn.NewSession()
	if err != nil {
		return nil, errors.HostOffline(h.hostDir)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, ctx.Err()
	case err := <-done:
		returnCode := 0
		if err != nil {
			if exitErr, ok := err.(*ssh.ExitError); ok {
				returnCode = exitErr.ExitStatus()
			} else {
				return nil, fmt.Errorf("running %q over ssh: %w", command, err)
			}
		}
		return &CommandResult{ReturnCode: returnCode, Stdout: stdout.String(), Stderr: stderr.String(), Success: returnCode == 0}, nil
	}
}

func shellQuote(args ...string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}

func (h *SSHHost) ExecuteCommand(ctx context.Context, command []string, opts ExecOptions) (*CommandResult, error) {
	if len(command) == 0 {
		return nil, errors.UserInput("empty command")
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	shellCmd := "cd " + shellQuote(orDefault(opts.Cwd, ".")) + " && exec " + shellQuote(command...)
	return h.runRemote(ctx, shellCmd)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func (h *SSHHost) WriteTextFile(_ context.Context, path string, content string) error {
	session, err := h.conn.NewSession()
	if err != nil {
		return errors.HostOffline(h.hostDir)
	}
	defer session.Close()
	session.Stdin = strings.NewReader(content)
	return session.Run("cat > " + shellQuote(path))
}

func (h *SSHHost) ReadTextFile(ctx context.Context, path string) (string, error) {
	result, err := h.runRemote(ctx, "cat "+shellQuote(path))
	if err != nil {
		return "", err
	}
	if result.ReturnCode != 0 {
		return "", errors.NotFound("remote file", path)
	}
	return result.Stdout, nil
}

func (h *SSHHost) HasSession(ctx context.Context, name string) (bool, error) {
	result, err := h.runRemote(ctx, "tmux has-session -t "+shellQuote(name))
	if err != nil {
		return false, err
	}
	return result.ReturnCode == 0, nil
}

func (h *SSHHost) StartTmuxSession(ctx context.Context, name string, command []string, env []string) error {
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
	cmd := fmt.Sprintf("tmux new-session -d -s %s %s%s", shellQuote(name), envPrefix, shellQuote(command...))
	result, err := h.runRemote(ctx, cmd)
	if err != nil {
		return err
	}
	if result.ReturnCode != 0 {
		return errors.Process(fmt.Errorf("%s", result.Stderr), "tmux new-session", result.ReturnCode)
	}
	return nil
}

func (h *SSHHost) SendKeys(ctx context.Context, target string, text string) error {
	result, err := h.runRemote(ctx, "tmux send-keys -t "+shellQuote(target)+" -l "+shellQuote(text))
	if err != nil {
		return err
	}
	if result.ReturnCode != 0 {
		return &TmuxSendError{Target: target, Reason: "tmux send-keys failed: " + strings.TrimSpace(result.Stderr)}
	}
	return nil
}

func (h *SSHHost) CapturePane(ctx context.Context, target string) (string, error) {
	result, err := h.runRemote(ctx, "tmux capture-pane -t "+shellQuote(target)+" -p")
	if err != nil {
		return "", err
	}
	if result.ReturnCode != 0 {
		return "", nil
	}
	return result.Stdout, nil
}

func (h *SSHHost) WaitFor(ctx context.Context, channel string, timeout time.Duration) (bool, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result, err := h.runRemote(waitCtx, "tmux wait-for "+shellQuote(channel))
	if waitCtx.Err() != nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return result.ReturnCode == 0, nil
}

func (h *SSHHost) KillSession(ctx context.Context, name string) error {
	result, err := h.runRemote(ctx, "tmux kill-session -t "+shellQuote(name))
	if err != nil {
		return err
	}
	if result.ReturnCode != 0 && !strings.Contains(result.Stderr, "session not found") {
		return errors.Process(fmt.Errorf("%s", result.Stderr), "tmux kill-session", result.ReturnCode)
	}
	return nil
}

func (h *SSHHost) RenameSession(ctx context.Context, oldName, newName string) error {
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
	result, err := h.runRemote(ctx, "tmux rename-session -t "+shellQuote(oldName)+" "+shellQuote(newName))
	if err != nil {
		return err
	}
	if result.ReturnCode != 0 {
		return errors.Process(fmt.Errorf("%s", result.Stderr), "tmux rename-session", result.ReturnCode)
	}
	return nil
}

func (h *SSHHost) SendSignal(ctx context.Context, target string, sig string) error {
	result, err := h.runRemote(ctx, "tmux list-panes -t "+shellQuote(target)+" -F '#{pane_pid}'")
	if err != nil {
		return err
	}
	pid := strings.TrimSpace(strings.SplitN(result.Stdout, "\n", 2)[0])
	if pid == "" {
		return errors.NotFound("tmux pane", target)
	}
	killResult, err := h.runRemote(ctx, "kill -s "+sig+" "+pid)
	if err != nil {
		return err
	}
	if killResult.ReturnCode != 0 {
		return errors.Process(fmt.Errorf("%s", killResult.Stderr), "kill "+sig, killResult.ReturnCode)
	}
	return nil
}

// sshAttachHandle relays an interactive session's stdio over an SSH pty.
type sshAttachHandle struct {
	session *ssh.Session
	stdin   *pipeWriter
	stdout  *pipeReader
}

type pipeWriter struct{ w interface{ Write([]byte) (int, error) } }
type pipeReader struct{ r interface{ Read([]byte) (int, error) } }

func (h *SSHHost) AttachTmux(_ context.Context, name string) (AttachHandle, error) {
	session, err := h.conn.NewSession()
	if err != nil {
		return nil, errors.HostOffline(h.hostDir)
	}
	modes := ssh.TerminalModes{ssh.ECHO: 1, ssh.TTY_OP_ISPEED: 14400, ssh.TTY_OP_OSPEED: 14400}
	if err := session.RequestPty("xterm-256color", 40, 120, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("requesting pty: %w", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, err
	}
	if err := session.Start("tmux attach-session -t " + shellQuote(name)); err != nil {
		session.Close()
		return nil, errors.Process(err, "tmux attach-session", -1)
	}
	return &sshAttachHandle{session: session, stdin: &pipeWriter{stdin}, stdout: &pipeReader{stdout}}, nil
}

func (a *sshAttachHandle) Resize(cols, rows int) error {
	return a.session.WindowChange(rows, cols)
}
func (a *sshAttachHandle) Read(p []byte) (int, error)  { return a.stdout.r.Read(p) }
func (a *sshAttachHandle) Write(p []byte) (int, error) { return a.stdin.w.Write(p) }
func (a *sshAttachHandle) Close() error                { return a.session.Close() }
