package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/corralhq/corral/internal/common/errors"
	"github.com/corralhq/corral/internal/host"
	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/model"
	"github.com/corralhq/corral/internal/provider"
	"github.com/corralhq/corral/internal/store"
)

// WorkDirMode selects how an agent's work_dir is populated (spec §4.6
// step 2).
type WorkDirMode string

const (
	// WorkDirInPlace re-uses an existing host directory as-is.
	WorkDirInPlace WorkDirMode = "in-place"
	// WorkDirCopy rsync-copies source_location into a fresh work_dir.
	WorkDirCopy WorkDirMode = "copy"
	// WorkDirWorktree creates a git worktree; only valid when source and
	// target share a host and source is a git repository.
	WorkDirWorktree WorkDirMode = "worktree"
)

// HostTarget names either an existing host or a request to provision a
// new one on a given provider instance.
type HostTarget struct {
	ProviderInstance ids.ProviderInstanceName
	ExistingHostRef  string // host id or name; empty to provision a new host
	NewHostName      ids.HostName
	NewHostOptions   provider.HostOptions
}

// CreateOptions parameterizes Create (spec §4.6, spec.md §9's enumerated
// `create` option list).
type CreateOptions struct {
	Name           ids.AgentName
	Type           string
	Command        []string
	SourceLocation string
	WorkDirMode    WorkDirMode
	Labels         map[string]string
	StartOnBoot    bool
	Message        string
	MessageDelay   time.Duration
	AwaitReady     bool
	ReadyTimeout   time.Duration
	EnvFilePath    string
}

// CreateResult is create()'s frozen, JSON-serializable result (spec
// §4.10 CreateAgentResult).
type CreateResult struct {
	Agent *model.AgentRecord
	Host  *model.HostRecord
}

// Create runs the full agent provisioning flow (spec §4.6, steps 1-7).
func (e *Engine) Create(ctx context.Context, target HostTarget, opts CreateOptions) (*CreateResult, error) {
	done := e.log.Span("engine.create", zap.String("agent_name", string(opts.Name)))
	var err error
	defer done(&err)

	backend, err := e.registry.Get(target.ProviderInstance)
	if err != nil {
		return nil, err
	}

	hostRecord, err := e.resolveOrCreateHost(ctx, backend, target)
	if err != nil {
		return nil, err
	}

	conn, err := backend.Online(ctx, hostRecord.Id)
	if err != nil {
		return nil, err
	}

	workDir, err := e.prepareWorkDir(ctx, conn, opts)
	if err != nil {
		return nil, err
	}

	agentID := ids.NewAgentId()
	record := &model.AgentRecord{
		Id:          agentID,
		Name:        opts.Name,
		Type:        opts.Type,
		Command:     opts.Command,
		WorkDir:     workDir,
		CreateTime:  time.Now(),
		Labels:      opts.Labels,
		StartOnBoot: opts.StartOnBoot,
		HostRef:     model.HostRef{HostId: hostRecord.Id, HostName: hostRecord.Name},
		State:       model.AgentCreating,
	}

	agentStore, err := e.agentStore(backend, hostRecord.Id)
	if err != nil {
		return nil, err
	}
	if err := agentStore.WriteAgent(ctx, record); err != nil {
		return nil, err
	}

	if err := e.runHooks(ctx, conn, record, PhasePreStart); err != nil {
		// Pre-point-of-no-return failure: clean up the partial record
		// (spec §4.6 step 4).
		_ = agentStore.DeleteAgent(ctx, agentID)
		return nil, errors.Provider(err, "provisioning hook failed before start for agent %s", opts.Name)
	}

	sessionName := e.sessionName(opts.Name)
	if err := conn.StartTmuxSession(ctx, sessionName, opts.Command, nil); err != nil {
		_ = agentStore.DeleteAgent(ctx, agentID)
		return nil, errors.Provider(err, "starting tmux session for agent %s", opts.Name)
	}
	record.State = model.AgentStarting
	if err := agentStore.WriteAgent(ctx, record); err != nil {
		return nil, err
	}

	// Point of no return: the session exists. Later failures are logged,
	// not unwound.
	if err := e.runHooks(ctx, conn, record, PhasePostStart); err != nil {
		e.log.Warn("post-start provisioning hook failed", zap.String("agent_id", string(agentID)), zap.Error(err))
	}

	if opts.AwaitReady {
		if e.awaitReady(ctx, conn, record.WorkDir, opts.ReadyTimeout) {
			record.State = model.AgentWaiting
		}
	} else {
		record.State = model.AgentWaiting
	}
	if err := agentStore.WriteAgent(ctx, record); err != nil {
		return nil, err
	}

	if opts.Message != "" {
		e.sendDelayedMessage(ctx, conn, sessionName, opts.Message, opts.MessageDelay)
	}

	return &CreateResult{Agent: record, Host: hostRecord}, nil
}

func (e *Engine) resolveOrCreateHost(ctx context.Context, backend provider.Backend, target HostTarget) (*model.HostRecord, error) {
	if target.ExistingHostRef != "" {
		return backend.GetHost(ctx, target.ExistingHostRef)
	}
	name := target.NewHostName
	if name == "" {
		name = ids.HostName(string(ids.NewHostId()))
	}
	return backend.CreateHost(ctx, name, target.NewHostOptions)
}

// prepareWorkDir implements the three work_dir modes (spec §4.6 step 2).
// Worktree mode requires source and target to share a host and the
// source to be a git repository; that cross-host check happens before
// any host-side command runs.
func (e *Engine) prepareWorkDir(ctx context.Context, conn host.Interface, opts CreateOptions) (string, error) {
	switch opts.WorkDirMode {
	case WorkDirInPlace, "":
		if opts.SourceLocation == "" {
			return conn.HostDir(), nil
		}
		return opts.SourceLocation, nil
	case WorkDirCopy:
		dest := conn.HostDir() + "/work/" + string(opts.Name)
		result, err := conn.ExecuteCommand(ctx, []string{"rsync", "-a", opts.SourceLocation + "/", dest + "/"}, host.ExecOptions{})
		if err != nil {
			return "", err
		}
		if !result.Success {
			return "", errors.Process(nil, "rsync", result.ReturnCode)
		}
		return dest, nil
	case WorkDirWorktree:
		if !conn.IsLocal() {
			return "", errors.UserInput("worktree mode requires the source and target to be on the same host")
		}
		dest := conn.HostDir() + "/work/" + string(opts.Name)
		result, err := conn.ExecuteCommand(ctx, []string{"git", "-C", opts.SourceLocation, "worktree", "add", dest}, host.ExecOptions{})
		if err != nil {
			return "", err
		}
		if !result.Success {
			return "", errors.Process(nil, "git worktree add", result.ReturnCode)
		}
		return dest, nil
	default:
		return "", errors.UserInput("unknown work dir mode %q", opts.WorkDirMode)
	}
}

func (e *Engine) runHooks(ctx context.Context, conn host.Interface, record *model.AgentRecord, phase HookPhase) error {
	for _, h := range e.hooks {
		if h.Phase() != phase {
			continue
		}
		if err := h.Run(ctx, conn, record); err != nil {
			return errors.Internal("", err, "hook %q failed", h.Name())
		}
	}
	return nil
}

// awaitReady polls for the presence of a `waiting` marker file the agent
// creates once it has accepted input (spec §4.6 step 6).
func (e *Engine) awaitReady(ctx context.Context, conn host.Interface, workDir string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := conn.ReadTextFile(ctx, workDir+"/waiting"); err == nil {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(500 * time.Millisecond):
		}
	}
	return false
}

func (e *Engine) sendDelayedMessage(ctx context.Context, conn host.Interface, sessionName, message string, delay time.Duration) {
	if delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
	if err := conn.SendKeys(ctx, sessionName, message); err != nil {
		e.log.Warn("sending create-time message failed", zap.String("session", sessionName), zap.Error(err))
		return
	}
	_ = conn.SendKeys(ctx, sessionName, "\n")
}

// agentStore resolves the AgentStore rooted at hostID's volume, via the
// backend's HostVolume capability surface.
func (e *Engine) agentStore(backend provider.Backend, hostID ids.HostId) (*store.AgentStore, error) {
	hv, ok := backend.(provider.HostVolume)
	if !ok {
		return nil, errors.State("backend %s does not support volumes", backend.Name())
	}
	vol, err := hv.GetHostVolume(hostID)
	if err != nil {
		return nil, err
	}
	return store.NewAgentStore(vol, e.log), nil
}
