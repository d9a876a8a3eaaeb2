package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/corralhq/corral/internal/backendresolver"
	"github.com/corralhq/corral/internal/common/errors"
	"github.com/corralhq/corral/internal/host"
	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/model"
)

// stopGrace is how long stop() waits for the session leader to exit
// after SIGTERM before killing the session outright (spec §4.6 "stop").
const stopGrace = 10 * time.Second

// resolveAgent locates record, its backend, and a live connector to its
// host, given the provider instance it lives on.
func (e *Engine) resolveAgent(ctx context.Context, instance ids.ProviderInstanceName, ref string) (*model.AgentRecord, host.Interface, *model.HostRecord, error) {
	backend, err := e.registry.Get(instance)
	if err != nil {
		return nil, nil, nil, err
	}
	// The agent may live on any host this backend manages, so every
	// non-destroyed host's AgentStore is searched for ref and the first
	// match wins.
	hosts, err := backend.ListHosts(ctx, false)
	if err != nil {
		return nil, nil, nil, err
	}
	for _, h := range hosts {
		store, err := e.agentStore(backend, h.Id)
		if err != nil {
			continue
		}
		record, err := store.ResolveByNameOrID(ctx, ref)
		if err != nil {
			continue
		}
		conn, err := backend.Online(ctx, h.Id)
		if err != nil {
			return nil, nil, nil, err
		}
		return record, conn, h, nil
	}
	return nil, nil, nil, errors.NotFound("agent", ref)
}

// Start brings a stopped agent back to RUNNING (spec §4.6 "start"): start
// the host if needed, recreate the tmux session if absent, and optionally
// resend a resume message.
func (e *Engine) Start(ctx context.Context, instance ids.ProviderInstanceName, ref string, resumeMessage string, resumeDelay time.Duration) (record *model.AgentRecord, err error) {
	done := e.log.Span("engine.start", zap.String("ref", ref))
	defer done(&err)

	record, conn, hostRec, err := e.resolveAgent(ctx, instance, ref)
	if err != nil {
		return nil, err
	}

	lock := e.lockFor(record.Id)
	lock.Lock()
	defer lock.Unlock()

	backend, err := e.registry.Get(instance)
	if err != nil {
		return nil, err
	}

	if hostRec.State != model.HostRunning {
		if err := backend.StartHost(ctx, hostRec.Id); err != nil {
			return nil, err
		}
		conn, err = backend.Online(ctx, hostRec.Id)
		if err != nil {
			return nil, err
		}
	}

	sessionName := e.sessionName(record.Name)
	has, err := conn.HasSession(ctx, sessionName)
	if err != nil {
		return nil, err
	}
	if !has {
		if err := conn.StartTmuxSession(ctx, sessionName, record.Command, nil); err != nil {
			return nil, errors.Provider(err, "restarting tmux session for agent %s", record.Name)
		}
	}

	agentStore, err := e.agentStore(backend, hostRec.Id)
	if err != nil {
		return nil, err
	}
	record.State = model.AgentRunning
	if err := agentStore.WriteAgent(ctx, record); err != nil {
		return nil, err
	}

	if resumeMessage != "" {
		e.sendDelayedMessage(ctx, conn, sessionName, resumeMessage, resumeDelay)
	}
	return record, nil
}

// Stop asks the agent's session leader to exit cleanly (SIGTERM), waits
// up to stopGrace for the session to end on its own, then kills the
// session outright (spec §4.6 "stop").
func (e *Engine) Stop(ctx context.Context, instance ids.ProviderInstanceName, ref string) (record *model.AgentRecord, err error) {
	done := e.log.Span("engine.stop", zap.String("ref", ref))
	defer done(&err)

	record, conn, hostRec, err := e.resolveAgent(ctx, instance, ref)
	if err != nil {
		return nil, err
	}

	lock := e.lockFor(record.Id)
	lock.Lock()
	defer lock.Unlock()

	if err := e.stopSession(ctx, conn, record); err != nil {
		return nil, err
	}

	backend, err := e.registry.Get(instance)
	if err != nil {
		return nil, err
	}
	agentStore, err := e.agentStore(backend, hostRec.Id)
	if err != nil {
		return nil, err
	}
	record.State = model.AgentStopped
	if err := agentStore.WriteAgent(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// stopSession is the SIGTERM-then-wait-then-kill sequence shared by Stop
// and Destroy.
func (e *Engine) stopSession(ctx context.Context, conn host.Interface, record *model.AgentRecord) error {
	sessionName := e.sessionName(record.Name)
	has, err := conn.HasSession(ctx, sessionName)
	if err != nil {
		return err
	}
	if !has {
		return nil
	}

	record.State = model.AgentStopping
	if err := conn.SendSignal(ctx, sessionName, "SIGTERM"); err != nil {
		e.log.Warn("sending SIGTERM to session leader failed, killing session directly",
			zap.String("session", sessionName), zap.Error(err))
		return conn.KillSession(ctx, sessionName)
	}

	deadline := time.Now().Add(stopGrace)
	for time.Now().Before(deadline) {
		if has, err := conn.HasSession(ctx, sessionName); err == nil && !has {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
	e.log.Info("session leader did not exit within grace period, killing session",
		zap.String("session", sessionName))
	return conn.KillSession(ctx, sessionName)
}

// Destroy stops the agent, removes its durable record, and deregisters
// its reverse-proxy backend URL (spec §4.6 "destroy").
func (e *Engine) Destroy(ctx context.Context, instance ids.ProviderInstanceName, ref string, resolver *backendresolver.Resolver) (err error) {
	done := e.log.Span("engine.destroy", zap.String("ref", ref))
	defer done(&err)

	record, conn, hostRec, err := e.resolveAgent(ctx, instance, ref)
	if err != nil {
		return err
	}

	lock := e.lockFor(record.Id)
	lock.Lock()
	defer lock.Unlock()

	if err := e.stopSession(ctx, conn, record); err != nil {
		e.log.Warn("stopping session during destroy failed, continuing with teardown",
			zap.String("agent_id", string(record.Id)), zap.Error(err))
	}

	backend, err := e.registry.Get(instance)
	if err != nil {
		return err
	}
	agentStore, err := e.agentStore(backend, hostRec.Id)
	if err != nil {
		return err
	}
	if err := agentStore.DeleteAgent(ctx, record.Id); err != nil {
		return err
	}

	if resolver != nil {
		if err := resolver.DeregisterBackend(ctx, record.Id); err != nil {
			e.log.Warn("deregistering backend URL during destroy failed",
				zap.String("agent_id", string(record.Id)), zap.Error(err))
		}
	}

	e.locksMu.Lock()
	delete(e.locks, record.Id)
	e.locksMu.Unlock()
	return nil
}

// Rename changes an agent's display name, rewriting its record first and
// then renaming its tmux session to match. Renaming to the agent's
// current name is a no-op that touches neither the record nor the
// session. If the session already carries the new name but the record
// does not, calling Rename again rewrites the record and succeeds. The
// reverse partial state is not recovered: once the record carries the
// new name, Rename returns without looking for a session still under the
// old name, since the old name is no longer known (spec §4.6 "rename",
// P7/S5).
func (e *Engine) Rename(ctx context.Context, instance ids.ProviderInstanceName, ref string, newName ids.AgentName) (record *model.AgentRecord, err error) {
	done := e.log.Span("engine.rename", zap.String("ref", ref), zap.String("new_name", string(newName)))
	defer done(&err)

	record, conn, hostRec, err := e.resolveAgent(ctx, instance, ref)
	if err != nil {
		return nil, err
	}

	lock := e.lockFor(record.Id)
	lock.Lock()
	defer lock.Unlock()

	oldSession := e.sessionName(record.Name)
	newSession := e.sessionName(newName)

	if record.Name == newName {
		return record, nil
	}
	if record.Name != newName {
		record.Name = newName
		backend, err := e.registry.Get(instance)
		if err != nil {
			return nil, err
		}
		agentStore, err := e.agentStore(backend, hostRec.Id)
		if err != nil {
			return nil, err
		}
		if err := agentStore.WriteAgent(ctx, record); err != nil {
			return nil, err
		}
	}

	// The session rename is attempted unconditionally and is safe to
	// repeat: if oldSession no longer exists (a prior attempt already
	// renamed it) but newSession does, there is nothing left to do.
	hasOld, err := conn.HasSession(ctx, oldSession)
	if err != nil {
		return nil, err
	}
	if !hasOld {
		hasNew, err := conn.HasSession(ctx, newSession)
		if err != nil {
			return nil, err
		}
		if hasNew {
			return record, nil
		}
		// Neither session exists: the agent was stopped when renamed,
		// nothing to rename on the host.
		return record, nil
	}
	if err := conn.RenameSession(ctx, oldSession, newSession); err != nil {
		return nil, errors.Provider(err, "renaming tmux session for agent %s", record.Id)
	}
	return record, nil
}
