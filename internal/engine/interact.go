package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/corralhq/corral/internal/host"
	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/model"
)

// Message sends text to an agent's session leader followed by Enter,
// the same delivery path create()'s and start()'s resume messages use
// (spec §4.6 "message").
func (e *Engine) Message(ctx context.Context, instance ids.ProviderInstanceName, ref string, text string) error {
	record, conn, _, err := e.resolveAgent(ctx, instance, ref)
	if err != nil {
		return err
	}
	sessionName := e.sessionName(record.Name)
	if err := conn.SendKeys(ctx, sessionName, text); err != nil {
		return err
	}
	return conn.SendKeys(ctx, sessionName, "\n")
}

// Exec runs a one-shot command on the agent's host, independent of its
// tmux session (spec §4.6 "exec").
func (e *Engine) Exec(ctx context.Context, instance ids.ProviderInstanceName, ref string, command []string, opts host.ExecOptions) (*host.CommandResult, error) {
	_, conn, _, err := e.resolveAgent(ctx, instance, ref)
	if err != nil {
		return nil, err
	}
	return conn.ExecuteCommand(ctx, command, opts)
}

// Transcript captures the agent's current tmux pane content (spec §4.6
// "transcript").
func (e *Engine) Transcript(ctx context.Context, instance ids.ProviderInstanceName, ref string) (string, error) {
	record, conn, _, err := e.resolveAgent(ctx, instance, ref)
	if err != nil {
		return "", err
	}
	return conn.CapturePane(ctx, e.sessionName(record.Name))
}

// Attach returns a live interactive handle to the agent's tmux session,
// for `corral-attach` and the proxy's WebSocket relay (spec §4.6
// "open"/"attach").
func (e *Engine) Attach(ctx context.Context, instance ids.ProviderInstanceName, ref string) (host.AttachHandle, error) {
	record, conn, _, err := e.resolveAgent(ctx, instance, ref)
	if err != nil {
		return nil, err
	}
	return conn.AttachTmux(ctx, e.sessionName(record.Name))
}

// List returns every agent known to instance, across all of its hosts
// (spec §4.6 "list").
func (e *Engine) List(ctx context.Context, instance ids.ProviderInstanceName) ([]*model.AgentRecord, error) {
	backend, err := e.registry.Get(instance)
	if err != nil {
		return nil, err
	}
	hosts, err := backend.ListHosts(ctx, false)
	if err != nil {
		return nil, err
	}
	var records []*model.AgentRecord
	for _, h := range hosts {
		agentStore, err := e.agentStore(backend, h.Id)
		if err != nil {
			e.log.Warn("skipping host without volume support while listing agents",
				zap.String("host_id", string(h.Id)), zap.Error(err))
			continue
		}
		records = append(records, agentStore.ListAgents(ctx)...)
	}
	return records, nil
}
