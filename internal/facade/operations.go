package facade

import (
	"context"
	"time"

	"github.com/corralhq/corral/internal/engine"
	"github.com/corralhq/corral/internal/host"
	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/model"
)

// List returns every agent known to the named provider instance.
func (f *Facade) List(ctx context.Context, instance ids.ProviderInstanceName) ([]*model.AgentRecord, error) {
	return f.Engine.List(ctx, instance)
}

// Create provisions a new agent (spec §4.6 "create").
func (f *Facade) Create(ctx context.Context, target engine.HostTarget, opts engine.CreateOptions) (*engine.CreateResult, error) {
	return f.Engine.Create(ctx, target, opts)
}

// Start brings a stopped agent back to RUNNING.
func (f *Facade) Start(ctx context.Context, instance ids.ProviderInstanceName, ref, resumeMessage string, resumeDelay time.Duration) (*model.AgentRecord, error) {
	return f.Engine.Start(ctx, instance, ref, resumeMessage, resumeDelay)
}

// Stop asks an agent to exit cleanly, falling back to a hard kill.
func (f *Facade) Stop(ctx context.Context, instance ids.ProviderInstanceName, ref string) (*model.AgentRecord, error) {
	return f.Engine.Stop(ctx, instance, ref)
}

// Destroy stops an agent and removes its durable record and any
// registered proxy backend URL.
func (f *Facade) Destroy(ctx context.Context, instance ids.ProviderInstanceName, ref string) error {
	return f.Engine.Destroy(ctx, instance, ref, f.Resolver)
}

// Rename changes an agent's display name and tmux session.
func (f *Facade) Rename(ctx context.Context, instance ids.ProviderInstanceName, ref string, newName ids.AgentName) (*model.AgentRecord, error) {
	return f.Engine.Rename(ctx, instance, ref, newName)
}

// Message sends text to an agent's session leader.
func (f *Facade) Message(ctx context.Context, instance ids.ProviderInstanceName, ref, text string) error {
	return f.Engine.Message(ctx, instance, ref, text)
}

// Exec runs a one-shot command on an agent's host.
func (f *Facade) Exec(ctx context.Context, instance ids.ProviderInstanceName, ref string, command []string, opts host.ExecOptions) (*host.CommandResult, error) {
	return f.Engine.Exec(ctx, instance, ref, command, opts)
}

// Transcript captures an agent's current terminal contents.
func (f *Facade) Transcript(ctx context.Context, instance ids.ProviderInstanceName, ref string) (string, error) {
	return f.Engine.Transcript(ctx, instance, ref)
}

// Open returns a live interactive handle to an agent's session, for
// `corral-attach` and the reverse proxy's WebSocket relay.
func (f *Facade) Open(ctx context.Context, instance ids.ProviderInstanceName, ref string) (host.AttachHandle, error) {
	return f.Engine.Attach(ctx, instance, ref)
}

// Enforce runs one pass of idle/timeout enforcement across the given
// provider instances (spec §4.6 "enforce", the corral-proxy background
// sweep).
func (f *Facade) Enforce(ctx context.Context, opts engine.EnforceOptions) *engine.EnforceResult {
	return f.Engine.Enforce(ctx, opts)
}

// IssueLoginCode generates a fresh one-time login code for agentID and
// returns the `/login/:agent_id/:code` path a browser should be sent to
// (spec §4.7 "login URL").
func (f *Facade) IssueLoginCode(ctx context.Context, agentID ids.AgentId, code string) (string, error) {
	if err := f.AuthStore.AddOneTimeCode(ctx, agentID, code); err != nil {
		return "", err
	}
	return "/login/" + string(agentID) + "/" + code, nil
}
