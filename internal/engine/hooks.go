package engine

import (
	"context"
	"encoding/json"
	"os"
	"path"

	"github.com/corralhq/corral/internal/common/errors"
	"github.com/corralhq/corral/internal/host"
	"github.com/corralhq/corral/internal/model"
)

// HookPhase marks whether a hook failure is recoverable by aborting and
// cleaning up the partial agent record, or whether the agent has already
// passed the "point of no return" (spec §4.6 step 4).
type HookPhase string

const (
	// PhasePreStart hooks run before the tmux session is started; a
	// failure here aborts create() and removes the partial record.
	PhasePreStart HookPhase = "pre-start"
	// PhasePostStart hooks run after the tmux session exists; a failure
	// here is logged but does not unwind the agent.
	PhasePostStart HookPhase = "post-start"
)

// ProvisionHook is one step of the ordered provisioning chain create()
// runs (spec §4.6 step 4, spec.md §9 "plugin discovery ... becomes a
// compile-time ... registration table"). Hooks receive the host's
// capability set rather than a concrete backend type so the same hook
// runs unmodified against local, ssh, docker, or cloud-sandbox hosts.
type ProvisionHook interface {
	Name() string
	Phase() HookPhase
	Run(ctx context.Context, conn host.Interface, record *model.AgentRecord) error
}

// EnvFileHook copies the file at EnvFilePath into the agent's work
// directory as ".env", mirroring the `create --env-file` CLI option
// (spec.md §9 enumerated option list).
type EnvFileHook struct {
	EnvFilePath string
}

func (h *EnvFileHook) Name() string        { return "env-file" }
func (h *EnvFileHook) Phase() HookPhase    { return PhasePreStart }
func (h *EnvFileHook) Run(ctx context.Context, conn host.Interface, record *model.AgentRecord) error {
	if h.EnvFilePath == "" {
		return nil
	}
	content, err := os.ReadFile(h.EnvFilePath)
	if err != nil {
		return errors.UserInput("reading env file %s: %v", h.EnvFilePath, err)
	}
	return conn.WriteTextFile(ctx, path.Join(record.WorkDir, ".env"), string(content))
}

// LabelsHook writes record.Labels to <work_dir>/.corral-labels.json so an
// agent process can introspect its own labels without reading data.json
// directly (spec.md §9 "labels" create option).
type LabelsHook struct{}

func (h *LabelsHook) Name() string     { return "labels" }
func (h *LabelsHook) Phase() HookPhase { return PhasePreStart }
func (h *LabelsHook) Run(ctx context.Context, conn host.Interface, record *model.AgentRecord) error {
	if len(record.Labels) == 0 {
		return nil
	}
	content, err := json.Marshal(record.Labels)
	if err != nil {
		return errors.Internal("", err, "marshaling labels for agent %s", record.Id)
	}
	return conn.WriteTextFile(ctx, path.Join(record.WorkDir, ".corral-labels.json"), string(content))
}

// DefaultHooks returns the two reference hooks that ship with corral,
// enough to exercise hook ordering and the point-of-no-return rule
// without agent-type-specific prompt assembly (out of scope).
func DefaultHooks(envFilePath string) []ProvisionHook {
	return []ProvisionHook{&EnvFileHook{EnvFilePath: envFilePath}, &LabelsHook{}}
}
