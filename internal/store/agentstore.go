// Package store implements the per-host agent registry (spec §4.3, C4):
// a durable, crash-safe JSON-per-record store under <host_dir>/agents/,
// with side-effect-free readers so tools that need only names (e.g. shell
// completion) can consume it without importing the full engine.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/corralhq/corral/internal/common/errors"
	"github.com/corralhq/corral/internal/common/logger"
	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/model"
	"github.com/corralhq/corral/internal/volume"
)

const (
	agentsDir   = "agents"
	dataFile    = "data.json"
	signalsDir  = "signals"
	hostsDir    = "hosts"
	activityDir = "activity"
)

// AgentStore is the durable agent registry rooted at a host's volume.
type AgentStore struct {
	vol volume.Volume
	log *logger.Logger
}

// NewAgentStore wraps vol (already scoped to <host_dir>) as an AgentStore.
func NewAgentStore(vol volume.Volume, log *logger.Logger) *AgentStore {
	if log == nil {
		log = logger.Default()
	}
	return &AgentStore{vol: vol, log: log}
}

func agentDataPath(id ids.AgentId) string {
	return path.Join(agentsDir, string(id), dataFile)
}

// WriteAgent atomically replaces the record for record.Id (spec §3
// Invariant 5).
func (s *AgentStore) WriteAgent(ctx context.Context, record *model.AgentRecord) error {
	content, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return errors.Internal("", err, "marshaling agent record %s", record.Id)
	}
	if err := s.vol.WriteFiles(ctx, map[string][]byte{agentDataPath(record.Id): content}); err != nil {
		return errors.Internal("", err, "writing agent record %s", record.Id)
	}
	return nil
}

// ReadAgent loads a single agent record by id.
func (s *AgentStore) ReadAgent(ctx context.Context, id ids.AgentId) (*model.AgentRecord, error) {
	content, err := s.vol.ReadFile(ctx, agentDataPath(id))
	if err != nil {
		return nil, errors.NotFound("agent", string(id))
	}
	var record model.AgentRecord
	if err := json.Unmarshal(content, &record); err != nil {
		return nil, errors.Internal("", err, "malformed agent record %s", id)
	}
	return &record, nil
}

// DeleteAgent removes the agent's entire directory (record, logs,
// activity markers).
func (s *AgentStore) DeleteAgent(ctx context.Context, id ids.AgentId) error {
	return s.vol.RemoveDirectory(ctx, path.Join(agentsDir, string(id)))
}

// ListAgents returns every agent record under agents/, skipping (and
// logging a warning for) any directory whose data.json is missing or
// malformed, per spec §4.3's error model and P8/S8.
func (s *AgentStore) ListAgents(ctx context.Context) []*model.AgentRecord {
	entries, err := s.vol.Listdir(ctx, agentsDir)
	if err != nil {
		s.log.Warn("listing agents directory failed", zap.Error(err))
		return nil
	}

	var out []*model.AgentRecord
	for _, e := range entries {
		if e.Kind != volume.KindDirectory {
			continue
		}
		id := ids.AgentId(path.Base(e.Path))
		record, err := s.ReadAgent(ctx, id)
		if err != nil {
			s.log.Warn("skipping malformed or missing agent record", zap.String("agent_id", string(id)), zap.Error(err))
			continue
		}
		if string(record.Id) != string(id) {
			s.log.Warn("skipping agent record whose id does not match its directory",
				zap.String("agent_id", string(id)), zap.String("record_id", string(record.Id)))
			continue
		}
		out = append(out, record)
	}
	return out
}

// ResolveByNameOrID finds the single agent record matching ref, treating
// ref first as an AgentId then as an AgentName. Ambiguity (more than one
// name match, which should never happen given the uniqueness invariant,
// but can during a crash-recovery window) is reported as an error.
func (s *AgentStore) ResolveByNameOrID(ctx context.Context, ref string) (*model.AgentRecord, error) {
	if ids.IsValidAgentId(ref) {
		return s.ReadAgent(ctx, ids.AgentId(ref))
	}

	var matches []*model.AgentRecord
	for _, record := range s.ListAgents(ctx) {
		if string(record.Name) == ref {
			matches = append(matches, record)
		}
	}
	switch len(matches) {
	case 0:
		return nil, errors.NotFound("agent", ref)
	case 1:
		return matches[0], nil
	default:
		return nil, errors.UserInput("agent name %q is ambiguous: matches %d records", ref, len(matches))
	}
}

// WriteSignal writes a transient one-line action file under
// signals/<session_name> ("stop" or "destroy"), used by the tmux
// detach key-bindings (spec §4.6, §6).
func (s *AgentStore) WriteSignal(ctx context.Context, sessionName, action string) error {
	return s.vol.WriteFiles(ctx, map[string][]byte{path.Join(signalsDir, sessionName): []byte(action)})
}

// ConsumeSignal reads and then removes the signal file for
// sessionName, returning ("", false) if none is pending.
func (s *AgentStore) ConsumeSignal(ctx context.Context, sessionName string) (string, bool, error) {
	p := path.Join(signalsDir, sessionName)
	content, err := s.vol.ReadFile(ctx, p)
	if err != nil {
		return "", false, nil
	}
	if err := s.vol.RemoveFile(ctx, p); err != nil {
		return "", false, fmt.Errorf("removing consumed signal %s: %w", p, err)
	}
	return strings.TrimSpace(string(content)), true, nil
}

// ActivityPath returns the path (relative to the host volume) of the
// activity marker whose mtime is the authoritative "last activity"
// timestamp for an agent (spec §4.6, Open Question resolved in
// DESIGN.md: mtime of activity/ssh).
func ActivityPath(id ids.AgentId) string {
	return path.Join(agentsDir, string(id), activityDir, "ssh")
}

