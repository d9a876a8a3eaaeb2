// Package model defines the on-disk record shapes shared by the agent
// store (C4), host records, auth store, and backend resolver (spec §3).
package model

import (
	"time"

	"github.com/corralhq/corral/internal/ids"
)

// AgentState is the agent lifecycle state machine's current position
// (spec §3).
type AgentState string

const (
	AgentCreating  AgentState = "CREATING"
	AgentStarting  AgentState = "STARTING"
	AgentWaiting   AgentState = "WAITING"
	AgentRunning   AgentState = "RUNNING"
	AgentStopping  AgentState = "STOPPING"
	AgentStopped   AgentState = "STOPPED"
	AgentDestroyed AgentState = "DESTROYED"
)

// HostState is the host lifecycle state machine's current position.
type HostState string

const (
	HostBuilding  HostState = "BUILDING"
	HostStarting  HostState = "STARTING"
	HostRunning   HostState = "RUNNING"
	HostStopping  HostState = "STOPPING"
	HostStopped   HostState = "STOPPED"
	HostDestroyed HostState = "DESTROYED"
)

// HostRef is how an AgentRecord points back at the host that owns it.
type HostRef struct {
	HostId   ids.HostId   `json:"host_id"`
	HostName ids.HostName `json:"host_name"`
}

// AgentRecord is the authoritative, whole-record-rewrite document
// persisted at <host_dir>/agents/<AgentId>/data.json.
type AgentRecord struct {
	Id          ids.AgentId       `json:"id"`
	Name        ids.AgentName     `json:"name"`
	Type        string            `json:"type"`
	Command     []string          `json:"command"`
	WorkDir     string            `json:"work_dir"`
	CreateTime  time.Time         `json:"create_time"`
	Labels      map[string]string `json:"labels,omitempty"`
	StartOnBoot bool              `json:"start_on_boot"`
	HostRef     HostRef           `json:"host_ref"`
	State       AgentState        `json:"state"`
}

// HostRecord is the authoritative document persisted at
// <provider_dir>/hosts/<HostId>.json.
type HostRecord struct {
	Id           ids.HostId               `json:"id"`
	Name         ids.HostName             `json:"name"`
	ProviderName ids.ProviderInstanceName `json:"provider_name"`
	State        HostState                `json:"state"`
	Snapshots    []SnapshotRef            `json:"snapshots,omitempty"`
	Tags         map[string]string        `json:"tags,omitempty"`
	PluginData   map[string]any           `json:"plugin_data,omitempty"`
}

// SnapshotRef names a point-in-time filesystem snapshot taken of a host,
// e.g. the id returned by a cloud platform's snapshot_filesystem() call.
type SnapshotRef struct {
	Id        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// CodeStatus is a OneTimeCode's position in its strictly-forward state
// machine (spec §3 Invariant 3).
type CodeStatus string

const (
	CodeValid   CodeStatus = "VALID"
	CodeUsed    CodeStatus = "USED"
	CodeRevoked CodeStatus = "REVOKED"
)

// OneTimeCode authenticates exactly one browser login for exactly one
// agent.
type OneTimeCode struct {
	Code    string      `json:"code"`
	AgentId ids.AgentId `json:"agent_id"`
	Status  CodeStatus  `json:"status"`
}

// MessageRole tags who produced a ThreadMessage.
type MessageRole string

const (
	RoleUser   MessageRole = "user"
	RoleAgent  MessageRole = "agent"
	RoleSystem MessageRole = "system"
)

// ThreadMessage is one role-tagged transcript entry used by the optional
// "zygote" agent pattern, serialized as JSON-lines.
type ThreadMessage struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// ServerURLEntry is one line an agent self-reports to
// logs/servers.jsonl: {"server":"<name>","url":"http://localhost:<port>/"}.
type ServerURLEntry struct {
	Server string `json:"server"`
	URL    string `json:"url"`
}
