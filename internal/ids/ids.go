// Package ids defines the prefixed-random identifier types and the
// human-visible name newtypes used throughout corral (spec §3, C1).
package ids

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// AgentId is a prefix "agent-" + 32 hex digit random identifier, stable
// for an agent's whole life.
type AgentId string

// HostId is a prefix "host-" + 32 hex digit random identifier.
type HostId string

// AgentName is a human-visible, renameable string unique per host.
type AgentName string

// HostName is a human-visible, renameable string unique per provider
// instance.
type HostName string

// ProviderBackendName identifies a compiled-in backend implementation.
type ProviderBackendName string

const (
	BackendLocal        ProviderBackendName = "local"
	BackendDocker       ProviderBackendName = "docker"
	BackendSSH          ProviderBackendName = "ssh"
	BackendCloudSandbox ProviderBackendName = "cloud-sandbox"
)

// ProviderInstanceName is an operator-chosen label bound to a backend with
// its own configuration, e.g. "production-cluster" bound to "ssh".
type ProviderInstanceName string

const (
	agentPrefix = "agent-"
	hostPrefix  = "host-"
	hexLen      = 32
)

// randomHex returns hexLen hex digits of entropy, drawn from a
// google/uuid v4 with its separators stripped rather than a raw
// crypto/rand read, so id generation goes through the same
// well-audited random source the rest of the pack uses for ids.
func randomHex() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// NewAgentId allocates a fresh AgentId.
func NewAgentId() AgentId {
	return AgentId(agentPrefix + randomHex())
}

// NewHostId allocates a fresh HostId.
func NewHostId() HostId {
	return HostId(hostPrefix + randomHex())
}

// IsValidAgentId reports whether s has the expected "agent-"+32hex shape.
func IsValidAgentId(s string) bool {
	return hasValidShape(s, agentPrefix)
}

// IsValidHostId reports whether s has the expected "host-"+32hex shape.
func IsValidHostId(s string) bool {
	return hasValidShape(s, hostPrefix)
}

func hasValidShape(s, prefix string) bool {
	if !strings.HasPrefix(s, prefix) {
		return false
	}
	rest := strings.TrimPrefix(s, prefix)
	if len(rest) != hexLen {
		return false
	}
	_, err := hex.DecodeString(rest)
	return err == nil
}

func (a AgentId) String() string { return string(a) }
func (h HostId) String() string  { return string(h) }
