package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// NameCache is an in-memory, periodically-refreshed index of agent and
// host names used by shell completion and the proxy's name lookups so
// they don't each re-scan the volume on every keystroke.
//
// It is side-effect-free: a miss or stale read never blocks a caller
// waiting on a fresh ListAgents scan, it just returns what it has.
type NameCache struct {
	mu      sync.RWMutex
	agents  []string
	hosts   []string
	refresh time.Time
}

// NewNameCache returns an empty cache; call Refresh to populate it.
func NewNameCache() *NameCache {
	return &NameCache{}
}

// Refresh replaces the cache's contents atomically under the write lock.
func (c *NameCache) Refresh(_ context.Context, agentStore *AgentStore, hostStore *HostStore) {
	agentRecords := agentStore.ListAgents(context.Background())
	agentNames := make([]string, 0, len(agentRecords))
	for _, r := range agentRecords {
		agentNames = append(agentNames, string(r.Name))
	}
	sort.Strings(agentNames)

	var hostNames []string
	if hostStore != nil {
		hostRecords := hostStore.ListHosts(context.Background(), false)
		hostNames = make([]string, 0, len(hostRecords))
		for _, r := range hostRecords {
			hostNames = append(hostNames, string(r.Name))
		}
		sort.Strings(hostNames)
	}

	c.mu.Lock()
	c.agents = agentNames
	c.hosts = hostNames
	c.refresh = time.Now()
	c.mu.Unlock()
}

// CompleteAgentName returns the cached agent names with the given prefix,
// for shell-completion style lookups.
func (c *NameCache) CompleteAgentName(prefix string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return filterPrefix(c.agents, prefix)
}

// CompleteHostName returns the cached host names with the given prefix.
func (c *NameCache) CompleteHostName(prefix string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return filterPrefix(c.hosts, prefix)
}

// Age reports how long ago Refresh last ran, or zero if it has never run.
func (c *NameCache) Age() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.refresh.IsZero() {
		return 0
	}
	return time.Since(c.refresh)
}

func filterPrefix(names []string, prefix string) []string {
	var out []string
	for _, n := range names {
		if strings.HasPrefix(n, prefix) {
			out = append(out, n)
		}
	}
	return out
}
