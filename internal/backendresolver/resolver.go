// Package backendresolver implements the file-backed agent-id -> backend
// URL index (spec §4.8, C9): <data_dir>/backends.json holds
// {AgentId (str) -> URL (str)}, the proxy's only source of truth for
// where to route a request once a browser session is authenticated.
package backendresolver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/corralhq/corral/internal/common/logger"
	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/model"
	"github.com/corralhq/corral/internal/volume"
)

const backendsFile = "backends.json"

// Resolver persists the agent-id -> backend-url mapping at
// <dataDir>/backends.json, tolerating concurrent writers via
// last-writer-wins whole-file replacement (spec §5, "Shared-resource
// policy").
type Resolver struct {
	path string
	log  *logger.Logger

	mu sync.Mutex
}

// New returns a Resolver rooted at dataDir.
func New(dataDir string, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.Default()
	}
	return &Resolver{path: filepath.Join(dataDir, backendsFile), log: log}
}

// read loads the current file, returning an empty map on any read or
// parse error (spec §4.8: "Corrupt file -> empty view (no exception)").
func (r *Resolver) read() map[ids.AgentId]model.ServerURLEntry {
	content, err := os.ReadFile(r.path)
	if err != nil {
		return map[ids.AgentId]model.ServerURLEntry{}
	}
	var raw map[string]string
	if err := json.Unmarshal(content, &raw); err != nil {
		r.log.Warn("backends.json is corrupt, treating as empty", zap.Error(err))
		return map[ids.AgentId]model.ServerURLEntry{}
	}
	out := make(map[ids.AgentId]model.ServerURLEntry, len(raw))
	for k, v := range raw {
		out[ids.AgentId(k)] = model.ServerURLEntry{Server: k, URL: v}
	}
	return out
}

func (r *Resolver) write(entries map[ids.AgentId]model.ServerURLEntry) error {
	raw := make(map[string]string, len(entries))
	for id, e := range entries {
		raw[string(id)] = e.URL
	}
	content, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	return volume.AtomicWriteFile(r.path, content, 0o644)
}

// RegisterBackend atomically merges one (agentID -> url) entry into the
// file, creating parent directories as needed. Registration is
// idempotent: re-registering the same pair is a no-op write.
func (r *Resolver) RegisterBackend(_ context.Context, agentID ids.AgentId, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.read()
	entries[agentID] = model.ServerURLEntry{Server: string(agentID), URL: url}
	return r.write(entries)
}

// DeregisterBackend removes agentID's entry, used by destroy() (spec
// §4.6 "deregister backend URL").
func (r *Resolver) DeregisterBackend(_ context.Context, agentID ids.AgentId) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.read()
	if _, ok := entries[agentID]; !ok {
		return nil
	}
	delete(entries, agentID)
	return r.write(entries)
}

// GetBackendURL returns the registered URL for agentID, or ("", false).
func (r *Resolver) GetBackendURL(_ context.Context, agentID ids.AgentId) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.read()[agentID]
	if !ok {
		return "", false
	}
	return entry.URL, true
}

// ListKnownAgentIDs returns every registered agent id, sorted.
func (r *Resolver) ListKnownAgentIDs(_ context.Context) []ids.AgentId {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.read()
	out := make([]ids.AgentId, 0, len(entries))
	for id := range entries {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
