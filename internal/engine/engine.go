// Package engine implements the agent lifecycle state machine (spec
// §4.6, C7): create/start/stop/destroy/rename, provisioning hooks,
// activity tracking, and the background idle/timeout enforcement sweep.
package engine

import (
	"sync"

	"github.com/corralhq/corral/internal/common/logger"
	"github.com/corralhq/corral/internal/concurrency"
	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/provider"
)

const defaultPrefix = "corral-"

// Engine drives every lifecycle operation against a provider registry. It
// holds no agent state itself beyond per-agent locks; durable agent state
// lives in each host's AgentStore, and host records are owned by the
// provider backends (spec §4.6).
type Engine struct {
	registry *provider.Registry
	log      *logger.Logger
	root     *concurrency.Group
	prefix   string
	hooks    []ProvisionHook

	locksMu sync.Mutex
	locks   map[ids.AgentId]*sync.Mutex
}

// New constructs an Engine bound to registry, running hooks in order for
// every create() call. prefix names tmux sessions (default "corral-").
func New(registry *provider.Registry, root *concurrency.Group, log *logger.Logger, prefix string, hooks []ProvisionHook) *Engine {
	if log == nil {
		log = logger.Default()
	}
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Engine{
		registry: registry,
		log:      log,
		root:     root,
		prefix:   prefix,
		hooks:    hooks,
		locks:    make(map[ids.AgentId]*sync.Mutex),
	}
}

// sessionName returns the tmux session name for an agent, spec §4.6
// step 5 ("<prefix><AgentName>").
func (e *Engine) sessionName(name ids.AgentName) string {
	return e.prefix + string(name)
}

// lockFor returns the per-agent mutex, creating it on first use. Engine
// operations on an agent are serialized by holding this lock for the
// duration of the call (spec §5); concurrent operations on different
// agents proceed independently.
func (e *Engine) lockFor(id ids.AgentId) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}
