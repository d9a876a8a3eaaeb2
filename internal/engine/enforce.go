package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/model"
	"github.com/corralhq/corral/internal/provider"
)

// ErrorBehavior controls what enforce() does when a per-host check fails
// (spec §9, `error-behavior` CLI option).
type ErrorBehavior string

const (
	// ErrorBehaviorContinue logs and skips the offending host, continuing
	// the sweep (the default).
	ErrorBehaviorContinue ErrorBehavior = "continue"
	// ErrorBehaviorAbort stops the sweep at the first error.
	ErrorBehaviorAbort ErrorBehavior = "abort"
)

// Timeouts bounds how long a host may sit in a transitional state before
// enforce() treats it as stuck (spec §4.6 "Enforcement").
type Timeouts struct {
	Idle     time.Duration
	Building time.Duration
	Starting time.Duration
	Stopping time.Duration
}

// EnforceAction describes one corrective action enforce() took (or would
// take, in dry-run mode).
type EnforceAction struct {
	HostId ids.HostId
	Kind   string // "stop_host", "destroy_host", "timeout_error"
	Reason string
}

// EnforceResult is enforce()'s frozen result (spec §4.10).
type EnforceResult struct {
	Actions           []EnforceAction
	HostsChecked      int
	IdleViolations    int
	TimeoutViolations int
	Errors            []error
}

// EnforceOptions parameterizes Enforce.
type EnforceOptions struct {
	Providers      []ids.ProviderInstanceName
	CheckIdle      bool
	CheckTimeouts  bool
	Timeouts       Timeouts
	DryRun         bool
	ErrorBehavior  ErrorBehavior
	// IdlePolicy selects "stop_host" (default) or "destroy_host" as the
	// corrective action for an idle violation; the CLI spellings "stop"
	// and "destroy" are accepted as the same two policies.
	IdlePolicy string
}

// Enforce inspects every host across the named provider instances
// (spec §4.6 "Enforcement", §4.10). Instances backed by the local backend
// are skipped entirely (neither idle nor timeout checks run, and their
// hosts are not counted in HostsChecked): a single-machine install has no
// meaningful idle shutdown target.
func (e *Engine) Enforce(ctx context.Context, opts EnforceOptions) *EnforceResult {
	result := &EnforceResult{}
	switch opts.IdlePolicy {
	case "", "stop":
		opts.IdlePolicy = "stop_host"
	case "destroy":
		opts.IdlePolicy = "destroy_host"
	}

	for _, instance := range opts.Providers {
		backend, err := e.registry.Get(instance)
		if err != nil {
			result.Errors = append(result.Errors, err)
			if opts.ErrorBehavior == ErrorBehaviorAbort {
				return result
			}
			continue
		}
		if backend.Name() == ids.BackendLocal {
			continue
		}

		hosts, err := backend.ListHosts(ctx, false)
		if err != nil {
			result.Errors = append(result.Errors, err)
			if opts.ErrorBehavior == ErrorBehaviorAbort {
				return result
			}
			continue
		}

		for _, h := range hosts {
			result.HostsChecked++
			if err := e.enforceHost(ctx, backend, h, opts, result); err != nil {
				result.Errors = append(result.Errors, err)
				if opts.ErrorBehavior == ErrorBehaviorAbort {
					return result
				}
			}
		}
	}
	return result
}

func (e *Engine) enforceHost(ctx context.Context, backend provider.Backend, h *model.HostRecord, opts EnforceOptions, result *EnforceResult) error {
	now := time.Now()

	if opts.CheckTimeouts {
		var budget time.Duration
		switch h.State {
		case model.HostBuilding:
			budget = opts.Timeouts.Building
		case model.HostStarting:
			budget = opts.Timeouts.Starting
		case model.HostStopping:
			budget = opts.Timeouts.Stopping
		}
		// HostRecord has no field for when the current state was entered,
		// so the elapsed time is measured from an RFC3339 timestamp stored
		// under PluginData["state_entered_at"]; a host without that entry
		// is never reported as stuck.
		if budget > 0 {
			if stuckSince, ok := h.PluginData["state_entered_at"].(string); ok {
				entered, parseErr := time.Parse(time.RFC3339, stuckSince)
				if parseErr == nil && now.Sub(entered) > budget {
					result.TimeoutViolations++
					result.Actions = append(result.Actions, EnforceAction{
						HostId: h.Id,
						Kind:   "timeout_error",
						Reason: "host stuck in " + string(h.State) + " past its timeout",
					})
				}
			}
		}
	}

	if opts.CheckIdle {
		idleTimeout := opts.Timeouts.Idle
		if idleTimeout > 0 && h.State == model.HostRunning && backend.SupportsShutdownHosts() {
			idle, violated, err := e.hostIsIdle(ctx, backend, h, idleTimeout, now)
			if err != nil {
				return err
			}
			if violated {
				result.IdleViolations++
				kind := "stop_host"
				if opts.IdlePolicy == "destroy_host" {
					kind = "destroy_host"
				}
				result.Actions = append(result.Actions, EnforceAction{
					HostId: h.Id,
					Kind:   kind,
					Reason: "idle for " + idle.String(),
				})
				if !opts.DryRun {
					if kind == "destroy_host" {
						return backend.DestroyHost(ctx, h.Id)
					}
					return backend.StopHost(ctx, h.Id)
				}
			}
		}
	}
	return nil
}

// hostIsIdle reports the host's current idle duration and whether it
// exceeds timeout, measured as the minimum over every agent on the host
// of (now - that agent's last activity): a host is idle only once every
// agent on it is idle (spec §4.6). A host with no agents is never idle.
func (e *Engine) hostIsIdle(ctx context.Context, backend provider.Backend, h *model.HostRecord, timeout time.Duration, now time.Time) (time.Duration, bool, error) {
	agentStore, err := e.agentStore(backend, h.Id)
	if err != nil {
		return 0, false, err
	}
	agents := agentStore.ListAgents(ctx)
	if len(agents) == 0 {
		return 0, false, nil
	}

	minIdle := time.Duration(-1)
	for _, a := range agents {
		idle := e.IdleSince(ctx, backend, h.Id, a.Id, a.CreateTime, now)
		if minIdle < 0 || idle < minIdle {
			minIdle = idle
		}
	}
	e.log.Debug("host idle check", zap.String("host_id", string(h.Id)), zap.Duration("min_idle", minIdle))
	return minIdle, minIdle >= timeout, nil
}
