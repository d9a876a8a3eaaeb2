package engine

import (
	"context"
	"time"

	"github.com/corralhq/corral/internal/ids"
	"github.com/corralhq/corral/internal/provider"
	"github.com/corralhq/corral/internal/store"
)

// LastActivity returns the mtime of agents/<id>/activity/ssh, the
// authoritative "last activity" timestamp (spec §4.6 "Activity & idle
// tracking", DESIGN.md open question resolution). This module only reads
// the marker; none of its attach paths write it. ok is false if the
// marker cannot be stat'ed, in which case callers fall back to the
// agent's CreateTime.
func (e *Engine) LastActivity(ctx context.Context, backend provider.Backend, hostID ids.HostId, agentID ids.AgentId) (t time.Time, ok bool) {
	hv, isHV := backend.(provider.HostVolume)
	if !isHV {
		return time.Time{}, false
	}
	vol, err := hv.GetHostVolume(hostID)
	if err != nil {
		return time.Time{}, false
	}
	entry, err := vol.Stat(ctx, store.ActivityPath(agentID))
	if err != nil {
		return time.Time{}, false
	}
	return entry.Mtime, true
}

// IdleSince returns how long an agent has been idle, measured from its
// last recorded activity or, absent one, its creation time.
func (e *Engine) IdleSince(ctx context.Context, backend provider.Backend, hostID ids.HostId, agentID ids.AgentId, createdAt time.Time, now time.Time) time.Duration {
	if t, ok := e.LastActivity(ctx, backend, hostID, agentID); ok {
		return now.Sub(t)
	}
	return now.Sub(createdAt)
}
