package engine

import (
	"context"

	"github.com/corralhq/corral/internal/common/errors"
	"github.com/corralhq/corral/internal/ids"
)

// Locate finds which registered provider instance currently hosts ref,
// searching every instance's hosts in registration order. Callers that
// already know the instance (the CLI, which takes -instance) should
// skip this and call the instance-scoped operations directly; it exists
// for callers that only have an agent id, such as the reverse proxy's
// WebSocket attach route.
func (e *Engine) Locate(ctx context.Context, ref string) (ids.ProviderInstanceName, error) {
	for _, instance := range e.registry.List() {
		if _, _, _, err := e.resolveAgent(ctx, instance, ref); err == nil {
			return instance, nil
		}
	}
	return "", errors.NotFound("agent", ref)
}
