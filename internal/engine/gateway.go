package engine

import (
	"context"

	"github.com/hearthd/hearth-core/internal/automation"
)

// Gateway delivers commands to physical or virtual devices.
//
// Send blocks until the device acknowledges, the context expires, or
// delivery fails. The dispatcher supplies the command ID; implementations
// must dedupe by it so a retried send never double-applies.
//
// A nil return means acknowledged. Every error is treated as transient and
// retried up to the configured limit.
type Gateway interface {
	Send(ctx context.Context, cmd *automation.DeviceCommand) error
}
