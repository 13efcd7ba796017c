package interfaces

import (
	"context"

	"marketsync/internal/types"
)

// TickSink receives decoded price ticks from a feed.
type TickSink interface {
	Apply(tick types.PriceTick) bool
}

// PriceFeed is a long-lived streaming connection that pushes ticks for all
// symbols into a TickSink.
type PriceFeed interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
	State() types.ConnectionState
}
