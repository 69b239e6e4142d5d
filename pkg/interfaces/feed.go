package interfaces

import (
	"context"

	"rollcall/pkg/types"
)

// PresenceFeed streams server-pushed presence changes for one session
// Follow blocks until ctx is done or the stream fails.
type PresenceFeed interface {
	Follow(ctx context.Context, sessionID int64, onEvent func(types.PresenceEvent)) error
}
