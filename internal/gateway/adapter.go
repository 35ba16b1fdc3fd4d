package gateway

import "context"

// Adapter is the interface all inbound channel adapters implement.
type Adapter interface {
	Name() string
	// Start begins ingesting. Blocks until ctx is cancelled or the session
	// is lost.
	Start(ctx context.Context) error
	// Stop releases the channel session.
	Stop() error
}
