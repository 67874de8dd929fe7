package interfaces

import "context"

// -----------------------------------------------------------------------------
// IDataExchanger is the outward surface (REST + stream) of the service.
// -----------------------------------------------------------------------------

type IDataExchanger interface {
	// -----------------------------------------------------------------------------
	// Start serves until ctx is cancelled
	Start(ctx context.Context) error

	// -----------------------------------------------------------------------------
	// Stop the server gracefully
	Stop(ctx context.Context) error
}

// -----------------------------------------------------------------------------
// ISubscriber is one stream consumer owned by the broadcast hub.
// -----------------------------------------------------------------------------

type ISubscriber interface {
	ID() string

	// Send enqueues without blocking; false means the subscriber cannot keep up.
	Send(message interface{}) bool

	// Close releases the connection. Safe to call more than once.
	Close()
}
