package interfaces

import (
	"context"
)

// -----------------------------------------------------------------------------
// INetworkManager defines the contract for HTTP requests with retry logic.
// -----------------------------------------------------------------------------

type INetworkManager interface {

	// -----------------------------------------------------------------------------

	// Get performs a GET request to the specified URL with parameters.
	// Returns the response body as bytes or a typed error.
	Get(ctx context.Context, url string, params map[string]string) ([]byte, error)
}
