package interfaces

import (
	"context"
	"kimchi-observer/src/models"
)

// -----------------------------------------------------------------------------
// ICacheMirror is an external ephemeral cache fed from the market store.
// Writes are best effort.
// -----------------------------------------------------------------------------

type ICacheMirror interface {
	MirrorTickers(ctx context.Context, tickers []models.MTicker) error
	Ping(ctx context.Context) error
	Close() error
}
