package external

import (
	"context"

	"chesshelper/internal/types"
)

// EmailProvider is the transport boundary: it makes exactly one logical
// delivery attempt per call and returns the provider-assigned message ID on
// success. Redelivery belongs to the queue, not the transport.
//
// On failure the returned error carries a *types.TransportError in its
// chain, so the failure classifier can see the status code, provider code,
// and message.
type EmailProvider interface {
	Send(ctx context.Context, input types.SendInput) (string, error)
}
