package rtc

import (
	"context"

	"github.com/dkeye/Walkie/internal/domain"
	"github.com/dkeye/Walkie/internal/proto"
)

// Signaler carries complete session descriptions between peers. All candidates are
// gathered before a description is sent, so a call needs one offer and one answer.
type Signaler interface {
	// OnOpen fires with the local identity, immediately if it is already known.
	OnOpen(fn func(domain.PeerID))
	// Send delivers sig to sig.To. From is filled in by the carrier.
	Send(ctx context.Context, sig proto.Signal) error
	// Signals yields inbound offers and answers until the carrier is gone.
	Signals() <-chan proto.Signal
}
