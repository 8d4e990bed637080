package core

import (
	"context"

	"github.com/dkeye/Walkie/internal/domain"
)

// PeerTransport places and answers point-to-point audio calls.
type PeerTransport interface {
	// OnOpen fires once the transport has an identity. If it already has one the
	// callback fires immediately.
	OnOpen(fn func(domain.PeerID))
	// OnCall registers the inbound call handler.
	OnCall(fn func(IncomingCall))
	// Call dials remote carrying the capture's audio. Blocks through negotiation.
	Call(ctx context.Context, remote domain.PeerID, capture CaptureHandle) (MediaConnection, error)
	// Destroy tears down every connection and invalidates the identity.
	Destroy()
}

// IncomingCall is a pending inbound call request.
type IncomingCall interface {
	Peer() domain.PeerID
	// Answer completes negotiation with the local capture. Blocks through negotiation.
	Answer(ctx context.Context, capture CaptureHandle) (MediaConnection, error)
}

// MediaConnection is one established bidirectional audio link.
type MediaConnection interface {
	Peer() domain.PeerID
	// Sending reports the outbound track enablement.
	Sending() bool
	SetSending(on bool)
	// OnStream sets the remote stream callback. A stream that arrived before the
	// callback was set is delivered on registration.
	OnStream(fn func(RemoteStream))
	Close() error
}
