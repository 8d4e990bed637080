package core

import "errors"

var (
	ErrMediaAccess   = errors.New("media access failure")
	ErrNegotiation   = errors.New("negotiation failure")
	ErrSubscription  = errors.New("presence subscription failure")
	ErrNotSubscribed = errors.New("presence channel not subscribed")
	ErrTransportDown = errors.New("peer transport destroyed")
)
