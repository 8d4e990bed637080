// Package proto holds the wire messages shared by the hub, its clients and the
// serverless libp2p mode.
package proto

import (
	"time"

	"github.com/dkeye/Walkie/internal/domain"
)

const (
	TypeOpen        = "open"
	TypeSubscribe   = "subscribe"
	TypeSubscribed  = "subscribed"
	TypeTrack       = "track"
	TypeUnsubscribe = "unsubscribe"
	TypeSync        = "sync"
	TypeSignal      = "signal"
	TypePing        = "ping"
	TypePong        = "pong"
	TypeError       = "error"
)

const (
	StatusSubscribed   = "SUBSCRIBED"
	StatusChannelError = "CHANNEL_ERROR"
)

const (
	KindOffer  = "offer"
	KindAnswer = "answer"
)

const (
	// gossipsub topic prefix; the room code is appended
	PresenceTopicPrefix = "walkie/presence/"
	MdnsTag             = "walkie-mdns"

	// libp2p stream protocol ID carrying one Signal per stream
	SignalProtoID = "/walkie/signal/1.0.0"
)

// Envelope is decoded first to dispatch on Type.
type Envelope struct {
	Type string `json:"type"`
}

type Open struct {
	Type   string        `json:"type"`
	PeerID domain.PeerID `json:"peer_id"`
}

type Subscribe struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

type Subscribed struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

type Track struct {
	Type    string                `json:"type"`
	Channel string                `json:"channel"`
	Record  domain.PresenceRecord `json:"record"`
}

type Unsubscribe struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

type Sync struct {
	Type    string                `json:"type"`
	Channel string                `json:"channel"`
	State   domain.RosterSnapshot `json:"state"`
}

// Signal carries one half of a vanilla-ICE negotiation. CallID pairs an answer with its offer.
type Signal struct {
	Type   string        `json:"type"`
	From   domain.PeerID `json:"from,omitempty"`
	To     domain.PeerID `json:"to"`
	CallID string        `json:"call_id"`
	Kind   string        `json:"kind"`
	SDP    string        `json:"sdp"`
}

type Error struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// PresenceMsg is the gossipsub heartbeat of the serverless mode.
type PresenceMsg struct {
	Type   string                `json:"type"` // online|offline
	Key    string                `json:"key"`
	Record domain.PresenceRecord `json:"record"`
	TS     int64                 `json:"ts"`
}

func NowMillis() int64 { return time.Now().UnixMilli() }
