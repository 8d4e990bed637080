package domain

import "time"

// PeerID is the transport-assigned identity of a running instance.
// The zero value means the transport has not opened yet.
type PeerID string

func (p PeerID) Empty() bool { return p == "" }

// PresenceRecord is what a member publishes on a presence channel.
type PresenceRecord struct {
	PeerID   PeerID    `json:"peer_id"`
	OnlineAt time.Time `json:"online_at"`
}

// Member is a hub-side view of one subscriber of a channel.
// No transport or lifecycle logic here.
type Member struct {
	Key    string
	PeerID PeerID
	Record *PresenceRecord
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(key string, peer PeerID) *Member {
	return &Member{Key: key, PeerID: peer}
}

// Tracked reports whether the member already published a presence record.
func (m *Member) Tracked() bool { return m.Record != nil }
