package core

import (
	"github.com/dkeye/Walkie/internal/domain"
)

// PublishResult reports delivery stats/backpressure to the hub.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// ChannelService is the hub-side presence channel.
// It owns the membership set but never touches transport resources.
type ChannelService interface {
	Name() string
	MemberCount() int
	Roster() domain.RosterSnapshot

	AddMember(sid SessionID, ms MemberSession)
	RemoveMember(sid SessionID) bool
	Track(sid SessionID, rec domain.PresenceRecord) bool
	Broadcast(data Frame) PublishResult
}

type ChannelInfo struct {
	Name        string `json:"name"`
	MemberCount int    `json:"member_count"`
}

type ChannelFactory interface {
	// Join adds ms to the named channel, creating it if needed. Membership is
	// added under the factory lock so DropIfEmpty cannot drop the channel in between.
	Join(name string, sid SessionID, ms MemberSession) ChannelService
	Get(name string) (ChannelService, bool)
	List() []ChannelInfo
	DropIfEmpty(name string) bool
}
