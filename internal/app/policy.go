package app

import "github.com/dkeye/Walkie/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
)

// Policy decides what happens to a member whose send buffer is full.
type Policy interface {
	OnBackPressure(ch core.ChannelService, member core.MemberSession) BackpressureAction
}

// SimplePolicy kicks slow members: a member that misses a sync has a stale roster.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.ChannelService, core.MemberSession) BackpressureAction {
	return KickMember
}

// TolerantPolicy keeps slow members.
type TolerantPolicy struct{}

func (TolerantPolicy) OnBackPressure(core.ChannelService, core.MemberSession) BackpressureAction {
	return NoAction
}

// PolicyByName maps a configured backpressure name to a Policy; anything but "keep" kicks.
func PolicyByName(name string) Policy {
	if name == "keep" {
		return TolerantPolicy{}
	}
	return SimplePolicy{}
}
