package core

import (
	"sync"

	"github.com/dkeye/Walkie/internal/domain"
	"github.com/rs/zerolog/log"
)

// channelImpl is a threadsafe in-memory presence channel.
// It never closes adapter-owned resources.
type channelImpl struct {
	name  string
	mu    sync.RWMutex
	bySID map[SessionID]MemberSession
	order []SessionID
}

func NewChannelService(name string) ChannelService {
	return &channelImpl{
		name:  name,
		bySID: make(map[SessionID]MemberSession),
	}
}

func (c *channelImpl) Name() string { return c.name }

func (c *channelImpl) MemberCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.bySID)
}

func (c *channelImpl) AddMember(sid SessionID, ms MemberSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.bySID[sid]; !ok {
		c.order = append(c.order, sid)
	}
	c.bySID[sid] = ms
	log.Info().Str("module", "core.channel").Str("channel", c.name).Str("sid", string(sid)).Msg("member added")
}

func (c *channelImpl) RemoveMember(sid SessionID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.bySID[sid]; !ok {
		return false
	}
	delete(c.bySID, sid)
	for i, s := range c.order {
		if s == sid {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	log.Info().Str("module", "core.channel").Str("channel", c.name).Str("sid", string(sid)).Msg("member removed")
	return true
}

// Track stores the member's presence record. A later record replaces the earlier one.
func (c *channelImpl) Track(sid SessionID, rec domain.PresenceRecord) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms, ok := c.bySID[sid]
	if !ok {
		return false
	}
	r := rec
	ms.Meta().Record = &r
	return true
}

// Roster lists tracked members only; subscribed but silent members are invisible.
func (c *channelImpl) Roster() domain.RosterSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(domain.RosterSnapshot, len(c.bySID))
	for _, sid := range c.order {
		meta := c.bySID[sid].Meta()
		if !meta.Tracked() {
			continue
		}
		out[meta.Key] = append(out[meta.Key], *meta.Record)
	}
	return out
}

func (c *channelImpl) Broadcast(data Frame) PublishResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res := PublishResult{}
	for _, sid := range c.order {
		m := c.bySID[sid]
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.channel").Str("channel", c.name).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}
