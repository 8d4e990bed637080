package app

import (
	"sort"
	"sync"

	"github.com/dkeye/Walkie/internal/core"
	"github.com/rs/zerolog/log"
)

type ChannelManagerImpl struct {
	mu       sync.RWMutex
	channels map[string]core.ChannelService
}

func NewChannelManager() core.ChannelFactory {
	return &ChannelManagerImpl{channels: make(map[string]core.ChannelService)}
}

func (f *ChannelManagerImpl) Join(name string, sid core.SessionID, ms core.MemberSession) core.ChannelService {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[name]
	if !ok {
		ch = core.NewChannelService(name)
		f.channels[name] = ch
		log.Info().Str("module", "app.channels").Str("channel", name).Msg("channel created")
	}
	ch.AddMember(sid, ms)
	return ch
}

func (f *ChannelManagerImpl) Get(name string) (core.ChannelService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ch, ok := f.channels[name]
	return ch, ok
}

func (f *ChannelManagerImpl) List() []core.ChannelInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.ChannelInfo, 0, len(f.channels))
	for name, ch := range f.channels {
		out = append(out, core.ChannelInfo{Name: name, MemberCount: ch.MemberCount()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DropIfEmpty forgets the channel once its last member left.
func (f *ChannelManagerImpl) DropIfEmpty(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[name]
	if !ok || ch.MemberCount() > 0 {
		return false
	}
	delete(f.channels, name)
	log.Info().Str("module", "app.channels").Str("channel", name).Msg("channel dropped")
	return true
}
