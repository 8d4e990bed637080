// Package hub coordinates presence channels and signal relaying for connected sessions.
package hub

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/Walkie/internal/app"
	"github.com/dkeye/Walkie/internal/core"
	"github.com/dkeye/Walkie/internal/domain"
	"github.com/dkeye/Walkie/internal/proto"
	"github.com/rs/zerolog/log"
)

const MaxChannelNameLen = 36

var (
	ErrBadChannel    = errors.New("bad channel name")
	ErrNotSubscribed = errors.New("not subscribed to channel")
	ErrUnknownPeer   = errors.New("unknown peer")
	ErrUnknownSID    = errors.New("unknown session")
)

type Hub struct {
	Registry *app.Registry
	Channels core.ChannelFactory
	Policy   app.Policy
}

func New(policy app.Policy) *Hub {
	return &Hub{
		Registry: app.NewRegistry(),
		Channels: app.NewChannelManager(),
		Policy:   policy,
	}
}

func ValidChannelName(name string) bool {
	return name != "" && len(name) <= MaxChannelNameLen
}

// Subscribe moves sid into the named channel, leaving any previous one.
func (h *Hub) Subscribe(sid core.SessionID, name string) error {
	if !ValidChannelName(name) {
		return ErrBadChannel
	}
	sess, ok := h.Registry.GetSession(sid)
	if !ok {
		return ErrUnknownSID
	}
	if current, _, ok := h.Registry.ChannelOf(sid); ok {
		if current == name {
			return nil
		}
		h.Unsubscribe(sid)
		log.Info().Str("module", "app.hub").Str("sid", string(sid)).Str("from_channel", current).Msg("left previous channel")
	}
	sess.Meta().Record = nil
	h.Channels.Join(name, sid, sess)
	h.Registry.UpdateChannel(sid, name)
	log.Info().Str("module", "app.hub").Str("sid", string(sid)).Str("channel", name).Msg("subscribed")
	return nil
}

// AnnounceSync sends the current roster of the channel to all of its members.
func (h *Hub) AnnounceSync(name string) {
	ch, ok := h.Channels.Get(name)
	if !ok {
		return
	}
	h.broadcastSync(ch)
}

// Track stores the record for sid in its channel and announces the new roster.
func (h *Hub) Track(sid core.SessionID, name string, rec domain.PresenceRecord) error {
	current, _, ok := h.Registry.ChannelOf(sid)
	if !ok || current != name {
		return ErrNotSubscribed
	}
	ch, ok := h.Channels.Get(name)
	if !ok || !ch.Track(sid, rec) {
		return ErrNotSubscribed
	}
	log.Info().Str("module", "app.hub").Str("sid", string(sid)).Str("channel", name).Str("peer_id", string(rec.PeerID)).Msg("tracked")
	h.broadcastSync(ch)
	return nil
}

// Unsubscribe removes sid from its channel. Remaining members get a fresh roster.
func (h *Hub) Unsubscribe(sid core.SessionID) {
	name, _, ok := h.Registry.ChannelOf(sid)
	if !ok {
		return
	}
	h.Registry.RemoveChannel(sid)
	ch, ok := h.Channels.Get(name)
	if !ok {
		return
	}
	if !ch.RemoveMember(sid) {
		return
	}
	if h.Channels.DropIfEmpty(name) {
		return
	}
	h.broadcastSync(ch)
}

// Leave removes sid from the named channel. A request for a channel sid has
// already moved away from is stale and ignored.
func (h *Hub) Leave(sid core.SessionID, name string) bool {
	current, _, ok := h.Registry.ChannelOf(sid)
	if !ok || current != name {
		log.Debug().Str("module", "app.hub").Str("sid", string(sid)).Str("channel", name).Str("current", current).Msg("stale unsubscribe ignored")
		return false
	}
	h.Unsubscribe(sid)
	return true
}

// Relay forwards a signal from sid to the session owning sig.To.
func (h *Hub) Relay(sid core.SessionID, sig proto.Signal) error {
	from, ok := h.Registry.PeerOf(sid)
	if !ok {
		return ErrUnknownSID
	}
	_, target, ok := h.Registry.SessionByPeer(sig.To)
	if !ok {
		return ErrUnknownPeer
	}
	sig.Type = proto.TypeSignal
	sig.From = from
	data, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	log.Debug().Str("module", "app.hub").Str("from", string(from)).Str("to", string(sig.To)).Str("kind", sig.Kind).Msg("relay signal")
	return target.Signal().TrySend(data)
}

// Disconnect is the full cleanup of a closed connection.
func (h *Hub) Disconnect(sid core.SessionID) {
	h.Unsubscribe(sid)
	if sess, ok := h.Registry.GetSession(sid); ok {
		sess.Signal().Close()
	}
	h.Registry.Cancel(sid)
	h.Registry.Unbind(sid)
}

func (h *Hub) broadcastSync(ch core.ChannelService) {
	data, err := json.Marshal(proto.Sync{Type: proto.TypeSync, Channel: ch.Name(), State: ch.Roster()})
	if err != nil {
		log.Error().Err(err).Str("module", "app.hub").Msg("sync marshal")
		return
	}
	res := ch.Broadcast(data)
	if h.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch h.Policy.OnBackPressure(ch, slow) {
		case app.KickMember:
			sid := core.SessionID(slow.Meta().Key)
			log.Warn().Str("module", "app.hub").Str("sid", string(sid)).Str("channel", ch.Name()).Msg("kicking slow member")
			h.Disconnect(sid)
		case app.NoAction:
		}
	}
}
