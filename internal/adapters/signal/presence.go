package signal

import (
	"encoding/json"

	"github.com/dkeye/Walkie/internal/core"
	"github.com/dkeye/Walkie/internal/proto"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleSubscribe(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	var p proto.Subscribe
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad subscribe payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	reply := proto.Subscribed{Type: proto.TypeSubscribed, Channel: p.Channel}

	if !ctl.Limiter.Allow(sid) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("subscribe rate limited")
		reply.Status = proto.StatusChannelError
		reply.Error = "rate_limited"
		ctl.sendJSON(conn, reply)
		return
	}

	if err := ctl.Hub.Subscribe(sid, p.Channel); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("channel", p.Channel).Msg("subscribe")
		reply.Status = proto.StatusChannelError
		reply.Error = err.Error()
		ctl.sendJSON(conn, reply)
		return
	}

	reply.Status = proto.StatusSubscribed
	ctl.sendJSON(conn, reply)
	ctl.Hub.AnnounceSync(p.Channel)
}

func (ctl *SignalWSController) handleTrack(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	var p proto.Track
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad track payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	// records may only announce the connection's own peer id
	if peer, ok := ctl.Hub.Registry.PeerOf(sid); !ok || peer != p.Record.PeerID {
		ctl.sendError(conn, "peer_mismatch")
		return
	}
	if err := ctl.Hub.Track(sid, p.Channel, p.Record); err != nil {
		ctl.sendError(conn, err.Error())
	}
}

func (ctl *SignalWSController) handleUnsubscribe(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	var p proto.Unsubscribe
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad unsubscribe payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("channel", p.Channel).Msg("unsubscribe")
	ctl.Hub.Leave(sid, p.Channel)
}
