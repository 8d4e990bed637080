package signal

import (
	"encoding/json"

	"github.com/dkeye/Walkie/internal/core"
	"github.com/dkeye/Walkie/internal/proto"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleRelay(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	var p proto.Signal
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad signal payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	if p.Kind != proto.KindOffer && p.Kind != proto.KindAnswer {
		ctl.sendError(conn, "bad_kind")
		return
	}
	if err := ctl.Hub.Relay(sid, p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("to", string(p.To)).Msg("relay")
		ctl.sendError(conn, err.Error())
	}
}
