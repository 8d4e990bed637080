package signal

import (
	"github.com/dkeye/Walkie/internal/domain"
	"github.com/dkeye/Walkie/internal/proto"
)

// greet tells a fresh connection which peer id it was given.
func (ctl *SignalWSController) greet(conn *WsSignalConn, peer domain.PeerID) {
	ctl.sendJSON(conn, proto.Open{Type: proto.TypeOpen, PeerID: peer})
}
