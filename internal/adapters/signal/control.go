package signal

import "github.com/dkeye/Walkie/internal/proto"

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.sendJSON(conn, proto.Envelope{Type: proto.TypePong})
}

func (ctl *SignalWSController) sendError(conn *WsSignalConn, msg string) {
	ctl.sendJSON(conn, proto.Error{Type: proto.TypeError, Error: msg})
}
