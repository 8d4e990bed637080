package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Walkie/internal/app/hub"
	"github.com/dkeye/Walkie/internal/config"
	"github.com/dkeye/Walkie/internal/core"
	"github.com/dkeye/Walkie/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type SignalWSController struct {
	Hub     *hub.Hub
	Limiter *SubscribeRateLimiter

	readLimit  int64
	pingPeriod time.Duration
	sendBuffer int
}

const defaultPingPeriod = 54 * time.Second

func NewSignalWSController(h *hub.Hub, cfg *config.Config) *SignalWSController {
	ctl := &SignalWSController{
		Hub:        h,
		Limiter:    NewSubscribeRateLimiter(cfg.SubscribeLimit, cfg.SubscribeInterval),
		readLimit:  cfg.ReadLimit,
		pingPeriod: cfg.PingPeriod,
		sendBuffer: cfg.SendBuffer,
	}
	if ctl.pingPeriod <= 0 {
		ctl.pingPeriod = defaultPingPeriod
	}
	if ctl.sendBuffer <= 0 {
		ctl.sendBuffer = 32
	}
	return ctl
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and assigns the connection a fresh session and peer id.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	sid := core.SessionID(uuid.NewString())
	peer := domain.PeerID(uuid.NewString())
	log.Info().
		Str("module", "signal").
		Str("sid", string(sid)).
		Str("peer_id", string(peer)).
		Str("client_token", c.GetString("client_token")).
		Msg("new WS connection")

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.sendBuffer),
	}

	sess := core.NewMemberSession(domain.NewMember(string(sid), peer), conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Hub.Registry.BindSignal(sid, sess, cancel)

	ctl.greet(conn, peer)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, conn)
}
