// Package hubclient connects a walkie to the presence hub over a websocket.
// One Client serves both as the presence factory and as the signal carrier.
package hubclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Walkie/internal/core"
	"github.com/dkeye/Walkie/internal/domain"
	"github.com/dkeye/Walkie/internal/proto"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed       = errors.New("hub connection closed")
	ErrBackpressure = errors.New("hub send buffer full")
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 64
)

type Client struct {
	conn *websocket.Conn
	send chan []byte

	mu       sync.Mutex
	self     domain.PeerID
	onOpen   []func(domain.PeerID)
	channels map[string]*channel
	acks     map[string]chan proto.Subscribed

	signals   chan proto.Signal
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to url and starts the pumps. The peer id arrives later through OnOpen.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		channels: make(map[string]*channel),
		acks:     make(map[string]chan proto.Subscribed),
		signals:  make(chan proto.Signal, 16),
		done:     make(chan struct{}),
	}
	log.Info().Str("module", "hubclient").Str("url", url).Msg("connected to hub")
	go c.writePump()
	go c.readPump()
	return c, nil
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = c.conn.Close()
	})
	return nil
}

// OnOpen registers fn for the hub assigned identity. Fires immediately when it is known.
func (c *Client) OnOpen(fn func(domain.PeerID)) {
	c.mu.Lock()
	self := c.self
	if self.Empty() {
		c.onOpen = append(c.onOpen, fn)
	}
	c.mu.Unlock()
	if !self.Empty() {
		fn(self)
	}
}

func (c *Client) Self() domain.PeerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// Send relays a signal to sig.To through the hub.
func (c *Client) Send(ctx context.Context, sig proto.Signal) error {
	sig.Type = proto.TypeSignal
	return c.sendJSON(ctx, sig)
}

// Signals delivers inbound signals. Closed when the connection ends.
func (c *Client) Signals() <-chan proto.Signal { return c.signals }

func (c *Client) Channel(name string) core.PresenceChannel {
	return &channel{client: c, name: name}
}

func (c *Client) sendJSON(ctx context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case c.send <- b:
		return nil
	}
}

func (c *Client) writePump() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "hubclient").Msg("writePump set deadline")
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "hubclient").Msg("writePump write error")
				_ = c.Close()
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		_ = c.Close()
		c.failAcks()
		close(c.signals)
		log.Info().Str("module", "hubclient").Msg("readPump closing")
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				log.Error().Err(err).Str("module", "hubclient").Msg("readPump read error")
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var env proto.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "hubclient").Msg("bad json")
		return
	}
	switch env.Type {
	case proto.TypeOpen:
		var m proto.Open
		if err := json.Unmarshal(data, &m); err != nil {
			log.Error().Err(err).Str("module", "hubclient").Msg("bad open payload")
			return
		}
		c.handleOpen(m.PeerID)
	case proto.TypeSubscribed:
		var m proto.Subscribed
		if err := json.Unmarshal(data, &m); err != nil {
			log.Error().Err(err).Str("module", "hubclient").Msg("bad subscribed payload")
			return
		}
		c.handleAck(m)
	case proto.TypeSync:
		var m proto.Sync
		if err := json.Unmarshal(data, &m); err != nil {
			log.Error().Err(err).Str("module", "hubclient").Msg("bad sync payload")
			return
		}
		c.handleSync(m)
	case proto.TypeSignal:
		var m proto.Signal
		if err := json.Unmarshal(data, &m); err != nil {
			log.Error().Err(err).Str("module", "hubclient").Msg("bad signal payload")
			return
		}
		select {
		case c.signals <- m:
		case <-c.done:
		}
	case proto.TypeError:
		var m proto.Error
		_ = json.Unmarshal(data, &m)
		log.Warn().Str("module", "hubclient").Str("error", m.Error).Msg("hub error")
	case proto.TypePong:
	default:
		log.Warn().Str("module", "hubclient").Str("type", env.Type).Msg("unknown message")
	}
}

func (c *Client) handleOpen(peer domain.PeerID) {
	c.mu.Lock()
	c.self = peer
	fns := c.onOpen
	c.onOpen = nil
	c.mu.Unlock()
	log.Info().Str("module", "hubclient").Str("peer_id", string(peer)).Msg("identity assigned")
	for _, fn := range fns {
		fn(peer)
	}
}

func (c *Client) handleAck(m proto.Subscribed) {
	c.mu.Lock()
	ack, ok := c.acks[m.Channel]
	delete(c.acks, m.Channel)
	c.mu.Unlock()
	if ok {
		ack <- m
	}
}

func (c *Client) handleSync(m proto.Sync) {
	c.mu.Lock()
	ch, ok := c.channels[m.Channel]
	c.mu.Unlock()
	if !ok {
		log.Debug().Str("module", "hubclient").Str("channel", m.Channel).Msg("sync for unknown channel")
		return
	}
	ch.deliver(m.State)
}

func (c *Client) dropAck(name string, ack chan proto.Subscribed) {
	c.mu.Lock()
	if cur, ok := c.acks[name]; ok && cur == ack {
		delete(c.acks, name)
	}
	c.mu.Unlock()
}

func (c *Client) failAcks() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, ack := range c.acks {
		ack <- proto.Subscribed{Channel: name, Status: proto.StatusChannelError, Error: ErrClosed.Error()}
		delete(c.acks, name)
	}
}
