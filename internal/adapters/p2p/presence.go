package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Walkie/internal/core"
	"github.com/dkeye/Walkie/internal/domain"
	"github.com/dkeye/Walkie/internal/proto"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/rs/zerolog/log"
)

func (n *Node) Channel(name string) core.PresenceChannel {
	return &presenceChannel{n: n, name: name, members: make(map[string]member)}
}

type member struct {
	rec  domain.PresenceRecord
	seen time.Time
}

// presenceChannel keeps the roster of one gossipsub topic. Peers heartbeat their
// record and drop out after the TTL or on an explicit offline message.
type presenceChannel struct {
	n    *Node
	name string

	mu      sync.Mutex
	topic   *pubsub.Topic
	sub     *pubsub.Subscription
	cancel  context.CancelFunc
	self    *domain.PresenceRecord
	members map[string]member
	onSync  func(domain.RosterSnapshot)

	// serializes delivery so snapshots arrive in the order they were taken
	emitMu   sync.Mutex
	lastSeen string
}

func (c *presenceChannel) OnSync(fn func(domain.RosterSnapshot)) {
	c.mu.Lock()
	c.onSync = fn
	c.mu.Unlock()
}

func (c *presenceChannel) Subscribe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	topic, err := c.n.topic(proto.PresenceTopicPrefix + c.name)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrSubscription, err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrSubscription, err)
	}
	loopCtx, cancel := context.WithCancel(c.n.ctx)

	c.mu.Lock()
	c.topic, c.sub, c.cancel = topic, sub, cancel
	c.mu.Unlock()

	go c.readLoop(loopCtx, sub)
	go c.heartbeat(loopCtx)
	log.Info().Str("module", "p2p.presence").Str("channel", c.name).Msg("subscribed")
	return nil
}

func (c *presenceChannel) Track(ctx context.Context, rec domain.PresenceRecord) error {
	c.mu.Lock()
	if c.topic == nil {
		c.mu.Unlock()
		return core.ErrNotSubscribed
	}
	c.self = &rec
	c.members[string(rec.PeerID)] = member{rec: rec, seen: c.n.now()}
	c.mu.Unlock()

	c.emit()
	return c.publish(ctx, proto.PresenceOnline)
}

func (c *presenceChannel) Unsubscribe() error {
	c.mu.Lock()
	topic, sub, cancel, self := c.topic, c.sub, c.cancel, c.self
	c.topic, c.sub, c.cancel, c.self = nil, nil, nil, nil
	c.members = make(map[string]member)
	c.mu.Unlock()
	if topic == nil {
		return nil
	}

	if self != nil {
		msg := proto.PresenceMsg{Type: proto.PresenceOffline, Key: string(self.PeerID), Record: *self, TS: proto.NowMillis()}
		if b, err := json.Marshal(msg); err == nil {
			ctx, done := context.WithTimeout(context.Background(), time.Second)
			_ = topic.Publish(ctx, b)
			done()
		}
	}
	cancel()
	sub.Cancel()
	c.emitMu.Lock()
	c.lastSeen = ""
	c.emitMu.Unlock()
	log.Info().Str("module", "p2p.presence").Str("channel", c.name).Msg("unsubscribed")
	return nil
}

func (c *presenceChannel) publish(ctx context.Context, typ string) error {
	c.mu.Lock()
	topic, self := c.topic, c.self
	c.mu.Unlock()
	if topic == nil || self == nil {
		return nil
	}
	b, err := json.Marshal(proto.PresenceMsg{Type: typ, Key: string(self.PeerID), Record: *self, TS: proto.NowMillis()})
	if err != nil {
		return err
	}
	return topic.Publish(ctx, b)
}

// fromSender reports whether pm speaks only for its sender: both the key and
// the announced peer id must be the sender's.
func fromSender(pm proto.PresenceMsg, from string) bool {
	return pm.Key != "" && pm.Key == from && string(pm.Record.PeerID) == pm.Key
}

func (c *presenceChannel) readLoop(ctx context.Context, sub *pubsub.Subscription) {
	for {
		m, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if m.GetFrom() == c.n.Host.ID() {
			continue
		}
		var pm proto.PresenceMsg
		if err := json.Unmarshal(m.Data, &pm); err != nil {
			continue
		}
		if !fromSender(pm, m.GetFrom().String()) {
			log.Debug().Str("module", "p2p.presence").Str("from", m.GetFrom().String()).Str("key", pm.Key).Msg("dropping foreign presence")
			continue
		}

		c.mu.Lock()
		switch pm.Type {
		case proto.PresenceOnline:
			c.members[pm.Key] = member{rec: pm.Record, seen: c.n.now()}
		case proto.PresenceOffline:
			delete(c.members, pm.Key)
		}
		c.mu.Unlock()
		c.emit()
	}
}

func (c *presenceChannel) heartbeat(ctx context.Context) {
	t := time.NewTicker(c.n.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.publish(ctx, proto.PresenceOnline); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Str("module", "p2p.presence").Str("channel", c.name).Msg("heartbeat")
			}
			c.expire()
			c.emit()
		}
	}
}

func (c *presenceChannel) expire() {
	cutoff := c.n.now().Add(-c.n.ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, m := range c.members {
		if c.self != nil && key == string(c.self.PeerID) {
			continue
		}
		if m.seen.Before(cutoff) {
			delete(c.members, key)
			log.Info().Str("module", "p2p.presence").Str("channel", c.name).Str("peer", key).Msg("member expired")
		}
	}
}

// emit delivers the roster when its membership changed since the last delivery.
func (c *presenceChannel) emit() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	snap := make(domain.RosterSnapshot, len(c.members))
	keys := make([]string, 0, len(c.members))
	for key, m := range c.members {
		snap[key] = []domain.PresenceRecord{m.rec}
		keys = append(keys, key)
	}
	fn := c.onSync
	c.mu.Unlock()

	sort.Strings(keys)
	sig := strings.Join(keys, ",")
	if sig == c.lastSeen || fn == nil {
		return
	}
	c.lastSeen = sig
	fn(snap)
}
