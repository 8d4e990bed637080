package hubclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/Walkie/internal/core"
	"github.com/dkeye/Walkie/internal/domain"
	"github.com/dkeye/Walkie/internal/proto"
	"github.com/rs/zerolog/log"
)

type channel struct {
	client *Client
	name   string

	mu         sync.Mutex
	onSync     func(domain.RosterSnapshot)
	subscribed bool
}

func (ch *channel) OnSync(fn func(domain.RosterSnapshot)) {
	ch.mu.Lock()
	ch.onSync = fn
	ch.mu.Unlock()
}

func (ch *channel) deliver(snap domain.RosterSnapshot) {
	ch.mu.Lock()
	fn := ch.onSync
	ch.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

func (ch *channel) Subscribe(ctx context.Context) error {
	c := ch.client
	ack := make(chan proto.Subscribed, 1)

	c.mu.Lock()
	if _, busy := c.acks[ch.name]; busy {
		c.mu.Unlock()
		return fmt.Errorf("%w: subscribe to %s already in flight", core.ErrSubscription, ch.name)
	}
	c.acks[ch.name] = ack
	// registered before the request so the first sync is not lost
	c.channels[ch.name] = ch
	c.mu.Unlock()

	if err := c.sendJSON(ctx, proto.Subscribe{Type: proto.TypeSubscribe, Channel: ch.name}); err != nil {
		c.dropAck(ch.name, ack)
		ch.forget()
		return fmt.Errorf("%w: %w", core.ErrSubscription, err)
	}

	select {
	case m := <-ack:
		if m.Status != proto.StatusSubscribed {
			ch.forget()
			return fmt.Errorf("%w: %s %s", core.ErrSubscription, m.Status, m.Error)
		}
	case <-ctx.Done():
		c.dropAck(ch.name, ack)
		ch.forget()
		return ctx.Err()
	}

	ch.mu.Lock()
	ch.subscribed = true
	ch.mu.Unlock()
	log.Info().Str("module", "hubclient").Str("channel", ch.name).Msg("subscribed")
	return nil
}

func (ch *channel) Track(ctx context.Context, rec domain.PresenceRecord) error {
	ch.mu.Lock()
	ok := ch.subscribed
	ch.mu.Unlock()
	if !ok {
		return core.ErrNotSubscribed
	}
	return ch.client.sendJSON(ctx, proto.Track{Type: proto.TypeTrack, Channel: ch.name, Record: rec})
}

func (ch *channel) Unsubscribe() error {
	ch.mu.Lock()
	was := ch.subscribed
	ch.subscribed = false
	ch.mu.Unlock()
	ch.forget()
	if !was {
		return nil
	}
	log.Info().Str("module", "hubclient").Str("channel", ch.name).Msg("unsubscribe")
	return ch.client.sendJSON(context.Background(), proto.Unsubscribe{Type: proto.TypeUnsubscribe, Channel: ch.name})
}

// forget stops sync delivery. A newer channel object of the same name is left alone.
func (ch *channel) forget() {
	c := ch.client
	c.mu.Lock()
	if cur, ok := c.channels[ch.name]; ok && cur == ch {
		delete(c.channels, ch.name)
	}
	c.mu.Unlock()
}
