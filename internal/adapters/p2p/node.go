// Package p2p runs presence and signaling without a hub: gossipsub for rosters,
// a libp2p stream protocol for session descriptions, mDNS for finding peers on the LAN.
package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dkeye/Walkie/internal/domain"
	"github.com/dkeye/Walkie/internal/proto"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/rs/zerolog/log"
)

const (
	connectTimeout = 10 * time.Second
	maxSignalSize  = 64 * 1024
)

type Config struct {
	ListenPort int
	// Loopback listens on 127.0.0.1 only.
	Loopback         bool
	PresenceInterval time.Duration
	PresenceTTL      time.Duration
	DisableMDNS      bool
}

type Node struct {
	Host host.Host
	ps   *pubsub.PubSub
	mdns mdns.Service

	interval time.Duration
	ttl      time.Duration
	now      func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	signals chan proto.Signal

	// gossipsub allows one handle per topic, so handles outlive channel objects
	topicsMu sync.Mutex
	topics   map[string]*pubsub.Topic
}

type mdnsNotifee struct {
	h host.Host
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == n.h.ID() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := n.h.Connect(ctx, pi); err != nil {
		log.Debug().Err(err).Str("module", "p2p").Str("peer", pi.ID.String()).Msg("mdns connect")
		return
	}
	log.Info().Str("module", "p2p").Str("peer", pi.ID.String()).Msg("mdns peer connected")
}

func New(ctx context.Context, cfg Config) (*Node, error) {
	ip := "0.0.0.0"
	if cfg.Loopback {
		ip = "127.0.0.1"
	}
	h, err := libp2p.New(
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/%s/tcp/%d", ip, cfg.ListenPort)),
	)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		cancel()
		_ = h.Close()
		return nil, err
	}

	n := &Node{
		Host:     h,
		ps:       ps,
		interval: cfg.PresenceInterval,
		ttl:      cfg.PresenceTTL,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		signals:  make(chan proto.Signal, 16),
		topics:   make(map[string]*pubsub.Topic),
	}
	if n.interval <= 0 {
		n.interval = 2 * time.Second
	}
	if n.ttl <= n.interval {
		n.ttl = 3*n.interval + time.Second
	}

	h.SetStreamHandler(protocol.ID(proto.SignalProtoID), n.handleSignalStream)

	if !cfg.DisableMDNS {
		md := mdns.NewMdnsService(h, proto.MdnsTag, &mdnsNotifee{h: h})
		if err := md.Start(); err != nil {
			log.Warn().Err(err).Str("module", "p2p").Msg("mdns unavailable, LAN discovery disabled")
		} else {
			n.mdns = md
		}
	}

	log.Info().Str("module", "p2p").Str("peer_id", h.ID().String()).Strs("addrs", addrStrings(h)).Msg("node started")
	return n, nil
}

func addrStrings(h host.Host) []string {
	out := make([]string, 0, len(h.Addrs()))
	for _, a := range h.Addrs() {
		out = append(out, a.String())
	}
	return out
}

func (n *Node) topic(name string) (*pubsub.Topic, error) {
	n.topicsMu.Lock()
	defer n.topicsMu.Unlock()
	if t, ok := n.topics[name]; ok {
		return t, nil
	}
	t, err := n.ps.Join(name)
	if err != nil {
		return nil, err
	}
	n.topics[name] = t
	return t, nil
}

func (n *Node) ID() domain.PeerID { return domain.PeerID(n.Host.ID().String()) }

// Connect dials a known peer directly, bypassing discovery.
func (n *Node) Connect(ctx context.Context, pi peer.AddrInfo) error {
	return n.Host.Connect(ctx, pi)
}

func (n *Node) AddrInfo() peer.AddrInfo {
	return peer.AddrInfo{ID: n.Host.ID(), Addrs: n.Host.Addrs()}
}

func (n *Node) Close() error {
	n.cancel()
	if n.mdns != nil {
		_ = n.mdns.Close()
	}
	return n.Host.Close()
}

// OnOpen fires immediately: a libp2p identity exists from construction.
func (n *Node) OnOpen(fn func(domain.PeerID)) { fn(n.ID()) }

func (n *Node) Signals() <-chan proto.Signal { return n.signals }

// Send opens one stream to sig.To and writes a single JSON message.
func (n *Node) Send(ctx context.Context, sig proto.Signal) error {
	pid, err := peer.Decode(string(sig.To))
	if err != nil {
		return fmt.Errorf("bad peer id %q: %w", sig.To, err)
	}
	// best effort, mDNS has usually connected already
	_ = n.Host.Connect(ctx, peer.AddrInfo{ID: pid})

	s, err := n.Host.NewStream(ctx, pid, protocol.ID(proto.SignalProtoID))
	if err != nil {
		return err
	}
	defer s.Close()

	sig.Type = proto.TypeSignal
	sig.From = n.ID()
	if err := json.NewEncoder(s).Encode(sig); err != nil {
		_ = s.Reset()
		return err
	}
	return s.CloseWrite()
}

func (n *Node) handleSignalStream(s network.Stream) {
	defer s.Close()
	remote := s.Conn().RemotePeer()

	var sig proto.Signal
	if err := json.NewDecoder(io.LimitReader(s, maxSignalSize)).Decode(&sig); err != nil {
		log.Warn().Err(err).Str("module", "p2p").Str("peer", remote.String()).Msg("bad signal stream")
		_ = s.Reset()
		return
	}
	// the stream's authenticated peer is the sender
	sig.From = domain.PeerID(remote.String())

	select {
	case n.signals <- sig:
	case <-n.ctx.Done():
	}
}
