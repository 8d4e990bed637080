package orch

import (
	"context"

	"github.com/dkeye/Walkie/internal/core"
	"github.com/dkeye/Walkie/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join tunes into code. It returns once the subscription has been started;
// the acknowledgment arrives later.
func (o *Orchestrator) Join(code string) error {
	rc, err := domain.ParseRoomCode(code)
	if err != nil {
		return err
	}
	var joinErr error
	if err := o.call(func() { joinErr = o.join(rc) }); err != nil {
		return err
	}
	return joinErr
}

// Leave tears the current frequency down. Calling it without a session is a no-op.
func (o *Orchestrator) Leave() error {
	return o.call(o.leave)
}

func (o *Orchestrator) join(code domain.RoomCode) error {
	if o.session != nil {
		return ErrSessionActive
	}
	ctx, cancel := context.WithCancel(o.ctx)
	s := &session{
		ctx:       ctx,
		cancel:    cancel,
		mesh:      NewMesh(o.deps.Now),
		playbacks: make(map[domain.PeerID]core.Playback),
	}
	s.channel = o.deps.Presence.Channel(code.ChannelName())
	s.channel.OnSync(func(snap domain.RosterSnapshot) {
		o.post(func() { o.onRoster(s, snap) })
	})

	o.session = s
	o.room = code
	o.state = domain.StateJoining
	log.Info().Str("module", "orch").Str("room", string(code)).Msg("joining")

	go func() {
		err := s.channel.Subscribe(s.ctx)
		o.post(func() { o.onSubscribed(s, err) })
	}()
	return nil
}

func (o *Orchestrator) onSubscribed(s *session, err error) {
	if s != o.session {
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("room", string(o.room)).Msg("presence subscription failed")
		return
	}
	o.state = domain.StateActive
	o.notify(domain.SoundJoin)
	log.Info().Str("module", "orch").Str("room", string(o.room)).Msg("subscribed")

	if o.self.Empty() {
		log.Warn().Str("module", "orch").Str("room", string(o.room)).Msg("transport identity not ready, presence not published")
		return
	}
	rec := domain.PresenceRecord{PeerID: o.self, OnlineAt: o.deps.Now().UTC()}
	go func() {
		if err := s.channel.Track(s.ctx, rec); err != nil {
			log.Warn().Err(err).Str("module", "orch").Msg("presence track failed")
		}
	}()
}

func (o *Orchestrator) onRoster(s *session, snap domain.RosterSnapshot) {
	if s != o.session {
		return
	}
	if !snap.Contains(o.self) {
		log.Debug().Str("module", "orch").Int("members", len(snap)).Msg("roster without self, ignored")
		return
	}
	o.visible = snap.VisiblePeers(o.self)

	for _, peer := range snap.Peers() {
		if peer == o.self || s.mesh.Has(peer) {
			continue
		}
		s.mesh.Reserve(peer, domain.Outbound)
		log.Info().Str("module", "orch").Str("peer", string(peer)).Msg("new peer on frequency, calling")
		o.withCapture(s, captureWaiter{
			run:   o.dialer(s, peer),
			abort: func() { s.mesh.Release(peer, domain.Outbound) },
		})
	}
	log.Debug().Str("module", "orch").Int("visible_peers", o.visible).Int("links", s.mesh.Len()).Msg("roster applied")
}

func (o *Orchestrator) leave() {
	s := o.session
	if s == nil {
		return
	}
	o.session = nil
	s.cancel()

	ch := s.channel
	go func() {
		if err := ch.Unsubscribe(); err != nil {
			log.Warn().Err(err).Str("module", "orch").Msg("presence unsubscribe failed")
		}
	}()

	if s.capture != nil {
		s.capture.Stop()
		s.capture = nil
	}
	for _, w := range s.waiting {
		w.abort()
	}
	s.waiting = nil

	closed := s.mesh.CloseAll()
	for peer, p := range s.playbacks {
		p.Stop()
		delete(s.playbacks, peer)
	}

	room := o.room
	o.talk = domain.Silent
	o.visible = 0
	o.room = ""
	o.state = domain.StateComposing
	o.notify(domain.SoundLeave)
	log.Info().Str("module", "orch").Str("room", string(room)).Int("closed_links", closed).Msg("left frequency")
}
