package orch

import (
	"github.com/dkeye/Walkie/internal/core"
	"github.com/dkeye/Walkie/internal/domain"
	"github.com/rs/zerolog/log"
)

// withCapture runs w once the session holds a capture handle, acquiring one if needed.
func (o *Orchestrator) withCapture(s *session, w captureWaiter) {
	if s.capture != nil {
		w.run(s.capture)
		return
	}
	s.waiting = append(s.waiting, w)
	if s.acquiring {
		return
	}
	s.acquiring = true
	go func() {
		h, err := o.deps.Capture.Acquire()
		o.post(func() { o.onCapture(s, h, err) })
	}()
}

func (o *Orchestrator) onCapture(s *session, h core.CaptureHandle, err error) {
	if s != o.session {
		if h != nil {
			h.Stop()
		}
		return
	}
	s.acquiring = false
	waiting := s.waiting
	s.waiting = nil

	if err != nil {
		log.Error().Err(err).Str("module", "orch").Int("abandoned", len(waiting)).Msg("audio capture unavailable")
		for _, w := range waiting {
			w.abort()
		}
		return
	}
	s.capture = h
	h.SetEnabled(o.talk.Transmitting())
	log.Info().Str("module", "orch").Str("codec", h.Codec().MimeType).Msg("audio capture acquired")
	for _, w := range waiting {
		w.run(h)
	}
}

func (o *Orchestrator) dialer(s *session, peer domain.PeerID) func(core.CaptureHandle) {
	return func(c core.CaptureHandle) {
		go func() {
			conn, err := o.deps.Transport.Call(s.ctx, peer, c)
			o.post(func() { o.onLinkReady(s, peer, domain.Outbound, conn, err) })
		}()
	}
}

// onIncomingCall answers every inbound call of the current session.
func (o *Orchestrator) onIncomingCall(call core.IncomingCall) {
	s := o.session
	peer := call.Peer()
	if s == nil {
		log.Warn().Str("module", "orch").Str("peer", string(peer)).Msg("incoming call while not on a frequency, ignored")
		return
	}
	s.mesh.Reserve(peer, domain.Inbound)
	log.Info().Str("module", "orch").Str("peer", string(peer)).Msg("incoming call, answering")
	o.withCapture(s, captureWaiter{
		run: func(c core.CaptureHandle) {
			go func() {
				conn, err := call.Answer(s.ctx, c)
				o.post(func() { o.onLinkReady(s, peer, domain.Inbound, conn, err) })
			}()
		},
		abort: func() { s.mesh.Release(peer, domain.Inbound) },
	})
}

func (o *Orchestrator) onLinkReady(s *session, peer domain.PeerID, dir domain.Direction, conn core.MediaConnection, err error) {
	if s != o.session {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("peer", string(peer)).Str("direction", dir.String()).Msg("call negotiation failed")
		s.mesh.Release(peer, dir)
		return
	}

	_, replaced := s.mesh.Establish(peer, dir, conn)
	if replaced != nil {
		log.Info().Str("module", "orch").Str("peer", string(peer)).Str("direction", dir.String()).Msg("replacing link")
		_ = replaced.Close()
	}
	conn.OnStream(func(rs core.RemoteStream) {
		o.post(func() { o.onStream(s, peer, rs) })
	})
	o.applyTalkState(s)
	log.Info().Str("module", "orch").Str("peer", string(peer)).Str("direction", dir.String()).Int("links", s.mesh.Len()).Msg("link established")
}

func (o *Orchestrator) onStream(s *session, peer domain.PeerID, rs core.RemoteStream) {
	if s != o.session || o.deps.Renderer == nil {
		return
	}
	if old, ok := s.playbacks[peer]; ok {
		old.Stop()
	}
	s.playbacks[peer] = o.deps.Renderer.Play(peer, rs)
	log.Info().Str("module", "orch").Str("peer", string(peer)).Str("stream", rs.ID()).Msg("playing remote audio")
}

// StartTalking opens the talk gate. Without a capture handle nothing changes.
func (o *Orchestrator) StartTalking() error {
	return o.call(o.startTalking)
}

// StopTalking closes the talk gate and plays the over cue.
func (o *Orchestrator) StopTalking() error {
	return o.call(o.stopTalking)
}

func (o *Orchestrator) startTalking() {
	s := o.session
	if s == nil || s.capture == nil {
		return
	}
	o.talk = domain.Transmitting
	o.applyTalkState(s)
	log.Debug().Str("module", "orch").Int("links", s.mesh.Len()).Msg("talking")
}

func (o *Orchestrator) stopTalking() {
	s := o.session
	if s == nil || s.capture == nil {
		return
	}
	o.talk = domain.Silent
	o.applyTalkState(s)
	o.notify(domain.SoundOver)
	log.Debug().Str("module", "orch").Int("links", s.mesh.Len()).Msg("over")
}

// applyTalkState makes the capture track and every outbound track match the talk state.
func (o *Orchestrator) applyTalkState(s *session) {
	on := o.talk.Transmitting()
	if s.capture != nil {
		s.capture.SetEnabled(on)
	}
	s.mesh.Each(func(l *Link) { l.Conn.SetSending(on) })
}
