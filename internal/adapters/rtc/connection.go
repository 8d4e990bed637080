package rtc

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/Walkie/internal/core"
	"github.com/dkeye/Walkie/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Connection is one peer link carrying the local capture out and the remote audio in.
type Connection struct {
	pc     *webrtc.PeerConnection
	peer   domain.PeerID
	forget func(*Connection)

	mu       sync.Mutex
	gate     core.TrackGate
	onStream func(core.RemoteStream)
	early    core.RemoteStream
	closed   bool
}

func newConnection(pc *webrtc.PeerConnection, peer domain.PeerID, forget func(*Connection)) *Connection {
	c := &Connection{pc: pc, peer: peer, forget: forget}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("peer", string(peer)).Str("ice_state", s.String()).Msg("ICE state")
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer", string(peer)).Str("peer_connection_state", s.String()).Msg("Peer state")
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("peer", string(peer)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("OnTrack received")
		c.mu.Lock()
		fn := c.onStream
		if fn == nil {
			c.early = track
		}
		c.mu.Unlock()
		if fn != nil {
			fn(track)
		}
	})
	return c
}

// attachCapture adds an outbound sample track fed by capture through its own gate.
func (c *Connection) attachCapture(capture core.CaptureHandle) error {
	if capture == nil {
		_, err := c.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly})
		return err
	}
	track, err := webrtc.NewTrackLocalStaticSample(capture.Codec(), "audio", "walkie-"+string(c.peer))
	if err != nil {
		return err
	}
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return err
	}
	go drainRTCP(sender)

	c.mu.Lock()
	c.gate = capture.AddOutTrack(string(c.peer), track)
	c.mu.Unlock()
	return nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *Connection) setLocalAndGather(ctx context.Context, desc webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(desc); err != nil {
		return nil, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	local := c.pc.LocalDescription()
	if local == nil {
		return nil, errors.New("no local description")
	}
	return local, nil
}

func (c *Connection) Peer() domain.PeerID { return c.peer }

func (c *Connection) Sending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gate != nil && c.gate.Enabled()
}

func (c *Connection) SetSending(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gate != nil {
		c.gate.SetEnabled(on)
	}
}

func (c *Connection) OnStream(fn func(core.RemoteStream)) {
	c.mu.Lock()
	c.onStream = fn
	early := c.early
	c.early = nil
	c.mu.Unlock()
	if early != nil && fn != nil {
		fn(early)
	}
}

func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	gate := c.gate
	c.mu.Unlock()

	if gate != nil {
		gate.Remove()
	}
	if c.forget != nil {
		c.forget(c)
	}
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("peer", string(c.peer)).Msg("close error")
		return err
	}
	log.Info().Str("module", "rtc").Str("peer", string(c.peer)).Msg("closed")
	return nil
}
