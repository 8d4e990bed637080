package core

import (
	"github.com/dkeye/Walkie/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// SampleWriter accepts encoded audio samples. *webrtc.TrackLocalStaticSample satisfies it.
type SampleWriter interface {
	WriteSample(s media.Sample) error
}

// TrackGate enables or disables one connection's outbound audio.
type TrackGate interface {
	Enabled() bool
	SetEnabled(on bool)
	Remove()
}

// CaptureSource hands out the local audio capture.
type CaptureSource interface {
	Acquire() (CaptureHandle, error)
}

// CaptureHandle is the local microphone. Its enabled flag is the only mutable field.
type CaptureHandle interface {
	Enabled() bool
	SetEnabled(on bool)
	Codec() webrtc.RTPCodecCapability
	// AddOutTrack forwards captured samples into w until the gate is removed.
	AddOutTrack(key string, w SampleWriter) TrackGate
	Stop()
}

// RemoteStream is the inbound audio of a link. *webrtc.TrackRemote satisfies it.
type RemoteStream interface {
	ID() string
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// AudioRenderer plays remote streams.
type AudioRenderer interface {
	Play(peer domain.PeerID, stream RemoteStream) Playback
}

type Playback interface {
	Stop()
}

// Notifier plays cue sounds. Fire-and-forget.
type Notifier interface {
	Play(s domain.Sound)
}
