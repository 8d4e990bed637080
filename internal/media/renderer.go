package media

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/dkeye/Walkie/internal/core"
	"github.com/dkeye/Walkie/internal/domain"
	"github.com/ebitengine/oto/v3"
	"github.com/hraban/opus"
	"github.com/rs/zerolog/log"
)

const (
	playbackRate     = 48000
	playbackChannels = 2
	otoBufferMs      = 60
	ringSeconds      = 2
)

type playback struct {
	stop chan struct{}
	once sync.Once
}

func newPlayback() *playback { return &playback{stop: make(chan struct{})} }

func (p *playback) Stop() { p.once.Do(func() { close(p.stop) }) }

func (p *playback) stopped() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// Speaker decodes remote opus streams to the default audio output. The process can
// hold one oto context, so every stream gets its own player on a shared context.
type Speaker struct {
	once   sync.Once
	otoCtx *oto.Context
	err    error
}

func NewSpeaker() *Speaker { return &Speaker{} }

func (s *Speaker) context() (*oto.Context, error) {
	s.once.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   playbackRate,
			ChannelCount: playbackChannels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   otoBufferMs * time.Millisecond,
		})
		if err != nil {
			s.err = err
			return
		}
		<-ready
		s.otoCtx = ctx
	})
	return s.otoCtx, s.err
}

func (s *Speaker) Play(peer domain.PeerID, stream core.RemoteStream) core.Playback {
	pb := newPlayback()
	go s.run(pb, peer, stream)
	return pb
}

func (s *Speaker) run(pb *playback, peer domain.PeerID, stream core.RemoteStream) {
	logger := log.With().Str("module", "media.speaker").Str("peer", string(peer)).Str("track_id", stream.ID()).Logger()

	otoCtx, err := s.context()
	if err != nil {
		logger.Error().Err(err).Msg("audio output unavailable, draining")
		drain(pb, stream)
		return
	}
	decoder, err := opus.NewDecoder(playbackRate, playbackChannels)
	if err != nil {
		logger.Error().Err(err).Msg("creating opus decoder")
		drain(pb, stream)
		return
	}

	buf := NewAudioBuffer(ringSeconds * playbackRate * playbackChannels * 2)
	player := otoCtx.NewPlayer(buf)
	player.Play()
	defer func() {
		_ = buf.Close()
		_ = player.Close()
		logger.Info().Msg("playback ended")
	}()
	logger.Info().Str("codec", stream.Codec().MimeType).Msg("playing remote audio")

	// 120ms is the longest opus frame
	pcm := make([]int16, playbackRate*120/1000*playbackChannels)
	for !pb.stopped() {
		pkt, _, err := stream.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn().Err(err).Msg("reading RTP packet")
			}
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := decoder.Decode(pkt.Payload, pcm)
		if err != nil {
			logger.Debug().Err(err).Msg("decoding opus")
			continue
		}
		if dropped := buf.Write(pcmBytes(pcm[:n*playbackChannels])); dropped > 0 {
			logger.Debug().Int("dropped_bytes", dropped).Msg("audio buffer dropped data")
		}
	}
}

func pcmBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, v := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// NullRenderer reads and discards remote audio. Keeps the RTP pipeline flowing
// without an output device.
type NullRenderer struct{}

func (NullRenderer) Play(peer domain.PeerID, stream core.RemoteStream) core.Playback {
	pb := newPlayback()
	log.Info().Str("module", "media.null").Str("peer", string(peer)).Msg("discarding remote audio")
	go drain(pb, stream)
	return pb
}

func drain(pb *playback, stream core.RemoteStream) {
	for !pb.stopped() {
		if _, _, err := stream.ReadRTP(); err != nil {
			return
		}
	}
}
