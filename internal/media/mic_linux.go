//go:build linux

package media

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dkeye/Walkie/internal/core"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
)

var ErrNoMicrophone = errors.New("no microphone track")

// MicSource captures the default microphone through mediadevices.
type MicSource struct{}

func (MicSource) Acquire() (core.CaptureHandle, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrMediaAccess, err)
	}
	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithAudioEncoders(&opusParams),
	)

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
		Codec: codecSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrMediaAccess, err)
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: %w", core.ErrMediaAccess, ErrNoMicrophone)
	}
	track := tracks[0]
	track.OnEnded(func(err error) {
		if err != nil {
			log.Warn().Err(err).Str("module", "media.mic").Msg("microphone track ended")
		}
	})

	reader, err := track.NewEncodedReader(webrtc.MimeTypeOpus)
	if err != nil {
		_ = track.Close()
		return nil, fmt.Errorf("%w: %w", core.ErrMediaAccess, err)
	}
	log.Info().Str("module", "media.mic").Str("track_id", track.ID()).Msg("microphone acquired")
	return NewCapture(&micReader{track: track, r: reader}, OpusCodec()), nil
}

type micReader struct {
	track mediadevices.Track
	r     mediadevices.EncodedReadCloser
}

func (m *micReader) ReadSample() (media.Sample, error) {
	for {
		buf, release, err := m.r.Read()
		if err != nil {
			if release != nil {
				release()
			}
			if errors.Is(err, io.EOF) {
				return media.Sample{}, io.EOF
			}
			return media.Sample{}, err
		}
		if buf.Samples == 0 {
			release()
			continue
		}
		data := make([]byte, len(buf.Data))
		copy(data, buf.Data)
		d := time.Duration(buf.Samples) * time.Second / 48000
		release()
		return media.Sample{Data: data, Duration: d}, nil
	}
}

func (m *micReader) Close() error {
	err := m.r.Close()
	if cerr := m.track.Close(); err == nil {
		err = cerr
	}
	return err
}
