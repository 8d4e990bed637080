package media

import (
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/dkeye/Walkie/internal/core"
	"github.com/hraban/opus"
	"github.com/pion/webrtc/v4/pkg/media"
)

const (
	toneSampleRate = 48000
	toneFrame      = 20 * time.Millisecond
	toneAmplitude  = 0.2 * math.MaxInt16
)

// ToneSource captures a sine wave instead of a microphone. Useful on headless hosts.
type ToneSource struct {
	Freq float64
}

func (s ToneSource) Acquire() (core.CaptureHandle, error) {
	freq := s.Freq
	if freq <= 0 {
		freq = 440
	}
	r, err := newToneReader(freq, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrMediaAccess, err)
	}
	return NewCapture(r, OpusCodec()), nil
}

type toneReader struct {
	enc   *opus.Encoder
	freq  float64
	phase float64
	pcm   []int16
	buf   []byte

	ticker    *time.Ticker
	closed    chan struct{}
	closeOnce sync.Once
}

func newToneReader(freq float64, paced bool) (*toneReader, error) {
	enc, err := opus.NewEncoder(toneSampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	r := &toneReader{
		enc:    enc,
		freq:   freq,
		pcm:    make([]int16, toneSampleRate*int(toneFrame/time.Millisecond)/1000),
		buf:    make([]byte, 1000),
		closed: make(chan struct{}),
	}
	if paced {
		r.ticker = time.NewTicker(toneFrame)
	}
	return r, nil
}

func (r *toneReader) ReadSample() (media.Sample, error) {
	if r.ticker != nil {
		select {
		case <-r.closed:
			return media.Sample{}, io.EOF
		case <-r.ticker.C:
		}
	} else {
		select {
		case <-r.closed:
			return media.Sample{}, io.EOF
		default:
		}
	}

	step := 2 * math.Pi * r.freq / toneSampleRate
	for i := range r.pcm {
		r.pcm[i] = int16(toneAmplitude * math.Sin(r.phase))
		r.phase += step
		if r.phase > 2*math.Pi {
			r.phase -= 2 * math.Pi
		}
	}
	n, err := r.enc.Encode(r.pcm, r.buf)
	if err != nil {
		return media.Sample{}, err
	}
	data := make([]byte, n)
	copy(data, r.buf[:n])
	return media.Sample{Data: data, Duration: toneFrame}, nil
}

func (r *toneReader) Close() error {
	r.closeOnce.Do(func() {
		close(r.closed)
		if r.ticker != nil {
			r.ticker.Stop()
		}
	})
	return nil
}
