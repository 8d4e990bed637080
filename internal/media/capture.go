// Package media holds local capture, remote playback and cue sounds.
package media

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Walkie/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SampleReader yields encoded audio frames until closed.
type SampleReader interface {
	ReadSample() (media.Sample, error)
	Close() error
}

func OpusCodec() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
}

// Capture fans one SampleReader out to every attached OutTrack. While disabled,
// samples are read and discarded.
type Capture struct {
	src    SampleReader
	codec  webrtc.RTPCodecCapability
	logger zerolog.Logger

	enabled atomic.Bool

	mu        sync.RWMutex
	outTracks map[*OutTrack]struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func NewCapture(src SampleReader, codec webrtc.RTPCodecCapability) *Capture {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Capture{
		src:       src,
		codec:     codec,
		logger:    log.With().Str("module", "media.capture").Logger(),
		outTracks: make(map[*OutTrack]struct{}),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	c.enabled.Store(true)
	go c.loop()
	return c
}

func (c *Capture) Enabled() bool                    { return c.enabled.Load() }
func (c *Capture) SetEnabled(on bool)               { c.enabled.Store(on) }
func (c *Capture) Codec() webrtc.RTPCodecCapability { return c.codec }

// Done is closed when the read loop has exited.
func (c *Capture) Done() <-chan struct{} { return c.done }

func (c *Capture) AddOutTrack(key string, w core.SampleWriter) core.TrackGate {
	ot := NewOutTrack(key, w)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		ot.MarkDelete()
		return ot
	}
	c.outTracks[ot] = struct{}{}
	return ot
}

// Stop ends the capture. Attached gates are marked for delete.
func (c *Capture) Stop() {
	c.stopOnce.Do(func() {
		c.cancel()
		if err := c.src.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("close source")
		}
		c.markAllDelete()
		c.logger.Info().Msg("capture stopped")
	})
}

func (c *Capture) loop() {
	defer close(c.done)
	for {
		s, err := c.src.ReadSample()
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Error().Err(err).Msg("read sample error, stopping")
			}
			c.markAllDelete()
			return
		}
		if c.ctx.Err() != nil {
			c.markAllDelete()
			return
		}
		if !c.enabled.Load() {
			continue
		}
		c.forward(s)
	}
}

func (c *Capture) forward(s media.Sample) {
	c.mu.RLock()
	snapshot := make([]*OutTrack, 0, len(c.outTracks))
	for ot := range c.outTracks {
		snapshot = append(snapshot, ot)
	}
	c.mu.RUnlock()

	var dirty []*OutTrack
	for _, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, ot)
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.Writer.WriteSample(s); err != nil {
				c.logger.Error().
					Err(err).
					Str("dst", ot.Key).
					Msg("write sample error, marking outtrack as delete")
				ot.MarkDelete()
				dirty = append(dirty, ot)
			}
		}
	}

	if len(dirty) > 0 {
		c.cleanupDeleted(dirty)
	}
}

func (c *Capture) cleanupDeleted(dirty []*OutTrack) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ot := range dirty {
		delete(c.outTracks, ot)
	}
}

func (c *Capture) markAllDelete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ot := range c.outTracks {
		ot.MarkDelete()
		delete(c.outTracks, ot)
	}
}

func (c *Capture) trackCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.outTracks)
}
