package media

import (
	"sync/atomic"

	"github.com/dkeye/Walkie/internal/core"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateDelete
)

// OutTrack is the capture's feed into one connection. It is the connection's TrackGate.
type OutTrack struct {
	Key    string
	Writer core.SampleWriter
	state  atomic.Int32 // Zero by default (TrackStateOk)
}

func NewOutTrack(key string, w core.SampleWriter) *OutTrack {
	return &OutTrack{Key: key, Writer: w}
}

func (ot *OutTrack) GetState() TrackState {
	return TrackState(ot.state.Load())
}

func (ot *OutTrack) MarkOk() {
	ot.state.CompareAndSwap(int32(TrackStateMuted), int32(TrackStateOk))
}

func (ot *OutTrack) MarkMuted() {
	ot.state.CompareAndSwap(int32(TrackStateOk), int32(TrackStateMuted))
}

func (ot *OutTrack) MarkDelete() {
	ot.state.Store(int32(TrackStateDelete))
}

func (ot *OutTrack) Enabled() bool { return ot.GetState() == TrackStateOk }

func (ot *OutTrack) SetEnabled(on bool) {
	if on {
		ot.MarkOk()
		return
	}
	ot.MarkMuted()
}

func (ot *OutTrack) Remove() { ot.MarkDelete() }
