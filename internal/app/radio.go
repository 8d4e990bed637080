package app

import (
	"github.com/dkeye/Walkie/internal/app/orch"
	"github.com/rs/zerolog/log"
)

// Tuner is the part of the orchestrator the radio drives.
type Tuner interface {
	Join(code string) error
	Leave() error
	StartTalking() error
	StopTalking() error
	Status() (orch.Status, error)
}

// Radio is the user input surface: a keypad that tunes the frequency and a talk button.
type Radio struct {
	tuner  Tuner
	keypad *Keypad
}

func NewRadio(t Tuner) *Radio {
	r := &Radio{tuner: t}
	r.keypad = NewKeypad(r.tune, r.detune)
	return r
}

func (r *Radio) tune(code string) {
	if err := r.tuner.Join(code); err != nil {
		log.Error().Err(err).Str("module", "app.radio").Str("room", code).Msg("join failed")
	}
}

func (r *Radio) detune() {
	if err := r.tuner.Leave(); err != nil {
		log.Error().Err(err).Str("module", "app.radio").Msg("leave failed")
	}
}

func (r *Radio) Digit(d rune)       { r.keypad.Press(d) }
func (r *Radio) Backspace()         { r.keypad.Backspace() }
func (r *Radio) Clear()             { r.keypad.Clear() }
func (r *Radio) Frequency() string  { return r.keypad.Value() }
func (r *Radio) PressTalk() error   { return r.tuner.StartTalking() }
func (r *Radio) ReleaseTalk() error { return r.tuner.StopTalking() }

func (r *Radio) Status() (orch.Status, error) { return r.tuner.Status() }

// NewFrequency leaves the current channel and empties the keypad.
func (r *Radio) NewFrequency() error {
	r.keypad.Reset()
	return r.tuner.Leave()
}
