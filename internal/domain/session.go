package domain

// SessionState is the orchestrator lifecycle.
type SessionState int

const (
	StateComposing SessionState = iota
	StateJoining
	StateActive
)

func (s SessionState) String() string {
	switch s {
	case StateComposing:
		return "composing"
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// TalkState is the push-to-talk gate. The zero value is silent.
type TalkState int

const (
	Silent TalkState = iota
	Transmitting
)

func (t TalkState) Transmitting() bool { return t == Transmitting }

func (t TalkState) String() string {
	if t == Transmitting {
		return "transmitting"
	}
	return "silent"
}

// Direction tells who placed the call behind a link.
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// Sound is a notification cue.
type Sound string

const (
	SoundJoin  Sound = "join"
	SoundLeave Sound = "leave"
	SoundOver  Sound = "over"
)
