package orch

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Walkie/internal/core"
	"github.com/dkeye/Walkie/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed        = errors.New("orchestrator stopped")
	ErrSessionActive = errors.New("already on a frequency")
)

// Deps are the external collaborators of the orchestrator.
type Deps struct {
	Presence  core.PresenceFactory
	Transport core.PeerTransport
	Capture   core.CaptureSource
	Renderer  core.AudioRenderer
	Notifier  core.Notifier
	Now       func() time.Time
}

// Orchestrator owns the connection mesh of the current frequency.
// Every state change runs on the goroutine executing Run; external notifications
// are posted as closures and processed one at a time.
type Orchestrator struct {
	deps Deps

	events chan func()
	done   chan struct{}
	ctx    context.Context

	// loop-owned
	self    domain.PeerID
	state   domain.SessionState
	room    domain.RoomCode
	talk    domain.TalkState
	visible int
	session *session
}

// session groups everything that lives between join and leave.
// Completions carry the session they were started for; a mismatch means the
// result arrived after teardown.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc

	channel   core.PresenceChannel
	capture   core.CaptureHandle
	acquiring bool
	waiting   []captureWaiter

	mesh      *Mesh
	playbacks map[domain.PeerID]core.Playback
}

type captureWaiter struct {
	run   func(core.CaptureHandle)
	abort func()
}

// Status is a snapshot of the orchestrator for display.
type Status struct {
	State        domain.SessionState `json:"state"`
	Room         domain.RoomCode     `json:"room"`
	Self         domain.PeerID       `json:"self"`
	Talk         domain.TalkState    `json:"talk"`
	VisiblePeers int                 `json:"visible_peers"`
	Capturing    bool                `json:"capturing"`
	Pending      int                 `json:"pending"`
	Links        []LinkInfo          `json:"links"`
}

func New(deps Deps) *Orchestrator {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	o := &Orchestrator{
		deps:   deps,
		events: make(chan func(), 256),
		done:   make(chan struct{}),
		ctx:    context.Background(),
	}
	deps.Transport.OnOpen(func(id domain.PeerID) {
		o.post(func() { o.onOpen(id) })
	})
	deps.Transport.OnCall(func(call core.IncomingCall) {
		o.post(func() { o.onIncomingCall(call) })
	})
	return o
}

// Run processes events until ctx is done. On exit the current session is torn down.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.ctx = ctx
	defer close(o.done)
	log.Info().Str("module", "orch").Msg("event loop started")
	for {
		select {
		case <-ctx.Done():
			o.leave()
			log.Info().Str("module", "orch").Msg("event loop stopped")
			return ctx.Err()
		case fn := <-o.events:
			fn()
		}
	}
}

// post enqueues fn without waiting for it to run.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.events <- fn:
	case <-o.done:
	}
}

// call runs fn on the loop and waits for it.
func (o *Orchestrator) call(fn func()) error {
	ran := make(chan struct{})
	select {
	case o.events <- func() { fn(); close(ran) }:
	case <-o.done:
		return ErrClosed
	}
	select {
	case <-ran:
		return nil
	case <-o.done:
		return ErrClosed
	}
}

func (o *Orchestrator) Status() (Status, error) {
	var st Status
	err := o.call(func() {
		st = Status{
			State:        o.state,
			Room:         o.room,
			Self:         o.self,
			Talk:         o.talk,
			VisiblePeers: o.visible,
			Links:        []LinkInfo{},
		}
		if s := o.session; s != nil {
			st.Capturing = s.capture != nil
			st.Pending = s.mesh.PendingLen()
			st.Links = s.mesh.Links()
		}
	})
	return st, err
}

func (o *Orchestrator) onOpen(id domain.PeerID) {
	o.self = id
	log.Info().Str("module", "orch").Str("peer_id", string(id)).Msg("transport open")
}

func (o *Orchestrator) notify(s domain.Sound) {
	if o.deps.Notifier != nil {
		o.deps.Notifier.Play(s)
	}
}
