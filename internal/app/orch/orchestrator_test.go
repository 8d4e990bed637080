package orch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Walkie/internal/core"
	"github.com/dkeye/Walkie/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type harness struct {
	o         *Orchestrator
	presence  *fakePresence
	transport *fakeTransport
	capture   *fakeCaptureSource
	renderer  *fakeRenderer
	notifier  *fakeNotifier
	cancel    context.CancelFunc
	stopped   chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessAt(t, nil)
}

// newHarnessAt runs the orchestrator with the given clock; nil means time.Now.
func newHarnessAt(t *testing.T, now func() time.Time) *harness {
	t.Helper()
	h := &harness{
		presence:  newFakePresence(),
		transport: newFakeTransport(),
		capture:   &fakeCaptureSource{},
		renderer:  &fakeRenderer{},
		notifier:  &fakeNotifier{},
		stopped:   make(chan error, 1),
	}
	h.o = New(Deps{
		Presence:  h.presence,
		Transport: h.transport,
		Capture:   h.capture,
		Renderer:  h.renderer,
		Notifier:  h.notifier,
		Now:       now,
	})
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.stopped <- h.o.Run(ctx) }()
	t.Cleanup(cancel)
	return h
}

func (h *harness) status(t *testing.T) Status {
	t.Helper()
	st, err := h.o.Status()
	require.NoError(t, err)
	return st
}

func (h *harness) eventually(t *testing.T, cond func(Status) bool, msg string) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := h.o.Status()
		return err == nil && cond(st)
	}, waitFor, tick, msg)
}

// joinActive opens the transport as self and joins code until the subscription is acknowledged.
func (h *harness) joinActive(t *testing.T, self domain.PeerID, code string) *fakeChannel {
	t.Helper()
	h.transport.open(self)
	require.NoError(t, h.o.Join(code))
	h.eventually(t, func(st Status) bool { return st.State == domain.StateActive }, "subscription ack")
	ch := h.presence.channel(code)
	require.NotNil(t, ch)
	return ch
}

func roster(ids ...domain.PeerID) domain.RosterSnapshot {
	snap := make(domain.RosterSnapshot, len(ids))
	for i, id := range ids {
		snap[string(rune('a'+i))] = []domain.PresenceRecord{{PeerID: id, OnlineAt: time.Now()}}
	}
	return snap
}

func TestJoinRejectsIncompleteCode(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.o.Join("12"), domain.ErrRoomCodeLength)
	assert.ErrorIs(t, h.o.Join("12x4"), domain.ErrRoomCodeDigits)
	assert.Equal(t, domain.StateComposing, h.status(t).State)
}

func TestJoinPublishesPresence(t *testing.T) {
	h := newHarness(t)
	ch := h.joinActive(t, "x", "1234")

	require.Eventually(t, func() bool { return len(ch.trackedRecords()) == 1 }, waitFor, tick)
	assert.Equal(t, domain.PeerID("x"), ch.trackedRecords()[0].PeerID)
	assert.Equal(t, domain.RoomCode("1234"), h.status(t).Room)
	assert.Equal(t, []domain.Sound{domain.SoundJoin}, h.notifier.played())

	assert.ErrorIs(t, h.o.Join("5678"), ErrSessionActive)
}

func TestJoinWithoutIdentitySkipsPublish(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.o.Join("1234"))
	h.eventually(t, func(st Status) bool { return st.State == domain.StateActive }, "subscription ack")

	ch := h.presence.channel("1234")
	ch.emit(roster("y"))
	time.Sleep(20 * time.Millisecond)

	assert.Empty(t, ch.trackedRecords())
	assert.Empty(t, h.transport.placed())
}

func TestSubscriptionFailureStaysJoining(t *testing.T) {
	h := newHarness(t)
	h.presence.subErr = core.ErrSubscription
	h.transport.open("x")
	require.NoError(t, h.o.Join("1234"))

	time.Sleep(20 * time.Millisecond)
	st := h.status(t)
	assert.Equal(t, domain.StateJoining, st.State)
	assert.Empty(t, h.presence.channel("1234").trackedRecords())

	require.NoError(t, h.o.Leave())
	assert.Equal(t, domain.StateComposing, h.status(t).State)
}

// Scenario A: alone on the frequency.
func TestRosterWithOnlySelf(t *testing.T) {
	h := newHarness(t)
	ch := h.joinActive(t, "x", "1234")

	ch.emit(roster("x"))
	time.Sleep(20 * time.Millisecond)

	st := h.status(t)
	assert.Equal(t, 0, st.VisiblePeers)
	assert.Empty(t, st.Links)
	assert.Empty(t, h.transport.placed())
	assert.Equal(t, 0, h.capture.count())
}

func TestRosterWithoutSelfIsIgnored(t *testing.T) {
	h := newHarness(t)
	ch := h.joinActive(t, "x", "1234")

	ch.emit(roster("y", "z"))
	time.Sleep(20 * time.Millisecond)

	assert.Empty(t, h.transport.placed())
	assert.Equal(t, 0, h.status(t).VisiblePeers)
}

// Scenario B, from X's side: one outbound link to Y.
func TestRosterCallsNewPeer(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	h := newHarnessAt(t, func() time.Time { return at })
	ch := h.joinActive(t, "x", "1234")

	ch.emit(roster("x", "y"))
	h.eventually(t, func(st Status) bool { return len(st.Links) == 1 }, "link to y")

	st := h.status(t)
	assert.Equal(t, 1, st.VisiblePeers)
	assert.Equal(t, []LinkInfo{{Peer: "y", Direction: domain.Outbound, Sending: false, Since: at}}, st.Links)
	assert.Equal(t, []domain.PeerID{"y"}, h.transport.placed())
	assert.True(t, st.Capturing)
}

// Scenario B, from Y's side: exactly one answered link from X.
func TestIncomingCallIsAnswered(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	h := newHarnessAt(t, func() time.Time { return at })
	h.joinActive(t, "y", "1234")

	h.transport.ring("x")
	h.eventually(t, func(st Status) bool { return len(st.Links) == 1 }, "answered link")

	st := h.status(t)
	assert.Equal(t, []LinkInfo{{Peer: "x", Direction: domain.Inbound, Sending: false, Since: at}}, st.Links)
	assert.Empty(t, h.transport.placed())
}

func TestIncomingCallWithoutSessionIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.transport.open("y")
	h.transport.ring("x")
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.transport.allConns())
	assert.Equal(t, 0, h.capture.count())
}

// P1: repeated and overlapping snapshots never duplicate a link.
func TestIdempotentConnect(t *testing.T) {
	h := newHarness(t)
	ch := h.joinActive(t, "x", "1234")

	for i := 0; i < 5; i++ {
		ch.emit(roster("x", "y"))
		ch.emit(roster("x", "y", "z"))
	}
	h.eventually(t, func(st Status) bool { return len(st.Links) == 2 && st.Pending == 0 }, "two links")

	assert.ElementsMatch(t, []domain.PeerID{"y", "z"}, h.transport.placed())
	assert.Equal(t, 1, h.capture.count())
	assert.Equal(t, 2, h.status(t).VisiblePeers)
}

// P1 while a call is still negotiating.
func TestIdempotentConnectWhilePending(t *testing.T) {
	h := newHarness(t)
	h.transport.gate = make(chan struct{})
	ch := h.joinActive(t, "x", "1234")

	ch.emit(roster("x", "y"))
	h.eventually(t, func(st Status) bool { return st.Pending == 1 }, "pending call")
	ch.emit(roster("x", "y"))
	ch.emit(roster("x", "y"))
	close(h.transport.gate)

	h.eventually(t, func(st Status) bool { return len(st.Links) == 1 && st.Pending == 0 }, "single link")
	assert.Equal(t, []domain.PeerID{"y"}, h.transport.placed())
}

func TestInboundFirstSuppressesOutbound(t *testing.T) {
	h := newHarness(t)
	ch := h.joinActive(t, "x", "1234")

	h.transport.ring("y")
	h.eventually(t, func(st Status) bool { return len(st.Links) == 1 }, "answered")
	ch.emit(roster("x", "y"))
	time.Sleep(20 * time.Millisecond)

	assert.Empty(t, h.transport.placed())
	assert.Equal(t, 1, h.status(t).VisiblePeers)
}

func TestCrossedCallsCoexist(t *testing.T) {
	h := newHarness(t)
	h.transport.gate = make(chan struct{})
	ch := h.joinActive(t, "x", "1234")

	ch.emit(roster("x", "y"))
	h.eventually(t, func(st Status) bool { return st.Pending == 1 }, "dialing")
	h.transport.ring("y")
	close(h.transport.gate)

	h.eventually(t, func(st Status) bool { return len(st.Links) == 2 }, "both directions")
	st := h.status(t)
	assert.Equal(t, domain.Outbound, st.Links[0].Direction)
	assert.Equal(t, domain.Inbound, st.Links[1].Direction)
}

func TestNegotiationFailureLeavesNoLink(t *testing.T) {
	h := newHarness(t)
	h.transport.failFor["y"] = true
	ch := h.joinActive(t, "x", "1234")

	ch.emit(roster("x", "y", "z"))
	h.eventually(t, func(st Status) bool { return len(st.Links) == 1 && st.Pending == 0 }, "only z")
	assert.Equal(t, domain.PeerID("z"), h.status(t).Links[0].Peer)
}

func TestCaptureFailureAbandonsCalls(t *testing.T) {
	h := newHarness(t)
	h.capture.err = errors.New("permission denied")
	ch := h.joinActive(t, "x", "1234")

	ch.emit(roster("x", "y"))
	h.eventually(t, func(st Status) bool { return h.capture.count() == 1 && st.Pending == 0 }, "abandoned")

	st := h.status(t)
	assert.Empty(t, st.Links)
	assert.False(t, st.Capturing)
	assert.Empty(t, h.transport.placed())

	require.NoError(t, h.o.StartTalking())
	assert.Equal(t, domain.Silent, h.status(t).Talk)
}

// Scenario C and P2.
func TestTalkGateTogglesEveryLink(t *testing.T) {
	h := newHarness(t)
	ch := h.joinActive(t, "x", "1234")
	ch.emit(roster("x", "y"))
	h.transport.ring("z")
	h.eventually(t, func(st Status) bool { return len(st.Links) == 2 }, "links")

	capture := h.capture.last()
	require.NotNil(t, capture)
	assert.False(t, capture.Enabled())

	require.NoError(t, h.o.StartTalking())
	st := h.status(t)
	assert.Equal(t, domain.Transmitting, st.Talk)
	assert.True(t, capture.Enabled())
	for _, l := range st.Links {
		assert.True(t, l.Sending, l.Peer)
	}

	require.NoError(t, h.o.StopTalking())
	st = h.status(t)
	assert.Equal(t, domain.Silent, st.Talk)
	assert.False(t, capture.Enabled())
	for _, l := range st.Links {
		assert.False(t, l.Sending, l.Peer)
	}
	assert.Contains(t, h.notifier.played(), domain.SoundOver)
}

func TestTalkWithoutCaptureIsNoop(t *testing.T) {
	h := newHarness(t)
	h.joinActive(t, "x", "1234")

	require.NoError(t, h.o.StartTalking())
	assert.Equal(t, domain.Silent, h.status(t).Talk)
	require.NoError(t, h.o.StopTalking())
	assert.NotContains(t, h.notifier.played(), domain.SoundOver)
}

// P3: a link finishing after the talk state changed picks up the current state.
func TestNewLinkCatchesUpWithTalkState(t *testing.T) {
	h := newHarness(t)
	ch := h.joinActive(t, "x", "1234")
	ch.emit(roster("x", "y"))
	h.eventually(t, func(st Status) bool { return len(st.Links) == 1 }, "first link")

	h.transport.gate = make(chan struct{})
	ch.emit(roster("x", "y", "z"))
	h.eventually(t, func(st Status) bool { return st.Pending == 1 }, "dialing z")

	require.NoError(t, h.o.StartTalking())
	close(h.transport.gate)
	h.eventually(t, func(st Status) bool { return len(st.Links) == 2 }, "second link")

	for _, l := range h.status(t).Links {
		assert.True(t, l.Sending, l.Peer)
	}
}

func TestRemoteStreamPlaysOncePerPeer(t *testing.T) {
	h := newHarness(t)
	ch := h.joinActive(t, "x", "1234")
	ch.emit(roster("x", "y"))
	h.eventually(t, func(st Status) bool { return len(st.Links) == 1 }, "link")

	conn := h.transport.allConns()[0]
	conn.stream(fakeStream{id: "s1"})
	conn.stream(fakeStream{id: "s2"})
	require.Eventually(t, func() bool { return len(h.renderer.playsFor("y")) == 2 }, waitFor, tick)

	plays := h.renderer.playsFor("y")
	assert.True(t, plays[0].isStopped())
	assert.False(t, plays[1].isStopped())
}

// P5 and scenario D.
func TestLeaveTearsDownEverything(t *testing.T) {
	h := newHarness(t)
	ch := h.joinActive(t, "x", "1234")
	ch.emit(roster("x", "y"))
	h.transport.ring("z")
	h.eventually(t, func(st Status) bool { return len(st.Links) == 2 }, "links")
	conn := h.transport.allConns()[0]
	conn.stream(fakeStream{id: "s1"})
	require.Eventually(t, func() bool { return len(h.renderer.playsFor(conn.peer)) == 1 }, waitFor, tick)
	require.NoError(t, h.o.StartTalking())

	require.NoError(t, h.o.Leave())

	st := h.status(t)
	assert.Equal(t, domain.StateComposing, st.State)
	assert.Equal(t, domain.RoomCode(""), st.Room)
	assert.Equal(t, domain.Silent, st.Talk)
	assert.Equal(t, 0, st.VisiblePeers)
	assert.Empty(t, st.Links)
	assert.False(t, st.Capturing)
	for _, c := range h.transport.allConns() {
		assert.True(t, c.isClosed())
	}
	assert.True(t, h.capture.last().isStopped())
	assert.True(t, h.renderer.playsFor(conn.peer)[0].isStopped())
	require.Eventually(t, ch.isUnsubscribed, waitFor, tick)
	assert.Equal(t, domain.SoundLeave, h.notifier.played()[len(h.notifier.played())-1])

	sounds := len(h.notifier.played())
	require.NoError(t, h.o.Leave())
	assert.Len(t, h.notifier.played(), sounds)

	ch2 := h.joinActive(t, "x", "5678")
	assert.Equal(t, domain.RoomCode("5678"), h.status(t).Room)
	require.Eventually(t, func() bool { return len(ch2.trackedRecords()) == 1 }, waitFor, tick)
}

func TestLeaveDuringNegotiationClosesLateLink(t *testing.T) {
	h := newHarness(t)
	h.transport.gate = make(chan struct{})
	ch := h.joinActive(t, "x", "1234")
	ch.emit(roster("x", "y", "z"))
	require.Eventually(t, func() bool { return len(h.transport.placed()) == 2 }, waitFor, tick)

	require.NoError(t, h.o.Leave())
	close(h.transport.gate)
	time.Sleep(50 * time.Millisecond)

	require.Eventually(t, func() bool {
		for _, c := range h.transport.allConns() {
			if !c.isClosed() {
				return false
			}
		}
		return true
	}, waitFor, tick)
	assert.Empty(t, h.status(t).Links)
}

func TestLateSnapshotAfterLeaveIsIgnored(t *testing.T) {
	h := newHarness(t)
	ch := h.joinActive(t, "x", "1234")
	require.NoError(t, h.o.Leave())

	ch.emit(roster("x", "y"))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, h.transport.placed())
}

func TestRunStopTearsDown(t *testing.T) {
	h := newHarness(t)
	ch := h.joinActive(t, "x", "1234")
	ch.emit(roster("x", "y"))
	h.eventually(t, func(st Status) bool { return len(st.Links) == 1 }, "link")

	h.cancel()
	assert.ErrorIs(t, <-h.stopped, context.Canceled)
	assert.True(t, h.transport.allConns()[0].isClosed())

	_, err := h.o.Status()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, h.o.Leave(), ErrClosed)
}
