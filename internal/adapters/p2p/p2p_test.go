package p2p

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Walkie/internal/core"
	"github.com/dkeye/Walkie/internal/domain"
	"github.com/dkeye/Walkie/internal/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newNode(t *testing.T) *Node {
	t.Helper()
	n, err := New(context.Background(), Config{
		Loopback:         true,
		PresenceInterval: 200 * time.Millisecond,
		PresenceTTL:      time.Second,
		DisableMDNS:      true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func connected(t *testing.T) (*Node, *Node) {
	t.Helper()
	a, b := newNode(t), newNode(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Connect(ctx, b.AddrInfo()))
	return a, b
}

type rosterLog struct {
	mu   sync.Mutex
	last domain.RosterSnapshot
	all  []domain.RosterSnapshot
}

func (l *rosterLog) set(s domain.RosterSnapshot) {
	l.mu.Lock()
	l.last = s
	l.all = append(l.all, s)
	l.mu.Unlock()
}

// ever reports whether any snapshot delivered so far contained id.
func (l *rosterLog) ever(id domain.PeerID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.all {
		if s.Contains(id) {
			return true
		}
	}
	return false
}

func (l *rosterLog) get() domain.RosterSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

func TestOnOpenIsImmediate(t *testing.T) {
	n := newNode(t)
	var got domain.PeerID
	n.OnOpen(func(p domain.PeerID) { got = p })
	assert.Equal(t, n.ID(), got)
	assert.False(t, got.Empty())
}

func TestTrackBeforeSubscribe(t *testing.T) {
	n := newNode(t)
	err := n.Channel("1234").Track(context.Background(), domain.PresenceRecord{PeerID: n.ID()})
	assert.ErrorIs(t, err, core.ErrNotSubscribed)
}

func TestPresenceHeartbeatAndOffline(t *testing.T) {
	a, b := connected(t)
	ctx := context.Background()

	var la, lb rosterLog
	ca := a.Channel("1234")
	ca.OnSync(la.set)
	require.NoError(t, ca.Subscribe(ctx))
	cb := b.Channel("1234")
	cb.OnSync(lb.set)
	require.NoError(t, cb.Subscribe(ctx))

	require.NoError(t, ca.Track(ctx, domain.PresenceRecord{PeerID: a.ID(), OnlineAt: time.Now().UTC()}))
	require.NoError(t, cb.Track(ctx, domain.PresenceRecord{PeerID: b.ID(), OnlineAt: time.Now().UTC()}))

	require.Eventually(t, func() bool {
		return la.get().Contains(b.ID()) && lb.get().Contains(a.ID())
	}, 10*time.Second, 50*time.Millisecond)

	require.NoError(t, cb.Unsubscribe())
	require.Eventually(t, func() bool {
		s := la.get()
		return s.Contains(a.ID()) && !s.Contains(b.ID())
	}, 10*time.Second, 50*time.Millisecond)
}

func TestSignalStream(t *testing.T) {
	a, b := connected(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, a.Send(ctx, proto.Signal{To: b.ID(), CallID: "c1", Kind: proto.KindOffer, SDP: "v=0"}))
	select {
	case sig := <-b.Signals():
		assert.Equal(t, a.ID(), sig.From)
		assert.Equal(t, "c1", sig.CallID)
		assert.Equal(t, proto.KindOffer, sig.Kind)
	case <-ctx.Done():
		t.Fatal("signal not delivered")
	}
}

func TestSendToBadPeerID(t *testing.T) {
	n := newNode(t)
	assert.Error(t, n.Send(context.Background(), proto.Signal{To: "not-a-peer"}))
}

func TestFromSender(t *testing.T) {
	rec := func(id domain.PeerID) domain.PresenceRecord { return domain.PresenceRecord{PeerID: id} }
	assert.True(t, fromSender(proto.PresenceMsg{Key: "a", Record: rec("a")}, "a"))
	assert.False(t, fromSender(proto.PresenceMsg{Key: "a", Record: rec("b")}, "a"))
	assert.False(t, fromSender(proto.PresenceMsg{Key: "b", Record: rec("b")}, "a"))
	assert.False(t, fromSender(proto.PresenceMsg{Key: "", Record: rec("")}, ""))
}

func TestForeignRecordIsDropped(t *testing.T) {
	a, b := connected(t)
	ctx := context.Background()

	var la rosterLog
	ca := a.Channel("4321")
	ca.OnSync(la.set)
	require.NoError(t, ca.Subscribe(ctx))
	cb := b.Channel("4321")
	require.NoError(t, cb.Subscribe(ctx))
	require.NoError(t, ca.Track(ctx, domain.PresenceRecord{PeerID: a.ID(), OnlineAt: time.Now().UTC()}))

	// b announces someone else's identity under its own key
	topic, err := b.topic(proto.PresenceTopicPrefix + "4321")
	require.NoError(t, err)
	forged, err := json.Marshal(proto.PresenceMsg{
		Type:   proto.PresenceOnline,
		Key:    string(b.ID()),
		Record: domain.PresenceRecord{PeerID: "someone-else"},
		TS:     proto.NowMillis(),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_ = topic.Publish(ctx, forged)
		_ = cb.Track(ctx, domain.PresenceRecord{PeerID: b.ID(), OnlineAt: time.Now().UTC()})
		return la.get().Contains(b.ID())
	}, 10*time.Second, 200*time.Millisecond)
	assert.False(t, la.ever("someone-else"))
}
