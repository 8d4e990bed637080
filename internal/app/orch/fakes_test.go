package orch

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/Walkie/internal/core"
	"github.com/dkeye/Walkie/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type fakePresence struct {
	mu       sync.Mutex
	channels map[string]*fakeChannel
	subErr   error
}

func newFakePresence() *fakePresence {
	return &fakePresence{channels: make(map[string]*fakeChannel)}
}

func (p *fakePresence) Channel(name string) core.PresenceChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := &fakeChannel{name: name, subErr: p.subErr}
	p.channels[name] = ch
	return ch
}

func (p *fakePresence) channel(name string) *fakeChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channels[name]
}

type fakeChannel struct {
	name   string
	subErr error

	mu           sync.Mutex
	onSync       func(domain.RosterSnapshot)
	subscribed   bool
	unsubscribed bool
	tracked      []domain.PresenceRecord
}

func (c *fakeChannel) Subscribe(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subErr != nil {
		return c.subErr
	}
	c.subscribed = true
	return nil
}

func (c *fakeChannel) Track(_ context.Context, rec domain.PresenceRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracked = append(c.tracked, rec)
	return nil
}

func (c *fakeChannel) OnSync(fn func(domain.RosterSnapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSync = fn
}

func (c *fakeChannel) Unsubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = true
	return nil
}

func (c *fakeChannel) emit(snap domain.RosterSnapshot) {
	c.mu.Lock()
	fn := c.onSync
	c.mu.Unlock()
	fn(snap)
}

func (c *fakeChannel) trackedRecords() []domain.PresenceRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.PresenceRecord(nil), c.tracked...)
}

func (c *fakeChannel) isUnsubscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubscribed
}

type fakeTransport struct {
	mu      sync.Mutex
	onOpen  func(domain.PeerID)
	onCall  func(core.IncomingCall)
	calls   []domain.PeerID
	conns   []*fakeConn
	failFor map[domain.PeerID]bool
	gate    chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{failFor: make(map[domain.PeerID]bool)}
}

func (t *fakeTransport) OnOpen(fn func(domain.PeerID)) { t.onOpen = fn }
func (t *fakeTransport) OnCall(fn func(core.IncomingCall)) {
	t.onCall = fn
}
func (t *fakeTransport) Destroy() {}

func (t *fakeTransport) open(id domain.PeerID) { t.onOpen(id) }

func (t *fakeTransport) ring(from domain.PeerID) *fakeIncoming {
	ic := &fakeIncoming{peer: from, t: t}
	t.onCall(ic)
	return ic
}

func (t *fakeTransport) Call(ctx context.Context, remote domain.PeerID, _ core.CaptureHandle) (core.MediaConnection, error) {
	t.mu.Lock()
	t.calls = append(t.calls, remote)
	fail := t.failFor[remote]
	gate := t.gate
	t.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, core.ErrNegotiation
	}
	return t.newConn(remote), nil
}

func (t *fakeTransport) newConn(remote domain.PeerID) *fakeConn {
	c := &fakeConn{peer: remote, sending: true}
	t.mu.Lock()
	t.conns = append(t.conns, c)
	t.mu.Unlock()
	return c
}

func (t *fakeTransport) placed() []domain.PeerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.PeerID(nil), t.calls...)
}

func (t *fakeTransport) allConns() []*fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*fakeConn(nil), t.conns...)
}

type fakeIncoming struct {
	peer domain.PeerID
	t    *fakeTransport
}

func (i *fakeIncoming) Peer() domain.PeerID { return i.peer }

func (i *fakeIncoming) Answer(context.Context, core.CaptureHandle) (core.MediaConnection, error) {
	return i.t.newConn(i.peer), nil
}

type fakeConn struct {
	peer domain.PeerID

	mu       sync.Mutex
	sending  bool
	closed   bool
	onStream func(core.RemoteStream)
}

func (c *fakeConn) Peer() domain.PeerID { return c.peer }

func (c *fakeConn) Sending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sending
}

func (c *fakeConn) SetSending(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sending = on
}

func (c *fakeConn) OnStream(fn func(core.RemoteStream)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStream = fn
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) stream(rs core.RemoteStream) {
	c.mu.Lock()
	fn := c.onStream
	c.mu.Unlock()
	fn(rs)
}

type fakeStream struct{ id string }

func (s fakeStream) ID() string                       { return s.id }
func (s fakeStream) Codec() webrtc.RTPCodecParameters { return webrtc.RTPCodecParameters{} }
func (s fakeStream) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return nil, nil, errors.New("eof")
}

type fakeCaptureSource struct {
	mu       sync.Mutex
	err      error
	acquired int
	handles  []*fakeCapture
}

func (s *fakeCaptureSource) Acquire() (core.CaptureHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquired++
	if s.err != nil {
		return nil, s.err
	}
	h := &fakeCapture{enabled: true}
	s.handles = append(s.handles, h)
	return h, nil
}

func (s *fakeCaptureSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired
}

func (s *fakeCaptureSource) last() *fakeCapture {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.handles) == 0 {
		return nil
	}
	return s.handles[len(s.handles)-1]
}

type fakeCapture struct {
	mu      sync.Mutex
	enabled bool
	stopped bool
}

func (c *fakeCapture) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

func (c *fakeCapture) SetEnabled(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = on
}

func (c *fakeCapture) Codec() webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}
}

func (c *fakeCapture) AddOutTrack(string, core.SampleWriter) core.TrackGate { return nil }

func (c *fakeCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
}

func (c *fakeCapture) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

type fakeRenderer struct {
	mu    sync.Mutex
	plays map[domain.PeerID][]*fakePlayback
}

func (r *fakeRenderer) Play(peer domain.PeerID, _ core.RemoteStream) core.Playback {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.plays == nil {
		r.plays = make(map[domain.PeerID][]*fakePlayback)
	}
	p := &fakePlayback{}
	r.plays[peer] = append(r.plays[peer], p)
	return p
}

func (r *fakeRenderer) playsFor(peer domain.PeerID) []*fakePlayback {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*fakePlayback(nil), r.plays[peer]...)
}

type fakePlayback struct {
	mu      sync.Mutex
	stopped bool
}

func (p *fakePlayback) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
}

func (p *fakePlayback) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

type fakeNotifier struct {
	mu     sync.Mutex
	sounds []domain.Sound
}

func (n *fakeNotifier) Play(s domain.Sound) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sounds = append(n.sounds, s)
}

func (n *fakeNotifier) played() []domain.Sound {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Sound(nil), n.sounds...)
}
