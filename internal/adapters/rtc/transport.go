package rtc

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/Walkie/internal/core"
	"github.com/dkeye/Walkie/internal/domain"
	"github.com/dkeye/Walkie/internal/proto"
	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func DefaultWebRTCConfig(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}
}

// Transport is a core.PeerTransport built on pion over a Signaler.
type Transport struct {
	api *webrtc.API
	cfg webrtc.Configuration
	sig Signaler

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	onCall  func(core.IncomingCall)
	answers map[string]chan proto.Signal
	conns   map[*Connection]struct{}
}

func NewTransport(sig Signaler, cfg webrtc.Configuration) (*Transport, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		api:     webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir)),
		cfg:     cfg,
		sig:     sig,
		ctx:     ctx,
		cancel:  cancel,
		answers: make(map[string]chan proto.Signal),
		conns:   make(map[*Connection]struct{}),
	}
	go t.readSignals()
	return t, nil
}

func (t *Transport) OnOpen(fn func(domain.PeerID)) { t.sig.OnOpen(fn) }

func (t *Transport) OnCall(fn func(core.IncomingCall)) {
	t.mu.Lock()
	t.onCall = fn
	t.mu.Unlock()
}

// Call places an offer to remote and blocks until the answer is applied.
func (t *Transport) Call(ctx context.Context, remote domain.PeerID, capture core.CaptureHandle) (core.MediaConnection, error) {
	if t.ctx.Err() != nil {
		return nil, core.ErrTransportDown
	}
	c, err := t.newConnection(remote)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrNegotiation, err)
	}
	if err := c.attachCapture(capture); err != nil {
		return nil, t.fail(c, err)
	}

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, t.fail(c, err)
	}
	local, err := c.setLocalAndGather(ctx, offer)
	if err != nil {
		return nil, t.fail(c, err)
	}

	callID := uuid.NewString()
	answerCh := make(chan proto.Signal, 1)
	t.mu.Lock()
	t.answers[callID] = answerCh
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.answers, callID)
		t.mu.Unlock()
	}()

	log.Info().Str("module", "rtc").Str("peer", string(remote)).Str("call_id", callID).Msg("sending offer")
	if err := t.sig.Send(ctx, proto.Signal{To: remote, CallID: callID, Kind: proto.KindOffer, SDP: local.SDP}); err != nil {
		return nil, t.fail(c, err)
	}

	select {
	case <-ctx.Done():
		return nil, t.fail(c, ctx.Err())
	case <-t.ctx.Done():
		return nil, t.fail(c, core.ErrTransportDown)
	case ans := <-answerCh:
		if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: ans.SDP}); err != nil {
			return nil, t.fail(c, err)
		}
	}
	log.Info().Str("module", "rtc").Str("peer", string(remote)).Str("call_id", callID).Msg("call established")
	return c, nil
}

// Destroy closes every connection. Later calls fail with core.ErrTransportDown.
func (t *Transport) Destroy() {
	t.cancel()
	t.mu.Lock()
	conns := make([]*Connection, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
	log.Info().Str("module", "rtc").Int("closed", len(conns)).Msg("transport destroyed")
}

func (t *Transport) fail(c *Connection, err error) error {
	_ = c.Close()
	log.Warn().Err(err).Str("module", "rtc").Str("peer", string(c.peer)).Msg("negotiation failed")
	return fmt.Errorf("%w: %w", core.ErrNegotiation, err)
}

func (t *Transport) newConnection(remote domain.PeerID) (*Connection, error) {
	pc, err := t.api.NewPeerConnection(t.cfg)
	if err != nil {
		return nil, err
	}
	c := newConnection(pc, remote, t.forget)
	t.mu.Lock()
	t.conns[c] = struct{}{}
	t.mu.Unlock()
	return c, nil
}

func (t *Transport) forget(c *Connection) {
	t.mu.Lock()
	delete(t.conns, c)
	t.mu.Unlock()
}

func (t *Transport) readSignals() {
	for {
		select {
		case <-t.ctx.Done():
			return
		case sig, ok := <-t.sig.Signals():
			if !ok {
				log.Warn().Str("module", "rtc").Msg("signaler closed")
				return
			}
			t.handleSignal(sig)
		}
	}
}

func (t *Transport) handleSignal(sig proto.Signal) {
	switch sig.Kind {
	case proto.KindOffer:
		t.mu.Lock()
		fn := t.onCall
		t.mu.Unlock()
		if fn == nil {
			log.Warn().Str("module", "rtc").Str("from", string(sig.From)).Msg("offer without call handler")
			return
		}
		log.Info().Str("module", "rtc").Str("from", string(sig.From)).Str("call_id", sig.CallID).Msg("incoming call")
		fn(&incomingCall{t: t, offer: sig})
	case proto.KindAnswer:
		t.mu.Lock()
		ch, ok := t.answers[sig.CallID]
		t.mu.Unlock()
		if !ok {
			log.Warn().Str("module", "rtc").Str("call_id", sig.CallID).Msg("answer for unknown call")
			return
		}
		select {
		case ch <- sig:
		default:
		}
	default:
		log.Warn().Str("module", "rtc").Str("kind", sig.Kind).Msg("unknown signal kind")
	}
}

type incomingCall struct {
	t     *Transport
	offer proto.Signal
}

func (ic *incomingCall) Peer() domain.PeerID { return ic.offer.From }

// Answer applies the offer, attaches the capture and sends back a complete answer.
func (ic *incomingCall) Answer(ctx context.Context, capture core.CaptureHandle) (core.MediaConnection, error) {
	t := ic.t
	if t.ctx.Err() != nil {
		return nil, core.ErrTransportDown
	}
	c, err := t.newConnection(ic.offer.From)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrNegotiation, err)
	}
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: ic.offer.SDP}); err != nil {
		return nil, t.fail(c, err)
	}
	if err := c.attachCapture(capture); err != nil {
		return nil, t.fail(c, err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, t.fail(c, err)
	}
	local, err := c.setLocalAndGather(ctx, answer)
	if err != nil {
		return nil, t.fail(c, err)
	}
	err = t.sig.Send(ctx, proto.Signal{To: ic.offer.From, CallID: ic.offer.CallID, Kind: proto.KindAnswer, SDP: local.SDP})
	if err != nil {
		return nil, t.fail(c, err)
	}
	log.Info().Str("module", "rtc").Str("peer", string(ic.offer.From)).Str("call_id", ic.offer.CallID).Msg("call answered")
	return c, nil
}
