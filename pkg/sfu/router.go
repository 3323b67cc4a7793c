package sfu

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/meshcast/sfu/pkg/logger"
)

// Sentinel errors surfaced through Router methods; the rtc package
// translates these into rtcerror.Code values at the signaling boundary.
var (
	ErrAlreadyConnected = errors.New("transport already connected")
	ErrNotConnected     = errors.New("transport not connected")
	ErrCannotConsume    = errors.New("remote capabilities do not include a compatible codec")
	ErrUnknownTransport = errors.New("unknown transport")
	ErrUnknownProducer  = errors.New("unknown producer")
	ErrUnknownConsumer  = errors.New("unknown consumer")
)

type pionRouter struct {
	w      *worker
	codecs []CodecCapability

	mu         sync.Mutex
	transports map[string]*pionTransport
	producers  map[string]*pionProducer
	consumers  map[string]*pionConsumer

	onDTLSClosed    func(transportID string)
	onRenegotiation func(transportID, offerSDP string)
}

type pionTransport struct {
	id        string
	direction Direction
	pc        *webrtc.PeerConnection
	connected atomic.Bool

	// producerReady fans in remote tracks arriving on a send transport,
	// keyed by kind, so Produce can wait for the browser's renegotiation.
	producerReadyMu sync.Mutex
	producerReady   map[Kind]chan *webrtc.TrackRemote
}

type pionProducer struct {
	id          string
	transportID string
	kind        Kind
	localTrack  *webrtc.TrackLocalStaticRTP
	cancelRelay context.CancelFunc
}

type pionConsumer struct {
	id          string
	transportID string
	producerID  string
	kind        Kind
	sender      *webrtc.RTPSender
	paused      bool
}

func newPionRouter(w *worker, codecs []CodecCapability) *pionRouter {
	return &pionRouter{
		w:          w,
		codecs:     codecs,
		transports: map[string]*pionTransport{},
		producers:  map[string]*pionProducer{},
		consumers:  map[string]*pionConsumer{},
	}
}

func (r *pionRouter) Capabilities() RouterCapabilities {
	return RouterCapabilities{Codecs: r.codecs}
}

func (r *pionRouter) OnTransportDTLSClosed(fn func(transportID string)) {
	r.mu.Lock()
	r.onDTLSClosed = fn
	r.mu.Unlock()
}

func (r *pionRouter) OnRenegotiationNeeded(fn func(transportID, offerSDP string)) {
	r.mu.Lock()
	r.onRenegotiation = fn
	r.mu.Unlock()
}

func (r *pionRouter) CreateTransport(ctx context.Context, opts CreateTransportOptions) (TransportParams, error) {
	pc, err := r.w.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return TransportParams{}, errors.Wrap(err, "creating peer connection")
	}

	id := uuid.NewString()
	t := &pionTransport{
		id:            id,
		direction:     opts.Direction,
		pc:            pc,
		producerReady: map[Kind]chan *webrtc.TrackRemote{},
	}

	if opts.Direction == DirectionSend {
		// Pre-negotiate recvonly lines for both kinds so a later
		// create-producer event needs no additional signaling round trip.
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
			return TransportParams{}, errors.Wrap(err, "adding audio transceiver")
		}
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
			return TransportParams{}, errors.Wrap(err, "adding video transceiver")
		}
		pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			r.deliverRemoteTrack(t, track)
		})
	} else {
		// Force at least one media section so ICE/DTLS parameters exist
		// before any consumer is created.
		if _, err := pc.CreateDataChannel("bootstrap", nil); err != nil {
			return TransportParams{}, errors.Wrap(err, "creating bootstrap data channel")
		}
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed || state == webrtc.PeerConnectionStateDisconnected {
			r.mu.Lock()
			cb := r.onDTLSClosed
			r.mu.Unlock()
			if cb != nil {
				cb(id)
			}
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return TransportParams{}, errors.Wrap(err, "creating offer")
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return TransportParams{}, errors.Wrap(err, "setting local description")
	}
	<-gatherComplete

	local := pc.LocalDescription()
	params := TransportParams{
		ID:            id,
		IceParameters: parseIceParameters(local.SDP),
		IceCandidates: parseIceCandidates(local.SDP),
		DtlsParameters: DtlsParameters{
			Role:        "server",
			Fingerprint: parseFingerprint(local.SDP),
			Sdp:         local.SDP,
		},
	}

	r.mu.Lock()
	r.transports[id] = t
	r.mu.Unlock()

	return params, nil
}

func (r *pionRouter) deliverRemoteTrack(t *pionTransport, track *webrtc.TrackRemote) {
	kind := KindVideo
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		kind = KindAudio
	}

	t.producerReadyMu.Lock()
	ch, ok := t.producerReady[kind]
	if !ok {
		ch = make(chan *webrtc.TrackRemote, 1)
		t.producerReady[kind] = ch
	}
	t.producerReadyMu.Unlock()

	select {
	case ch <- track:
	default:
		logger.Warnw("dropping unrequested remote track", "transportId", t.id, "kind", kind)
	}
}

func (r *pionRouter) ConnectTransport(ctx context.Context, transportID string, dtls DtlsParameters) error {
	r.mu.Lock()
	t, ok := r.transports[transportID]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownTransport
	}

	if !t.connected.CompareAndSwap(false, true) {
		return ErrAlreadyConnected
	}
	if err := t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: dtls.Sdp}); err != nil {
		t.connected.Store(false)
		return errors.Wrap(err, "applying remote description")
	}
	return nil
}

// ApplyRenegotiationAnswer completes a renegotiation started by
// OnRenegotiationNeeded (recv-transport Consume path).
func (r *pionRouter) ApplyRenegotiationAnswer(ctx context.Context, transportID, answerSDP string) error {
	r.mu.Lock()
	t, ok := r.transports[transportID]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownTransport
	}
	return t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP})
}

func (r *pionRouter) Produce(ctx context.Context, transportID string, kind Kind, rtpParams RtpParameters) (ProducerParams, error) {
	r.mu.Lock()
	t, ok := r.transports[transportID]
	r.mu.Unlock()
	if !ok {
		return ProducerParams{}, ErrUnknownTransport
	}
	if !t.connected.Load() {
		return ProducerParams{}, ErrNotConnected
	}

	t.producerReadyMu.Lock()
	ch, ok := t.producerReady[kind]
	if !ok {
		ch = make(chan *webrtc.TrackRemote, 1)
		t.producerReady[kind] = ch
	}
	t.producerReadyMu.Unlock()

	var remote *webrtc.TrackRemote
	select {
	case remote = <-ch:
	case <-ctx.Done():
		return ProducerParams{}, ctx.Err()
	}

	local, err := webrtc.NewTrackLocalStaticRTP(remote.Codec().RTPCodecCapability, remote.ID(), "meshcast")
	if err != nil {
		return ProducerParams{}, errors.Wrap(err, "creating relay track")
	}

	relayCtx, cancel := context.WithCancel(context.Background())
	go relayRTP(relayCtx, remote, local)

	id := uuid.NewString()
	r.mu.Lock()
	r.producers[id] = &pionProducer{id: id, transportID: transportID, kind: kind, localTrack: local, cancelRelay: cancel}
	r.mu.Unlock()

	return ProducerParams{ID: id}, nil
}

func relayRTP(ctx context.Context, remote *webrtc.TrackRemote, local *webrtc.TrackLocalStaticRTP) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		packet, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		if err := local.WriteRTP(packet); err != nil {
			return
		}
	}
}

func (r *pionRouter) CanConsume(producerID string, caps RtpCapabilities) bool {
	r.mu.Lock()
	p, ok := r.producers[producerID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	mime := strings.ToLower(p.localTrack.Codec().MimeType)
	for _, c := range caps.Codecs {
		if strings.ToLower(c.MimeType) == mime {
			return true
		}
	}
	return false
}

func (r *pionRouter) Consume(ctx context.Context, transportID, producerID string, caps RtpCapabilities) (ConsumerParams, error) {
	r.mu.Lock()
	t, tok := r.transports[transportID]
	p, pok := r.producers[producerID]
	r.mu.Unlock()
	if !tok {
		return ConsumerParams{}, ErrUnknownTransport
	}
	if !pok {
		return ConsumerParams{}, ErrUnknownProducer
	}
	if !t.connected.Load() {
		return ConsumerParams{}, ErrNotConnected
	}
	if !r.CanConsume(producerID, caps) {
		return ConsumerParams{}, ErrCannotConsume
	}

	sender, err := t.pc.AddTrack(p.localTrack)
	if err != nil {
		return ConsumerParams{}, errors.Wrap(err, "adding track")
	}
	go drainRTCP(sender)

	if err := sender.ReplaceTrack(nil); err != nil {
		return ConsumerParams{}, errors.Wrap(err, "starting paused")
	}

	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return ConsumerParams{}, errors.Wrap(err, "creating renegotiation offer")
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return ConsumerParams{}, errors.Wrap(err, "setting local description")
	}

	id := uuid.NewString()
	r.mu.Lock()
	r.consumers[id] = &pionConsumer{id: id, transportID: transportID, producerID: producerID, kind: p.kind, sender: sender, paused: true}
	cb := r.onRenegotiation
	r.mu.Unlock()

	if cb != nil {
		cb(transportID, t.pc.LocalDescription().SDP)
	}

	return ConsumerParams{
		ID:         id,
		ProducerID: producerID,
		Kind:       p.kind,
		RtpParameters: RtpParameters{
			"mimeType":  p.localTrack.Codec().MimeType,
			"clockRate": p.localTrack.Codec().ClockRate,
		},
	}, nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (r *pionRouter) PauseConsumer(ctx context.Context, consumerID string) error {
	r.mu.Lock()
	c, ok := r.consumers[consumerID]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownConsumer
	}
	if err := c.sender.ReplaceTrack(nil); err != nil {
		return errors.Wrap(err, "pausing consumer")
	}
	r.mu.Lock()
	c.paused = true
	r.mu.Unlock()
	return nil
}

func (r *pionRouter) ResumeConsumer(ctx context.Context, consumerID string) error {
	r.mu.Lock()
	c, ok := r.consumers[consumerID]
	var p *pionProducer
	if ok {
		p = r.producers[c.producerID]
	}
	r.mu.Unlock()
	if !ok {
		return ErrUnknownConsumer
	}
	if p == nil {
		return ErrUnknownProducer
	}
	if err := c.sender.ReplaceTrack(p.localTrack); err != nil {
		return errors.Wrap(err, "resuming consumer")
	}
	r.mu.Lock()
	c.paused = false
	r.mu.Unlock()
	return nil
}

func (r *pionRouter) CloseProducer(ctx context.Context, producerID string) error {
	r.mu.Lock()
	p, ok := r.producers[producerID]
	if ok {
		delete(r.producers, producerID)
	}
	orphans := make([]*pionConsumer, 0)
	transports := map[string]*pionTransport{}
	for id, c := range r.consumers {
		if c.producerID == producerID {
			orphans = append(orphans, c)
			transports[c.transportID] = r.transports[c.transportID]
			delete(r.consumers, id)
		}
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	p.cancelRelay()
	for _, c := range orphans {
		if t := transports[c.transportID]; t != nil {
			_ = t.pc.RemoveTrack(c.sender)
		}
	}
	return nil
}

func (r *pionRouter) CloseConsumer(ctx context.Context, consumerID string) error {
	r.mu.Lock()
	c, ok := r.consumers[consumerID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.consumers, consumerID)
	t := r.transports[c.transportID]
	r.mu.Unlock()

	if t != nil && t.pc != nil {
		_ = t.pc.RemoveTrack(c.sender)
	}
	return nil
}

func (r *pionRouter) CloseTransport(ctx context.Context, transportID string) error {
	r.mu.Lock()
	t, ok := r.transports[transportID]
	if ok {
		delete(r.transports, transportID)
	}
	for id, p := range r.producers {
		if p.transportID == transportID {
			p.cancelRelay()
			delete(r.producers, id)
		}
	}
	for id, c := range r.consumers {
		if c.transportID == transportID {
			delete(r.consumers, id)
		}
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return t.pc.Close()
}

func (r *pionRouter) Close(ctx context.Context) error {
	r.mu.Lock()
	transports := make([]*pionTransport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.transports = map[string]*pionTransport{}
	r.producers = map[string]*pionProducer{}
	r.consumers = map[string]*pionConsumer{}
	r.mu.Unlock()

	for _, t := range transports {
		_ = t.pc.Close()
	}
	return nil
}

var (
	iceUfragRe = regexp.MustCompile(`a=ice-ufrag:(\S+)`)
	icePwdRe   = regexp.MustCompile(`a=ice-pwd:(\S+)`)
	fingerRe   = regexp.MustCompile(`a=fingerprint:\S+\s+(\S+)`)
	candRe     = regexp.MustCompile(`a=candidate:(\S+) \d+ (\S+) (\d+) (\S+) (\d+) typ (\S+)`)
)

func parseIceParameters(sdp string) IceParameters {
	p := IceParameters{}
	if m := iceUfragRe.FindStringSubmatch(sdp); m != nil {
		p.UsernameFragment = m[1]
	}
	if m := icePwdRe.FindStringSubmatch(sdp); m != nil {
		p.Password = m[1]
	}
	return p
}

func parseFingerprint(sdp string) string {
	if m := fingerRe.FindStringSubmatch(sdp); m != nil {
		return m[1]
	}
	return ""
}

func parseIceCandidates(sdp string) []IceCandidate {
	var out []IceCandidate
	for _, m := range candRe.FindAllStringSubmatch(sdp, -1) {
		priority, _ := strconv.ParseUint(m[3], 10, 32)
		port, _ := strconv.Atoi(m[5])
		out = append(out, IceCandidate{
			Foundation: m[1],
			Protocol:   m[2],
			Priority:   uint32(priority),
			IP:         m[4],
			Port:       port,
			Type:       m[6],
		})
	}
	return out
}
