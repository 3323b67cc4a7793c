package sfu

import (
	"context"
	"sync"
)

// FakeEngine is an in-memory Engine used by pkg/rtc's tests, avoiding
// real ICE/DTLS negotiation while preserving the id-bookkeeping contract
// the rest of the control plane relies on.
type FakeEngine struct {
	mu           sync.Mutex
	initialized  bool
	onWorkerDied func(error)
}

func NewFakeEngine() *FakeEngine {
	return &FakeEngine{}
}

func (e *FakeEngine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	e.initialized = true
	e.mu.Unlock()
	return nil
}

func (e *FakeEngine) OnWorkerDied(fn func(err error)) {
	e.mu.Lock()
	e.onWorkerDied = fn
	e.mu.Unlock()
}

// KillWorker simulates a fatal worker death for tests.
func (e *FakeEngine) KillWorker(err error) {
	e.mu.Lock()
	fn := e.onWorkerDied
	e.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (e *FakeEngine) CreateRouter(ctx context.Context, codecs []CodecCapability) (Router, error) {
	return newFakeRouter(codecs), nil
}

type fakeTransport struct {
	id        string
	direction Direction
	connected bool
}

type fakeProducer struct {
	id          string
	transportID string
	kind        Kind
}

type fakeConsumer struct {
	id          string
	transportID string
	producerID  string
	kind        Kind
	paused      bool
}

// FakeRouter is the Router half of FakeEngine.
type FakeRouter struct {
	codecs []CodecCapability

	mu         sync.Mutex
	seq        int
	transports map[string]*fakeTransport
	producers  map[string]*fakeProducer
	consumers  map[string]*fakeConsumer
	denyKind   map[Kind]bool // CanConsume returns false for these kinds

	onDTLSClosed    func(transportID string)
	onRenegotiation func(transportID, offerSDP string)
}

func newFakeRouter(codecs []CodecCapability) *FakeRouter {
	return &FakeRouter{
		codecs:     codecs,
		transports: map[string]*fakeTransport{},
		producers:  map[string]*fakeProducer{},
		consumers:  map[string]*fakeConsumer{},
		denyKind:   map[Kind]bool{},
	}
}

func (r *FakeRouter) Capabilities() RouterCapabilities {
	return RouterCapabilities{Codecs: r.codecs}
}

func (r *FakeRouter) nextID(prefix string) string {
	r.seq++
	return prefix + "-" + itoa(r.seq)
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

func (r *FakeRouter) CreateTransport(ctx context.Context, opts CreateTransportOptions) (TransportParams, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID("transport")
	r.transports[id] = &fakeTransport{id: id, direction: opts.Direction}
	return TransportParams{
		ID:            id,
		IceParameters: IceParameters{UsernameFragment: "fake-ufrag", Password: "fake-pwd"},
		DtlsParameters: DtlsParameters{
			Role:        "server",
			Fingerprint: "00:11:22:33",
		},
	}, nil
}

func (r *FakeRouter) ConnectTransport(ctx context.Context, transportID string, dtls DtlsParameters) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transports[transportID]
	if !ok {
		return ErrUnknownTransport
	}
	if t.connected {
		return ErrAlreadyConnected
	}
	t.connected = true
	return nil
}

func (r *FakeRouter) ApplyRenegotiationAnswer(ctx context.Context, transportID, answerSDP string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.transports[transportID]; !ok {
		return ErrUnknownTransport
	}
	return nil
}

func (r *FakeRouter) Produce(ctx context.Context, transportID string, kind Kind, rtp RtpParameters) (ProducerParams, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transports[transportID]
	if !ok {
		return ProducerParams{}, ErrUnknownTransport
	}
	if !t.connected {
		return ProducerParams{}, ErrNotConnected
	}
	id := r.nextID("producer")
	r.producers[id] = &fakeProducer{id: id, transportID: transportID, kind: kind}
	return ProducerParams{ID: id}, nil
}

func (r *FakeRouter) CanConsume(producerID string, caps RtpCapabilities) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[producerID]
	if !ok {
		return false
	}
	return !r.denyKind[p.kind]
}

// DenyConsumeForKind makes CanConsume/Consume fail for every producer of
// the given kind, for exercising the cannot-consume path in tests.
func (r *FakeRouter) DenyConsumeForKind(kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.denyKind[kind] = true
}

func (r *FakeRouter) Consume(ctx context.Context, transportID, producerID string, caps RtpCapabilities) (ConsumerParams, error) {
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
	if !t.connected {
		return ConsumerParams{}, ErrNotConnected
	}
	if !r.CanConsume(producerID, caps) {
		return ConsumerParams{}, ErrCannotConsume
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID("consumer")
	r.consumers[id] = &fakeConsumer{id: id, transportID: transportID, producerID: producerID, kind: p.kind, paused: true}
	return ConsumerParams{ID: id, ProducerID: producerID, Kind: p.kind, RtpParameters: RtpParameters{}}, nil
}

func (r *FakeRouter) PauseConsumer(ctx context.Context, consumerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.consumers[consumerID]
	if !ok {
		return ErrUnknownConsumer
	}
	c.paused = true
	return nil
}

func (r *FakeRouter) ResumeConsumer(ctx context.Context, consumerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.consumers[consumerID]
	if !ok {
		return ErrUnknownConsumer
	}
	c.paused = false
	return nil
}

func (r *FakeRouter) CloseProducer(ctx context.Context, producerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.producers, producerID)
	for id, c := range r.consumers {
		if c.producerID == producerID {
			delete(r.consumers, id)
		}
	}
	return nil
}

func (r *FakeRouter) CloseConsumer(ctx context.Context, consumerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.consumers, consumerID)
	return nil
}

func (r *FakeRouter) CloseTransport(ctx context.Context, transportID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.transports, transportID)
	for id, p := range r.producers {
		if p.transportID == transportID {
			delete(r.producers, id)
		}
	}
	for id, c := range r.consumers {
		if c.transportID == transportID {
			delete(r.consumers, id)
		}
	}
	return nil
}

func (r *FakeRouter) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports = map[string]*fakeTransport{}
	r.producers = map[string]*fakeProducer{}
	r.consumers = map[string]*fakeConsumer{}
	return nil
}

func (r *FakeRouter) OnTransportDTLSClosed(fn func(transportID string)) {
	r.mu.Lock()
	r.onDTLSClosed = fn
	r.mu.Unlock()
}

func (r *FakeRouter) OnRenegotiationNeeded(fn func(transportID, offerSDP string)) {
	r.mu.Lock()
	r.onRenegotiation = fn
	r.mu.Unlock()
}

// TriggerDTLSClosed lets tests simulate an async adapter notification.
func (r *FakeRouter) TriggerDTLSClosed(transportID string) {
	r.mu.Lock()
	fn := r.onDTLSClosed
	r.mu.Unlock()
	if fn != nil {
		fn(transportID)
	}
}

// LiveCounts reports bookkeeping sizes for leak-freedom assertions (I4).
func (r *FakeRouter) LiveCounts() (transports, producers, consumers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transports), len(r.producers), len(r.consumers)
}
