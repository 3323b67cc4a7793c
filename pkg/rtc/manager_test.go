package rtc

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshcast/sfu/pkg/config"
	"github.com/meshcast/sfu/pkg/rtcerror"
	"github.com/meshcast/sfu/pkg/sfu"
)

type sentEvent struct {
	name    string
	payload any
}

// fakeSink records every event a peer would have received, ordered, for
// per-peer ordering and fan-out shape assertions.
type fakeSink struct {
	mu     sync.Mutex
	events []sentEvent
}

func (s *fakeSink) Send(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sentEvent{name: event, payload: payload})
	return nil
}

func (s *fakeSink) last() sentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return sentEvent{}
	}
	return s.events[len(s.events)-1]
}

func (s *fakeSink) all() []sentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentEvent, len(s.events))
	copy(out, s.events)
	return out
}

func newTestManager() *Manager {
	engine := sfu.NewFakeEngine()
	return NewManager(engine, sfu.DefaultCodecs(), config.Default().RTC, nil)
}

func joinPeer(t *testing.T, m *Manager, peerID PeerID, roomID RoomID) (*Peer, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	peer := m.RegisterPeer(peerID, sink)
	req, err := json.Marshal(JoinRoomRequest{RoomID: roomID})
	require.NoError(t, err)
	m.Dispatch(context.Background(), peer, EventJoinRoom, req)
	require.Equal(t, EventRoomJoined, sink.last().name)
	return peer, sink
}

func createTransport(t *testing.T, m *Manager, peer *Peer, sink *fakeSink, roomID RoomID, dir sfu.Direction) sfu.TransportParams {
	t.Helper()
	req, err := json.Marshal(CreateTransportRequest{RoomID: roomID, Direction: dir})
	require.NoError(t, err)
	m.Dispatch(context.Background(), peer, EventCreateTransport, req)
	last := sink.last()
	require.Equal(t, EventTransportCreated, last.name)
	return last.payload.(TransportCreatedPayload).TransportParams
}

func connectTransport(t *testing.T, m *Manager, peer *Peer, sink *fakeSink, transportID TransportID) {
	t.Helper()
	req, err := json.Marshal(ConnectTransportRequest{TransportID: transportID, DtlsParameters: sfu.DtlsParameters{Role: "client"}})
	require.NoError(t, err)
	m.Dispatch(context.Background(), peer, EventConnectTransport, req)
	require.Equal(t, EventTransportConnected, sink.last().name)
}

// S1: two peers join the same room; the first sees the second via
// new-peer-joined and the second's join snapshot lists no producers (I1).
func TestJoinRoomScenario(t *testing.T) {
	m := newTestManager()
	alice, aliceSink := joinPeer(t, m, "alice", "room-1")
	_ = alice

	req, _ := json.Marshal(JoinRoomRequest{RoomID: "room-1"})
	bobSink := &fakeSink{}
	bob := m.RegisterPeer("bob", bobSink)
	m.Dispatch(context.Background(), bob, EventJoinRoom, req)

	require.Equal(t, EventRoomJoined, bobSink.last().name)
	joined := bobSink.last().payload.(RoomJoinedPayload)
	assert.Empty(t, joined.ExistingProducers)

	events := aliceSink.all()
	require.Len(t, events, 2)
	assert.Equal(t, EventNewPeerJoined, events[1].name)
	assert.Equal(t, PeerID("bob"), events[1].payload.(NewPeerJoinedPayload).PeerID)
}

func TestJoinRoomTwiceRejected(t *testing.T) {
	m := newTestManager()
	peer, sink := joinPeer(t, m, "alice", "room-1")
	req, _ := json.Marshal(JoinRoomRequest{RoomID: "room-1"})
	m.Dispatch(context.Background(), peer, EventJoinRoom, req)
	last := sink.last()
	require.Equal(t, EventRoomError, last.name)
	assert.Equal(t, string(rtcerror.AlreadyJoined), last.payload.(ErrorPayload).Error)
}

// S1: full produce/consume lifecycle, including the new-producer-
// available fan-out and the paused-by-default consumer semantics.
func TestProduceConsumeLifecycle(t *testing.T) {
	m := newTestManager()
	alice, aliceSink := joinPeer(t, m, "alice", "room-1")
	bob, bobSink := joinPeer(t, m, "bob", "room-1")

	sendParams := createTransport(t, m, alice, aliceSink, "room-1", sfu.DirectionSend)
	connectTransport(t, m, alice, aliceSink, TransportID(sendParams.ID))

	produceReq, _ := json.Marshal(CreateProducerRequest{
		TransportID:   TransportID(sendParams.ID),
		RoomID:        "room-1",
		Kind:          sfu.KindAudio,
		RtpParameters: sfu.RtpParameters{},
	})
	m.Dispatch(context.Background(), alice, EventCreateProducer, produceReq)
	require.Equal(t, EventProducerCreated, aliceSink.last().name)
	producerID := aliceSink.last().payload.(ProducerCreatedPayload).ID

	bobEvents := bobSink.all()
	require.Len(t, bobEvents, 2)
	assert.Equal(t, EventNewProducerAvailable, bobEvents[1].name)
	avail := bobEvents[1].payload.(NewProducerAvailablePayload)
	assert.Equal(t, producerID, avail.ProducerID)
	assert.Equal(t, PeerID("alice"), avail.PeerID)

	recvParams := createTransport(t, m, bob, bobSink, "room-1", sfu.DirectionRecv)
	connectTransport(t, m, bob, bobSink, TransportID(recvParams.ID))

	consumeReq, _ := json.Marshal(CreateConsumerRequest{
		TransportID:     TransportID(recvParams.ID),
		ProducerID:      producerID,
		RtpCapabilities: sfu.RtpCapabilities{Codecs: sfu.DefaultCodecs()},
	})
	m.Dispatch(context.Background(), bob, EventCreateConsumer, consumeReq)
	require.Equal(t, EventConsumerCreated, bobSink.last().name)
	consumerID := bobSink.last().payload.(ConsumerCreatedPayload).ID

	resumeReq, _ := json.Marshal(ResumeConsumerRequest{ConsumerID: consumerID})
	m.Dispatch(context.Background(), bob, EventResumeConsumer, resumeReq)
	require.Equal(t, EventConsumerResumed, bobSink.last().name)

	pauseReq, _ := json.Marshal(PauseConsumerRequest{ConsumerID: consumerID})
	m.Dispatch(context.Background(), bob, EventPauseConsumer, pauseReq)
	require.Equal(t, EventConsumerPaused, bobSink.last().name)
}

// cannot-consume is surfaced verbatim as a typed consumer-error.
func TestCreateConsumerDenied(t *testing.T) {
	m := newTestManager()
	alice, aliceSink := joinPeer(t, m, "alice", "room-1")
	bob, bobSink := joinPeer(t, m, "bob", "room-1")

	sendParams := createTransport(t, m, alice, aliceSink, "room-1", sfu.DirectionSend)
	connectTransport(t, m, alice, aliceSink, TransportID(sendParams.ID))
	produceReq, _ := json.Marshal(CreateProducerRequest{TransportID: TransportID(sendParams.ID), RoomID: "room-1", Kind: sfu.KindVideo})
	m.Dispatch(context.Background(), alice, EventCreateProducer, produceReq)
	producerID := aliceSink.last().payload.(ProducerCreatedPayload).ID

	entry, ok := m.getRoom("room-1")
	require.True(t, ok)
	entry.room.Router.(*sfu.FakeRouter).DenyConsumeForKind(sfu.KindVideo)

	recvParams := createTransport(t, m, bob, bobSink, "room-1", sfu.DirectionRecv)
	connectTransport(t, m, bob, bobSink, TransportID(recvParams.ID))

	consumeReq, _ := json.Marshal(CreateConsumerRequest{TransportID: TransportID(recvParams.ID), ProducerID: producerID})
	m.Dispatch(context.Background(), bob, EventCreateConsumer, consumeReq)
	last := bobSink.last()
	require.Equal(t, EventConsumerError, last.name)
	assert.Equal(t, string(rtcerror.CannotConsume), last.payload.(ErrorPayload).Error)
}

// I3: a peer cannot operate on another peer's transport.
func TestOwnershipEnforced(t *testing.T) {
	m := newTestManager()
	alice, aliceSink := joinPeer(t, m, "alice", "room-1")
	bob, bobSink := joinPeer(t, m, "bob", "room-1")

	sendParams := createTransport(t, m, alice, aliceSink, "room-1", sfu.DirectionSend)

	req, _ := json.Marshal(ConnectTransportRequest{TransportID: TransportID(sendParams.ID)})
	m.Dispatch(context.Background(), bob, EventConnectTransport, req)
	last := bobSink.last()
	require.Equal(t, EventTransportError, last.name)
	assert.Equal(t, string(rtcerror.NotOwner), last.payload.(ErrorPayload).Error)
}

// I2/I4: producer close fans out to the rest of the room and tears down
// dependent consumers with no leaked bookkeeping in the adapter.
func TestCloseProducerFanoutAndLeakFreedom(t *testing.T) {
	m := newTestManager()
	alice, aliceSink := joinPeer(t, m, "alice", "room-1")
	bob, bobSink := joinPeer(t, m, "bob", "room-1")

	sendParams := createTransport(t, m, alice, aliceSink, "room-1", sfu.DirectionSend)
	connectTransport(t, m, alice, aliceSink, TransportID(sendParams.ID))
	produceReq, _ := json.Marshal(CreateProducerRequest{TransportID: TransportID(sendParams.ID), RoomID: "room-1", Kind: sfu.KindAudio})
	m.Dispatch(context.Background(), alice, EventCreateProducer, produceReq)
	producerID := aliceSink.last().payload.(ProducerCreatedPayload).ID

	recvParams := createTransport(t, m, bob, bobSink, "room-1", sfu.DirectionRecv)
	connectTransport(t, m, bob, bobSink, TransportID(recvParams.ID))
	consumeReq, _ := json.Marshal(CreateConsumerRequest{TransportID: TransportID(recvParams.ID), ProducerID: producerID})
	m.Dispatch(context.Background(), bob, EventCreateConsumer, consumeReq)
	require.Equal(t, EventConsumerCreated, bobSink.last().name)

	closeReq, _ := json.Marshal(CloseProducerRequest{ProducerID: producerID, RoomID: "room-1"})
	m.Dispatch(context.Background(), alice, EventCloseProducer, closeReq)

	aliceLast := aliceSink.last()
	require.Equal(t, EventProducerClosed, aliceLast.name)
	assert.Empty(t, aliceLast.payload.(ProducerClosedPayload).PeerID)

	bobLast := bobSink.last()
	require.Equal(t, EventProducerClosed, bobLast.name)
	assert.Equal(t, PeerID("alice"), bobLast.payload.(ProducerClosedPayload).PeerID)

	entry, _ := m.getRoom("room-1")
	_, producers, consumers := entry.room.Router.(*sfu.FakeRouter).LiveCounts()
	assert.Equal(t, 0, producers)
	assert.Equal(t, 0, consumers)
}

// I4: leaving a room tears down every owned resource and, once the room
// is empty, drops the room itself.
func TestLeaveRoomClosesRoomWhenEmpty(t *testing.T) {
	m := newTestManager()
	alice, aliceSink := joinPeer(t, m, "alice", "room-1")

	sendParams := createTransport(t, m, alice, aliceSink, "room-1", sfu.DirectionSend)
	connectTransport(t, m, alice, aliceSink, TransportID(sendParams.ID))

	leaveReq, _ := json.Marshal(LeaveRoomRequest{RoomID: "room-1"})
	m.Dispatch(context.Background(), alice, EventLeaveRoom, leaveReq)
	require.Equal(t, EventRoomLeft, aliceSink.last().name)

	_, ok := m.getRoom("room-1")
	assert.False(t, ok, "room should be dropped once its last member leaves")
}

// Idempotency: cleanupPeer must tolerate being invoked twice (e.g. a
// leave-video-room racing a transport DTLS close).
func TestCleanupPeerIdempotent(t *testing.T) {
	m := newTestManager()
	alice, aliceSink := joinPeer(t, m, "alice", "room-1")
	_ = aliceSink

	m.cleanupPeer(context.Background(), alice)
	assert.NotPanics(t, func() {
		m.cleanupPeer(context.Background(), alice)
	})
}

func TestTransportDTLSClosedTriggersCleanup(t *testing.T) {
	m := newTestManager()
	alice, aliceSink := joinPeer(t, m, "alice", "room-1")
	_, bobSink := joinPeer(t, m, "bob", "room-1")

	sendParams := createTransport(t, m, alice, aliceSink, "room-1", sfu.DirectionSend)

	entry, ok := m.getRoom("room-1")
	require.True(t, ok)
	entry.room.Router.(*sfu.FakeRouter).TriggerDTLSClosed(sendParams.ID)

	bobLast := bobSink.last()
	require.Equal(t, EventPeerLeft, bobLast.name)
	assert.Equal(t, PeerID("alice"), bobLast.payload.(PeerLeftPayload).PeerID)

	_, stillJoined := m.getPeer("alice")
	assert.False(t, stillJoined)
}

func TestDuplicateKindRejected(t *testing.T) {
	m := newTestManager()
	alice, aliceSink := joinPeer(t, m, "alice", "room-1")

	sendParams := createTransport(t, m, alice, aliceSink, "room-1", sfu.DirectionSend)
	connectTransport(t, m, alice, aliceSink, TransportID(sendParams.ID))

	produceReq, _ := json.Marshal(CreateProducerRequest{TransportID: TransportID(sendParams.ID), RoomID: "room-1", Kind: sfu.KindAudio})
	m.Dispatch(context.Background(), alice, EventCreateProducer, produceReq)
	require.Equal(t, EventProducerCreated, aliceSink.last().name)

	m.Dispatch(context.Background(), alice, EventCreateProducer, produceReq)
	last := aliceSink.last()
	require.Equal(t, EventProducerError, last.name)
	assert.Equal(t, string(rtcerror.DuplicateKind), last.payload.(ErrorPayload).Error)
}

func TestCreateTransportDuplicateDirectionRejected(t *testing.T) {
	m := newTestManager()
	alice, aliceSink := joinPeer(t, m, "alice", "room-1")
	createTransport(t, m, alice, aliceSink, "room-1", sfu.DirectionSend)

	req, _ := json.Marshal(CreateTransportRequest{RoomID: "room-1", Direction: sfu.DirectionSend})
	m.Dispatch(context.Background(), alice, EventCreateTransport, req)
	last := aliceSink.last()
	require.Equal(t, EventTransportError, last.name)
	assert.Equal(t, string(rtcerror.DuplicateKind), last.payload.(ErrorPayload).Error)
}

// Idempotence law: the first leave is final, the second answers not-joined.
func TestLeaveTwiceReturnsNotJoined(t *testing.T) {
	m := newTestManager()
	alice, aliceSink := joinPeer(t, m, "alice", "room-1")

	leaveReq, _ := json.Marshal(LeaveRoomRequest{RoomID: "room-1"})
	m.Dispatch(context.Background(), alice, EventLeaveRoom, leaveReq)
	require.Equal(t, EventRoomLeft, aliceSink.last().name)

	m.Dispatch(context.Background(), alice, EventLeaveRoom, leaveReq)
	last := aliceSink.last()
	require.Equal(t, EventRoomError, last.name)
	assert.Equal(t, string(rtcerror.NotJoined), last.payload.(ErrorPayload).Error)
}

// A peer whose connection survives its leave can join again.
func TestRejoinAfterLeave(t *testing.T) {
	m := newTestManager()
	alice, aliceSink := joinPeer(t, m, "alice", "room-1")

	leaveReq, _ := json.Marshal(LeaveRoomRequest{RoomID: "room-1"})
	m.Dispatch(context.Background(), alice, EventLeaveRoom, leaveReq)
	require.Equal(t, EventRoomLeft, aliceSink.last().name)

	joinReq, _ := json.Marshal(JoinRoomRequest{RoomID: "room-2"})
	m.Dispatch(context.Background(), alice, EventJoinRoom, joinReq)
	require.Equal(t, EventRoomJoined, aliceSink.last().name)

	_, registered := m.getPeer("alice")
	assert.True(t, registered)
}

// S2: a late joiner finds every live producer in its join snapshot and
// receives no new-producer-available for them.
func TestLateJoinSeesExistingProducers(t *testing.T) {
	m := newTestManager()
	alice, aliceSink := joinPeer(t, m, "alice", "room-1")

	sendParams := createTransport(t, m, alice, aliceSink, "room-1", sfu.DirectionSend)
	connectTransport(t, m, alice, aliceSink, TransportID(sendParams.ID))
	for _, kind := range []sfu.Kind{sfu.KindAudio, sfu.KindVideo} {
		produceReq, _ := json.Marshal(CreateProducerRequest{TransportID: TransportID(sendParams.ID), RoomID: "room-1", Kind: kind})
		m.Dispatch(context.Background(), alice, EventCreateProducer, produceReq)
		require.Equal(t, EventProducerCreated, aliceSink.last().name)
	}

	_, carolSink := joinPeer(t, m, "carol", "room-1")
	joined := carolSink.all()[0].payload.(RoomJoinedPayload)
	require.Len(t, joined.ExistingProducers, 2)
	for _, adv := range joined.ExistingProducers {
		assert.Equal(t, PeerID("alice"), adv.PeerID)
	}
	for _, ev := range carolSink.all() {
		assert.NotEqual(t, EventNewProducerAvailable, ev.name)
	}
}

// S5: create-producer before connect-transport fails with not-connected,
// mutates nothing, and fans nothing out.
func TestProduceBeforeConnectRejected(t *testing.T) {
	m := newTestManager()
	alice, aliceSink := joinPeer(t, m, "alice", "room-1")
	_, bobSink := joinPeer(t, m, "bob", "room-1")

	sendParams := createTransport(t, m, alice, aliceSink, "room-1", sfu.DirectionSend)

	produceReq, _ := json.Marshal(CreateProducerRequest{TransportID: TransportID(sendParams.ID), RoomID: "room-1", Kind: sfu.KindVideo})
	m.Dispatch(context.Background(), alice, EventCreateProducer, produceReq)
	last := aliceSink.last()
	require.Equal(t, EventProducerError, last.name)
	assert.Equal(t, string(rtcerror.NotConnected), last.payload.(ErrorPayload).Error)

	for _, ev := range bobSink.all() {
		assert.NotEqual(t, EventNewProducerAvailable, ev.name)
	}
}

func TestConsumeOwnProducerRejected(t *testing.T) {
	m := newTestManager()
	alice, aliceSink := joinPeer(t, m, "alice", "room-1")

	sendParams := createTransport(t, m, alice, aliceSink, "room-1", sfu.DirectionSend)
	connectTransport(t, m, alice, aliceSink, TransportID(sendParams.ID))
	produceReq, _ := json.Marshal(CreateProducerRequest{TransportID: TransportID(sendParams.ID), RoomID: "room-1", Kind: sfu.KindAudio})
	m.Dispatch(context.Background(), alice, EventCreateProducer, produceReq)
	producerID := aliceSink.last().payload.(ProducerCreatedPayload).ID

	recvParams := createTransport(t, m, alice, aliceSink, "room-1", sfu.DirectionRecv)
	connectTransport(t, m, alice, aliceSink, TransportID(recvParams.ID))

	consumeReq, _ := json.Marshal(CreateConsumerRequest{TransportID: TransportID(recvParams.ID), ProducerID: producerID})
	m.Dispatch(context.Background(), alice, EventCreateConsumer, consumeReq)
	last := aliceSink.last()
	require.Equal(t, EventConsumerError, last.name)
	assert.Equal(t, string(rtcerror.CannotConsume), last.payload.(ErrorPayload).Error)
}

// S3: a graceful leave fans out producer-closed for each producer and one
// peer-left, and the leaver itself only sees video-room-left.
func TestLeaveFansOutProducerClosedAndPeerLeft(t *testing.T) {
	m := newTestManager()
	alice, aliceSink := joinPeer(t, m, "alice", "room-1")
	_, bobSink := joinPeer(t, m, "bob", "room-1")

	sendParams := createTransport(t, m, alice, aliceSink, "room-1", sfu.DirectionSend)
	connectTransport(t, m, alice, aliceSink, TransportID(sendParams.ID))
	for _, kind := range []sfu.Kind{sfu.KindAudio, sfu.KindVideo} {
		produceReq, _ := json.Marshal(CreateProducerRequest{TransportID: TransportID(sendParams.ID), RoomID: "room-1", Kind: kind})
		m.Dispatch(context.Background(), alice, EventCreateProducer, produceReq)
	}

	leaveReq, _ := json.Marshal(LeaveRoomRequest{RoomID: "room-1"})
	m.Dispatch(context.Background(), alice, EventLeaveRoom, leaveReq)
	require.Equal(t, EventRoomLeft, aliceSink.last().name)

	closed, left := 0, 0
	for _, ev := range bobSink.all() {
		switch ev.name {
		case EventProducerClosed:
			closed++
			assert.Equal(t, PeerID("alice"), ev.payload.(ProducerClosedPayload).PeerID)
		case EventPeerLeft:
			left++
			assert.Equal(t, PeerID("alice"), ev.payload.(PeerLeftPayload).PeerID)
		}
	}
	assert.Equal(t, 2, closed)
	assert.Equal(t, 1, left)
}

func TestUnknownEventReturnsRoomError(t *testing.T) {
	m := newTestManager()
	alice, aliceSink := joinPeer(t, m, "alice", "room-1")
	m.Dispatch(context.Background(), alice, "not-a-real-event", nil)
	last := aliceSink.last()
	require.Equal(t, EventRoomError, last.name)
	assert.Equal(t, string(rtcerror.EngineFailure), last.payload.(ErrorPayload).Error)
}
