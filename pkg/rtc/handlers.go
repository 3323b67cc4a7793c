package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meshcast/sfu/pkg/logger"
	"github.com/meshcast/sfu/pkg/rtcerror"
	"github.com/meshcast/sfu/pkg/sfu"
)

// requestTimeout bounds each inbound event's engine work; a client whose
// connect/produce/consume handshake stalls past it gets a timeout error
// and may retry.
const requestTimeout = 10 * time.Second

// errorEventFor maps a client-originated request event to the error event
// name it replies with on failure.
func errorEventFor(event string) string {
	switch event {
	case EventCreateTransport, EventConnectTransport:
		return EventTransportError
	case EventCreateProducer, EventCloseProducer:
		return EventProducerError
	case EventCreateConsumer, EventResumeConsumer, EventPauseConsumer:
		return EventConsumerError
	default:
		return EventRoomError
	}
}

// Dispatch is the signaling event router's single entry point:
// invoked once per inbound frame, from the single reader goroutine that
// owns peer's inbox, so calls for one peer are never concurrent with
// each other.
func (m *Manager) Dispatch(ctx context.Context, peer *Peer, event string, raw json.RawMessage) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var err error
	switch event {
	case EventJoinRoom:
		err = m.handleJoinRoom(ctx, peer, raw)
	case EventLeaveRoom:
		err = m.handleLeaveRoom(ctx, peer, raw)
	case EventCreateTransport:
		err = m.handleCreateTransport(ctx, peer, raw)
	case EventConnectTransport:
		err = m.handleConnectTransport(ctx, peer, raw)
	case EventCreateProducer:
		err = m.handleCreateProducer(ctx, peer, raw)
	case EventCreateConsumer:
		err = m.handleCreateConsumer(ctx, peer, raw)
	case EventResumeConsumer:
		err = m.handleResumeConsumer(ctx, peer, raw)
	case EventPauseConsumer:
		err = m.handlePauseConsumer(ctx, peer, raw)
	case EventCloseProducer:
		err = m.handleCloseProducer(ctx, peer, raw)
	case EventSdpAnswer:
		err = m.handleSdpAnswer(ctx, peer, raw)
	default:
		err = rtcerror.New(rtcerror.EngineFailure, fmt.Sprintf("unknown event %q", event))
	}
	if err != nil {
		m.metrics.IncEvent(event, "error")
		m.replyError(peer, event, err)
		return
	}
	m.metrics.IncEvent(event, "ok")
}

func (m *Manager) replyError(peer *Peer, event string, err error) {
	rerr := rtcerror.As(err)
	logger.Warnw("signaling event failed", "event", event, "peerId", peer.ID, "code", rerr.Code, "detail", rerr.Detail)
	sendErr := peer.Sink.Send(errorEventFor(event), ErrorPayload{Error: string(rerr.Code), Details: rerr.Detail})
	if sendErr != nil {
		m.metrics.IncFanoutFailure()
	}
}

func unmarshalPayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return rtcerror.Wrap(rtcerror.EngineFailure, err, "malformed payload")
	}
	return nil
}

// handleJoinRoom implements join-video-room: attaches the
// peer to the room (creating it if absent), replies with router
// capabilities and the snapshot of already-advertised producers, then
// fans out new-peer-joined to the rest of the room. The snapshot and the
// fan-out visibility must agree on room membership as of a single
// instant — both are read under entry.mu.
func (m *Manager) handleJoinRoom(ctx context.Context, peer *Peer, raw json.RawMessage) error {
	var req JoinRoomRequest
	if err := unmarshalPayload(raw, &req); err != nil {
		return err
	}
	if req.RoomID == "" {
		return rtcerror.New(rtcerror.UnknownRoom, "roomId is required")
	}

	peer.mu.Lock()
	alreadyJoined := peer.roomID != ""
	peer.mu.Unlock()
	if alreadyJoined {
		return rtcerror.New(rtcerror.AlreadyJoined, "peer already joined a room")
	}
	m.reviveIfClosed(peer)

	entry, err := m.getOrCreateRoom(ctx, req.RoomID)
	if err != nil {
		return rtcerror.Wrap(rtcerror.EngineFailure, err, "failed to allocate room")
	}

	entry.mu.Lock()
	entry.room.Members[peer.ID] = struct{}{}
	others := make([]PeerID, 0, len(entry.room.Members)-1)
	for id := range entry.room.Members {
		if id != peer.ID {
			others = append(others, id)
		}
	}
	existing := make([]ProducerAdvertisement, 0, len(entry.producers))
	for id, p := range entry.producers {
		existing = append(existing, ProducerAdvertisement{ID: id, PeerID: p.PeerID, Kind: p.Kind})
	}
	caps := entry.room.Router.Capabilities()
	entry.mu.Unlock()

	peer.mu.Lock()
	peer.roomID = req.RoomID
	peer.mu.Unlock()

	if err := peer.Sink.Send(EventRoomJoined, RoomJoinedPayload{
		RouterCapabilities: caps,
		ExistingProducers:  existing,
	}); err != nil {
		return rtcerror.Wrap(rtcerror.EngineFailure, err, "failed to deliver room-joined")
	}

	m.fanOutToPeers(others, EventNewPeerJoined, NewPeerJoinedPayload{PeerID: peer.ID})
	m.refreshTableMetrics()
	return nil
}

// handleLeaveRoom is the client-initiated departure path; it delegates to
// the same cleanupPeer used for transport-level disconnects,
// so both paths are idempotent and identical in effect.
func (m *Manager) handleLeaveRoom(ctx context.Context, peer *Peer, raw json.RawMessage) error {
	roomID := peer.RoomID()
	if roomID == "" {
		return rtcerror.New(rtcerror.NotJoined, "peer has not joined a room")
	}
	m.cleanupPeer(ctx, peer)
	return peer.Sink.Send(EventRoomLeft, RoomLeftPayload{RoomID: roomID})
}

func (m *Manager) handleCreateTransport(ctx context.Context, peer *Peer, raw json.RawMessage) error {
	var req CreateTransportRequest
	if err := unmarshalPayload(raw, &req); err != nil {
		return err
	}
	if req.Direction != sfu.DirectionSend && req.Direction != sfu.DirectionRecv {
		return rtcerror.New(rtcerror.WrongDirection, "direction must be send or recv")
	}

	roomID := peer.RoomID()
	if roomID == "" || roomID != req.RoomID {
		return rtcerror.New(rtcerror.NotJoined, "peer has not joined this room")
	}
	entry, ok := m.getRoom(roomID)
	if !ok {
		return rtcerror.New(rtcerror.UnknownRoom, "room no longer exists")
	}

	peer.mu.Lock()
	_, dup := peer.transports[req.Direction]
	peer.mu.Unlock()
	if dup {
		return rtcerror.New(rtcerror.DuplicateKind, "transport already exists for this direction")
	}

	params, err := entry.room.Router.CreateTransport(ctx, sfu.CreateTransportOptions{
		Direction:   req.Direction,
		UDP:         true,
		TCP:         m.rtcConfig.TCPEnabled,
		PreferUDP:   m.rtcConfig.PreferUDP,
		ListenIP:    m.rtcConfig.ListenIP,
		AnnouncedIP: m.rtcConfig.AnnouncedIP,
	})
	if err != nil {
		return mapEngineError(err)
	}

	transportID := TransportID(params.ID)
	entry.mu.Lock()
	entry.transports[transportID] = &Transport{
		ID:        transportID,
		PeerID:    peer.ID,
		RoomID:    roomID,
		Direction: req.Direction,
	}
	entry.mu.Unlock()

	peer.mu.Lock()
	peer.transports[req.Direction] = transportID
	peer.mu.Unlock()

	m.indexTransport(roomID, transportID)

	return peer.Sink.Send(EventTransportCreated, TransportCreatedPayload{
		Direction:       req.Direction,
		TransportParams: params,
	})
}

func (m *Manager) handleConnectTransport(ctx context.Context, peer *Peer, raw json.RawMessage) error {
	var req ConnectTransportRequest
	if err := unmarshalPayload(raw, &req); err != nil {
		return err
	}
	entry, transport, err := m.lookupOwnedTransport(peer, req.TransportID)
	if err != nil {
		return err
	}
	if err := entry.room.Router.ConnectTransport(ctx, string(req.TransportID), req.DtlsParameters); err != nil {
		return mapEngineError(err)
	}

	entry.mu.Lock()
	transport.Connected = true
	entry.mu.Unlock()

	return peer.Sink.Send(EventTransportConnected, TransportConnectedPayload{TransportID: req.TransportID})
}

func (m *Manager) handleCreateProducer(ctx context.Context, peer *Peer, raw json.RawMessage) error {
	var req CreateProducerRequest
	if err := unmarshalPayload(raw, &req); err != nil {
		return err
	}
	entry, transport, err := m.lookupOwnedTransport(peer, req.TransportID)
	if err != nil {
		return err
	}
	if transport.Direction != sfu.DirectionSend {
		return rtcerror.New(rtcerror.WrongDirection, "producers require a send transport")
	}
	entry.mu.Lock()
	connected := transport.Connected
	entry.mu.Unlock()
	if !connected {
		return rtcerror.New(rtcerror.NotConnected, "transport is not connected")
	}

	entry.mu.Lock()
	kindsByProducer := make(map[ProducerID]sfu.Kind, len(entry.producers))
	for id, p := range entry.producers {
		kindsByProducer[id] = p.Kind
	}
	entry.mu.Unlock()

	peer.mu.Lock()
	duplicate := false
	for pid := range peer.producers {
		if kindsByProducer[pid] == req.Kind {
			duplicate = true
			break
		}
	}
	peer.mu.Unlock()
	if duplicate {
		return rtcerror.New(rtcerror.DuplicateKind, "peer already has a producer of this kind")
	}

	params, err := entry.room.Router.Produce(ctx, string(req.TransportID), req.Kind, req.RtpParameters)
	if err != nil {
		return mapEngineError(err)
	}

	producerID := ProducerID(params.ID)
	entry.mu.Lock()
	entry.producers[producerID] = &Producer{
		ID:          producerID,
		PeerID:      peer.ID,
		RoomID:      entry.room.ID,
		Kind:        req.Kind,
		TransportID: req.TransportID,
	}
	others := make([]PeerID, 0, len(entry.room.Members)-1)
	for id := range entry.room.Members {
		if id != peer.ID {
			others = append(others, id)
		}
	}
	entry.mu.Unlock()

	peer.mu.Lock()
	peer.producers[producerID] = struct{}{}
	peer.mu.Unlock()

	m.indexProducer(entry.room.ID, producerID)

	if err := peer.Sink.Send(EventProducerCreated, ProducerCreatedPayload{ID: producerID, Kind: req.Kind}); err != nil {
		return rtcerror.Wrap(rtcerror.EngineFailure, err, "failed to deliver producer-created")
	}

	m.fanOutToPeers(others, EventNewProducerAvailable, NewProducerAvailablePayload{
		PeerID:     peer.ID,
		ProducerID: producerID,
		Kind:       req.Kind,
	})
	m.refreshTableMetrics()
	return nil
}

func (m *Manager) handleCreateConsumer(ctx context.Context, peer *Peer, raw json.RawMessage) error {
	var req CreateConsumerRequest
	if err := unmarshalPayload(raw, &req); err != nil {
		return err
	}
	entry, transport, err := m.lookupOwnedTransport(peer, req.TransportID)
	if err != nil {
		return err
	}
	if transport.Direction != sfu.DirectionRecv {
		return rtcerror.New(rtcerror.WrongDirection, "consumers require a recv transport")
	}

	entry.mu.Lock()
	connected := transport.Connected
	producer, producerExists := entry.producers[req.ProducerID]
	entry.mu.Unlock()
	if !connected {
		return rtcerror.New(rtcerror.NotConnected, "transport is not connected")
	}
	if !producerExists {
		return rtcerror.New(rtcerror.UnknownProducer, "producer does not exist in this room")
	}
	if producer.PeerID == peer.ID {
		return rtcerror.New(rtcerror.CannotConsume, "peer cannot consume its own producer")
	}

	if !entry.room.Router.CanConsume(string(req.ProducerID), req.RtpCapabilities) {
		return rtcerror.New(rtcerror.CannotConsume, "peer capabilities do not support this producer")
	}

	params, err := entry.room.Router.Consume(ctx, string(req.TransportID), string(req.ProducerID), req.RtpCapabilities)
	if err != nil {
		return mapEngineError(err)
	}

	consumerID := ConsumerID(params.ID)
	entry.mu.Lock()
	entry.consumers[consumerID] = &Consumer{
		ID:          consumerID,
		PeerID:      peer.ID,
		RoomID:      entry.room.ID,
		ProducerID:  req.ProducerID,
		Kind:        params.Kind,
		TransportID: req.TransportID,
		Paused:      true,
	}
	entry.mu.Unlock()

	peer.mu.Lock()
	peer.consumers[consumerID] = struct{}{}
	peer.mu.Unlock()

	m.indexConsumer(entry.room.ID, consumerID)
	m.refreshTableMetrics()

	return peer.Sink.Send(EventConsumerCreated, ConsumerCreatedPayload{
		ID:            consumerID,
		ProducerID:    req.ProducerID,
		Kind:          params.Kind,
		RtpParameters: params.RtpParameters,
	})
}

func (m *Manager) handleResumeConsumer(ctx context.Context, peer *Peer, raw json.RawMessage) error {
	var req ResumeConsumerRequest
	if err := unmarshalPayload(raw, &req); err != nil {
		return err
	}
	entry, consumer, err := m.lookupOwnedConsumer(peer, req.ConsumerID)
	if err != nil {
		return err
	}
	if err := entry.room.Router.ResumeConsumer(ctx, string(req.ConsumerID)); err != nil {
		return mapEngineError(err)
	}
	entry.mu.Lock()
	consumer.Paused = false
	entry.mu.Unlock()
	return peer.Sink.Send(EventConsumerResumed, ConsumerResumedPayload{ConsumerID: req.ConsumerID})
}

func (m *Manager) handlePauseConsumer(ctx context.Context, peer *Peer, raw json.RawMessage) error {
	var req PauseConsumerRequest
	if err := unmarshalPayload(raw, &req); err != nil {
		return err
	}
	entry, consumer, err := m.lookupOwnedConsumer(peer, req.ConsumerID)
	if err != nil {
		return err
	}
	if err := entry.room.Router.PauseConsumer(ctx, string(req.ConsumerID)); err != nil {
		return mapEngineError(err)
	}
	entry.mu.Lock()
	consumer.Paused = true
	entry.mu.Unlock()
	return peer.Sink.Send(EventConsumerPaused, ConsumerPausedPayload{ConsumerID: req.ConsumerID})
}

// handleCloseProducer replies and fans out with different payload shapes: the
// closer gets a direct reply with PeerID omitted, everyone else in the
// room gets a fan-out with PeerID populated so they know whose producer
// vanished.
func (m *Manager) handleCloseProducer(ctx context.Context, peer *Peer, raw json.RawMessage) error {
	var req CloseProducerRequest
	if err := unmarshalPayload(raw, &req); err != nil {
		return err
	}
	entry, _, err := m.lookupOwnedProducer(peer, req.ProducerID)
	if err != nil {
		return err
	}

	if err := entry.room.Router.CloseProducer(ctx, string(req.ProducerID)); err != nil {
		return mapEngineError(err)
	}

	entry.mu.Lock()
	delete(entry.producers, req.ProducerID)
	orphaned := make([]*Consumer, 0)
	for cid, c := range entry.consumers {
		if c.ProducerID == req.ProducerID {
			orphaned = append(orphaned, c)
			delete(entry.consumers, cid)
		}
	}
	others := make([]PeerID, 0, len(entry.room.Members)-1)
	for id := range entry.room.Members {
		if id != peer.ID {
			others = append(others, id)
		}
	}
	entry.mu.Unlock()

	peer.mu.Lock()
	delete(peer.producers, req.ProducerID)
	peer.mu.Unlock()

	// The engine cascades consumer teardown on producer close; this
	// sweep covers the server-side bookkeeping, including the consuming
	// peers' own resource sets.
	for _, c := range orphaned {
		if err := entry.room.Router.CloseConsumer(ctx, string(c.ID)); err != nil {
			logger.Warnw("close consumer failed", "consumerId", c.ID, "err", err.Error())
		}
		m.dropConsumerIndex(c.ID)
		if owner, ok := m.getPeer(c.PeerID); ok {
			owner.mu.Lock()
			delete(owner.consumers, c.ID)
			owner.mu.Unlock()
		}
	}
	m.dropProducerIndex(req.ProducerID)

	if err := peer.Sink.Send(EventProducerClosed, ProducerClosedPayload{ProducerID: req.ProducerID}); err != nil {
		return rtcerror.Wrap(rtcerror.EngineFailure, err, "failed to deliver producer-closed")
	}

	m.fanOutToPeers(others, EventProducerClosed, ProducerClosedPayload{PeerID: peer.ID, ProducerID: req.ProducerID})
	m.refreshTableMetrics()
	return nil
}

// handleSdpAnswer completes a renegotiation started by the media engine
// adapter: a recv-transport AddTrack triggers OnRenegotiationNeeded, the
// client answers, and that answer must reach the same router that
// started the offer.
func (m *Manager) handleSdpAnswer(ctx context.Context, peer *Peer, raw json.RawMessage) error {
	var req SdpAnswerRequest
	if err := unmarshalPayload(raw, &req); err != nil {
		return err
	}
	entry, _, err := m.lookupOwnedTransport(peer, req.TransportID)
	if err != nil {
		return err
	}
	if err := entry.room.Router.ApplyRenegotiationAnswer(ctx, string(req.TransportID), req.Sdp); err != nil {
		return mapEngineError(err)
	}
	return nil
}

func (m *Manager) lookupOwnedTransport(peer *Peer, id TransportID) (*roomEntry, *Transport, error) {
	roomID, ok := m.roomForTransport(id)
	if !ok {
		return nil, nil, rtcerror.New(rtcerror.UnknownTransport, "unknown transport")
	}
	entry, ok := m.getRoom(roomID)
	if !ok {
		return nil, nil, rtcerror.New(rtcerror.UnknownTransport, "unknown transport")
	}
	entry.mu.Lock()
	t, ok := entry.transports[id]
	entry.mu.Unlock()
	if !ok {
		return nil, nil, rtcerror.New(rtcerror.UnknownTransport, "unknown transport")
	}
	if t.PeerID != peer.ID {
		return nil, nil, rtcerror.New(rtcerror.NotOwner, "transport belongs to another peer")
	}
	return entry, t, nil
}

func (m *Manager) lookupOwnedProducer(peer *Peer, id ProducerID) (*roomEntry, *Producer, error) {
	roomID, ok := m.roomForProducer(id)
	if !ok {
		return nil, nil, rtcerror.New(rtcerror.UnknownProducer, "unknown producer")
	}
	entry, ok := m.getRoom(roomID)
	if !ok {
		return nil, nil, rtcerror.New(rtcerror.UnknownProducer, "unknown producer")
	}
	entry.mu.Lock()
	p, ok := entry.producers[id]
	entry.mu.Unlock()
	if !ok {
		return nil, nil, rtcerror.New(rtcerror.UnknownProducer, "unknown producer")
	}
	if p.PeerID != peer.ID {
		return nil, nil, rtcerror.New(rtcerror.NotOwner, "producer belongs to another peer")
	}
	return entry, p, nil
}

func (m *Manager) lookupOwnedConsumer(peer *Peer, id ConsumerID) (*roomEntry, *Consumer, error) {
	roomID, ok := m.roomForConsumer(id)
	if !ok {
		return nil, nil, rtcerror.New(rtcerror.UnknownConsumer, "unknown consumer")
	}
	entry, ok := m.getRoom(roomID)
	if !ok {
		return nil, nil, rtcerror.New(rtcerror.UnknownConsumer, "unknown consumer")
	}
	entry.mu.Lock()
	c, ok := entry.consumers[id]
	entry.mu.Unlock()
	if !ok {
		return nil, nil, rtcerror.New(rtcerror.UnknownConsumer, "unknown consumer")
	}
	if c.PeerID != peer.ID {
		return nil, nil, rtcerror.New(rtcerror.NotOwner, "consumer belongs to another peer")
	}
	return entry, c, nil
}

// fanOutToPeers delivers one event to each listed peer, best-effort: a
// dead peer's send failure is logged and counted, never propagated to the
// triggering caller — fan-out never blocks or fails the call that
// produced it.
func (m *Manager) fanOutToPeers(ids []PeerID, event string, payload any) {
	for _, id := range ids {
		target, ok := m.getPeer(id)
		if !ok {
			continue
		}
		if err := target.Sink.Send(event, payload); err != nil {
			m.metrics.IncFanoutFailure()
			logger.Warnw("fan-out delivery failed", "event", event, "peerId", id, "err", err.Error())
		}
	}
}

// handleTransportDTLSClosed is the adapter's async close-notification
// callback: treated the same as a full peer departure,
// since a DTLS-level close on any transport means the client is gone.
func (m *Manager) handleTransportDTLSClosed(roomID RoomID, transportID TransportID) {
	entry, ok := m.getRoom(roomID)
	if !ok {
		return
	}
	entry.mu.Lock()
	t, ok := entry.transports[transportID]
	entry.mu.Unlock()
	if !ok {
		return
	}
	peer, ok := m.getPeer(t.PeerID)
	if !ok {
		return
	}
	logger.Infow("transport closed by engine, cleaning up peer", "roomId", roomID, "peerId", peer.ID, "transportId", transportID)
	m.cleanupPeer(context.Background(), peer)
}

// handleRenegotiationNeeded forwards a fresh SDP offer generated by the
// adapter out to the owning peer.
func (m *Manager) handleRenegotiationNeeded(roomID RoomID, transportID TransportID, offerSDP string) {
	entry, ok := m.getRoom(roomID)
	if !ok {
		return
	}
	entry.mu.Lock()
	t, ok := entry.transports[transportID]
	entry.mu.Unlock()
	if !ok {
		return
	}
	peer, ok := m.getPeer(t.PeerID)
	if !ok {
		return
	}
	if err := peer.Sink.Send(EventSdpOffer, SdpOfferPayload{TransportID: transportID, Sdp: offerSDP}); err != nil {
		m.metrics.IncFanoutFailure()
		logger.Warnw("failed to deliver renegotiation offer", "peerId", peer.ID, "err", err.Error())
	}
}
