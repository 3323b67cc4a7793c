package rtc

import (
	"context"

	"github.com/meshcast/sfu/pkg/logger"
	"github.com/meshcast/sfu/pkg/sfu"
)

// CleanupPeer is the exported entry point pkg/service calls when a
// signaling connection drops, delegating to the same idempotent teardown
// used internally for leave-video-room and DTLS-close notifications.
func (m *Manager) CleanupPeer(ctx context.Context, peer *Peer) {
	m.cleanupPeer(ctx, peer)
}

// cleanupPeer tears a peer's media state and room membership down. It is
// idempotent — safe to call from leave-video-room, a transport DTLS close
// notification, or a signaling-transport disconnect, and safe to call
// twice for the same peer, which happens whenever both a client-initiated
// leave and a connection drop race each other.
//
// Order: close producers (fan out producer-closed), close consumers
// silently, close transports, remove from room membership (fan out
// peer-left), close the router and drop the room if it is now empty,
// then drop the peer from the registry.
func (m *Manager) cleanupPeer(ctx context.Context, peer *Peer) {
	peer.mu.Lock()
	if peer.closed {
		peer.mu.Unlock()
		return
	}
	peer.leaving = true
	peer.closed = true
	roomID := peer.roomID
	producerIDs := make([]ProducerID, 0, len(peer.producers))
	for id := range peer.producers {
		producerIDs = append(producerIDs, id)
	}
	consumerIDs := make([]ConsumerID, 0, len(peer.consumers))
	for id := range peer.consumers {
		consumerIDs = append(consumerIDs, id)
	}
	transportIDs := make([]TransportID, 0, len(peer.transports))
	for _, id := range peer.transports {
		transportIDs = append(transportIDs, id)
	}
	// Membership ends here as far as the peer's own view goes: a second
	// leave-video-room after this point answers not-joined.
	peer.roomID = ""
	peer.transports = map[sfu.Direction]TransportID{}
	peer.producers = map[ProducerID]struct{}{}
	peer.consumers = map[ConsumerID]struct{}{}
	peer.mu.Unlock()

	defer m.unregisterPeer(peer.ID)

	if roomID == "" {
		return
	}
	entry, ok := m.getRoom(roomID)
	if !ok {
		return
	}

	entry.mu.Lock()
	closedProducers := make([]ProducerID, 0, len(producerIDs))
	orphanedConsumers := make(map[ConsumerID]struct{}, len(consumerIDs))
	for _, pid := range producerIDs {
		if _, exists := entry.producers[pid]; !exists {
			continue
		}
		delete(entry.producers, pid)
		closedProducers = append(closedProducers, pid)
		for cid, c := range entry.consumers {
			if c.ProducerID == pid {
				orphanedConsumers[cid] = struct{}{}
			}
		}
	}
	for _, cid := range consumerIDs {
		orphanedConsumers[cid] = struct{}{}
	}
	closedConsumers := make([]*Consumer, 0, len(orphanedConsumers))
	for cid := range orphanedConsumers {
		if c, exists := entry.consumers[cid]; exists {
			delete(entry.consumers, cid)
			closedConsumers = append(closedConsumers, c)
		}
	}
	closedTransports := make([]TransportID, 0, len(transportIDs))
	for _, tid := range transportIDs {
		if _, exists := entry.transports[tid]; exists {
			delete(entry.transports, tid)
			closedTransports = append(closedTransports, tid)
		}
	}
	delete(entry.room.Members, peer.ID)
	remaining := make([]PeerID, 0, len(entry.room.Members))
	for id := range entry.room.Members {
		remaining = append(remaining, id)
	}
	entry.mu.Unlock()

	// Engine teardown happens outside the room lock: these calls may
	// block on the media engine and must never be made while holding
	// entry.mu.
	for _, pid := range closedProducers {
		if err := entry.room.Router.CloseProducer(ctx, string(pid)); err != nil {
			logger.Warnw("cleanup: close producer failed", "producerId", pid, "err", err.Error())
		}
		m.dropProducerIndex(pid)
	}
	for _, c := range closedConsumers {
		if err := entry.room.Router.CloseConsumer(ctx, string(c.ID)); err != nil {
			logger.Warnw("cleanup: close consumer failed", "consumerId", c.ID, "err", err.Error())
		}
		m.dropConsumerIndex(c.ID)
		// Consumers fed by the leaver's producers belong to peers that are
		// staying; their resource sets must not keep the dead ids.
		if c.PeerID != peer.ID {
			if owner, ok := m.getPeer(c.PeerID); ok {
				owner.mu.Lock()
				delete(owner.consumers, c.ID)
				owner.mu.Unlock()
			}
		}
	}
	for _, tid := range closedTransports {
		if err := entry.room.Router.CloseTransport(ctx, string(tid)); err != nil {
			logger.Warnw("cleanup: close transport failed", "transportId", tid, "err", err.Error())
		}
		m.dropTransportIndex(tid)
	}

	for _, pid := range closedProducers {
		m.fanOutToPeers(remaining, EventProducerClosed, ProducerClosedPayload{PeerID: peer.ID, ProducerID: pid})
	}
	m.fanOutToPeers(remaining, EventPeerLeft, PeerLeftPayload{PeerID: peer.ID})

	m.removeRoomIfEmpty(ctx, entry)
	m.refreshTableMetrics()
}
