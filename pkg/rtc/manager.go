package rtc

import (
	"context"
	"sync"
	"time"

	"github.com/meshcast/sfu/pkg/config"
	"github.com/meshcast/sfu/pkg/logger"
	"github.com/meshcast/sfu/pkg/rtcerror"
	"github.com/meshcast/sfu/pkg/sfu"
)

// Metrics is the subset of the control plane's telemetry surface the
// Manager needs; pkg/telemetry implements it over Prometheus.
type Metrics interface {
	SetRooms(n int)
	SetPeers(n int)
	SetProducers(n int)
	SetConsumers(n int)
	IncEvent(event, result string)
	IncFanoutFailure()
	IncWorkerDeath()
}

type noopMetrics struct{}

func (noopMetrics) SetRooms(int)             {}
func (noopMetrics) SetPeers(int)             {}
func (noopMetrics) SetProducers(int)         {}
func (noopMetrics) SetConsumers(int)         {}
func (noopMetrics) IncEvent(string, string)  {}
func (noopMetrics) IncFanoutFailure()        {}
func (noopMetrics) IncWorkerDeath()          {}

// Manager owns the Room Registry, Peer Registry, and the
// Transport/Producer/Consumer tables as explicit, parameter-passed
// state rather than module-level globals. Its lifetime equals the
// process's.
type Manager struct {
	engine    sfu.Engine
	codecs    []sfu.CodecCapability
	rtcConfig config.RTCConfig
	metrics   Metrics

	// global short-held lock: insert/remove of room and peer entries only,
	// and the id->room indices used to route a bare transport/producer/
	// consumer id to its owning room's lock. Never held across an engine
	// call or a fan-out send.
	mu            sync.Mutex
	rooms         map[RoomID]*roomEntry
	peers         map[PeerID]*Peer
	transportRoom map[TransportID]RoomID
	producerRoom  map[ProducerID]RoomID
	consumerRoom  map[ConsumerID]RoomID

	onFatal func(error)
}

// OnFatalError registers the callback invoked after a fatal media-engine
// worker death, once every affected peer has been notified. cmd/server
// uses it to exit after a grace period so a supervisor can restart the
// process.
func (m *Manager) OnFatalError(fn func(error)) {
	m.mu.Lock()
	m.onFatal = fn
	m.mu.Unlock()
}

func NewManager(engine sfu.Engine, codecs []sfu.CodecCapability, rtcConfig config.RTCConfig, metrics Metrics) *Manager {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	m := &Manager{
		engine:        engine,
		codecs:        codecs,
		rtcConfig:     rtcConfig,
		metrics:       metrics,
		rooms:         map[RoomID]*roomEntry{},
		peers:         map[PeerID]*Peer{},
		transportRoom: map[TransportID]RoomID{},
		producerRoom:  map[ProducerID]RoomID{},
		consumerRoom:  map[ConsumerID]RoomID{},
	}
	engine.OnWorkerDied(m.onWorkerDied)
	return m
}

// onWorkerDied handles a fatal media-engine worker death: every
// connected peer gets one video-room-error, then the caller (cmd/server)
// exits after a grace period.
func (m *Manager) onWorkerDied(err error) {
	m.metrics.IncWorkerDeath()
	logger.Errorw("media engine worker died, notifying all peers", err)
	m.mu.Lock()
	peers := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.mu.Unlock()

	for _, p := range peers {
		_ = p.Sink.Send(EventRoomError, ErrorPayload{Error: string(rtcerror.EngineFailure), Details: "media engine worker died"})
	}

	m.mu.Lock()
	fatal := m.onFatal
	m.mu.Unlock()
	if fatal != nil {
		fatal(err)
	}
}

// RegisterPeer is the Peer Registry's "create Peer(id) on connection
// accept" operation.
func (m *Manager) RegisterPeer(id PeerID, sink Sink) *Peer {
	p := newPeer(id, sink)
	m.mu.Lock()
	m.peers[id] = p
	n := len(m.peers)
	m.mu.Unlock()
	m.metrics.SetPeers(n)
	return p
}

// reviveIfClosed restores a peer torn down by an earlier leave or
// eviction whose signaling connection stayed open, so it can join again
// as a fresh not-yet-joined peer.
func (m *Manager) reviveIfClosed(peer *Peer) {
	peer.mu.Lock()
	revived := peer.closed
	peer.closed = false
	peer.leaving = false
	peer.mu.Unlock()
	if !revived {
		return
	}
	m.mu.Lock()
	m.peers[peer.ID] = peer
	n := len(m.peers)
	m.mu.Unlock()
	m.metrics.SetPeers(n)
}

// unregisterPeer is the final step of peer teardown: "drop the peer".
// Called only after cleanupPeer has run.
func (m *Manager) unregisterPeer(id PeerID) {
	m.mu.Lock()
	delete(m.peers, id)
	n := len(m.peers)
	m.mu.Unlock()
	m.metrics.SetPeers(n)
}

// LookupPeer is the read-only accessor the admin API uses to resolve an
// eviction target.
func (m *Manager) LookupPeer(id PeerID) (*Peer, bool) {
	return m.getPeer(id)
}

func (m *Manager) getPeer(id PeerID) (*Peer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[id]
	return p, ok
}

// getOrCreateRoom is the Room Registry's get_or_create: if absent,
// allocates a router via the adapter and installs a new empty Room. The
// adapter call happens outside the global lock.
func (m *Manager) getOrCreateRoom(ctx context.Context, id RoomID) (*roomEntry, error) {
	m.mu.Lock()
	entry, ok := m.rooms[id]
	m.mu.Unlock()
	if ok {
		return entry, nil
	}

	router, err := m.engine.CreateRouter(ctx, m.codecs)
	if err != nil {
		return nil, err
	}
	newEntry := newRoomEntry(id, router)
	router.OnTransportDTLSClosed(func(transportID string) {
		m.handleTransportDTLSClosed(id, TransportID(transportID))
	})
	router.OnRenegotiationNeeded(func(transportID, offerSDP string) {
		m.handleRenegotiationNeeded(id, TransportID(transportID), offerSDP)
	})

	m.mu.Lock()
	// re-check: another goroutine may have created it concurrently.
	if existing, ok := m.rooms[id]; ok {
		m.mu.Unlock()
		_ = router.Close(ctx)
		return existing, nil
	}
	m.rooms[id] = newEntry
	n := len(m.rooms)
	m.mu.Unlock()
	m.metrics.SetRooms(n)
	logger.Infow("room created", "roomId", id)
	return newEntry, nil
}

func (m *Manager) getRoom(id RoomID) (*roomEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.rooms[id]
	return entry, ok
}

// removeRoomIfEmpty is the Room Registry's remove_member tail: closing the
// router and dropping the Room in the same critical section once the last
// member has left. A room is live iff its member set is non-empty.
func (m *Manager) removeRoomIfEmpty(ctx context.Context, entry *roomEntry) {
	entry.mu.Lock()
	empty := len(entry.room.Members) == 0
	entry.mu.Unlock()
	if !empty {
		return
	}

	m.mu.Lock()
	current, ok := m.rooms[entry.room.ID]
	if !ok || current != entry {
		m.mu.Unlock()
		return
	}
	delete(m.rooms, entry.room.ID)
	n := len(m.rooms)
	m.mu.Unlock()
	m.metrics.SetRooms(n)

	if entry.closed.IsBroken() {
		return
	}
	entry.closed.Break()
	_ = entry.room.Router.Close(ctx)
	logger.Infow("room closed", "roomId", entry.room.ID)
}

func (m *Manager) indexTransport(roomID RoomID, id TransportID) {
	m.mu.Lock()
	m.transportRoom[id] = roomID
	m.mu.Unlock()
}

func (m *Manager) indexProducer(roomID RoomID, id ProducerID) {
	m.mu.Lock()
	m.producerRoom[id] = roomID
	m.mu.Unlock()
}

func (m *Manager) indexConsumer(roomID RoomID, id ConsumerID) {
	m.mu.Lock()
	m.consumerRoom[id] = roomID
	m.mu.Unlock()
}

func (m *Manager) dropTransportIndex(id TransportID) {
	m.mu.Lock()
	delete(m.transportRoom, id)
	m.mu.Unlock()
}

func (m *Manager) dropProducerIndex(id ProducerID) {
	m.mu.Lock()
	delete(m.producerRoom, id)
	m.mu.Unlock()
}

func (m *Manager) dropConsumerIndex(id ConsumerID) {
	m.mu.Lock()
	delete(m.consumerRoom, id)
	m.mu.Unlock()
}

func (m *Manager) roomForTransport(id TransportID) (RoomID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	roomID, ok := m.transportRoom[id]
	return roomID, ok
}

func (m *Manager) roomForProducer(id ProducerID) (RoomID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	roomID, ok := m.producerRoom[id]
	return roomID, ok
}

func (m *Manager) roomForConsumer(id ConsumerID) (RoomID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	roomID, ok := m.consumerRoom[id]
	return roomID, ok
}

// DrainAll tears every connected peer down, invoked during graceful
// shutdown so no peer is left with a half-torn-down media session when
// the process exits.
func (m *Manager) DrainAll(ctx context.Context) {
	m.mu.Lock()
	peers := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.mu.Unlock()

	for _, p := range peers {
		m.cleanupPeer(ctx, p)
	}
}

func (m *Manager) refreshTableMetrics() {
	m.mu.Lock()
	rooms := make([]*roomEntry, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	producers, consumers := 0, 0
	for _, r := range rooms {
		r.mu.Lock()
		producers += len(r.producers)
		consumers += len(r.consumers)
		r.mu.Unlock()
	}
	m.metrics.SetProducers(producers)
	m.metrics.SetConsumers(consumers)
}

// AdminRoomSnapshot is the read model behind the admin API.
type AdminRoomSnapshot struct {
	RoomID    RoomID              `json:"roomId"`
	CreatedAt time.Time           `json:"createdAt"`
	Peers     []AdminPeerSnapshot `json:"peers"`
}

type AdminPeerSnapshot struct {
	PeerID     PeerID        `json:"peerId"`
	Transports []TransportID `json:"transports"`
	Producers  []ProducerID  `json:"producers"`
	Consumers  []ConsumerID  `json:"consumers"`
}

func (m *Manager) ListRooms() []RoomID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]RoomID, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) RoomSnapshot(id RoomID) (AdminRoomSnapshot, bool) {
	entry, ok := m.getRoom(id)
	if !ok {
		return AdminRoomSnapshot{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	snap := AdminRoomSnapshot{RoomID: id, CreatedAt: entry.room.CreatedAt}
	for peerID := range entry.room.Members {
		ps := AdminPeerSnapshot{PeerID: peerID}
		for tid, t := range entry.transports {
			if t.PeerID == peerID {
				ps.Transports = append(ps.Transports, tid)
			}
		}
		for pid, p := range entry.producers {
			if p.PeerID == peerID {
				ps.Producers = append(ps.Producers, pid)
			}
		}
		for cid, c := range entry.consumers {
			if c.PeerID == peerID {
				ps.Consumers = append(ps.Consumers, cid)
			}
		}
		snap.Peers = append(snap.Peers, ps)
	}
	return snap, true
}
