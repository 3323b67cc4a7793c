package rtc

import (
	"sync"
	"time"

	"github.com/frostbyte73/core"

	"github.com/meshcast/sfu/pkg/sfu"
)

// Room is live iff its member set is non-empty.
type Room struct {
	ID        RoomID
	Router    sfu.Router
	CreatedAt time.Time
	Members   map[PeerID]struct{}
}

// roomEntry is a Room plus the tables restricted to its members and the
// room-scoped mutual-exclusion primitive guarding them. All mutations
// touching this room's membership or tables take mu first. closed breaks
// exactly once, when the last member leaves and the router is torn down.
type roomEntry struct {
	mu     sync.Mutex
	closed core.Fuse

	room *Room

	transports map[TransportID]*Transport
	producers  map[ProducerID]*Producer
	consumers  map[ConsumerID]*Consumer
}

func newRoomEntry(id RoomID, router sfu.Router) *roomEntry {
	return &roomEntry{
		closed: core.NewFuse(),
		room: &Room{
			ID:        id,
			Router:    router,
			CreatedAt: time.Now(),
			Members:   map[PeerID]struct{}{},
		},
		transports: map[TransportID]*Transport{},
		producers:  map[ProducerID]*Producer{},
		consumers:  map[ConsumerID]*Consumer{},
	}
}

// Transport is one end of a peer's media connection to the router.
type Transport struct {
	ID        TransportID
	PeerID    PeerID
	RoomID    RoomID
	Direction sfu.Direction
	Connected bool
}

// Producer is one inbound media track a peer is sending into a room.
type Producer struct {
	ID          ProducerID
	PeerID      PeerID
	RoomID      RoomID
	Kind        sfu.Kind
	TransportID TransportID
}

// Consumer is one outbound media track a peer is receiving from a room.
type Consumer struct {
	ID          ConsumerID
	PeerID      PeerID
	RoomID      RoomID
	ProducerID  ProducerID
	Kind        sfu.Kind
	TransportID TransportID
	Paused      bool
}

// Sink is the outbound half of a peer's signaling connection: one JSON
// {name, payload} event at a time, ordered. Implemented by pkg/service's
// websocket wrapper.
type Sink interface {
	Send(event string, payload any) error
}

// SessionState is the observable peer state machine. Several bits can be
// set at once (e.g. producing and consuming simultaneously); State()
// returns a snapshot for diagnostics, not a single exclusive value.
type SessionState struct {
	Joined    bool
	SendReady bool
	RecvReady bool
	Producing bool
	Consuming bool
	Leaving   bool
	Closed    bool
}

// Peer's RoomID, per-direction transport ids and producer/consumer sets
// are guarded by the peer's own mu; they are never mutated while the
// owning roomEntry's lock is held.
type Peer struct {
	ID   PeerID
	Sink Sink

	mu         sync.Mutex
	roomID     RoomID
	transports map[sfu.Direction]TransportID
	producers  map[ProducerID]struct{}
	consumers  map[ConsumerID]struct{}
	leaving    bool
	closed     bool
}

func newPeer(id PeerID, sink Sink) *Peer {
	return &Peer{
		ID:         id,
		Sink:       sink,
		transports: map[sfu.Direction]TransportID{},
		producers:  map[ProducerID]struct{}{},
		consumers:  map[ConsumerID]struct{}{},
	}
}

func (p *Peer) RoomID() RoomID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.roomID
}

func (p *Peer) State() SessionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, send := p.transports[sfu.DirectionSend]
	_, recv := p.transports[sfu.DirectionRecv]
	return SessionState{
		Joined:    p.roomID != "",
		SendReady: send,
		RecvReady: recv,
		Producing: len(p.producers) > 0,
		Consuming: len(p.consumers) > 0,
		Leaving:   p.leaving,
		Closed:    p.closed,
	}
}
