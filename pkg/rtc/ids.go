// Package rtc is the core of the control plane: the Room/Peer registries,
// the Transport/Producer/Consumer tables, the signaling event router, and
// the peer lifecycle/cleanup supervisor. It depends only on the opaque
// pkg/sfu adapter contract, never on pion/webrtc directly.
package rtc

type RoomID string
type PeerID string
type TransportID string
type ProducerID string
type ConsumerID string
