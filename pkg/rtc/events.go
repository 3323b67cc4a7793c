package rtc

import "github.com/meshcast/sfu/pkg/sfu"

// Event names for the JSON {name, payload} signaling protocol.
const (
	EventJoinRoom         = "join-video-room"
	EventLeaveRoom        = "leave-video-room"
	EventCreateTransport  = "create-transport"
	EventConnectTransport = "connect-transport"
	EventCreateProducer   = "create-producer"
	EventCreateConsumer   = "create-consumer"
	EventResumeConsumer   = "resume-consumer"
	EventPauseConsumer    = "pause-consumer"
	EventCloseProducer    = "close-producer"

	EventRoomJoined         = "video-room-joined"
	EventRoomLeft           = "video-room-left"
	EventTransportCreated   = "transport-created"
	EventTransportConnected = "transport-connected"
	EventProducerCreated    = "producer-created"
	EventConsumerCreated    = "consumer-created"
	EventConsumerResumed    = "consumer-resumed"
	EventConsumerPaused     = "consumer-paused"
	EventProducerClosed     = "producer-closed"

	EventNewPeerJoined        = "new-peer-joined"
	EventNewProducerAvailable = "new-producer-available"
	EventPeerLeft             = "peer-left"
	EventRoomError            = "video-room-error"
	EventTransportError       = "transport-error"
	EventProducerError        = "producer-error"
	EventConsumerError        = "consumer-error"

	// Supplemental low-level SDP renegotiation events, outside the core
	// event table, used only to carry the pion renegotiation an AddTrack
	// on a recv transport requires.
	EventSdpOffer  = "sdp-offer"
	EventSdpAnswer = "sdp-answer"
)

type ErrorPayload struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

type ProducerAdvertisement struct {
	ID     ProducerID `json:"id"`
	PeerID PeerID     `json:"peerId"`
	Kind   sfu.Kind   `json:"kind"`
}

type JoinRoomRequest struct {
	RoomID RoomID `json:"roomId"`
}

type RoomJoinedPayload struct {
	RouterCapabilities sfu.RouterCapabilities `json:"routerCapabilities"`
	ExistingProducers  []ProducerAdvertisement `json:"existingProducers"`
}

type LeaveRoomRequest struct {
	RoomID RoomID `json:"roomId"`
}

type RoomLeftPayload struct {
	RoomID RoomID `json:"roomId"`
}

type CreateTransportRequest struct {
	RoomID    RoomID        `json:"roomId"`
	Direction sfu.Direction `json:"direction"`
}

type TransportCreatedPayload struct {
	Direction       sfu.Direction       `json:"direction"`
	TransportParams sfu.TransportParams `json:"transportParams"`
}

type ConnectTransportRequest struct {
	TransportID    TransportID        `json:"transportId"`
	DtlsParameters sfu.DtlsParameters `json:"dtlsParameters"`
}

type TransportConnectedPayload struct {
	TransportID TransportID `json:"transportId"`
}

type CreateProducerRequest struct {
	TransportID   TransportID      `json:"transportId"`
	RoomID        RoomID           `json:"roomId"`
	Kind          sfu.Kind         `json:"kind"`
	RtpParameters sfu.RtpParameters `json:"rtpParameters"`
}

type ProducerCreatedPayload struct {
	ID   ProducerID `json:"id"`
	Kind sfu.Kind   `json:"kind"`
}

type NewProducerAvailablePayload struct {
	PeerID     PeerID     `json:"peerId"`
	ProducerID ProducerID `json:"producerId"`
	Kind       sfu.Kind   `json:"kind"`
}

type CreateConsumerRequest struct {
	TransportID     TransportID         `json:"transportId"`
	ProducerID      ProducerID          `json:"producerId"`
	RtpCapabilities sfu.RtpCapabilities `json:"rtpCapabilities"`
}

type ConsumerCreatedPayload struct {
	ID            ConsumerID        `json:"id"`
	ProducerID    ProducerID        `json:"producerId"`
	Kind          sfu.Kind          `json:"kind"`
	RtpParameters sfu.RtpParameters `json:"rtpParameters"`
}

type ResumeConsumerRequest struct {
	ConsumerID ConsumerID `json:"consumerId"`
}

type ConsumerResumedPayload struct {
	ConsumerID ConsumerID `json:"consumerId"`
}

type PauseConsumerRequest struct {
	ConsumerID ConsumerID `json:"consumerId"`
}

type ConsumerPausedPayload struct {
	ConsumerID ConsumerID `json:"consumerId"`
}

type CloseProducerRequest struct {
	ProducerID ProducerID `json:"producerId"`
	RoomID     RoomID     `json:"roomId"`
}

// ProducerClosedPayload serves two shapes: a direct reply to the closer
// (PeerID omitted) and a fan-out to the rest of the room (PeerID
// populated).
type ProducerClosedPayload struct {
	PeerID     PeerID     `json:"peerId,omitempty"`
	ProducerID ProducerID `json:"producerId"`
}

type NewPeerJoinedPayload struct {
	PeerID PeerID `json:"peerId"`
}

type PeerLeftPayload struct {
	PeerID PeerID `json:"peerId"`
}

type SdpOfferPayload struct {
	TransportID TransportID `json:"transportId"`
	Sdp         string      `json:"sdp"`
}

type SdpAnswerRequest struct {
	TransportID TransportID `json:"transportId"`
	Sdp         string      `json:"sdp"`
}
