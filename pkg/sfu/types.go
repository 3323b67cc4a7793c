// Package sfu is a thin contract around an embedded SFU media engine
// (here, pion/webrtc/v3), hiding every library-specific detail behind
// opaque ids. No other package imports github.com/pion/webrtc/v3
// directly.
package sfu

import "context"

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// IceCandidate mirrors the wire shape handed to clients.
type IceCandidate struct {
	Foundation string `json:"foundation"`
	Protocol   string `json:"protocol"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Port       int    `json:"port"`
	Type       string `json:"type"`
}

// IceParameters mirrors mediasoup's IceParameters shape.
type IceParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
	IceLite          bool   `json:"iceLite"`
}

// DtlsParameters carries the DTLS fingerprint/role exchanged during
// transport connect. Fingerprint is derived from the engine's certificate;
// Sdp is the full session description the adapter needs to complete
// negotiation. It crosses the wire but is never interpreted outside this
// package.
type DtlsParameters struct {
	Role        string `json:"role"`
	Fingerprint string `json:"fingerprint"`
	Sdp         string `json:"sdp,omitempty"`
}

// TransportParams is returned from CreateTransport.
type TransportParams struct {
	ID             string
	IceParameters  IceParameters
	IceCandidates  []IceCandidate
	DtlsParameters DtlsParameters
}

// RtpParameters is an opaque bag of codec/encoding parameters exchanged
// with the client; the adapter does not need to interpret its contents
// beyond the Kind on the enclosing Produce/Consume call.
type RtpParameters map[string]any

// RtpCapabilities is the client's declared receive capability set, used by
// CanConsume.
type RtpCapabilities struct {
	Codecs []CodecCapability `json:"codecs"`
}

// ProducerParams is returned from Produce.
type ProducerParams struct {
	ID string
}

// ConsumerParams is returned from Consume.
type ConsumerParams struct {
	ID            string
	ProducerID    string
	Kind          Kind
	RtpParameters RtpParameters
}

// CreateTransportOptions mirrors mediasoup's createWebRtcTransport options.
type CreateTransportOptions struct {
	Direction   Direction
	UDP         bool
	TCP         bool
	PreferUDP   bool
	ListenIP    string
	AnnouncedIP string
}

// RouterCapabilities is handed to joining peers.
type RouterCapabilities struct {
	Codecs []CodecCapability `json:"codecs"`
}

// Engine is the full adapter contract. Implementations must be safe for
// concurrent use; every method may block on IPC/negotiation with the
// underlying engine and must therefore never be called while a caller
// holds a global registry lock.
type Engine interface {
	// Initialize starts the worker pool. Must be called once at boot;
	// failure is fatal.
	Initialize(ctx context.Context) error

	// CreateRouter allocates one router for a room.
	CreateRouter(ctx context.Context, codecs []CodecCapability) (Router, error)

	// OnWorkerDied registers the fatal-worker-death callback.
	OnWorkerDied(fn func(err error))
}

// Router is a per-room media-engine object.
type Router interface {
	Capabilities() RouterCapabilities
	CreateTransport(ctx context.Context, opts CreateTransportOptions) (TransportParams, error)
	ConnectTransport(ctx context.Context, transportID string, dtls DtlsParameters) error
	Produce(ctx context.Context, transportID string, kind Kind, rtp RtpParameters) (ProducerParams, error)
	CanConsume(producerID string, caps RtpCapabilities) bool
	Consume(ctx context.Context, transportID string, producerID string, caps RtpCapabilities) (ConsumerParams, error)
	PauseConsumer(ctx context.Context, consumerID string) error
	ResumeConsumer(ctx context.Context, consumerID string) error
	// Close operations are idempotent: closing an id the router no
	// longer knows is a no-op. CloseProducer also tears down every
	// consumer fed by that producer; CloseTransport tears down every
	// producer and consumer riding on that transport.
	CloseProducer(ctx context.Context, producerID string) error
	CloseConsumer(ctx context.Context, consumerID string) error
	CloseTransport(ctx context.Context, transportID string) error
	Close(ctx context.Context) error
	// ApplyRenegotiationAnswer completes a renegotiation started via
	// OnRenegotiationNeeded.
	ApplyRenegotiationAnswer(ctx context.Context, transportID, answerSDP string) error

	// OnTransportDTLSClosed registers the async close-notification callback.
	OnTransportDTLSClosed(fn func(transportID string))
	// OnRenegotiationNeeded registers the callback used to carry a fresh
	// SDP offer out to a client when Consume adds a track to a recv
	// transport's pion PeerConnection and it must renegotiate — the bridge between
	// mediasoup-shaped produce/consume calls and pion's SDP-driven
	// reality. offerSdp is opaque to every caller outside this package.
	OnRenegotiationNeeded(fn func(transportID string, offerSdp string))
}
