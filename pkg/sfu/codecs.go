package sfu

// CodecCapability mirrors mediasoup's RtpCodecCapability shape: the
// static router configuration advertised to joining peers.
type CodecCapability struct {
	Kind             Kind              `json:"kind"`
	MimeType         string            `json:"mimeType"`
	ClockRate        int               `json:"clockRate"`
	Channels         int               `json:"channels,omitempty"`
	Parameters       map[string]any    `json:"parameters,omitempty"`
	PreferredPayload int               `json:"preferredPayloadType,omitempty"`
}

// DefaultCodecs is the codec list advertised in router capabilities.
func DefaultCodecs() []CodecCapability {
	return []CodecCapability{
		{
			Kind:      KindAudio,
			MimeType:  "audio/opus",
			ClockRate: 48000,
			Channels:  2,
		},
		{
			Kind:      KindVideo,
			MimeType:  "video/VP8",
			ClockRate: 90000,
			Parameters: map[string]any{
				"x-google-start-bitrate": 1000,
			},
		},
		{
			Kind:      KindVideo,
			MimeType:  "video/VP9",
			ClockRate: 90000,
			Parameters: map[string]any{
				"profile-id":             2,
				"x-google-start-bitrate": 1000,
			},
		},
		{
			Kind:      KindVideo,
			MimeType:  "video/H264",
			ClockRate: 90000,
			Parameters: map[string]any{
				"packetization-mode":      1,
				"profile-level-id":        "4d0032",
				"level-asymmetry-allowed": 1,
				"x-google-start-bitrate":  1000,
			},
		},
	}
}
