package sfu

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"

	"github.com/meshcast/sfu/pkg/logger"
)

// EngineConfig configures the worker pool created by NewEngine.
type EngineConfig struct {
	WorkerCount int
	UDPPortMin  uint16
	UDPPortMax  uint16
	ListenIP    string
	AnnouncedIP string
	PreferUDP   bool
	TCPEnabled  bool
}

// pionEngine is the concrete Engine backed by pion/webrtc/v3, in the
// manner of itzmanish-go-ortc's Router wrapping one webrtc.API per worker
// and PufferBlow-media-sfu's newServer() SettingEngine setup.
type pionEngine struct {
	cfg EngineConfig

	mu      sync.Mutex
	workers []*worker
	next    int

	onWorkerDied func(error)
}

type worker struct {
	api *webrtc.API
}

func NewEngine(cfg EngineConfig) Engine {
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}
	return &pionEngine{cfg: cfg}
}

func (e *pionEngine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := 0; i < e.cfg.WorkerCount; i++ {
		w, err := newWorker(e.cfg)
		if err != nil {
			return errors.Wrapf(err, "starting worker %d", i)
		}
		e.workers = append(e.workers, w)
	}
	return nil
}

func newWorker(cfg EngineConfig) (*worker, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := registerCodecs(mediaEngine); err != nil {
		return nil, errors.Wrap(err, "registering codecs")
	}

	settingEngine := webrtc.SettingEngine{}
	if cfg.UDPPortMax >= cfg.UDPPortMin && cfg.UDPPortMin > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(cfg.UDPPortMin, cfg.UDPPortMax); err != nil {
			return nil, errors.Wrap(err, "setting UDP port range")
		}
	}
	if cfg.ListenIP != "" {
		settingEngine.SetNAT1To1IPs([]string{pick(cfg.AnnouncedIP, cfg.ListenIP)}, webrtc.ICECandidateTypeHost)
	}
	networkTypes := []webrtc.NetworkType{webrtc.NetworkTypeUDP4}
	if cfg.TCPEnabled {
		if cfg.PreferUDP {
			networkTypes = append(networkTypes, webrtc.NetworkTypeTCP4)
		} else {
			networkTypes = append([]webrtc.NetworkType{webrtc.NetworkTypeTCP4}, networkTypes...)
		}
	}
	settingEngine.SetNetworkTypes(networkTypes)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(settingEngine),
	)
	return &worker{api: api}, nil
}

func pick(preferred, fallback string) string {
	if preferred != "" {
		return preferred
	}
	return fallback
}

func registerCodecs(m *webrtc.MediaEngine) error {
	for _, codec := range DefaultCodecs() {
		capability := webrtc.RTPCodecCapability{
			MimeType:    codec.MimeType,
			ClockRate:   uint32(codec.ClockRate),
			Channels:    uint16(codec.Channels),
			SDPFmtpLine: fmtpLine(codec.Parameters),
		}
		kind := webrtc.RTPCodecTypeVideo
		if codec.Kind == KindAudio {
			kind = webrtc.RTPCodecTypeAudio
		}
		if err := m.RegisterCodec(webrtc.RTPCodecParameters{RTPCodecCapability: capability}, kind); err != nil {
			return err
		}
	}
	return nil
}

func fmtpLine(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	line := ""
	for k, v := range params {
		if line != "" {
			line += ";"
		}
		line += fmt.Sprintf("%s=%v", k, v)
	}
	return line
}

func (e *pionEngine) OnWorkerDied(fn func(err error)) {
	e.mu.Lock()
	e.onWorkerDied = fn
	e.mu.Unlock()
}

func (e *pionEngine) reportWorkerDeath(err error) {
	e.mu.Lock()
	fn := e.onWorkerDied
	e.mu.Unlock()
	logger.Errorw("media engine worker died", err)
	if fn != nil {
		fn(err)
	}
}

func (e *pionEngine) CreateRouter(ctx context.Context, codecs []CodecCapability) (Router, error) {
	e.mu.Lock()
	if len(e.workers) == 0 {
		e.mu.Unlock()
		return nil, errors.New("engine not initialized")
	}
	w := e.workers[e.next%len(e.workers)]
	e.next++
	e.mu.Unlock()

	return newPionRouter(w, codecs), nil
}
