// Package service wires the control plane onto the network: the
// websocket signaling transport, the HTTP surface (health, metrics,
// admin API), and process bootstrap.
package service

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/meshcast/sfu/pkg/config"
	"github.com/meshcast/sfu/pkg/logger"
	"github.com/meshcast/sfu/pkg/rtc"
)

// wsSink is the rtc.Sink implementation over one websocket connection. All
// writes go through mu so ping control frames and event frames never
// interleave.
type wsSink struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

type outboundFrame struct {
	Name    string `json:"name"`
	Payload any    `json:"payload"`
}

type inboundFrame struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

func (s *wsSink) Send(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(outboundFrame{Name: event, Payload: payload})
}

func (s *wsSink) writeControl(messageType int, data []byte, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(messageType, data, deadline)
}

// SignalServer upgrades incoming HTTP requests to the room signaling
// websocket and drives one read loop per peer: the peer's Dispatch calls
// all happen from this one goroutine, so they can never race each
// other.
type SignalServer struct {
	manager  *rtc.Manager
	cfg      config.SignalConfig
	upgrader websocket.Upgrader
}

func NewSignalServer(manager *rtc.Manager, cfg config.SignalConfig) *SignalServer {
	s := &SignalServer{manager: manager, cfg: cfg}
	// origin is validated by the reverse proxy/token layer in front of
	// this service, not here.
	s.upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	return s
}

func (s *SignalServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	peerID := rtc.PeerID(r.URL.Query().Get("peerId"))
	if peerID == "" {
		peerID = rtc.PeerID(uuid.NewString())
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnw("websocket upgrade failed", err, "peerId", peerID)
		return
	}
	defer conn.Close()

	sink := &wsSink{conn: conn}
	peer := s.manager.RegisterPeer(peerID, sink)
	logger.Infow("peer connected", "peerId", peerID, "remoteAddr", r.RemoteAddr)

	pongWait := time.Duration(s.cfg.PongWaitMS) * time.Millisecond
	conn.SetReadLimit(s.cfg.ReadLimitBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stop := make(chan struct{})
	defer close(stop)
	go s.pingLoop(sink, stop)

	ctx := context.Background()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Warnw("malformed signaling frame", err, "peerId", peerID)
			continue
		}
		s.manager.Dispatch(ctx, peer, frame.Name, frame.Payload)
	}

	logger.Infow("peer disconnected", "peerId", peerID)
	s.manager.CleanupPeer(context.Background(), peer)
}

func (s *SignalServer) pingLoop(sink *wsSink, stop <-chan struct{}) {
	interval := time.Duration(s.cfg.PingIntervalMS) * time.Millisecond
	writeTimeout := time.Duration(s.cfg.WriteTimeoutMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := sink.writeControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
