package video

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
)

// Signalling message types of the GStreamer webrtcsink protocol
const (
	msgWelcome        = "welcome"
	msgList           = "list"
	msgStartSession   = "startSession"
	msgSessionStarted = "sessionStarted"
	msgPeer           = "peer"
	msgEndSession     = "endSession"
)

type sdpBody struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type iceBody struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

type producer struct {
	ID   string            `json:"id"`
	Meta map[string]string `json:"meta"`
}

// signalMessage covers every message we send or receive.
type signalMessage struct {
	Type      string     `json:"type"`
	PeerID    string     `json:"peerId,omitempty"`
	SessionID string     `json:"sessionId,omitempty"`
	Producers []producer `json:"producers,omitempty"`
	SDP       *sdpBody   `json:"sdp,omitempty"`
	ICE       *iceBody   `json:"ice,omitempty"`
}

// signaller wraps the signalling websocket. Writes are serialized.
type signaller struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (s *signaller) send(msg signalMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.ws.WriteJSON(msg)
}

func (s *signaller) read(timeout time.Duration) (signalMessage, error) {
	var msg signalMessage
	if timeout > 0 {
		s.ws.SetReadDeadline(time.Now().Add(timeout))
		defer s.ws.SetReadDeadline(time.Time{})
	}
	err := s.ws.ReadJSON(&msg)
	return msg, err
}

// welcome reads the server greeting and returns our peer ID.
func (s *signaller) welcome(timeout time.Duration) (string, error) {
	msg, err := s.read(timeout)
	if err != nil {
		return "", err
	}
	if msg.Type != msgWelcome {
		return "", fmt.Errorf("expected welcome, got %s", msg.Type)
	}
	return msg.PeerID, nil
}

// findProducer lists producers and returns the one whose meta name matches.
func (s *signaller) findProducer(name string, timeout time.Duration) (string, error) {
	if err := s.send(signalMessage{Type: msgList}); err != nil {
		return "", err
	}

	msg, err := s.read(timeout)
	if err != nil {
		return "", err
	}

	for _, p := range msg.Producers {
		if p.Meta["name"] == name {
			return p.ID, nil
		}
	}
	return "", fmt.Errorf("%s producer not found in %d producers", name, len(msg.Producers))
}

func (s *signaller) startSession(producerID string) error {
	return s.send(signalMessage{Type: msgStartSession, PeerID: producerID})
}

func (s *signaller) sendSDP(sessionID string, sdp webrtc.SessionDescription) error {
	return s.send(signalMessage{
		Type:      msgPeer,
		SessionID: sessionID,
		SDP:       &sdpBody{Type: sdp.Type.String(), SDP: sdp.SDP},
	})
}

func (s *signaller) sendICE(sessionID string, c webrtc.ICECandidateInit) error {
	return s.send(signalMessage{
		Type:      msgPeer,
		SessionID: sessionID,
		ICE: &iceBody{
			Candidate:     c.Candidate,
			SDPMid:        c.SDPMid,
			SDPMLineIndex: c.SDPMLineIndex,
		},
	})
}

func (s *signaller) close() error {
	return s.ws.Close()
}
