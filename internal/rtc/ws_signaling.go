package rtc

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
)

// signalMessage is the signaling frame format.
// Types: "auth", "offer", "answer", "candidate", "ice-complete", "bye", "error".
type signalMessage struct {
	Type string `json:"type"`
	// auth
	Password string `json:"password,omitempty"`
	// offer/answer
	SDP string `json:"sdp,omitempty"`
	// candidate
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	// error
	Error string `json:"error,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		// interview rooms are cross-origin from the hiring portal
		return true
	},
}

// ServeWebSocket upgrades to WebSocket and performs offer/answer plus trickle
// ICE signaling for one interview room. Expected sequence: auth (optional),
// offer, candidates; the engine responds with an answer and its candidates.
// The room id comes from the ?room= query parameter.
func (h *Handler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		http.Error(w, "missing room parameter", http.StatusBadRequest)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	if pwd := h.cfg.RTCAuthPassword; pwd != "" {
		if !checkAuthHeaderOrQuery(r, pwd) && !awaitAuthFrame(conn, pwd) {
			_ = writeSignalErr(conn, errors.New("unauthorized"))
			return
		}
	}

	offerSDP, ok := awaitOffer(conn)
	if !ok {
		return
	}

	pc, outTrack, err := h.newPeer()
	if err != nil {
		_ = writeSignalErr(conn, err)
		return
	}
	defer func() { _ = pc.Close() }()

	if _, err := h.attachSession(pc, outTrack, roomID); err != nil {
		_ = writeSignalErr(conn, err)
		return
	}

	// trickle local candidates to the client
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			_ = conn.WriteJSON(signalMessage{Type: "ice-complete"})
			return
		}
		init := c.ToJSON()
		_ = conn.WriteJSON(signalMessage{
			Type:          "candidate",
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})

	// accept remote trickle candidates until the client hangs up
	go func() {
		for {
			_, data, rerr := conn.ReadMessage()
			if rerr != nil {
				return
			}
			var m signalMessage
			if json.Unmarshal(data, &m) != nil {
				continue
			}
			switch strings.ToLower(m.Type) {
			case "candidate":
				if m.Candidate == "" {
					continue
				}
				_ = pc.AddICECandidate(webrtc.ICECandidateInit{
					Candidate:     m.Candidate,
					SDPMid:        m.SDPMid,
					SDPMLineIndex: m.SDPMLineIndex,
				})
			case "bye":
				_ = pc.Close()
				return
			}
		}
	}()

	remoteOffer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := pc.SetRemoteDescription(remoteOffer); err != nil {
		_ = writeSignalErr(conn, err)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = writeSignalErr(conn, err)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = writeSignalErr(conn, err)
		return
	}
	local := pc.LocalDescription()
	if local == nil {
		_ = writeSignalErr(conn, errors.New("no local description"))
		return
	}
	if err := conn.WriteJSON(signalMessage{Type: "answer", SDP: local.SDP}); err != nil {
		log.Printf("[%s] ws write answer error: %v", roomID, err)
		return
	}

	// keep the handler alive until the peer connection winds down; session
	// teardown rides on OnConnectionStateChange
	for {
		time.Sleep(2 * time.Second)
		switch pc.ConnectionState() {
		case webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
			return
		}
	}
}

// awaitAuthFrame reads one frame and accepts it only as a valid auth message.
func awaitAuthFrame(conn *websocket.Conn, password string) bool {
	mt, data, err := conn.ReadMessage()
	if err != nil || mt != websocket.TextMessage {
		return false
	}
	var m signalMessage
	if json.Unmarshal(data, &m) != nil {
		return false
	}
	return strings.ToLower(m.Type) == "auth" && m.Password == password
}

// awaitOffer reads frames until an offer (or bye / connection loss).
func awaitOffer(conn *websocket.Conn) (string, bool) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			log.Printf("ws read error before offer: %v", err)
			return "", false
		}
		if mt != websocket.TextMessage {
			continue
		}
		var m signalMessage
		if json.Unmarshal(data, &m) != nil {
			continue
		}
		switch strings.ToLower(m.Type) {
		case "offer":
			if m.SDP != "" {
				return m.SDP, true
			}
		case "bye":
			return "", false
		}
	}
}

func checkAuthHeaderOrQuery(r *http.Request, password string) bool {
	if r == nil || password == "" {
		return false
	}
	if q := r.URL.Query().Get("password"); q != "" && q == password {
		return true
	}
	ah := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		if strings.TrimSpace(ah[len("Bearer "):]) == password {
			return true
		}
	}
	if x := r.Header.Get("X-Auth-Token"); x != "" && x == password {
		return true
	}
	return false
}

func writeSignalErr(conn *websocket.Conn, err error) error {
	return conn.WriteJSON(signalMessage{Type: "error", Error: err.Error()})
}
