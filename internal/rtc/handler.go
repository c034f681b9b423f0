package rtc

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/chinnasivakrishna/auriter-agent/internal/backend"
	"github.com/chinnasivakrishna/auriter-agent/internal/config"
	"github.com/chinnasivakrishna/auriter-agent/internal/interview"
	"github.com/chinnasivakrishna/auriter-agent/internal/playback"
	"github.com/chinnasivakrishna/auriter-agent/internal/synthesis"
	"github.com/chinnasivakrishna/auriter-agent/internal/transcribe"
	"github.com/hraban/opus"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
)

// SessionDescription is a small DTO to avoid exposing webrtc types in transport.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// controlCommand is what the browser sends on the "control" data channel.
type controlCommand struct {
	Type string `json:"type"`
}

// statusMessage is what the engine pushes back on the control channel.
type statusMessage struct {
	Type       string            `json:"type"`
	State      string            `json:"state,omitempty"`
	Question   int               `json:"question"`
	Transcript string            `json:"transcript,omitempty"`
	Remaining  int               `json:"remaining,omitempty"`
	Analysis   *backend.Analysis `json:"analysis,omitempty"`
	Details    *backend.Details  `json:"details,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Handler builds WebRTC peer connections and binds one interview session to
// each of them.
type Handler struct {
	cfg config.Config
}

func NewHandler(cfg config.Config) *Handler { return &Handler{cfg: cfg} }

// HandleOffer accepts an SDP offer for the given interview room and returns
// an SDP answer with ICE gathering already complete.
func (h *Handler) HandleOffer(ctx context.Context, roomID string, offer SessionDescription) (SessionDescription, error) {
	if offer.Type != "offer" || offer.SDP == "" {
		return SessionDescription{}, errors.New("invalid offer")
	}
	if roomID == "" {
		return SessionDescription{}, errors.New("missing room id")
	}

	pc, outTrack, err := h.newPeer()
	if err != nil {
		return SessionDescription{}, err
	}
	if _, err := h.attachSession(pc, outTrack, roomID); err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}

	remoteOffer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := pc.SetRemoteDescription(remoteOffer); err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	<-gatherComplete
	local := pc.LocalDescription()
	if local == nil {
		_ = pc.Close()
		return SessionDescription{}, errors.New("no local description")
	}
	return SessionDescription{Type: "answer", SDP: local.SDP}, nil
}

// newPeer prepares a PeerConnection with default codecs and interceptors and
// an outbound mono Opus track for the interviewer voice.
func (h *Handler) newPeer() (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return nil, nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: parseICEServers(h.cfg.ICEServersJSON)})
	if err != nil {
		return nil, nil, err
	}
	outTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 1},
		"interviewer-audio", "interviewer",
	)
	if err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	if _, err := pc.AddTrack(outTrack); err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	return pc, outTrack, nil
}

// roomSession ties one peer connection to one interview controller. It also
// implements the controller's media contract: the candidate's microphone is
// considered acquired once their remote audio track arrives.
type roomSession struct {
	id    string
	ctrl  *interview.Controller
	paced *PacedOpusSink

	readyOnce  sync.Once
	trackReady chan struct{}
	deniedOnce sync.Once
	denied     chan struct{}

	dcMu sync.Mutex
	dc   *webrtc.DataChannel

	closeOnce sync.Once
	teardown  func()
}

// mediaWait bounds how long Begin waits for the candidate's audio track.
const mediaWait = 30 * time.Second

func (s *roomSession) Acquire(ctx context.Context) error {
	timer := time.NewTimer(mediaWait)
	defer timer.Stop()
	select {
	case <-s.trackReady:
		return nil
	case <-s.denied:
		return interview.ErrPermissionDenied
	case <-timer.C:
		return interview.ErrDeviceUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release is a no-op: capture devices live in the browser, and the peer
// connection teardown drops the inbound track.
func (s *roomSession) Release() {}

func (s *roomSession) setControl(dc *webrtc.DataChannel) {
	s.dcMu.Lock()
	s.dc = dc
	s.dcMu.Unlock()
}

func (s *roomSession) sendStatus(m statusMessage) {
	s.dcMu.Lock()
	dc := s.dc
	s.dcMu.Unlock()
	if dc == nil {
		return
	}
	data, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := dc.SendText(string(data)); err != nil {
		log.Printf("[%s] control send error: %v", s.id, err)
	}
}

func (s *roomSession) close() {
	s.closeOnce.Do(s.teardown)
}

// attachSession builds the full audio and control pipeline for one room and
// binds it to the peer connection's callbacks.
func (h *Handler) attachSession(pc *webrtc.PeerConnection, outTrack *webrtc.TrackLocalStaticSample, roomID string) (*roomSession, error) {
	paced, err := NewPacedOpusSink(outTrack)
	if err != nil {
		return nil, err
	}

	sess := &roomSession{
		id:         roomID,
		paced:      paced,
		trackReady: make(chan struct{}),
		denied:     make(chan struct{}),
	}

	var ctrl *interview.Controller
	player := playback.NewSinkPlayer(paced, 48000)
	sched := playback.NewScheduler(player, func() { ctrl.SchedulerIdle() })

	var synth interview.Synthesizer
	var closeSynth func()
	if strings.EqualFold(h.cfg.TTSBackend, "deepgram") {
		synth = synthesis.NewDeepgram(h.cfg.DeepgramKey, h.cfg.DeepgramTTSModel)
		closeSynth = func() {}
	} else {
		ch := synthesis.NewChannel(h.cfg.SpeechWSURL, synthesis.VoiceOptions{
			Voice:    h.cfg.SynthVoice,
			Language: h.cfg.SynthLanguage,
			Speed:    h.cfg.SynthSpeed,
		})
		synth = ch
		closeSynth = func() { _ = ch.Close() }
	}

	factory := func() interview.Transcriber {
		return transcribe.NewChannel(h.cfg.TranscribeWSURL, h.cfg.SynthLanguage)
	}

	api := backend.NewClient(h.cfg.BackendBaseURL)
	ctrl = interview.New(synth, factory, sched, api, sess, interview.Options{
		RoomID:           roomID,
		QuietInterval:    time.Duration(h.cfg.SilenceWindowMs) * time.Millisecond,
		QuestionDuration: time.Duration(h.cfg.QuestionSeconds) * time.Second,
		OnState: func(st interview.State) {
			sess.sendStatus(statusMessage{Type: "state", State: st.Phase.String(), Question: st.Question})
		},
		OnTranscript: func(q int, acc string) {
			sess.sendStatus(statusMessage{Type: "transcript", Question: q, Transcript: acc})
		},
		OnRemaining: func(seconds int) {
			sess.sendStatus(statusMessage{Type: "remaining", Remaining: seconds})
		},
		OnAnalysis: func(a backend.Analysis) {
			sess.sendStatus(statusMessage{Type: "analysis", Analysis: &a})
		},
		OnError: func(err error) {
			sess.sendStatus(statusMessage{Type: "error", Error: err.Error()})
		},
	})
	sess.ctrl = ctrl
	cancel := ctrl.Start(context.Background())
	sess.teardown = func() {
		cancel()
		sched.Close()
		paced.Close()
		closeSynth()
	}

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		log.Printf("[%s] ICE state: %s", roomID, state.String())
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("[%s] PeerConnection state: %s", roomID, state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			sess.close()
			_ = pc.Close()
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != "control" {
			return
		}
		log.Printf("[%s] Control channel opened", roomID)
		sess.setControl(dc)
		dc.OnOpen(func() {
			st := ctrl.State()
			sess.sendStatus(statusMessage{Type: "state", State: st.Phase.String(), Question: st.Question})
			// room metadata for the header the browser renders
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				details, err := api.Details(ctx, roomID)
				if err != nil {
					log.Printf("[%s] fetch details: %v", roomID, err)
					return
				}
				sess.sendStatus(statusMessage{Type: "details", Details: &details})
			}()
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			var cmd controlCommand
			if err := json.Unmarshal(msg.Data, &cmd); err != nil {
				log.Printf("[%s] bad control message: %v", roomID, err)
				return
			}
			switch strings.ToLower(cmd.Type) {
			case "start":
				ctrl.Begin()
			case "next":
				ctrl.Next()
			case "retry":
				ctrl.Retry()
			case "media-denied":
				sess.deniedOnce.Do(func() { close(sess.denied) })
			default:
				log.Printf("[%s] unknown control command %q", roomID, cmd.Type)
			}
		})
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		log.Printf("[%s] Remote audio track received: codec=%s", roomID, remote.Codec().MimeType)
		sess.readyOnce.Do(func() { close(sess.trackReady) })

		dec, derr := opus.NewDecoder(micSampleRate, 1)
		if derr != nil {
			log.Printf("[%s] Opus decoder error: %v", roomID, derr)
			return
		}
		go sess.pumpMicrophone(remote, dec)
	})

	return sess, nil
}

const (
	micSampleRate = 16000
	// 100ms of 16kHz 16-bit mono per transcription frame
	micChunkBytes = 3200
)

// pumpMicrophone decodes inbound Opus packets to 16kHz PCM and forwards
// fixed-size frames to the active transcription channel.
func (s *roomSession) pumpMicrophone(remote *webrtc.TrackRemote, dec *opus.Decoder) {
	pcmBuf := make([]byte, 0, micChunkBytes*4)
	samples := make([]int16, 1920)
	for {
		pkt, _, readErr := remote.ReadRTP()
		if readErr != nil {
			log.Printf("[%s] RTP read ended: %v", s.id, readErr)
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, decErr := dec.Decode(pkt.Payload, samples)
		if decErr != nil {
			log.Printf("[%s] Opus decode error: %v", s.id, decErr)
			continue
		}
		startLen := len(pcmBuf)
		need := n * 2
		if cap(pcmBuf)-startLen < need {
			tmp := make([]byte, startLen, startLen+need+micChunkBytes)
			copy(tmp, pcmBuf)
			pcmBuf = tmp
		}
		pcmBuf = pcmBuf[:startLen+need]
		o := pcmBuf[startLen:]
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(o[i*2:(i+1)*2], uint16(samples[i]))
		}
		for len(pcmBuf) >= micChunkBytes {
			// the frame outlives this loop iteration, so it must be a copy
			frame := make([]byte, micChunkBytes)
			copy(frame, pcmBuf[:micChunkBytes])
			s.ctrl.FeedAudio(frame)
			copy(pcmBuf, pcmBuf[micChunkBytes:])
			pcmBuf = pcmBuf[:len(pcmBuf)-micChunkBytes]
		}
	}
}

func parseICEServers(iceJSON string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if err := json.Unmarshal([]byte(iceJSON), &servers); err == nil && len(servers) > 0 {
		return servers
	}
	return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
}
