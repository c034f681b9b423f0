package rtc

import (
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v3/pkg/media"
)

// sampleWriter is the slice of a WebRTC local track the sink needs.
type sampleWriter interface {
	WriteSample(s media.Sample) error
}

// PacedOpusSink encodes 48kHz mono PCM to Opus frames and writes them to a
// WebRTC track at real-time pace, one 20ms frame per tick. It implements
// playback.Sink, so the playback scheduler can drive it directly.
type PacedOpusSink struct {
	enc          *opus.Encoder
	track        sampleWriter
	pcmBuf       []int16
	frameSamples int
	frames       chan []byte
	stopCh       chan struct{}
	stopped      bool
	mu           sync.Mutex
}

// NewPacedOpusSink constructs a sink producing 20ms frames at 48kHz mono.
func NewPacedOpusSink(track sampleWriter) (*PacedOpusSink, error) {
	enc, err := opus.NewEncoder(48000, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	s := &PacedOpusSink{
		enc:          enc,
		track:        track,
		frameSamples: 960, // 20ms at 48kHz
		frames:       make(chan []byte, 512),
		stopCh:       make(chan struct{}),
	}
	go s.pacer()
	return s, nil
}

// WritePCM buffers little-endian 16-bit mono samples and emits every full
// Opus frame onto the paced queue.
func (s *PacedOpusSink) WritePCM(pcmBytes []byte) {
	if len(pcmBytes) < 2 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	need := len(pcmBytes) / 2
	startLen := len(s.pcmBuf)
	if cap(s.pcmBuf)-startLen < need {
		tmp := make([]int16, startLen, startLen+need+2048)
		copy(tmp, s.pcmBuf)
		s.pcmBuf = tmp
	}
	s.pcmBuf = s.pcmBuf[:startLen+need]
	for i := 0; i < need; i++ {
		s.pcmBuf[startLen+i] = int16(uint16(pcmBytes[2*i]) | uint16(pcmBytes[2*i+1])<<8)
	}

	opusBuf := make([]byte, 4000)
	for len(s.pcmBuf) >= s.frameSamples {
		frame := s.pcmBuf[:s.frameSamples]
		n, _ := s.enc.Encode(frame, opusBuf)
		if n > 0 {
			pkt := make([]byte, n)
			copy(pkt, opusBuf[:n])
			s.pushFrame(pkt)
		}
		copy(s.pcmBuf, s.pcmBuf[s.frameSamples:])
		s.pcmBuf = s.pcmBuf[:len(s.pcmBuf)-s.frameSamples]
	}
}

// FlushTail pads the remaining PCM to a full frame and appends a short
// silence tail so the end of an utterance is not clipped.
func (s *PacedOpusSink) FlushTail() {
	s.mu.Lock()
	opusBuf := make([]byte, 4000)
	if len(s.pcmBuf) > 0 {
		pad := make([]int16, s.frameSamples)
		copy(pad, s.pcmBuf)
		n, _ := s.enc.Encode(pad, opusBuf)
		if n > 0 {
			pkt := make([]byte, n)
			copy(pkt, opusBuf[:n])
			s.pushFrame(pkt)
		}
		s.pcmBuf = s.pcmBuf[:0]
	}
	s.mu.Unlock()
	// ~200ms of silence (10 frames)
	silence := make([]int16, s.frameSamples)
	for i := 0; i < 10; i++ {
		n, _ := s.enc.Encode(silence, opusBuf)
		if n > 0 {
			pkt := make([]byte, n)
			copy(pkt, opusBuf[:n])
			s.pushFrame(pkt)
		}
	}
}

// Reset drops every queued frame and the partial-frame remainder, so a
// preempted question stops sounding within one pacer tick.
func (s *PacedOpusSink) Reset() {
	s.mu.Lock()
	for {
		select {
		case <-s.frames:
		default:
			s.pcmBuf = s.pcmBuf[:0]
			s.mu.Unlock()
			return
		}
	}
}

// Close stops the pacer goroutine.
func (s *PacedOpusSink) Close() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stopCh)
	}
	s.mu.Unlock()
}

func (s *PacedOpusSink) pacer() {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			select {
			case frame := <-s.frames:
				_ = s.track.WriteSample(media.Sample{Data: frame, Duration: 20 * time.Millisecond})
			default:
			}
		}
	}
}

// pushFrame enqueues a frame, blocking until space is available or stopped.
func (s *PacedOpusSink) pushFrame(pkt []byte) {
	select {
	case <-s.stopCh:
	case s.frames <- pkt:
	}
}
