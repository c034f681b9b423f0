package playback

import (
	"context"
	"time"
)

// Sink consumes PCM bytes and performs delivery (e.g. Opus encode onto a
// WebRTC track). Implementations buffer internally and pace delivery.
type Sink interface {
	WritePCM(pcm []byte)
	FlushTail()
	// Reset drops any queued frames immediately (used when playback is preempted).
	Reset()
}

// SinkPlayer plays a segment by writing its PCM to a Sink and blocking for
// the real-time duration of the audio (16-bit mono at SampleRate).
type SinkPlayer struct {
	Sink       Sink
	SampleRate int
}

func NewSinkPlayer(sink Sink, sampleRate int) *SinkPlayer {
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	return &SinkPlayer{Sink: sink, SampleRate: sampleRate}
}

func (p *SinkPlayer) Play(ctx context.Context, seg Segment) error {
	if len(seg.PCM) < 2 {
		return nil
	}
	p.Sink.WritePCM(seg.PCM)
	p.Sink.FlushTail()

	samples := len(seg.PCM) / 2
	dur := time.Duration(samples) * time.Second / time.Duration(p.SampleRate)
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		p.Sink.Reset()
		return ctx.Err()
	}
}
