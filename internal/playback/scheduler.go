package playback

import (
	"context"
	"errors"
	"log"
	"sync"
)

// Segment is one independently playable unit of synthesized audio.
// Epoch tags the synthesis channel generation that produced it so stale
// audio from a superseded question can be recognized upstream.
type Segment struct {
	Epoch uint64
	PCM   []byte
}

// Player performs the actual delivery of one segment and blocks until the
// segment has finished playing (or the context is cancelled).
type Player interface {
	Play(ctx context.Context, seg Segment) error
}

// Scheduler owns a FIFO queue of segments and guarantees they play
// back-to-back, never overlapping. A single loop goroutine is the only
// caller of Player.Play, which is the whole of the no-overlap invariant.
type Scheduler struct {
	player Player
	onIdle func()

	mu      sync.Mutex
	queue   []Segment
	playing bool
	cancel  context.CancelFunc
	closed  bool

	kick   chan struct{}
	stopCh chan struct{}
}

// NewScheduler constructs a scheduler. onIdle is invoked from the playback
// goroutine each time the queue drains after at least one segment played;
// it is not invoked after Reset.
func NewScheduler(p Player, onIdle func()) *Scheduler {
	s := &Scheduler{
		player: p,
		onIdle: onIdle,
		kick:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
	go s.loop()
	return s
}

// Enqueue appends a segment to the tail of the queue. If nothing is playing
// the segment starts immediately.
func (s *Scheduler) Enqueue(seg Segment) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, seg)
	s.mu.Unlock()
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Reset discards all queued segments and cancels the currently-playing one
// without raising an idle signal. Calling Reset on an already-empty
// scheduler is a no-op.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.queue = nil
	s.playing = false
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Playing reports whether a segment is currently being played.
func (s *Scheduler) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Pending reports how many segments wait in the queue.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close stops the playback loop and cancels any in-flight segment.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	cancel := s.cancel
	close(s.stopCh)
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Scheduler) loop() {
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.kick:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				wasPlaying := s.playing
				s.playing = false
				s.mu.Unlock()
				if wasPlaying && s.onIdle != nil {
					s.onIdle()
				}
				break
			}
			seg := s.queue[0]
			s.queue = s.queue[1:]
			s.playing = true
			ctx, cancel := context.WithCancel(context.Background())
			s.cancel = cancel
			s.mu.Unlock()

			err := s.player.Play(ctx, seg)
			cancel()

			s.mu.Lock()
			s.cancel = nil
			s.mu.Unlock()
			if err != nil && !errors.Is(err, context.Canceled) {
				// Decode/delivery failures do not abort the queue; move on.
				log.Printf("playback: segment (epoch %d) failed: %v", seg.Epoch, err)
			}
			select {
			case <-s.stopCh:
				return
			default:
			}
		}
	}
}
