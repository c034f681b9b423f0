package turn

import (
	"sync"
	"time"
)

// DefaultQuestionDuration bounds how long the candidate may answer one question.
const DefaultQuestionDuration = 120 * time.Second

// QuestionTimer is a per-question countdown. It ticks once per second while
// armed, reports the remaining seconds for UI display, and fires Expired
// exactly once when it reaches zero, disarming itself.
type QuestionTimer struct {
	onTick    func(remaining int)
	onExpired func()
	interval  time.Duration

	mu        sync.Mutex
	remaining int
	stopCh    chan struct{}
	running   bool
}

func NewQuestionTimer(d time.Duration, onTick func(int), onExpired func()) *QuestionTimer {
	if d <= 0 {
		d = DefaultQuestionDuration
	}
	return &QuestionTimer{
		onTick:    onTick,
		onExpired: onExpired,
		interval:  time.Second,
		remaining: int(d / time.Second),
	}
}

// Start arms the countdown. Starting an already-running timer is a no-op.
func (t *QuestionTimer) Start() {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.stopCh = make(chan struct{})
	stopCh := t.stopCh
	t.mu.Unlock()
	go t.run(stopCh)
}

// Remaining returns the seconds left on the countdown.
func (t *QuestionTimer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// Stop disarms the countdown without firing Expired.
func (t *QuestionTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.running = false
	close(t.stopCh)
}

func (t *QuestionTimer) run(stopCh chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			t.mu.Lock()
			if !t.running {
				t.mu.Unlock()
				return
			}
			t.remaining--
			remaining := t.remaining
			if remaining <= 0 {
				t.running = false
			}
			t.mu.Unlock()

			if t.onTick != nil {
				t.onTick(remaining)
			}
			if remaining <= 0 {
				if t.onExpired != nil {
					t.onExpired()
				}
				return
			}
		}
	}
}
