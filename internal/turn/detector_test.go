package turn

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDetector_FiresOnceAfterQuietInterval(t *testing.T) {
	fired := make(chan string, 2)
	d := NewDetector(50*time.Millisecond, func(text string) { fired <- text })
	d.Arm()
	d.Observe("I am a")
	time.Sleep(20 * time.Millisecond)
	d.Observe("I am a backend engineer")

	start := time.Now()
	select {
	case text := <-fired:
		if text != "I am a backend engineer" {
			t.Fatalf("expected last accumulated text, got %q", text)
		}
		if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
			t.Fatalf("fired too early: %v", elapsed)
		}
	case <-time.After(time.Second):
		t.Fatalf("detector never fired")
	}
	// dormant until re-armed: no second fire, and Observe is ignored
	d.Observe("more talking")
	select {
	case <-fired:
		t.Fatalf("detector fired twice in one armed period")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDetector_ObserveResetsTimer(t *testing.T) {
	fired := make(chan string, 1)
	d := NewDetector(80*time.Millisecond, func(text string) { fired <- text })
	d.Arm()
	// keep talking faster than the quiet interval
	for i := 0; i < 4; i++ {
		time.Sleep(40 * time.Millisecond)
		d.Observe("still talking")
		select {
		case <-fired:
			t.Fatalf("fired while transcript was still active")
		default:
		}
	}
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("detector never fired after talking stopped")
	}
}

func TestDetector_CancelDisarmsWithoutFiring(t *testing.T) {
	var fires int32
	d := NewDetector(30*time.Millisecond, func(string) { atomic.AddInt32(&fires, 1) })
	d.Arm()
	d.Observe("something")
	d.Cancel()
	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&fires) != 0 {
		t.Fatalf("cancelled detector fired")
	}
	// re-arming works after cancel
	d.Arm()
	d.Observe("again")
	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&fires) != 1 {
		t.Fatalf("expected exactly one fire after re-arm, got %d", fires)
	}
}

func TestDetector_NeverFiresWithoutSpeech(t *testing.T) {
	var fires int32
	d := NewDetector(30*time.Millisecond, func(string) { atomic.AddInt32(&fires, 1) })
	d.Arm()
	time.Sleep(120 * time.Millisecond)
	if atomic.LoadInt32(&fires) != 0 {
		t.Fatalf("detector fired with no observed speech")
	}
	// empty observations do not count as speech either
	d.Observe("")
	time.Sleep(120 * time.Millisecond)
	if atomic.LoadInt32(&fires) != 0 {
		t.Fatalf("detector fired after an empty observation")
	}
	// real speech starts the quiet timer as usual
	d.Observe("finally talking")
	time.Sleep(120 * time.Millisecond)
	if atomic.LoadInt32(&fires) != 1 {
		t.Fatalf("expected one fire after speech, got %d", fires)
	}
}

func TestQuestionTimer_ExpiresOnceAndDisarms(t *testing.T) {
	ticks := make(chan int, 16)
	expired := make(chan struct{}, 2)
	qt := NewQuestionTimer(3*time.Second, func(r int) { ticks <- r }, func() { expired <- struct{}{} })
	qt.interval = time.Millisecond
	qt.Start()

	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatalf("timer never expired")
	}
	if qt.Remaining() != 0 {
		t.Fatalf("expected zero remaining, got %d", qt.Remaining())
	}
	select {
	case <-expired:
		t.Fatalf("expired fired twice")
	case <-time.After(50 * time.Millisecond):
	}
	// observed a descending tick sequence
	last := 1 << 30
	for {
		select {
		case r := <-ticks:
			if r > last {
				t.Fatalf("remaining increased: %d after %d", r, last)
			}
			last = r
		default:
			return
		}
	}
}

func TestQuestionTimer_StopDisarms(t *testing.T) {
	expired := make(chan struct{}, 1)
	qt := NewQuestionTimer(2*time.Second, nil, func() { expired <- struct{}{} })
	qt.interval = time.Millisecond
	qt.Start()
	qt.Stop()
	select {
	case <-expired:
		t.Fatalf("stopped timer expired")
	case <-time.After(50 * time.Millisecond):
	}
	// stop twice is safe
	qt.Stop()
}
