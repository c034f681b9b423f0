// Package turn implements pause-based turn taking for the interview: a
// silence detector that decides when the candidate has finished answering,
// and the per-question countdown.
package turn

import (
	"sync"
	"time"
)

// DefaultQuietInterval is how long transcription must stay quiet before an
// answer is considered complete.
const DefaultQuietInterval = 2 * time.Second

// Detector fires its callback once per armed period after a quiet interval
// passes with no observed transcript activity, then goes dormant until
// re-armed. The callback carries the last accumulated text it observed.
// The quiet timer only runs once speech has actually been observed: a
// candidate who never says anything is never timed out by silence alone,
// the question countdown and the explicit next command are the backstops.
type Detector struct {
	quiet time.Duration
	fire  func(text string)

	mu    sync.Mutex
	armed bool
	timer *time.Timer
	text  string
}

func NewDetector(quiet time.Duration, fire func(text string)) *Detector {
	if quiet <= 0 {
		quiet = DefaultQuietInterval
	}
	return &Detector{quiet: quiet, fire: fire}
}

// Arm begins a new turn. The quiet timer stays idle until the first Observe,
// so an armed turn with no speech never ends on silence.
func (d *Detector) Arm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = true
	d.text = ""
	if d.timer != nil {
		_ = d.timer.Stop()
	}
}

// Observe notes fresh transcript activity and postpones the turn end.
// The accumulated text replaces whatever was observed before; empty
// observations are ignored and do not start the quiet timer.
func (d *Detector) Observe(accumulated string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.armed || accumulated == "" {
		return
	}
	d.text = accumulated
	d.reset()
}

// Cancel disarms the detector without firing.
func (d *Detector) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = false
	if d.timer != nil {
		_ = d.timer.Stop()
		d.timer = nil
	}
}

// reset must be called with d.mu held.
func (d *Detector) reset() {
	if d.timer == nil {
		d.timer = time.AfterFunc(d.quiet, d.elapsed)
		return
	}
	_ = d.timer.Stop()
	d.timer.Reset(d.quiet)
}

func (d *Detector) elapsed() {
	d.mu.Lock()
	if !d.armed || d.text == "" {
		d.mu.Unlock()
		return
	}
	d.armed = false
	text := d.text
	d.mu.Unlock()
	if d.fire != nil {
		d.fire(text)
	}
}
