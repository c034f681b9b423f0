// Package interview runs one interview session end to end: it fetches the
// question list, speaks each question aloud, listens for the candidate's
// spoken answer, advances on silence or explicit command, and finally submits
// every answer and requests the analysis report.
//
// All state transitions happen on a single event-loop goroutine; blocking
// work (media acquisition, REST calls, synthesis streams) runs on short-lived
// helper goroutines that report back through the event channel. Stale
// deliveries from superseded questions are discarded by epoch checks.
package interview

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/chinnasivakrishna/auriter-agent/internal/backend"
	"github.com/chinnasivakrishna/auriter-agent/internal/playback"
	"github.com/chinnasivakrishna/auriter-agent/internal/transcribe"
	"github.com/chinnasivakrishna/auriter-agent/internal/turn"
)

// failed stage markers for Retry.
type stage int

const (
	stageNone stage = iota
	stageQuestions
	stageSubmit
	stageAnalyze
)

// Options carries per-session identity, tuning knobs and observer callbacks.
// All callbacks are invoked from the controller's event loop and must not
// block; nil callbacks are skipped.
type Options struct {
	RoomID           string
	QuietInterval    time.Duration
	QuestionDuration time.Duration

	OnState      func(State)
	OnTranscript func(question int, accumulated string)
	OnRemaining  func(seconds int)
	OnAnalysis   func(backend.Analysis)
	OnError      func(error)
}

// Controller drives one interview session. Create with New, start with
// Start, then issue Begin / Next / Retry from any goroutine.
type Controller struct {
	synth  Synthesizer
	newTr  TranscriberFactory
	sched  Scheduler
	api    Backend
	media  Media
	opts   Options
	events chan event

	mu       sync.Mutex
	ctx      context.Context
	state    State
	answers  []string
	analysis *backend.Analysis
	feedTr   Transcriber
	released bool

	// owned by the event loop
	questions   []string
	speakEpoch  uint64
	listenEpoch uint64
	synthDone   bool
	tr          Transcriber
	detector    *turn.Detector
	qtimer      *turn.QuestionTimer
	failedStage stage
}

type event interface{}

type (
	cmdBegin struct{}
	cmdNext  struct{}
	cmdRetry struct{}

	evMedia      struct{ err error }
	evQuestions  struct {
		questions []string
		err       error
	}
	evSegment struct {
		epoch uint64
		pcm   []byte
	}
	evSynthDone struct {
		epoch uint64
		err   error
	}
	evIdle       struct{}
	evTranscript struct {
		epoch uint64
		ev    transcribe.Event
	}
	evTranscriberErr struct {
		epoch uint64
		err   error
	}
	evTurnComplete struct{ epoch uint64 }
	evExpired      struct{ epoch uint64 }
	evRemaining    struct{ seconds int }
	evSubmitted    struct{ err error }
	evAnalyzed     struct {
		analysis backend.Analysis
		err      error
	}
)

// New wires a controller. The scheduler's idle callback must be routed to
// SchedulerIdle by the caller.
func New(synth Synthesizer, newTr TranscriberFactory, sched Scheduler, api Backend, media Media, opts Options) *Controller {
	if opts.QuietInterval <= 0 {
		opts.QuietInterval = turn.DefaultQuietInterval
	}
	if opts.QuestionDuration <= 0 {
		opts.QuestionDuration = turn.DefaultQuestionDuration
	}
	return &Controller{
		synth:  synth,
		newTr:  newTr,
		sched:  sched,
		api:    api,
		media:  media,
		opts:   opts,
		events: make(chan event, 128),
		state:  State{Phase: NotStarted},
	}
}

// Start launches the event loop. The returned function cancels the session
// and releases every held resource.
func (c *Controller) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
	go c.run(ctx)
	return cancel
}

// Begin starts the session: media acquisition, question fetch, then the
// first question. Ignored unless the session has not started yet.
func (c *Controller) Begin() { c.post(cmdBegin{}) }

// Next ends the current answer immediately and advances. Ignored outside
// the listening phase.
func (c *Controller) Next() { c.post(cmdNext{}) }

// Retry re-runs the stage that moved the session into Failed.
func (c *Controller) Retry() { c.post(cmdRetry{}) }

// SchedulerIdle reports that the playback queue drained. Wire it as the
// scheduler's idle callback.
func (c *Controller) SchedulerIdle() { c.post(evIdle{}) }

// FeedAudio forwards one captured microphone frame to the transcription
// channel of the active question. Frames outside the listening phase are
// dropped. Safe to call from the media capture goroutine.
func (c *Controller) FeedAudio(frame []byte) {
	c.mu.Lock()
	tr := c.feedTr
	c.mu.Unlock()
	if tr != nil {
		_ = tr.Send(frame)
	}
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Answers returns a copy of the accumulated answers, indexed by question.
func (c *Controller) Answers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.answers))
	copy(out, c.answers)
	return out
}

// Analysis returns the final report, or nil before the session completes.
func (c *Controller) Analysis() *backend.Analysis {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.analysis
}

func (c *Controller) post(ev event) {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	if ctx == nil {
		return
	}
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

func (c *Controller) run(ctx context.Context) {
	defer c.release()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

func (c *Controller) handle(ctx context.Context, ev event) {
	switch ev := ev.(type) {
	case cmdBegin:
		if c.State().Phase != NotStarted {
			return
		}
		c.setState(State{Phase: PermissionsPending})
		go func() {
			err := c.media.Acquire(ctx)
			c.post(evMedia{err: err})
		}()

	case evMedia:
		if c.State().Phase != PermissionsPending {
			return
		}
		if ev.err != nil {
			c.reportErr(ev.err)
			// back to the start screen so the user can fix permissions
			// and press begin again
			c.setState(State{Phase: NotStarted})
			return
		}
		c.fetchQuestions(ctx)

	case evQuestions:
		if c.State().Phase != PermissionsPending {
			return
		}
		if ev.err != nil {
			c.fail(stageQuestions, fmt.Errorf("fetch questions: %w", ev.err))
			return
		}
		if len(ev.questions) == 0 {
			c.fail(stageNone, ErrNoQuestions)
			return
		}
		c.questions = ev.questions
		c.mu.Lock()
		c.answers = make([]string, len(ev.questions))
		c.mu.Unlock()
		c.speakQuestion(ctx, 0)

	case evSegment:
		if ev.epoch != c.speakEpoch || c.State().Phase != Speaking {
			return
		}
		c.sched.Enqueue(playback.Segment{Epoch: ev.epoch, PCM: ev.pcm})

	case evSynthDone:
		if ev.epoch != c.speakEpoch || c.State().Phase != Speaking {
			return
		}
		if ev.err != nil {
			c.reportErr(fmt.Errorf("synthesis failed: %w", ev.err))
		}
		c.synthDone = true
		if !c.sched.Playing() && c.sched.Pending() == 0 {
			c.startListening(ctx)
		}

	case evIdle:
		if c.State().Phase == Speaking && c.synthDone {
			c.startListening(ctx)
		}

	case evTranscript:
		st := c.State()
		if ev.epoch != c.listenEpoch || st.Phase != Listening {
			return
		}
		text := strings.TrimSpace(ev.ev.Text)
		if text == "" {
			return
		}
		c.mu.Lock()
		if c.answers[st.Question] == "" {
			c.answers[st.Question] = text
		} else {
			c.answers[st.Question] += " " + text
		}
		acc := c.answers[st.Question]
		c.mu.Unlock()
		if c.detector != nil {
			c.detector.Observe(acc)
		}
		if c.opts.OnTranscript != nil {
			c.opts.OnTranscript(st.Question, acc)
		}

	case evTranscriberErr:
		if ev.epoch != c.listenEpoch || c.State().Phase != Listening {
			return
		}
		// the answer so far is kept; silence or an explicit next still
		// advances the session
		c.reportErr(fmt.Errorf("transcription channel: %w", ev.err))

	case evTurnComplete:
		if ev.epoch == c.listenEpoch && c.State().Phase == Listening {
			c.advance(ctx)
		}

	case evExpired:
		if ev.epoch == c.listenEpoch && c.State().Phase == Listening {
			c.advance(ctx)
		}

	case cmdNext:
		if c.State().Phase == Listening {
			c.advance(ctx)
		}

	case evRemaining:
		if c.opts.OnRemaining != nil {
			c.opts.OnRemaining(ev.seconds)
		}

	case evSubmitted:
		if c.State().Phase != Submitting {
			return
		}
		if ev.err != nil {
			c.fail(stageSubmit, ev.err)
			return
		}
		c.analyze(ctx)

	case evAnalyzed:
		if c.State().Phase != Analyzing {
			return
		}
		if ev.err != nil {
			c.fail(stageAnalyze, fmt.Errorf("analyze interview: %w", ev.err))
			return
		}
		a := ev.analysis
		c.mu.Lock()
		c.analysis = &a
		c.mu.Unlock()
		if c.opts.OnAnalysis != nil {
			c.opts.OnAnalysis(a)
		}
		c.setState(State{Phase: Complete, Question: len(c.questions) - 1})
		c.release()

	case cmdRetry:
		if c.State().Phase != Failed {
			return
		}
		switch c.failedStage {
		case stageQuestions:
			c.setState(State{Phase: PermissionsPending})
			c.fetchQuestions(ctx)
		case stageSubmit:
			c.submit(ctx)
		case stageAnalyze:
			c.analyze(ctx)
		}
	}
}

func (c *Controller) fetchQuestions(ctx context.Context) {
	go func() {
		qs, err := c.api.Questions(ctx, c.opts.RoomID)
		c.post(evQuestions{questions: qs, err: err})
	}()
}

// speakQuestion enters Speaking(i) and streams synthesized audio into the
// playback queue. A new speak epoch fences off chunks from any superseded
// synthesis request.
func (c *Controller) speakQuestion(ctx context.Context, i int) {
	c.setState(State{Phase: Speaking, Question: i})
	c.sched.Reset()
	c.speakEpoch++
	c.synthDone = false
	epoch := c.speakEpoch
	text := c.questions[i]
	go func() {
		pcmCh, errCh := c.synth.Speak(ctx, text)
		var synthErr error
		for pcmCh != nil || errCh != nil {
			select {
			case pcm, ok := <-pcmCh:
				if !ok {
					pcmCh = nil
					continue
				}
				c.post(evSegment{epoch: epoch, pcm: pcm})
			case err, ok := <-errCh:
				if !ok {
					errCh = nil
					continue
				}
				if err != nil {
					synthErr = err
				}
			case <-ctx.Done():
				return
			}
		}
		c.post(evSynthDone{epoch: epoch, err: synthErr})
	}()
}

// startListening enters Listening for the current question: fresh
// transcription channel, fresh silence detector, fresh countdown.
func (c *Controller) startListening(ctx context.Context) {
	i := c.State().Question
	c.listenEpoch++
	epoch := c.listenEpoch

	tr := c.newTr()
	if err := tr.Start(); err != nil {
		// no live transcript for this question, but the countdown and the
		// next command keep the session moving
		c.reportErr(fmt.Errorf("transcription unavailable: %w", err))
		tr = nil
	}
	c.tr = tr
	c.mu.Lock()
	c.feedTr = tr
	c.mu.Unlock()

	if tr != nil {
		go func() {
			for ev := range tr.Events() {
				c.post(evTranscript{epoch: epoch, ev: ev})
			}
		}()
		go func() {
			for err := range tr.Err() {
				c.post(evTranscriberErr{epoch: epoch, err: err})
			}
		}()
	}

	c.detector = turn.NewDetector(c.opts.QuietInterval, func(string) {
		c.post(evTurnComplete{epoch: epoch})
	})
	c.detector.Arm()

	c.qtimer = turn.NewQuestionTimer(c.opts.QuestionDuration,
		func(remaining int) { c.post(evRemaining{seconds: remaining}) },
		func() { c.post(evExpired{epoch: epoch}) },
	)
	c.qtimer.Start()

	c.setState(State{Phase: Listening, Question: i})
}

// advance freezes the current answer, tears down the listening apparatus and
// moves to the next question or, after the last one, to submission.
func (c *Controller) advance(ctx context.Context) {
	i := c.State().Question
	c.setState(State{Phase: Advancing, Question: i})
	c.stopListening()
	if i+1 < len(c.questions) {
		c.speakQuestion(ctx, i+1)
		return
	}
	c.submit(ctx)
}

func (c *Controller) stopListening() {
	if c.detector != nil {
		c.detector.Cancel()
		c.detector = nil
	}
	if c.qtimer != nil {
		c.qtimer.Stop()
		c.qtimer = nil
	}
	c.mu.Lock()
	c.feedTr = nil
	c.mu.Unlock()
	if c.tr != nil {
		tr := c.tr
		c.tr = nil
		// Stop only waits for the channel's own socket loops, never on
		// this event loop, so stopping in place is safe and keeps at
		// most one transcription channel open at a time
		if err := tr.Stop(); err != nil {
			log.Printf("interview: transcriber stop: %v", err)
		}
	}
}

func (c *Controller) submit(ctx context.Context) {
	last := len(c.questions) - 1
	c.setState(State{Phase: Submitting, Question: last})
	questions := c.questions
	answers := c.Answers()
	go func() {
		var err error
		for idx := range questions {
			if err = c.api.SubmitResponse(ctx, c.opts.RoomID, questions[idx], answers[idx]); err != nil {
				err = fmt.Errorf("submit answer %d: %w", idx, err)
				break
			}
		}
		c.post(evSubmitted{err: err})
	}()
}

func (c *Controller) analyze(ctx context.Context) {
	last := len(c.questions) - 1
	c.setState(State{Phase: Analyzing, Question: last})
	questions := c.questions
	answers := c.Answers()
	go func() {
		a, err := c.api.Analyze(ctx, c.opts.RoomID, questions, answers)
		c.post(evAnalyzed{analysis: a, err: err})
	}()
}

// fail parks the session in Failed with the answers intact so an explicit
// retry can re-run the stage that broke.
func (c *Controller) fail(s stage, err error) {
	st := c.State()
	c.failedStage = s
	c.reportErr(err)
	c.stopListening()
	c.sched.Reset()
	c.setState(State{Phase: Failed, Question: st.Question})
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}

func (c *Controller) reportErr(err error) {
	log.Printf("interview: %v", err)
	if c.opts.OnError != nil {
		c.opts.OnError(err)
	}
}

// release tears down everything the session holds. Called once on session
// completion or cancellation; later calls are no-ops.
func (c *Controller) release() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.released = true
	c.mu.Unlock()

	c.stopListening()
	c.sched.Reset()
	if c.media != nil {
		c.media.Release()
	}
}
