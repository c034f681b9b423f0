package interview

import (
	"context"
	"errors"

	"github.com/chinnasivakrishna/auriter-agent/internal/backend"
	"github.com/chinnasivakrishna/auriter-agent/internal/playback"
	"github.com/chinnasivakrishna/auriter-agent/internal/transcribe"
)

// Synthesizer streams synthesized speech for one utterance: zero or more PCM
// chunks followed by channel close, or a terminal error.
type Synthesizer interface {
	Speak(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

// Transcriber is a live speech-to-text channel. The controller opens a fresh
// one per question and never reuses a stopped channel.
type Transcriber interface {
	Start() error
	Send(frame []byte) error
	Events() <-chan transcribe.Event
	Err() <-chan error
	Stop() error
}

// TranscriberFactory builds a fresh transcription channel.
type TranscriberFactory func() Transcriber

// Backend is the interview platform REST API.
type Backend interface {
	Questions(ctx context.Context, roomID string) ([]string, error)
	SubmitResponse(ctx context.Context, roomID, question, response string) error
	Analyze(ctx context.Context, roomID string, questions, answers []string) (backend.Analysis, error)
}

// Media owns the candidate's camera and microphone handles. Acquire blocks
// until media is available (or fails with ErrPermissionDenied /
// ErrDeviceUnavailable); Release must be safe to call more than once.
type Media interface {
	Acquire(ctx context.Context) error
	Release()
}

// Scheduler is the sequential audio playback queue.
type Scheduler interface {
	Enqueue(seg playback.Segment)
	Reset()
	Playing() bool
	Pending() int
}

// Session-start failures surfaced to the user with a retry path.
var (
	ErrPermissionDenied  = errors.New("camera or microphone permission denied")
	ErrDeviceUnavailable = errors.New("no camera or microphone available")
	ErrNoQuestions       = errors.New("no questions configured for this interview")
)

// Phase is the controller's lifecycle position.
type Phase int

const (
	NotStarted Phase = iota
	PermissionsPending
	Speaking
	Listening
	Advancing
	Submitting
	Analyzing
	Complete
	Failed
)

func (p Phase) String() string {
	switch p {
	case NotStarted:
		return "not_started"
	case PermissionsPending:
		return "permissions_pending"
	case Speaking:
		return "speaking"
	case Listening:
		return "listening"
	case Advancing:
		return "advancing"
	case Submitting:
		return "submitting"
	case Analyzing:
		return "analyzing"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// State is the tagged session state: the phase plus, where relevant, the
// active question index. Speaking and Listening are mutually exclusive by
// construction.
type State struct {
	Phase    Phase
	Question int
}
