package synthesis

import (
	"context"
	"strings"
	"testing"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
)

func streamHarness(idle, deadline time.Duration) (*Deepgram, chan []byte, chan error, chan []byte, chan error) {
	d := NewDeepgram("key", "")
	d.idleWindow = idle
	d.deadline = deadline
	pcm := make(chan []byte, 16)
	errs := make(chan error, 1)
	audio := make(chan []byte, 16)
	failed := make(chan error, 1)
	return d, pcm, errs, audio, failed
}

func TestForwardSurfacesServerError(t *testing.T) {
	d, pcm, errs, audio, failed := streamHarness(time.Hour, time.Hour)

	done := make(chan struct{})
	go func() {
		d.forward(context.Background(), pcm, errs, audio, failed)
		close(done)
	}()

	audio <- []byte{1, 2}
	select {
	case <-pcm:
	case <-time.After(time.Second):
		t.Fatal("audio chunk was not forwarded")
	}

	failed <- &streamErr{}
	select {
	case err := <-errs:
		if err == nil {
			t.Fatal("nil error forwarded")
		}
	case <-time.After(time.Second):
		t.Fatal("server error never reached the error channel")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forward did not stop after the error")
	}
}

type streamErr struct{}

func (*streamErr) Error() string { return "stream failed" }

func TestForwardEndsOnQuietWindow(t *testing.T) {
	d, pcm, errs, audio, failed := streamHarness(40*time.Millisecond, time.Hour)

	done := make(chan struct{})
	go func() {
		d.forward(context.Background(), pcm, errs, audio, failed)
		close(done)
	}()

	audio <- []byte{1}
	audio <- []byte{2}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forward did not end after the stream went quiet")
	}
	select {
	case err := <-errs:
		t.Fatalf("quiet completion reported an error: %v", err)
	default:
	}
}

func TestForwardDeadlineCoversSilentStream(t *testing.T) {
	d, pcm, errs, audio, failed := streamHarness(10*time.Millisecond, 60*time.Millisecond)

	done := make(chan struct{})
	go func() {
		d.forward(context.Background(), pcm, errs, audio, failed)
		close(done)
	}()

	// no audio ever arrives: the quiet window never arms, the overall
	// deadline ends the wait
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forward did not end on the overall deadline")
	}
}

func TestSpeakCallbackErrorReachesStream(t *testing.T) {
	failed := make(chan error, 1)
	cb := newSpeakCallback(make(chan []byte, 1), failed)

	if err := cb.Error(&msginterfaces.ErrorResponse{}); err != nil {
		t.Fatalf("Error callback returned %v", err)
	}
	select {
	case err := <-failed:
		if !strings.Contains(err.Error(), "speak stream") {
			t.Fatalf("surfaced error = %v", err)
		}
	default:
		t.Fatal("server error response was dropped")
	}

	// a nil response is ignored rather than surfaced
	if err := cb.Error(nil); err != nil {
		t.Fatalf("Error(nil) returned %v", err)
	}
	select {
	case err := <-failed:
		t.Fatalf("nil response surfaced as %v", err)
	default:
	}
}

func TestSpeakCallbackBinaryCopies(t *testing.T) {
	audio := make(chan []byte, 1)
	cb := newSpeakCallback(audio, make(chan error, 1))

	buf := []byte{1, 2, 3}
	if err := cb.Binary(buf); err != nil {
		t.Fatalf("Binary returned %v", err)
	}
	buf[0] = 99

	got := <-audio
	if got[0] != 1 || len(got) != 3 {
		t.Fatalf("forwarded chunk = %v, want a copy of [1 2 3]", got)
	}

	if err := cb.Binary(nil); err != nil {
		t.Fatalf("Binary(nil) returned %v", err)
	}
	select {
	case got := <-audio:
		t.Fatalf("empty chunk forwarded: %v", got)
	default:
	}
}
