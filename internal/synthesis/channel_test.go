package synthesis

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestChannel_AssemblesFramesOnEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		var req speakRequest
		if err := conn.ReadJSON(&req); err != nil {
			t.Errorf("read request: %v", err)
			return
		}
		if req.Text != "Tell me about yourself" || req.Voice != "lily" {
			t.Errorf("unexpected request: %+v", req)
		}
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2})
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{3, 4})
		_ = conn.WriteJSON(controlFrame{Type: "end"})
	}))
	defer srv.Close()

	c := NewChannel(wsURL(srv), VoiceOptions{Voice: "lily", Language: "en", Speed: 1.0})
	pcmCh, errCh := c.Speak(context.Background(), "Tell me about yourself")

	select {
	case pcm := <-pcmCh:
		if !bytes.Equal(pcm, []byte{1, 2, 3, 4}) {
			t.Fatalf("expected concatenated frames, got %v", pcm)
		}
	case err := <-errCh:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no audio delivered")
	}
}

func TestChannel_ServiceErrorDeliversNoAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var req speakRequest
		_ = conn.ReadJSON(&req)
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{9, 9})
		_ = conn.WriteJSON(controlFrame{Type: "error", Error: "quota exceeded"})
	}))
	defer srv.Close()

	c := NewChannel(wsURL(srv), VoiceOptions{})
	pcmCh, errCh := c.Speak(context.Background(), "hello")

	select {
	case err := <-errCh:
		if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
			t.Fatalf("expected service error with message, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no error delivered")
	}
	if pcm, ok := <-pcmCh; ok && pcm != nil {
		t.Fatalf("error must not deliver audio, got %d bytes", len(pcm))
	}
}

func TestChannel_SupersededSpeakDeliversNothing(t *testing.T) {
	var conns int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var req speakRequest
		_ = conn.ReadJSON(&req)
		if atomic.AddInt32(&conns, 1) == 1 {
			// First question: trailing frames still in flight when superseded.
			time.Sleep(300 * time.Millisecond)
			_ = conn.WriteMessage(websocket.BinaryMessage, []byte("one"))
			_ = conn.WriteJSON(controlFrame{Type: "end"})
			return
		}
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte("two"))
		_ = conn.WriteJSON(controlFrame{Type: "end"})
	}))
	defer srv.Close()

	c := NewChannel(wsURL(srv), VoiceOptions{})
	pcm1, err1 := c.Speak(context.Background(), "question one")
	time.Sleep(50 * time.Millisecond)
	pcm2, _ := c.Speak(context.Background(), "question two")

	select {
	case pcm := <-pcm2:
		if string(pcm) != "two" {
			t.Fatalf("expected second question audio, got %q", pcm)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("second question audio missing")
	}
	// The superseded request's channels close without delivering.
	select {
	case pcm, ok := <-pcm1:
		if ok {
			t.Fatalf("stale channel delivered audio %q", pcm)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stale pcm channel never closed")
	}
	if err, ok := <-err1; ok && err != nil {
		t.Fatalf("stale channel delivered error %v", err)
	}
}
