package synthesis

import (
	"context"
	"fmt"
	"log"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
)

// Deepgram synthesizes speech over the Deepgram speak WebSocket API. Unlike
// Channel it streams: each audio chunk is forwarded as soon as it arrives,
// trading a single assembled unit for lower first-audio latency. A server
// error mid-stream lands on the returned error channel, it is never swallowed.
type Deepgram struct {
	apiKey     string
	model      string
	sampleRate int
	encoding   string

	idleWindow time.Duration
	deadline   time.Duration
}

func NewDeepgram(apiKey, model string) *Deepgram {
	if model == "" {
		model = "aura-asteria-en"
	}
	return &Deepgram{
		apiKey:     apiKey,
		model:      model,
		sampleRate: 48000,
		encoding:   "linear16",
		idleWindow: 400 * time.Millisecond,
		deadline:   12 * time.Second,
	}
}

func (d *Deepgram) Speak(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 4096)
	errCh := make(chan error, 1)

	go func() {
		defer close(pcmCh)
		defer close(errCh)

		if d.apiKey == "" {
			errCh <- fmt.Errorf("synthesis: deepgram API key missing")
			return
		}
		if text == "" {
			return
		}

		// SDK callbacks run on the client's read goroutine; hand their
		// payloads to this goroutine over channels so only one place
		// decides when the utterance is finished or failed.
		audio := make(chan []byte, 256)
		failed := make(chan error, 1)
		cb := newSpeakCallback(audio, failed)

		options := &clientinterfaces.WSSpeakOptions{
			Model:      d.model,
			Encoding:   d.encoding,
			SampleRate: d.sampleRate,
		}
		dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
		if err != nil {
			errCh <- fmt.Errorf("synthesis: deepgram client: %w", err)
			return
		}
		defer dg.Stop()

		if ok := dg.Connect(); !ok {
			errCh <- fmt.Errorf("synthesis: deepgram connect failed")
			return
		}
		if err := dg.SpeakWithText(text); err != nil {
			errCh <- fmt.Errorf("synthesis: deepgram speak: %w", err)
			return
		}
		if err := dg.Flush(); err != nil {
			log.Printf("synthesis: deepgram flush: %v", err)
		}

		d.forward(ctx, pcmCh, errCh, audio, failed)
	}()

	return pcmCh, errCh
}

// forward relays audio until the stream goes quiet, fails, or times out.
// The speak WS has no explicit end-of-utterance signal at this layer, so a
// quiet window after the first chunk is treated as completion. The window
// only arms once audio has arrived; before that the overall deadline rules.
func (d *Deepgram) forward(ctx context.Context, pcmCh chan<- []byte, errCh chan<- error, audio <-chan []byte, failed <-chan error) {
	var quiet *time.Timer
	var quietC <-chan time.Time
	defer func() {
		if quiet != nil {
			quiet.Stop()
		}
	}()
	overall := time.NewTimer(d.deadline)
	defer overall.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-failed:
			errCh <- err
			return
		case b := <-audio:
			select {
			case pcmCh <- b:
			default:
			}
			if quiet == nil {
				quiet = time.NewTimer(d.idleWindow)
				quietC = quiet.C
				continue
			}
			if !quiet.Stop() {
				select {
				case <-quietC:
				default:
				}
			}
			quiet.Reset(d.idleWindow)
		case <-quietC:
			return
		case <-overall.C:
			return
		}
	}
}

// speakCallback adapts the SDK's callback interface to channels. Audio and
// error payloads are the interesting events; the rest are bookkeeping.
type speakCallback struct {
	audio  chan<- []byte
	failed chan<- error
}

func newSpeakCallback(audio chan<- []byte, failed chan<- error) *speakCallback {
	return &speakCallback{audio: audio, failed: failed}
}

func (s *speakCallback) Binary(byMsg []byte) error {
	if len(byMsg) == 0 {
		return nil
	}
	b := make([]byte, len(byMsg))
	copy(b, byMsg)
	select {
	case s.audio <- b:
	default:
	}
	return nil
}

func (s *speakCallback) Error(er *msginterfaces.ErrorResponse) error {
	if er == nil {
		return nil
	}
	select {
	case s.failed <- fmt.Errorf("synthesis: deepgram speak stream: %+v", *er):
	default:
	}
	return nil
}

func (s *speakCallback) Warning(wr *msginterfaces.WarningResponse) error {
	if wr != nil {
		log.Printf("synthesis: deepgram speak warning: %+v", *wr)
	}
	return nil
}

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
