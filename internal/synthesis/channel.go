package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// VoiceOptions are sent with every synthesis request.
type VoiceOptions struct {
	Voice    string
	Language string
	Speed    float64
}

type speakRequest struct {
	Text     string  `json:"text"`
	Voice    string  `json:"voice"`
	Language string  `json:"language"`
	Speed    float64 `json:"speed"`
}

type controlFrame struct {
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
}

// Channel speaks text through the speech gateway's duplex WebSocket
// protocol: one JSON request out, binary audio frames in, terminated by a
// control frame of type "end" or "error".
//
// Each Speak opens a fresh connection and supersedes the previous one; a
// reader whose epoch has been superseded never delivers anything, so stale
// frames from an abandoned question cannot reach the caller.
type Channel struct {
	url    string
	opts   VoiceOptions
	dialer *websocket.Dialer

	mu    sync.Mutex
	conn  *websocket.Conn
	epoch uint64
}

// NewChannel constructs a synthesis channel for the given gateway URL.
func NewChannel(wsURL string, opts VoiceOptions) *Channel {
	if opts.Speed <= 0 {
		opts.Speed = 1.0
	}
	return &Channel{
		url:    wsURL,
		opts:   opts,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Epoch returns the identifier of the most recently opened connection.
func (c *Channel) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Speak opens a fresh connection, sends one synthesis request and returns a
// channel that delivers the assembled audio as a single unit once the
// terminal "end" frame arrives. On "error" no audio is delivered and the
// service-provided message is surfaced on the error channel. Both channels
// are closed when the request is finished either way.
func (c *Channel) Speak(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 1)
	errCh := make(chan error, 1)

	c.mu.Lock()
	if c.conn != nil {
		// Supersede any previous request; its reader goes quiet on epoch mismatch.
		_ = c.conn.Close()
		c.conn = nil
	}
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()

	go func() {
		defer close(pcmCh)
		defer close(errCh)

		conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			if resp != nil {
				log.Printf("synthesis: gateway handshake failed with status %d", resp.StatusCode)
			}
			c.deliverErr(epoch, errCh, fmt.Errorf("synthesis: connect: %w", err))
			return
		}

		c.mu.Lock()
		if epoch != c.epoch {
			// Superseded between dial and registration.
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()

		defer c.release(epoch, conn)

		// Cancel the blocking read when the caller gives up.
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				_ = conn.Close()
			case <-done:
			}
		}()

		req := speakRequest{Text: text, Voice: c.opts.Voice, Language: c.opts.Language, Speed: c.opts.Speed}
		if err := conn.WriteJSON(req); err != nil {
			c.deliverErr(epoch, errCh, fmt.Errorf("synthesis: send request: %w", err))
			return
		}

		var audio []byte
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				c.deliverErr(epoch, errCh, fmt.Errorf("synthesis: connection lost: %w", err))
				return
			}
			switch msgType {
			case websocket.BinaryMessage:
				audio = append(audio, data...)
			case websocket.TextMessage:
				var ctrl controlFrame
				if err := json.Unmarshal(data, &ctrl); err != nil {
					log.Printf("synthesis: bad control frame: %v", err)
					continue
				}
				switch ctrl.Type {
				case "end":
					if len(audio) > 0 && c.stillCurrent(epoch) {
						pcmCh <- audio
					}
					return
				case "error":
					c.deliverErr(epoch, errCh, fmt.Errorf("synthesis: service error: %s", ctrl.Error))
					return
				default:
					log.Printf("synthesis: unknown control frame type %q", ctrl.Type)
				}
			}
		}
	}()

	return pcmCh, errCh
}

// Close shuts the active connection, if any.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *Channel) stillCurrent(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return epoch == c.epoch
}

func (c *Channel) deliverErr(epoch uint64, errCh chan<- error, err error) {
	if c.stillCurrent(epoch) {
		errCh <- err
	}
}

func (c *Channel) release(epoch uint64, conn *websocket.Conn) {
	_ = conn.Close()
	c.mu.Lock()
	if c.epoch == epoch && c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
}
