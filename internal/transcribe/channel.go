package transcribe

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one live-transcription update. Events are best-effort transcripts
// of the audio received so far; concatenation policy belongs to the caller.
type Event struct {
	Text      string
	IsFinal   bool
	Timestamp time.Time
}

type wireMessage struct {
	Type  string `json:"type"`
	Data  string `json:"data"`
	Final bool   `json:"final,omitempty"`
}

// Channel is a duplex streaming-transcription client: binary microphone
// frames out, transcript events in. Outbound frames pass through a single
// writer goroutine, so capture order is preserved end-to-end.
type Channel struct {
	url      string
	language string

	events    chan Event
	errs      chan error
	audioData chan []byte
	stopCh    chan struct{}
	wg        sync.WaitGroup

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	stopped   bool
}

// NewChannel constructs a transcription channel; Start opens the connection.
func NewChannel(wsURL, language string) *Channel {
	return &Channel{
		url:       wsURL,
		language:  language,
		events:    make(chan Event, 100),
		errs:      make(chan error, 4),
		audioData: make(chan []byte, 1000),
		stopCh:    make(chan struct{}),
	}
}

// Start dials the transcription service and begins streaming.
func (c *Channel) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return fmt.Errorf("transcribe: channel already stopped")
	}
	if c.connected {
		return nil
	}

	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("transcribe: bad url: %w", err)
	}
	q := u.Query()
	if c.language != "" {
		q.Set("language", c.language)
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.Dial(u.String(), nil)
	if err != nil {
		if resp != nil {
			log.Printf("transcribe: handshake failed with status %d", resp.StatusCode)
		}
		return fmt.Errorf("transcribe: connect: %w", err)
	}
	c.conn = conn
	c.connected = true

	c.wg.Add(2)
	go c.readLoop(conn)
	go c.writeLoop(conn)
	return nil
}

// Send queues one audio frame for delivery. Frames are forwarded in the
// order they were given; under backpressure the newest frame is dropped
// rather than blocking the capture path.
func (c *Channel) Send(frame []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return fmt.Errorf("transcribe: not connected")
	}
	select {
	case c.audioData <- frame:
	default:
		log.Println("transcribe: audio buffer full, dropping frame")
	}
	return nil
}

// Events returns the inbound transcript stream. It is closed by Stop.
func (c *Channel) Events() <-chan Event { return c.events }

// Err reports connection failures; it is closed by Stop. The channel does
// not reconnect on its own; the caller decides whether to open a replacement.
func (c *Channel) Err() <-chan error { return c.errs }

// Stop closes the connection and waits for both pump goroutines, so no
// event is delivered after Stop returns.
func (c *Channel) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.connected = false
	close(c.stopCh)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()
	close(c.events)
	close(c.errs)
	return nil
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stopCh:
			default:
				c.reportErr(fmt.Errorf("transcribe: connection lost: %w", err))
			}
			return
		}
		c.processMessage(message)
	}
}

func (c *Channel) processMessage(message []byte) {
	var msg wireMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Printf("transcribe: bad message: %v", err)
		return
	}
	switch msg.Type {
	case "transcript":
		if msg.Data == "" {
			return
		}
		ev := Event{Text: msg.Data, IsFinal: msg.Final, Timestamp: time.Now()}
		select {
		case <-c.stopCh:
		case c.events <- ev:
		}
	default:
		log.Printf("transcribe: unknown message type %q", msg.Type)
	}
}

func (c *Channel) writeLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case frame := <-c.audioData:
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				select {
				case <-c.stopCh:
				default:
					c.reportErr(fmt.Errorf("transcribe: send frame: %w", err))
				}
				return
			}
		}
	}
}

func (c *Channel) reportErr(err error) {
	select {
	case c.errs <- err:
	default:
	}
}
