package twilio

import (
	"call-assistant/internal/voice/audio"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Media stream event names
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
	EventHangup    = "hangup"
)

// Custom parameters attached to the <Stream> by the voice webhook
const (
	ParamCallSID      = "callSid"
	ParamAccountID    = "accountId"
	ParamCallerNumber = "callerNumber"
)

const writeTimeout = 10 * time.Second

// ErrInvalidEvent marks an inbound message that is not a media stream event
var ErrInvalidEvent = errors.New("invalid media stream event")

// MediaEvent is one JSON message of a Twilio bidirectional media stream
type MediaEvent struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSid      string        `json:"streamSid,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
	Stop           *StopPayload  `json:"stop,omitempty"`
}

type StartPayload struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	AccountSid       string            `json:"accountSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type StopPayload struct {
	CallSid    string `json:"callSid"`
	AccountSid string `json:"accountSid"`
}

// Decode parses one inbound media stream message
func Decode(msg []byte) (MediaEvent, error) {
	var event MediaEvent
	if err := json.Unmarshal(msg, &event); err != nil {
		return MediaEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if event.Event == "" {
		return MediaEvent{}, fmt.Errorf("%w: missing event type", ErrInvalidEvent)
	}
	return event, nil
}

// Audio decodes the base64 mu-law payload of a media event
func (e MediaEvent) Audio() ([]byte, error) {
	if e.Media == nil {
		return nil, fmt.Errorf("%s event carries no media", e.Event)
	}
	return audio.Base64ToBytes(e.Media.Payload)
}

// CallSID prefers the parameter passed by the voice webhook over Twilio's own field
func (p StartPayload) CallSID() string {
	if sid := p.CustomParameters[ParamCallSID]; sid != "" {
		return sid
	}
	return p.CallSid
}

func (p StartPayload) AccountID() string {
	return p.CustomParameters[ParamAccountID]
}

func (p StartPayload) CallerNumber() string {
	return p.CustomParameters[ParamCallerNumber]
}

// Conn serializes writes to a media stream websocket
type Conn struct {
	conn       *websocket.Conn
	writeMutex sync.Mutex
	closeOnce  sync.Once
	closeErr   error
}

func NewConn(conn *websocket.Conn) *Conn {
	return &Conn{conn: conn}
}

// ReadEvent blocks until the next inbound event
func (c *Conn) ReadEvent() (MediaEvent, error) {
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return MediaEvent{}, err
	}
	return Decode(msg)
}

// SendMedia sends one frame of 8 kHz mu-law audio to the caller
func (c *Conn) SendMedia(streamSID string, payload []byte) error {
	return c.writeJSON(MediaEvent{
		Event:     EventMedia,
		StreamSid: streamSID,
		Media:     &MediaPayload{Payload: audio.BytesToBase64(payload)},
	})
}

// SendHangup asks the media stream peer to end the call
func (c *Conn) SendHangup(streamSID string) error {
	return c.writeJSON(MediaEvent{Event: EventHangup, StreamSid: streamSID})
}

func (c *Conn) writeJSON(event MediaEvent) error {
	msg, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Event, err)
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return fmt.Errorf("failed to send %s event: %w", event.Event, err)
	}
	return nil
}

// Close sends a normal close frame and closes the socket. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMutex.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMutex.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// IsNormalClose reports whether a read error is an orderly close of the stream
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
